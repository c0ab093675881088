// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package cli

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/config"
	"github.com/meshdoc/core/crypto"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/replctx"
)

const contextsDirName = "contexts"

func contextsDir(rootdir string) string {
	return filepath.Join(rootdir, contextsDirName)
}

// savePendingInvitation persists inv so that MakeStartCommand's Runtime
// joins it automatically on the node's next start, the same way the
// teacher's config file is read once at start rather than pushed into a
// running process over an admin RPC this module doesn't build.
func savePendingInvitation(rootdir string, inv replctx.Invitation) error {
	dir := contextsDir(rootdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap("creating contexts directory", err)
	}
	encoded, err := EncodeInvitation(inv)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, inv.ContextID.String()+".invite")
	return errors.Wrap("writing invitation file", os.WriteFile(path, []byte(encoded), 0o600))
}

// loadPendingInvitations reads every invitation saved by savePendingInvitation.
func loadPendingInvitations(rootdir string) ([]replctx.Invitation, error) {
	dir := contextsDir(rootdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap("listing contexts directory", err)
	}
	var out []replctx.Invitation
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrap("reading invitation file "+e.Name(), err)
		}
		inv, err := DecodeInvitation(string(data))
		if err != nil {
			return nil, errors.Wrap("decoding invitation file "+e.Name(), err)
		}
		out = append(out, inv)
	}
	return out, nil
}

// MakeContextCommand groups the offline, out-of-band membership
// commands a member runs before starting (or while) a node: creating a
// brand new context, and recording an invitation into one someone else
// created. Neither talks to a running node — spec.md names "the CLI and
// admin APIs" as external collaborators, so this module stops at
// generating/consuming the portable invite string MakeStartCommand picks
// up on its next boot.
func MakeContextCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Create or join a replicated context",
	}
	cmd.AddCommand(makeContextCreateCommand(cfg), makeContextJoinCommand(cfg))
	return cmd
}

func makeContextCreateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new context and print its invitation string",
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := loadOrCreateIdentity(cfg.Rootdir)
			if err != nil {
				return err
			}

			nonce := uuid.New()
			ctxID := core.DeriveContextID(self.Public, nonce[:])

			sharedKey, err := crypto.NewSharedKey()
			if err != nil {
				return err
			}

			inv := replctx.Invitation{
				ContextID: ctxID,
				SharedKey: sharedKey,
				Members:   [][]byte{self.Public},
			}
			if err := savePendingInvitation(cfg.Rootdir, inv); err != nil {
				return err
			}

			encoded, err := EncodeInvitation(inv)
			if err != nil {
				return err
			}
			log.FeedbackInfo(cmd.Context(), "Created context "+ctxID.String())
			cmd.Println(encoded)
			return nil
		},
	}
}

func makeContextJoinCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join <invite>",
		Short: "Record an invitation to join on the next start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := DecodeInvitation(args[0])
			if err != nil {
				return err
			}
			if err := savePendingInvitation(cfg.Rootdir, inv); err != nil {
				return err
			}
			log.FeedbackInfo(cmd.Context(), "Recorded invitation for context "+inv.ContextID.String()+"; it will be joined on next start")
			return nil
		},
	}
}

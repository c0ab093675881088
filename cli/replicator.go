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
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/config"
	"github.com/meshdoc/core/datastore"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/logging"
	"github.com/meshdoc/core/net"
)

// MakeReplicatorCommand adapts the teacher's cli/replicator_set.go (same
// "target peer by multiaddr" argument shape) away from a gRPC call into a
// running node's admin service, since this module doesn't build one: it
// opens the rootdir's store and a throwaway transport just long enough to
// persist or remove the relationship, the same way MakeStartCommand's
// Runtime.LoadReplicators reads it back in on the next boot. Run it only
// while the node is stopped, since badger only allows one open handle on
// the datastore at a time.
func MakeReplicatorCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicator",
		Short: "Manage out-of-gossip replication targets for a context",
	}
	cmd.AddCommand(makeReplicatorSetCommand(cfg), makeReplicatorRemoveCommand(cfg))
	return cmd
}

func makeReplicatorSetCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set <context-id> <peer-multiaddr>",
		Short: "Add a peer as a replicator for a context, regardless of gossip membership",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctxID, paddr, err := parseReplicatorArgs(args)
			if err != nil {
				return err
			}
			store, transport, err := openOfflineNode(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer transport.Close()
			defer store.Close()

			reps := net.NewReplicators(transport, store)
			pid, err := reps.Add(cmd.Context(), ctxID, paddr)
			if err != nil {
				return errors.Wrap("failed to add replicator", err)
			}
			log.FeedbackInfo(cmd.Context(), "Added replicator", logging.NewKV("Peer", pid.String()), logging.NewKV("Context", ctxID.String()))
			return nil
		},
	}
}

func makeReplicatorRemoveCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <context-id> <peer-multiaddr>",
		Short: "Remove a replicator from a context",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctxID, paddr, err := parseReplicatorArgs(args)
			if err != nil {
				return err
			}
			info, err := peer.AddrInfoFromP2pAddr(paddr)
			if err != nil {
				return errors.Wrap("parsing replicator address", err)
			}
			store, transport, err := openOfflineNode(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer transport.Close()
			defer store.Close()

			reps := net.NewReplicators(transport, store)
			if err := reps.Remove(cmd.Context(), ctxID, info.ID); err != nil {
				return errors.Wrap("failed to remove replicator", err)
			}
			log.FeedbackInfo(cmd.Context(), "Removed replicator", logging.NewKV("Peer", info.ID.String()), logging.NewKV("Context", ctxID.String()))
			return nil
		},
	}
}

func parseReplicatorArgs(args []string) (core.ContextId, ma.Multiaddr, error) {
	ctxID, err := core.ParseHash32(args[0])
	if err != nil {
		return core.ContextId{}, nil, errors.Wrap("parsing context id", err)
	}
	paddr, err := ma.NewMultiaddr(args[1])
	if err != nil {
		return core.ContextId{}, nil, errors.Wrap("parsing peer multiaddr", err)
	}
	return ctxID, paddr, nil
}

// openOfflineNode opens just enough of a node's state to edit its
// persisted replicator set: the datastore the relationship is written
// to, and a transport whose peerstore records the replicator's address.
// It does not call Listen, Bootstrap, or construct a Runtime.
func openOfflineNode(ctx context.Context, cfg *config.Config) (datastore.Store, *net.Transport, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, errors.Wrap("failed to open datastore", err)
	}
	transport, err := net.NewTransport(ctx, cfg.Net.P2PAddress)
	if err != nil {
		store.Close()
		return nil, nil, errors.Wrap("failed to start P2P transport", err)
	}
	return store, transport, nil
}

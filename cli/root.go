// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package cli wires cobra commands onto package config and the node
// constructed in start.go, grounded on the teacher's cli/start.go
// (PersistentPreRunE config bootstrap, BindFlag-bound flags,
// start()/wait() pair) and cli/replicator_set.go (the teacher's
// addressed-by-peer-multiaddr CLI argument shape), adapted away from the
// teacher's gRPC-client commands (cli/client.go,
// cli/p2p_collection*.go) since this module has no always-on admin RPC
// service for a second process to dial into.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/meshdoc/core/config"
)

// NewRootCommand builds the top-level command tree, matching the
// teacher's NewDefraCommand(cfg) entry point.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "meshcored",
		Short: "A node in a peer-to-peer collaborative application platform",
	}
	root.PersistentFlags().StringVar(&cfg.Rootdir, "rootdir", "", "Directory for config and persistent data (default: "+config.DefaultRootDirName+" under the user's home directory)")

	root.AddCommand(
		MakeStartCommand(cfg),
		MakeContextCommand(cfg),
		MakeReplicatorCommand(cfg),
		MakeVersionCommand(),
	)
	return root
}

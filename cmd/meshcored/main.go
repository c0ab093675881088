// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// meshcored runs a single node of the synchronization engine: a causally
// ordered delta DAG, Merkle-indexed CRDT storage, and an authenticated,
// encrypted peer-to-peer stream layer.
package main

import (
	"context"
	"os"

	"github.com/meshdoc/core/cli"
	"github.com/meshdoc/core/config"
)

func main() {
	cfg := config.DefaultConfig()
	root := cli.NewRootCommand(cfg)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

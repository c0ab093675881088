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
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/meshdoc/core/crypto"
	"github.com/meshdoc/core/errors"
)

const identityFileName = "identity.key"

// loadOrCreateIdentity loads this node's persistent MemberKey from
// rootdir, generating and persisting a fresh one on first run. One key
// identifies the node across every context it joins (SecureStream's
// handshake verifies it against whichever context's membership list the
// stream claims, not a key scoped to one context), matching how
// Runtime.self is used throughout package replctx.
func loadOrCreateIdentity(rootdir string) (crypto.MemberKey, error) {
	path := filepath.Join(rootdir, identityFileName)

	seedHex, err := os.ReadFile(path)
	if err == nil {
		seed, derr := hex.DecodeString(string(seedHex))
		if derr != nil {
			return crypto.MemberKey{}, errors.Wrap("decoding stored identity seed", derr)
		}
		return crypto.MemberKeyFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return crypto.MemberKey{}, errors.Wrap("reading identity file", err)
	}

	key, err := crypto.GenerateMemberKey()
	if err != nil {
		return crypto.MemberKey{}, errors.Wrap("generating node identity", err)
	}
	if err := os.MkdirAll(rootdir, 0o755); err != nil {
		return crypto.MemberKey{}, errors.Wrap("creating rootdir", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key.Seed())), 0o600); err != nil {
		return crypto.MemberKey{}, errors.Wrap("persisting identity file", err)
	}
	return key, nil
}

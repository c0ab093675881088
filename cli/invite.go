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
	"github.com/multiformats/go-multibase"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/replctx"
)

// wireInvitation is the on-the-wire (and in-invite-string) shape of
// replctx.Invitation: core.ContextId doesn't round-trip through CBOR's
// struct tags as cleanly as a plain byte slice, so it's carried
// separately here.
type wireInvitation struct {
	ContextID []byte   `cbor:"1,keyasint"`
	SharedKey []byte   `cbor:"2,keyasint"`
	Members   [][]byte `cbor:"3,keyasint"`
}

// EncodeInvitation serializes an Invitation into a single portable
// string (multibase base32, lowercase, URL/shell safe) a founding member
// hands to anyone they invite into a context out of band.
func EncodeInvitation(inv replctx.Invitation) (string, error) {
	w := wireInvitation{ContextID: inv.ContextID.Bytes(), SharedKey: inv.SharedKey, Members: inv.Members}
	body, err := core.CanonicalEncode(w)
	if err != nil {
		return "", errors.Wrap("encoding invitation", err)
	}
	s, err := multibase.Encode(multibase.Base32, body)
	if err != nil {
		return "", errors.Wrap("multibase-encoding invitation", err)
	}
	return s, nil
}

// DecodeInvitation parses a string produced by EncodeInvitation.
func DecodeInvitation(s string) (replctx.Invitation, error) {
	_, body, err := multibase.Decode(s)
	if err != nil {
		return replctx.Invitation{}, errors.Wrap("multibase-decoding invitation", err)
	}
	var w wireInvitation
	if err := core.CanonicalDecode(body, &w); err != nil {
		return replctx.Invitation{}, errors.Wrap("decoding invitation", err)
	}
	ctxID, err := core.ParseHash32FromBytes(w.ContextID)
	if err != nil {
		return replctx.Invitation{}, errors.Wrap("parsing invitation context id", err)
	}
	return replctx.Invitation{ContextID: ctxID, SharedKey: w.SharedKey, Members: w.Members}, nil
}

package crdt

import (
	"sync"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/errors"
)

// WasmMergeCallback is the host-provided merge function for an
// Entity tagged CrdtCustom(type_name) (spec.md §4.1/§9: "a trait object
// for custom types" backed by a caller-registered callback, since this
// module has no WASM runtime of its own to execute one). It receives the
// raw local and remote value blobs and returns the merged blob.
type WasmMergeCallback func(local, remote []byte) ([]byte, error)

// customRegistry maps a CrdtType's TypeName to its merge callback. A
// type_name with no registered callback cannot be merged: MergeCustom
// fails with errors.ErrWasmCallbackRequired.
type customRegistry struct {
	mu        sync.RWMutex
	callbacks map[string]WasmMergeCallback
}

var globalCustomRegistry = &customRegistry{callbacks: make(map[string]WasmMergeCallback)}

// RegisterCustomMerge installs the merge callback for a custom CRDT type
// name. Re-registering the same name overwrites the previous callback.
func RegisterCustomMerge(typeName string, cb WasmMergeCallback) {
	globalCustomRegistry.mu.Lock()
	defer globalCustomRegistry.mu.Unlock()
	globalCustomRegistry.callbacks[typeName] = cb
}

func lookupCustomMerge(typeName string) (WasmMergeCallback, bool) {
	globalCustomRegistry.mu.RLock()
	defer globalCustomRegistry.mu.RUnlock()
	cb, ok := globalCustomRegistry.callbacks[typeName]
	return cb, ok
}

// FallbackEvent is returned by MergeNone on the None-fallback path so the caller (package storage) can publish it on
// events.Sinks.MergeFall without this package depending on events.
type FallbackEvent struct {
	EntityID core.EntityId
	Reason   string
}

// MergeResult carries the merged value plus an optional fallback
// notification.
type MergeResult struct {
	Value    []byte
	Fallback *FallbackEvent
}

// MergeCustom dispatches to the registered callback for typeName. If no
// callback is registered, the merge fails with a Merge-kind
// errors.ErrWasmCallbackRequired and no merged value is produced.
func MergeCustom(entityID core.EntityId, typeName string, local, remote []byte, localTS, remoteTS core.HybridTimestamp) (MergeResult, error) {
	cb, ok := lookupCustomMerge(typeName)
	if !ok {
		return MergeResult{}, errors.NewErrWasmCallbackRequired(typeName)
	}
	merged, err := cb(local, remote)
	if err != nil {
		return MergeResult{}, errors.NewErrMergeFailed(entityID.String(), err)
	}
	return MergeResult{Value: merged}, nil
}

// MergeNone implements the CrdtNone fallback: keep whichever side has the
// later HybridTimestamp, lexicographic tiebreak on the raw bytes. Always
// reports a FallbackEvent since CrdtNone itself represents "no
// type-specific merge semantics known".
func MergeNone(entityID core.EntityId, local, remote []byte, localTS, remoteTS core.HybridTimestamp, reason string) MergeResult {
	winner := MergeLWW(
		LwwValue{Data: local, Timestamp: localTS},
		LwwValue{Data: remote, Timestamp: remoteTS},
	)
	return MergeResult{
		Value:    winner.Data,
		Fallback: &FallbackEvent{EntityID: entityID, Reason: reason},
	}
}

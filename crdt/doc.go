// Package crdt implements the per-type merge semantics spec.md §4.1
// dispatches on: the leaf-level algorithms (Counter, LwwRegister, RGA,
// UnorderedSet, Custom, None-fallback) that operate directly on an
// Entity's value blob. UnorderedMap and Vector additionally require
// recursive merge into child Entities, so their tree-walking lives in
// package storage, which merges their child-key index blobs with
// MergeSet; this package has no map- or vector-specific helper. It also
// supplies the CrdtType registry used to pick an algorithm (spec.md
// §9: "modeled as a sum type for built-ins plus a trait object for
// custom types", not string-keyed dynamic dispatch).
//
// LwwRegister is adapted from the teacher's core/crdt/lwwreg.go: same
// Get/Set/Merge shape (priority-then-lexicographic tiebreak, CBOR-
// encoded delta), generalized from a per-document-field register keyed
// by a datastore key to a generic byte-value register keyed only by the
// caller-supplied current/incoming (value, timestamp) pairs, since this
// package has no datastore dependency of its own — StorageEngine reads
// and writes through package datastore and calls into crdt only for the
// pure merge math.
package crdt

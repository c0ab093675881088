package datastore

import (
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
)

// NewMemory returns an in-process, goroutine-safe Store backed by
// go-datastore's own MapDatastore, used for tests and the FreshBootstrap
// code path before a context has a durable home on disk.
func NewMemory() Store {
	return dssync.MutexWrap(ds.NewMapDatastore())
}

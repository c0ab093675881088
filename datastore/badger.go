package datastore

import (
	"context"
	"strings"

	badger "github.com/dgraph-io/badger/v3"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"

	"github.com/meshdoc/core/errors"
)

// Store is the interface the rest of the engine programs against: a
// batching ds.Datastore, so callers get Put/Get/Has/Delete/Query/Sync
// plus atomic multi-key Batch() writes for snapshot application.
type Store = ds.Batching

// BadgerStore adapts a badger/v3 database to ds.Batching. The teacher
// never wired badger directly (it used a generic DSReaderWriter
// parameter), so this adapter is new code grounded on the shape of that
// parameter plus badger's own documented transaction API.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if absent) a badger database rooted at
// path, matching config.DatastoreConfig's "badger" store kind.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // the engine logs through package logging, not badger's own logger
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap("opening badger datastore at "+path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Put(_ context.Context, key ds.Key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key.Bytes(), value)
	})
}

func (b *BadgerStore) Get(_ context.Context, key ds.Key) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.Bytes())
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ds.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap("badger get "+key.String(), err)
	}
	return out, nil
}

func (b *BadgerStore) Has(ctx context.Context, key ds.Key) (bool, error) {
	_, err := b.Get(ctx, key)
	if err == ds.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *BadgerStore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	v, err := b.Get(ctx, key)
	if err != nil {
		return -1, err
	}
	return len(v), nil
}

func (b *BadgerStore) Delete(_ context.Context, key ds.Key) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key.Bytes())
	})
}

func (b *BadgerStore) Sync(_ context.Context, _ ds.Key) error {
	return b.db.Sync()
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Query implements a prefix-scoped, optionally key-only/values-only
// subset of dsq.Query, sufficient for the engine's own prefix-scanned
// reads (full-context entity/applied-log iteration); orders and filters
// beyond prefix matching are not supported since nothing in this module
// issues them.
func (b *BadgerStore) Query(_ context.Context, q dsq.Query) (dsq.Results, error) {
	var entries []dsq.Entry
	prefix := strings.TrimSuffix(q.Prefix, "/")
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = !q.KeysOnly
		it := txn.NewIterator(opts)
		defer it.Close()
		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			k := string(item.KeyCopy(nil))
			e := dsq.Entry{Key: k}
			if !q.KeysOnly {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				e.Value = v
				e.Size = len(v)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap("badger query", err)
	}
	return dsq.ResultsWithEntries(q, entries), nil
}

// batch implements ds.Batch by buffering writes and applying them in one
// badger transaction on Commit, so snapshot application is atomic.
type batch struct {
	db      *badger.DB
	puts    map[string][]byte
	deletes map[string]struct{}
}

func (b *BadgerStore) Batch(_ context.Context) (ds.Batch, error) {
	return &batch{db: b.db, puts: make(map[string][]byte), deletes: make(map[string]struct{})}, nil
}

func (bt *batch) Put(_ context.Context, key ds.Key, value []byte) error {
	bt.puts[key.String()] = value
	delete(bt.deletes, key.String())
	return nil
}

func (bt *batch) Delete(_ context.Context, key ds.Key) error {
	bt.deletes[key.String()] = struct{}{}
	delete(bt.puts, key.String())
	return nil
}

func (bt *batch) Commit(_ context.Context) error {
	return bt.db.Update(func(txn *badger.Txn) error {
		for k, v := range bt.puts {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		for k := range bt.deletes {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

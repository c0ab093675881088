package datastore

import (
	"context"
	"strings"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"

	"github.com/meshdoc/core/errors"
)

// Entry is one (key, value) pair returned by ScanPrefix, with Key already
// trimmed to the final path segment under prefix.
type Entry struct {
	Key   string
	Value []byte
}

// ScanPrefix lists every entry directly under prefix, used for
// full-context snapshot generation (walking E/ for entities, A/ for the
// applied log) without requiring callers to know go-datastore's Query
// type.
func ScanPrefix(ctx context.Context, store Store, prefix ds.Key) ([]Entry, error) {
	results, err := store.Query(ctx, dsq.Query{Prefix: prefix.String()})
	if err != nil {
		return nil, errors.Wrap("scanning prefix "+prefix.String(), err)
	}
	defer results.Close()

	var out []Entry
	for r := range results.Next() {
		if r.Error != nil {
			return nil, errors.Wrap("iterating prefix "+prefix.String(), r.Error)
		}
		out = append(out, Entry{
			Key:   strings.TrimPrefix(r.Key, prefix.String()+"/"),
			Value: r.Value,
		})
	}
	return out, nil
}

package storage

import (
	"errors"

	ds "github.com/ipfs/go-datastore"
)

func isNotFound(err error) bool {
	return errors.Is(err, ds.ErrNotFound)
}

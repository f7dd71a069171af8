// Package inmemdb is an in-memory implementation of the storage collaborators,
// used by tests and local development. It enforces the same atomic uniqueness
// guarantees as the SQL store: a single lock spans the duplicate check and the
// insert, so concurrent creates for one email cannot both succeed.
package inmemdb

import (
	"sync"

	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
)

type DB struct {
	mu sync.RWMutex

	principals map[string]*principal.Principal
	institutes map[string]*institute.Institute
}

func Open() (*DB, error) {
	db := &DB{
		principals: make(map[string]*principal.Principal),
		institutes: make(map[string]*institute.Institute),
	}
	return db, nil
}

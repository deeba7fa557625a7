// File: internal/store/store.go

// Package store provides whole-document persistence for the runtime's state:
// the ledger, souls, agent index, task queue and spec registries. Documents
// are read and written as a unit; the design assumes exactly one logical
// writer per document at a time, so there is no locking protocol.
package store

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

// ErrNotFound is returned by Read when the named document does not exist.
var ErrNotFound = errors.New("store: document not found")

// json is the codec used for every persisted document.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the injectable persistence boundary. Backends must keep each
// Write atomic with respect to readers of the same document.
type Store interface {
	// Read unmarshals the named document into v. Returns ErrNotFound when
	// the document has never been written.
	Read(ctx context.Context, name string, v any) error
	// Write marshals v and replaces the named document wholesale.
	Write(ctx context.Context, name string, v any) error
	// List returns the names of all documents under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the named document. Deleting a missing document is not
	// an error.
	Delete(ctx context.Context, name string) error
	// Close releases backend resources.
	Close() error
}

// Update performs a read-modify-write cycle on one document: it reads the
// current contents into doc (leaving doc untouched when the document does
// not exist yet), applies mutate, and writes the result back.
func Update(ctx context.Context, s Store, name string, doc any, mutate func() error) error {
	if err := s.Read(ctx, name, doc); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	return s.Write(ctx, name, doc)
}

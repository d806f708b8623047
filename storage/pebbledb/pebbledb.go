// Package pebbledb implements storage.Store on a Pebble key-value database.
//
// Layout:
//
//	c/<certificate id> -> SSZ signed certificate envelope
//	tip                -> certificate id of the current chain tip
package pebbledb

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/storage"
	"github.com/geanlabs/poet/types"
)

var tipKey = []byte("tip")

func certificateKey(id types.CertificateID) []byte {
	return append([]byte("c/"), id...)
}

// Store is a Pebble-backed storage.Store.
type Store struct {
	db *pebble.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates a database in dir.
func Open(dir string) (*Store, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory opens a database on an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetCertificate(id types.CertificateID) (*poet.SignedWaitCertificate, error) {
	value, closer, err := s.db.Get(certificateKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get certificate %s: %w", id.Short(), err)
	}
	defer closer.Close()

	signed, err := poet.UnmarshalSignedWaitCertificate(value)
	if err != nil {
		return nil, fmt.Errorf("decode certificate %s: %w", id.Short(), err)
	}
	return signed, nil
}

func (s *Store) HasCertificate(id types.CertificateID) (bool, error) {
	_, closer, err := s.db.Get(certificateKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *Store) Tip() (types.CertificateID, error) {
	value, closer, err := s.db.Get(tipKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return types.NullCertificateID, nil
	}
	if err != nil {
		return "", fmt.Errorf("get tip: %w", err)
	}
	defer closer.Close()
	return types.CertificateID(string(value)), nil
}

func (s *Store) Advance(signed *poet.SignedWaitCertificate) error {
	data, err := signed.MarshalSSZ()
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(certificateKey(signed.ID()), data, nil); err != nil {
		return err
	}
	if err := batch.Set(tipKey, []byte(signed.ID()), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) Close() error {
	return s.db.Close()
}

package memory

import (
	"sync"

	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/storage"
	"github.com/geanlabs/poet/types"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu           sync.RWMutex
	certificates map[types.CertificateID]*poet.SignedWaitCertificate
	tip          types.CertificateID
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		certificates: make(map[types.CertificateID]*poet.SignedWaitCertificate),
		tip:          types.NullCertificateID,
	}
}

func (m *Store) GetCertificate(id types.CertificateID) (*poet.SignedWaitCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certificates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (m *Store) HasCertificate(id types.CertificateID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.certificates[id]
	return ok, nil
}

func (m *Store) Tip() (types.CertificateID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tip, nil
}

func (m *Store) Advance(signed *poet.SignedWaitCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certificates[signed.ID()] = signed
	m.tip = signed.ID()
	return nil
}

// Len returns the number of stored certificates.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.certificates)
}

func (m *Store) Close() error { return nil }

// Package storage persists accepted wait certificates and the chain tip.
package storage

import (
	"errors"

	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/types"
)

// ErrNotFound is returned when a certificate id is not in the store.
var ErrNotFound = errors.New("certificate not found")

// Store is a storage interface for accepted certificates and the chain tip.
type Store interface {
	GetCertificate(id types.CertificateID) (*poet.SignedWaitCertificate, error)
	HasCertificate(id types.CertificateID) (bool, error)
	// Tip returns NullCertificateID when nothing has been accepted yet.
	Tip() (types.CertificateID, error)
	// Advance stores signed and moves the tip to its id in one step.
	Advance(signed *poet.SignedWaitCertificate) error
	Close() error
}

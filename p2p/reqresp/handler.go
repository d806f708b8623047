package reqresp

import (
	"errors"

	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/storage"
	"github.com/geanlabs/poet/types"
)

// ChainReader provides read access to the local certificate chain.
type ChainReader interface {
	Tip() types.CertificateID
	GetCertificate(id types.CertificateID) (*poet.SignedWaitCertificate, error)
}

// Handler handles request/response protocol messages.
type Handler struct {
	chain ChainReader
}

// NewHandler creates a new request/response handler.
func NewHandler(chain ChainReader) *Handler {
	return &Handler{chain: chain}
}

// GetStatus returns the node's current status for the handshake protocol.
func (h *Handler) GetStatus() *Status {
	return &Status{Tip: h.chain.Tip()}
}

// HandleCertificateChain returns the requested certificate and its
// ancestors, newest first. The walk stops at the first certificate not held
// locally.
func (h *Handler) HandleCertificateChain(request *CertificateChainRequest) ([]*poet.SignedWaitCertificate, error) {
	count := request.Count
	if count > MaxRequestCertificates {
		count = MaxRequestCertificates
	}

	var out []*poet.SignedWaitCertificate
	id := request.From
	for uint64(len(out)) < count && !id.IsNull() {
		signed, err := h.chain.GetCertificate(id)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, signed)
		id = signed.Certificate().PreviousCertificateID()
	}
	return out, nil
}

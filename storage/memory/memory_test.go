package memory

import (
	"errors"
	"testing"

	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/storage"
	"github.com/geanlabs/poet/types"
)

func makeSigned(t *testing.T, prev types.CertificateID, nonce string) *poet.SignedWaitCertificate {
	t.Helper()
	cert, err := poet.NewWaitCertificate(100, 1.5, prev, 2, nonce, "digest")
	if err != nil {
		t.Fatalf("NewWaitCertificate: %v", err)
	}
	signed, err := poet.NewSignedWaitCertificate(cert, []byte("sig"))
	if err != nil {
		t.Fatalf("NewSignedWaitCertificate: %v", err)
	}
	return signed
}

func TestStore_Empty(t *testing.T) {
	s := New()
	tip, err := s.Tip()
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	if tip != types.NullCertificateID {
		t.Errorf("Tip = %s, want null id", tip)
	}
	if _, err := s.GetCertificate("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_AdvanceGet(t *testing.T) {
	s := New()
	signed := makeSigned(t, types.NullCertificateID, "n1")

	if err := s.Advance(signed); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got, err := s.GetCertificate(signed.ID())
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if got.ID() != signed.ID() {
		t.Errorf("ID = %s, want %s", got.ID(), signed.ID())
	}
	ok, _ := s.HasCertificate(signed.ID())
	if !ok {
		t.Error("HasCertificate = false, want true")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if ok, _ := s.HasCertificate("missing"); ok {
		t.Error("HasCertificate(missing) = true, want false")
	}
}

func TestStore_Advance(t *testing.T) {
	s := New()
	first := makeSigned(t, types.NullCertificateID, "n1")
	if err := s.Advance(first); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	second := makeSigned(t, first.ID(), "n2")
	if err := s.Advance(second); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	tip, _ := s.Tip()
	if tip != second.ID() {
		t.Errorf("Tip = %s, want %s", tip, second.ID())
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

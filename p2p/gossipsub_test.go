package p2p

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultGossipsubParams(t *testing.T) {
	params := DefaultGossipsubParams()

	if params.D != 8 {
		t.Errorf("D = %d, want 8", params.D)
	}
	if params.DLow != 6 {
		t.Errorf("DLow = %d, want 6", params.DLow)
	}
	if params.DHigh != 12 {
		t.Errorf("DHigh = %d, want 12", params.DHigh)
	}
	if params.ValidationMode != "strict_no_sign" {
		t.Errorf("ValidationMode = %s, want strict_no_sign", params.ValidationMode)
	}
	if params.SeenTTL != 256 {
		t.Errorf("SeenTTL = %d, want 256", params.SeenTTL)
	}
}

func TestComputeMessageID(t *testing.T) {
	topic := []byte(CertificateTopic(""))
	data := []byte{0x01, 0x02, 0x03, 0x04}

	id1 := ComputeMessageID(topic, data, true)
	id2 := ComputeMessageID(topic, data, false)

	// IDs should be different due to different domains
	if bytes.Equal(id1[:], id2[:]) {
		t.Error("expected different IDs for valid vs invalid snappy")
	}

	// Same input should produce same output
	id3 := ComputeMessageID(topic, data, true)
	if !bytes.Equal(id1[:], id3[:]) {
		t.Error("expected same ID for same input")
	}
}

func TestComputeMessageID_DifferentTopics(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}

	id1 := ComputeMessageID([]byte(CertificateTopic("a")), data, true)
	id2 := ComputeMessageID([]byte(CertificateTopic("b")), data, true)

	if bytes.Equal(id1[:], id2[:]) {
		t.Error("expected different IDs for different topics")
	}
}

func TestComputeMessageID_DifferentData(t *testing.T) {
	topic := []byte("topic")

	id1 := ComputeMessageID(topic, []byte{0x01}, true)
	id2 := ComputeMessageID(topic, []byte{0x02}, true)

	if bytes.Equal(id1[:], id2[:]) {
		t.Error("expected different IDs for different data")
	}
}

func TestCertificateTopic(t *testing.T) {
	if got := CertificateTopic(""); got != "/poet/devnet0/certificate/ssz_snappy" {
		t.Errorf("default topic = %s", got)
	}
	if got := CertificateTopic("testnet"); !strings.Contains(got, "/testnet/") {
		t.Errorf("topic %s does not carry the network name", got)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("wait certificate "), 50)
	compressed := CompressMessage(data)
	if len(compressed) >= len(data) {
		t.Errorf("compressed %d bytes into %d", len(data), len(compressed))
	}
	out, err := DecompressMessage(compressed)
	if err != nil {
		t.Fatalf("DecompressMessage: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("round trip changed the data")
	}
	if _, err := DecompressMessage([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("expected error for invalid snappy data")
	}
}

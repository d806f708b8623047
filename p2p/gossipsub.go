package p2p

import (
	"crypto/sha256"
	"encoding/binary"
)

// Message-id domains distinguishing payloads that did and did not decode
// as snappy.
var (
	MessageDomainValidSnappy   = [4]byte{0x01, 0x00, 0x00, 0x00}
	MessageDomainInvalidSnappy = [4]byte{0x00, 0x00, 0x00, 0x00}
)

// GossipsubParams holds the canonical gossipsub parameters.
type GossipsubParams struct {
	ProtocolID        string
	D                 int     // Target mesh peers
	DLow              int     // Low watermark
	DHigh             int     // High watermark
	DLazy             int     // Gossip-only peers
	HeartbeatInterval float64 // Seconds
	FanoutTTL         int     // Seconds
	MCacheLen         int     // Message cache windows
	MCacheGossip      int     // Gossip windows
	SeenTTL           int     // Seen message TTL (seconds)
	ValidationMode    string
}

// DefaultGossipsubParams returns the default gossipsub parameters.
func DefaultGossipsubParams() GossipsubParams {
	return GossipsubParams{
		ProtocolID:        "/meshsub/1.0.0",
		D:                 8,
		DLow:              6,
		DHigh:             12,
		DLazy:             6,
		HeartbeatInterval: 0.7,
		FanoutTTL:         60,
		MCacheLen:         6,
		MCacheGossip:      3,
		SeenTTL:           256,
		ValidationMode:    "strict_no_sign",
	}
}

// MessageID is a 20-byte gossipsub message identifier.
type MessageID [20]byte

// ComputeMessageID computes the message ID for a gossipsub message.
// ID = SHA256(domain + uint64_le(len(topic)) + topic + data)[:20]
func ComputeMessageID(topic []byte, data []byte, snappyValid bool) MessageID {
	var domain [4]byte
	if snappyValid {
		domain = MessageDomainValidSnappy
	} else {
		domain = MessageDomainInvalidSnappy
	}

	topicLen := make([]byte, 8)
	binary.LittleEndian.PutUint64(topicLen, uint64(len(topic)))

	h := sha256.New()
	h.Write(domain[:])
	h.Write(topicLen)
	h.Write(topic)
	h.Write(data)

	var id MessageID
	copy(id[:], h.Sum(nil)[:20])
	return id
}

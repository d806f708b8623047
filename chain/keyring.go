package chain

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// KeyRing is the set of proposer public keys whose certificates may be
// accepted.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewKeyRing creates a key ring holding keys.
func NewKeyRing(keys ...[]byte) *KeyRing {
	r := &KeyRing{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		r.Add(k)
	}
	return r
}

// ParseKeyRing builds a key ring from hex strings (with or without 0x prefix).
func ParseKeyRing(hexKeys []string) (*KeyRing, error) {
	r := NewKeyRing()
	for i, s := range hexKeys {
		key, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode proposer key %d: %w", i, err)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("proposer key %d is empty", i)
		}
		r.Add(key)
	}
	return r, nil
}

func (r *KeyRing) Add(key []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[string(key)] = struct{}{}
}

func (r *KeyRing) Contains(key []byte) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[string(key)]
	return ok
}

// Keys returns a copy of every key in the ring, in no particular order.
func (r *KeyRing) Keys() [][]byte {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][]byte, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, []byte(k))
	}
	return out
}

func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

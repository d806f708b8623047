package chain

import "testing"

func TestKeyRing(t *testing.T) {
	r := NewKeyRing([]byte{1, 2, 3})
	if !r.Contains([]byte{1, 2, 3}) {
		t.Error("ring should contain added key")
	}
	if r.Contains([]byte{1, 2}) {
		t.Error("ring should not contain prefix of a key")
	}
	r.Add([]byte{4})
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}

	if keys := r.Keys(); len(keys) != 2 {
		t.Errorf("Keys() returned %d keys, want 2", len(keys))
	}

	var nilRing *KeyRing
	if nilRing.Contains([]byte{1}) {
		t.Error("nil ring contains nothing")
	}
	if nilRing.Keys() != nil {
		t.Error("nil ring has no keys")
	}
	if nilRing.Len() != 0 {
		t.Errorf("nil ring Len = %d, want 0", nilRing.Len())
	}
}

func TestParseKeyRing(t *testing.T) {
	r, err := ParseKeyRing([]string{"0x0102", "ff"})
	if err != nil {
		t.Fatalf("ParseKeyRing: %v", err)
	}
	if !r.Contains([]byte{1, 2}) || !r.Contains([]byte{0xff}) {
		t.Error("parsed keys missing from ring")
	}

	tests := []struct {
		name string
		keys []string
	}{
		{"not hex", []string{"zz"}},
		{"empty", []string{"0x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseKeyRing(tt.keys); err == nil {
				t.Error("expected error")
			}
		})
	}
}

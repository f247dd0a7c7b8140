package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testAddress() Address {
	h := make([]byte, Hash160Size)
	for i := range h {
		h[i] = byte(i + 1)
	}
	return NewAddress(8964, AddressTypeDefault, h)
}

func TestAddress_IsZero(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Error("zero-value Address should be zero")
	}
	if testAddress().IsZero() {
		t.Error("non-zero Address should not be zero")
	}
}

func TestAddress_Parts(t *testing.T) {
	a := testAddress()
	if a.ChainID() != 8964 {
		t.Errorf("ChainID() = %d, want 8964", a.ChainID())
	}
	if a.Type() != AddressTypeDefault {
		t.Errorf("Type() = %d, want %d", a.Type(), AddressTypeDefault)
	}
	h := a.Hash160()
	if len(h) != Hash160Size || h[0] != 1 || h[19] != 20 {
		t.Errorf("Hash160() = %x", h)
	}
}

func TestAddress_String_Roundtrip(t *testing.T) {
	a := testAddress()
	s := a.String()
	got, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	if got != a {
		t.Errorf("roundtrip: got %x, want %x", got, a)
	}
}

func TestParseAddress_Hex(t *testing.T) {
	a := testAddress()
	got, err := ParseAddress(a.Hex())
	if err != nil {
		t.Fatalf("ParseAddress(hex): %v", err)
	}
	if got != a {
		t.Errorf("got %x, want %x", got, a)
	}
}

func TestParseAddress_BadChecksum(t *testing.T) {
	a := testAddress()
	s := a.String()
	// Flip the last character to another base58 digit.
	last := s[len(s)-1]
	repl := byte('2')
	if last == '2' {
		repl = '3'
	}
	_, err := ParseAddress(s[:len(s)-1] + string(repl))
	if err == nil {
		t.Fatal("expected error for corrupted address")
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"not base58", "0OIl"},
		{"too short", "3mJr7AoUXx2Wqd"},
		{"long", strings.Repeat("2", 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAddress(tt.in); err == nil {
				t.Errorf("ParseAddress(%q) should fail", tt.in)
			}
		})
	}
}

func TestAddressFromBytes_Length(t *testing.T) {
	_, err := AddressFromBytes(make([]byte, 20))
	if !errors.Is(err, ErrAddressLength) {
		t.Errorf("err = %v, want ErrAddressLength", err)
	}
	if _, err := AddressFromBytes(make([]byte, AddressSize)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAddress_JSON(t *testing.T) {
	a := testAddress()
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Address
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != a {
		t.Errorf("got %x, want %x", got, a)
	}
}

func TestAddress_Compare(t *testing.T) {
	a := testAddress()
	b := a
	b[AddressSize-1]++
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Error("Compare does not order bytewise")
	}
}

package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Address layout: chain id (2, big endian) | address type (1) | hash160 (20).
const (
	AddressSize  = 23
	Hash160Size  = 20
	chainIDSize  = 2
	addrTypeSize = 1
)

// AddressType distinguishes how an address may spend.
type AddressType uint8

const (
	AddressTypeDefault  AddressType = 0x01 // key-hash, spends with a single signature
	AddressTypeContract AddressType = 0x02
	AddressTypeScript   AddressType = 0x03 // script-hash
)

// Errors returned by address parsing.
var (
	ErrAddressLength   = errors.New("invalid address length")
	ErrAddressChecksum = errors.New("invalid address checksum")
	ErrAddressEncoding = errors.New("invalid address encoding")
)

// Address identifies an account: a chain id, a type byte and a 160-bit key hash.
// Two addresses are equal only if all 23 bytes match.
type Address [AddressSize]byte

// NewAddress assembles an address from its parts.
func NewAddress(chainID uint16, typ AddressType, hash160 []byte) Address {
	var a Address
	a[0] = byte(chainID >> 8)
	a[1] = byte(chainID)
	a[2] = byte(typ)
	copy(a[chainIDSize+addrTypeSize:], hash160)
	return a
}

// AddressFromBytes copies b into an Address. b must be exactly AddressSize long.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("%w: got %d bytes, want %d", ErrAddressLength, len(b), AddressSize)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// ChainID returns the chain id embedded in the address.
func (a Address) ChainID() uint16 {
	return uint16(a[0])<<8 | uint16(a[1])
}

// Type returns the address type byte.
func (a Address) Type() AddressType {
	return AddressType(a[2])
}

// Hash160 returns the key hash part of the address.
func (a Address) Hash160() []byte {
	h := make([]byte, Hash160Size)
	copy(h, a[chainIDSize+addrTypeSize:])
	return h
}

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// String returns the base58 form: base58(address | xor checksum).
func (a Address) String() string {
	buf := make([]byte, AddressSize+1)
	copy(buf, a[:])
	buf[AddressSize] = xorChecksum(a[:])
	return base58.Encode(buf)
}

// Hex returns the raw hex-encoded address.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalJSON encodes the address as its base58 string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a base58 or hex address string.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a base58 address with checksum, or a raw 46-char hex address.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty address", ErrAddressEncoding)
	}
	if len(s) == AddressSize*2 {
		if b, err := hex.DecodeString(s); err == nil {
			return AddressFromBytes(b)
		}
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrAddressEncoding, err)
	}
	if len(raw) != AddressSize+1 {
		return Address{}, fmt.Errorf("%w: decoded %d bytes, want %d", ErrAddressLength, len(raw), AddressSize+1)
	}
	if xorChecksum(raw[:AddressSize]) != raw[AddressSize] {
		return Address{}, ErrAddressChecksum
	}
	return AddressFromBytes(raw[:AddressSize])
}

func xorChecksum(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

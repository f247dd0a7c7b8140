package types

import (
	"encoding/hex"
	"encoding/json"
)

// HexBytes is a byte slice that encodes as a hex string in JSON.
type HexBytes []byte

// String returns the hex encoding.
func (b HexBytes) String() string {
	return hex.EncodeToString(b)
}

// MarshalJSON encodes the bytes as a hex string.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON decodes a hex string.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*b = nil
		return nil
	}
	d, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = d
	return nil
}

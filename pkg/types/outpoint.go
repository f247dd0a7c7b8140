package types

import (
	"encoding/binary"
	"fmt"
)

// OutpointSize is the serialized length of an outpoint.
const OutpointSize = HashSize + 4

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsZero returns true if the outpoint has a zero TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Index == 0
}

// Compare orders outpoints by tx hash bytes, then by index.
func (o Outpoint) Compare(p Outpoint) int {
	if c := o.TxID.Compare(p.TxID); c != 0 {
		return c
	}
	switch {
	case o.Index < p.Index:
		return -1
	case o.Index > p.Index:
		return 1
	}
	return 0
}

// AppendBytes appends txid | index (little endian) to b.
func (o Outpoint) AppendBytes(b []byte) []byte {
	b = append(b, o.TxID[:]...)
	return binary.LittleEndian.AppendUint32(b, o.Index)
}

// String returns "txid:index" in hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

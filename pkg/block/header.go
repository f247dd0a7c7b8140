package block

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Header contains block metadata.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prevHash"`
	MerkleRoot types.Hash `json:"merkleRoot"`
	Time       int64      `json:"time"` // unix milliseconds
	Height     uint64     `json:"height"`
	TxCount    uint32     `json:"txCount"`
}

// Hash computes the block header hash.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.Bytes())
}

// Bytes returns the canonical encoding.
// Format: version(4) | prev_hash(32) | merkle_root(32) | time(8) | height(8) | tx_count(4)
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, 88)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.Time))
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = binary.LittleEndian.AppendUint32(buf, h.TxCount)
	return buf
}

// Package tx defines coins, transactions and their structural validation.
package tx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Transaction types.
const (
	TypeCoinBase uint16 = 1
	TypeTransfer uint16 = 2
)

// Unconfirmed is the BlockHeight of a transaction not yet in a block.
const Unconfirmed int64 = -1

// Input spends a previous output. The spent coin travels with the input so
// the owner and amount are known without a lookup.
type Input struct {
	PrevOut types.Outpoint `json:"prevout"`
	Coin    Coin           `json:"coin"`
}

// Size returns the encoded length of the input.
func (in Input) Size() int {
	return types.OutpointSize + in.Coin.Size()
}

// CoinData holds the inputs and outputs of a transaction.
type CoinData struct {
	From []Input `json:"from"`
	To   []Coin  `json:"to"`
}

// TotalInput returns the sum of input amounts.
func (cd *CoinData) TotalInput() (uint64, error) {
	var total uint64
	for _, in := range cd.From {
		if total > math.MaxUint64-in.Coin.Amount {
			return 0, ErrValueOverflow
		}
		total += in.Coin.Amount
	}
	return total, nil
}

// TotalOutput returns the sum of output amounts.
func (cd *CoinData) TotalOutput() (uint64, error) {
	var total uint64
	for _, out := range cd.To {
		if total > math.MaxUint64-out.Amount {
			return 0, ErrValueOverflow
		}
		total += out.Amount
	}
	return total, nil
}

// Transaction is a ledger transaction.
type Transaction struct {
	Type      uint16         `json:"type"`
	Time      int64          `json:"time"` // unix milliseconds
	Remark    string         `json:"remark,omitempty"`
	CoinData  *CoinData      `json:"coinData,omitempty"`
	ScriptSig types.HexBytes `json:"scriptSig,omitempty"`

	// BlockHeight is set by the chain when the transaction is confirmed.
	// It is not part of the encoding or the hash.
	BlockHeight int64 `json:"blockHeight"`
}

// Hash computes the transaction ID (BLAKE3 of SigningBytes).
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.SigningBytes())
}

// SigningBytes returns the encoding without the script signature.
// Format: type(2) | time(8) | varbytes remark | coindata
// coindata: uvarint n | [outpoint(36) coin]... | uvarint m | [coin]...
// A transaction without coin data encodes both counts as zero.
func (tx *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = binary.LittleEndian.AppendUint16(buf, tx.Type)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(tx.Time))
	buf = appendVarBytes(buf, []byte(tx.Remark))
	if tx.CoinData == nil {
		buf = binary.AppendUvarint(buf, 0)
		return binary.AppendUvarint(buf, 0)
	}
	buf = binary.AppendUvarint(buf, uint64(len(tx.CoinData.From)))
	for _, in := range tx.CoinData.From {
		buf = in.PrevOut.AppendBytes(buf)
		buf = in.Coin.AppendBytes(buf)
	}
	buf = binary.AppendUvarint(buf, uint64(len(tx.CoinData.To)))
	for _, out := range tx.CoinData.To {
		buf = out.AppendBytes(buf)
	}
	return buf
}

// Bytes returns the full encoding: SigningBytes | varbytes script signature.
func (tx *Transaction) Bytes() []byte {
	return appendVarBytes(tx.SigningBytes(), tx.ScriptSig)
}

// Size returns the encoded length of the transaction.
func (tx *Transaction) Size() int {
	return len(tx.Bytes())
}

// Decode parses a transaction produced by Bytes. BlockHeight is set to Unconfirmed.
func Decode(b []byte) (*Transaction, error) {
	r := reader{buf: b}
	t := &Transaction{BlockHeight: Unconfirmed}
	t.Type = r.uint16()
	t.Time = int64(r.uint64())
	t.Remark = string(r.varBytes())

	nFrom := r.uvarint()
	if nFrom > uint64(len(b)) {
		return nil, fmt.Errorf("decode tx: input count %d: %w", nFrom, ErrShortBuffer)
	}
	var cd CoinData
	for i := uint64(0); i < nFrom && r.err == nil; i++ {
		var in Input
		in.PrevOut = r.outpoint()
		in.Coin = r.coin()
		cd.From = append(cd.From, in)
	}
	nTo := r.uvarint()
	if nTo > uint64(len(b)) {
		return nil, fmt.Errorf("decode tx: output count %d: %w", nTo, ErrShortBuffer)
	}
	for i := uint64(0); i < nTo && r.err == nil; i++ {
		cd.To = append(cd.To, r.coin())
	}
	if nFrom > 0 || nTo > 0 {
		t.CoinData = &cd
	}
	if sig := r.varBytes(); len(sig) > 0 {
		t.ScriptSig = sig
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode tx: %w", r.err)
	}
	if r.off != len(b) {
		return nil, fmt.Errorf("decode tx: %d trailing bytes", len(b)-r.off)
	}
	return t, nil
}

// Copy returns a deep copy of the transaction.
func (tx *Transaction) Copy() *Transaction {
	c := *tx
	c.ScriptSig = append(types.HexBytes(nil), tx.ScriptSig...)
	if tx.CoinData != nil {
		cd := CoinData{
			From: make([]Input, len(tx.CoinData.From)),
			To:   make([]Coin, len(tx.CoinData.To)),
		}
		for i, in := range tx.CoinData.From {
			in.Coin.Owner = append(types.HexBytes(nil), in.Coin.Owner...)
			cd.From[i] = in
		}
		for i, out := range tx.CoinData.To {
			out.Owner = append(types.HexBytes(nil), out.Owner...)
			cd.To[i] = out
		}
		c.CoinData = &cd
	}
	return &c
}

// IsConfirmed reports whether the transaction has a block height.
func (tx *Transaction) IsConfirmed() bool {
	return tx.BlockHeight >= 0
}

// AllRelatedAddresses returns every address that owns an input or an output,
// deduplicated, in first-seen order (inputs before outputs).
func (tx *Transaction) AllRelatedAddresses() []types.Address {
	if tx.CoinData == nil {
		return nil
	}
	seen := make(map[types.Address]struct{})
	var out []types.Address
	add := func(c Coin) {
		a, ok := c.Address()
		if !ok {
			return
		}
		if _, dup := seen[a]; dup {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, in := range tx.CoinData.From {
		add(in.Coin)
	}
	for _, c := range tx.CoinData.To {
		add(c)
	}
	return out
}

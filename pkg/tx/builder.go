package tx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a builder for a transaction of the given type and time
// (unix milliseconds).
func NewBuilder(txType uint16, timeMillis int64) *Builder {
	return &Builder{
		tx: &Transaction{
			Type:        txType,
			Time:        timeMillis,
			CoinData:    &CoinData{},
			BlockHeight: Unconfirmed,
		},
	}
}

// SetRemark sets the free-text remark.
func (b *Builder) SetRemark(remark string) *Builder {
	b.tx.Remark = remark
	return b
}

// AddInput spends the coin at prevOut.
func (b *Builder) AddInput(prevOut types.Outpoint, coin Coin) *Builder {
	b.tx.CoinData.From = append(b.tx.CoinData.From, Input{PrevOut: prevOut, Coin: coin})
	return b
}

// AddOutput appends an output coin.
func (b *Builder) AddOutput(coin Coin) *Builder {
	b.tx.CoinData.To = append(b.tx.CoinData.To, coin)
	return b
}

// Size returns the current encoded size without a script signature.
func (b *Builder) Size() int {
	return b.tx.Size()
}

// Sign signs the transaction hash and attaches the script signature.
func (b *Builder) Sign(signer crypto.Signer) error {
	hash := b.tx.Hash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	b.tx.ScriptSig = ScriptSig{PubKey: signer.PublicKey(), Signature: sig}.Bytes()
	return nil
}

// Build returns the constructed transaction.
func (b *Builder) Build() *Transaction {
	return b.tx
}

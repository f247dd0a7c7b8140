package tx

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// MaxRemarkLen is the maximum remark length in bytes.
const MaxRemarkLen = 100

// Validation errors.
var (
	ErrNoCoinData       = errors.New("transaction has no coin data")
	ErrNoInputs         = errors.New("transaction has no inputs")
	ErrNoOutputs        = errors.New("transaction has no outputs")
	ErrDuplicateInput   = errors.New("duplicate input")
	ErrZeroAmount       = errors.New("output amount is zero")
	ErrValueOverflow    = errors.New("amount overflow")
	ErrInsufficientIn   = errors.New("inputs are less than outputs")
	ErrRemarkTooLong    = errors.New("remark too long")
	ErrUnknownOwner     = errors.New("owner is neither an address nor a known script")
	ErrMissingScriptSig = errors.New("transaction has no script signature")
	ErrInvalidSig       = errors.New("invalid signature")
	ErrOwnerMismatch    = errors.New("signing key does not own input")
)

// Validate checks transaction structure: coin data presence, amounts, and
// the remark limit. Coinbase transactions may have no inputs.
func (tx *Transaction) Validate() error {
	if len(tx.Remark) > MaxRemarkLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrRemarkTooLong, len(tx.Remark), MaxRemarkLen)
	}
	if tx.CoinData == nil {
		return ErrNoCoinData
	}
	cd := tx.CoinData
	if len(cd.From) == 0 && tx.Type != TypeCoinBase {
		return ErrNoInputs
	}
	if len(cd.To) == 0 {
		return ErrNoOutputs
	}

	seen := make(map[types.Outpoint]struct{}, len(cd.From))
	for i, in := range cd.From {
		if _, dup := seen[in.PrevOut]; dup {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = struct{}{}
		if _, ok := in.Coin.Address(); !ok {
			return fmt.Errorf("input %d: %w", i, ErrUnknownOwner)
		}
	}
	for i, out := range cd.To {
		if out.Amount == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroAmount)
		}
		if _, ok := out.Address(); !ok {
			return fmt.Errorf("output %d: %w", i, ErrUnknownOwner)
		}
	}

	totalIn, err := cd.TotalInput()
	if err != nil {
		return fmt.Errorf("inputs: %w", err)
	}
	totalOut, err := cd.TotalOutput()
	if err != nil {
		return fmt.Errorf("outputs: %w", err)
	}
	if tx.Type != TypeCoinBase && totalIn < totalOut {
		return fmt.Errorf("%w: in %d, out %d", ErrInsufficientIn, totalIn, totalOut)
	}
	return nil
}

// Verify validates the structure and checks that the script signature is a
// valid signature over the hash by a key whose hash owns every input.
func (tx *Transaction) Verify() error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if tx.Type == TypeCoinBase {
		return nil
	}
	if len(tx.ScriptSig) == 0 {
		return ErrMissingScriptSig
	}
	sig, err := DecodeScriptSig(tx.ScriptSig)
	if err != nil {
		return err
	}
	hash := tx.Hash()
	if !crypto.VerifySignature(hash[:], sig.Signature, sig.PubKey) {
		return ErrInvalidSig
	}
	keyHash := crypto.Hash160(sig.PubKey)
	for i, in := range tx.CoinData.From {
		owner, _ := in.Coin.Address()
		if !bytes.Equal(owner.Hash160(), keyHash) {
			return fmt.Errorf("input %d: %w", i, ErrOwnerMismatch)
		}
	}
	return nil
}

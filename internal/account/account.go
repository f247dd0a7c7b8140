// Package account manages the node's locally held accounts: key storage,
// password protection, HD import, and the registry of local addresses.
package account

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Account errors.
var (
	ErrNotFound         = errors.New("account not found")
	ErrExists           = errors.New("account already exists")
	ErrPasswordRequired = errors.New("password required")
	ErrWeakPassword     = errors.New("password must be 8-20 characters with letters and digits")
)

// Account is a locally held key pair. When a password is set only the
// sealed private key is stored.
type Account struct {
	Address   types.Address  `json:"address"`
	PubKey    types.HexBytes `json:"pubKey"`
	PrivKey   types.HexBytes `json:"privKey,omitempty"`
	Sealed    types.HexBytes `json:"sealedKey,omitempty"`
	Alias     string         `json:"alias,omitempty"`
	CreatedAt int64          `json:"createdAt"` // unix milliseconds
}

// IsEncrypted reports whether the private key is password protected.
func (a *Account) IsEncrypted() bool {
	return len(a.Sealed) > 0
}

// Public returns a copy without private key material.
func (a *Account) Public() *Account {
	return &Account{
		Address:   a.Address,
		PubKey:    append(types.HexBytes(nil), a.PubKey...),
		Alias:     a.Alias,
		CreatedAt: a.CreatedAt,
	}
}

// PrivateKey unlocks the signing key. The password is ignored for an
// unencrypted account.
func (a *Account) PrivateKey(password string) (*crypto.PrivateKey, error) {
	if !a.IsEncrypted() {
		return crypto.PrivateKeyFromBytes(a.PrivKey)
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}
	raw, err := open(a.Sealed, []byte(password))
	if err != nil {
		return nil, err
	}
	defer wipe(raw)
	return crypto.PrivateKeyFromBytes(raw)
}

// ValidatePasswordFormat checks the password policy for new passwords:
// 8 to 20 characters containing both letters and digits.
func ValidatePasswordFormat(password string) error {
	if n := len([]rune(password)); n < 8 || n > 20 {
		return fmt.Errorf("%w: got %d characters", ErrWeakPassword, n)
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return ErrWeakPassword
	}
	return nil
}

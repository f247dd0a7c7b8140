package account

import (
	"errors"
	"fmt"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Derivation path m/44'/CoinType'/0'/0/index.
const (
	purposeBIP44 = bip32.FirstHardenedChild + 44
	CoinType     = bip32.FirstHardenedChild + 8964
)

// ErrInvalidMnemonic is returned for a mnemonic that fails BIP-39 validation.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	m, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return m, nil
}

// DeriveKey returns the 32-byte private key at m/44'/8964'/0'/0/index for
// the given mnemonic and optional BIP-39 passphrase.
func DeriveKey(mnemonic, passphrase string, index uint32) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	for _, idx := range []uint32{purposeBIP44, CoinType, bip32.FirstHardenedChild, 0, index} {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	// bip32 stores private keys as 33 bytes with a leading zero.
	raw := key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

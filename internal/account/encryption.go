package account

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrWrongPassword is returned when a sealed key cannot be opened.
var ErrWrongPassword = errors.New("wrong password")

const (
	saltSize = 16
	// Sealed layout: salt(16) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
	sealHeaderSize = saltSize + 4 + 4 + 1
)

// KDFParams holds the Argon2id cost parameters stored with each sealed key.
type KDFParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultKDFParams returns the Argon2id cost used for new accounts.
func DefaultKDFParams() KDFParams {
	return KDFParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

// LightKDFParams returns a cheap Argon2id cost for tests and devnets.
func LightKDFParams() KDFParams {
	return KDFParams{Memory: 64, Iterations: 1, Parallelism: 1}
}

func (p KDFParams) derive(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

// seal encrypts secret under password with Argon2id + XChaCha20-Poly1305.
func seal(secret, password []byte, params KDFParams) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := params.derive(password, salt)
	defer wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, sealHeaderSize+len(nonce)+len(secret)+aead.Overhead())
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, params.Memory)
	out = binary.LittleEndian.AppendUint32(out, params.Iterations)
	out = append(out, params.Parallelism)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, secret, nil), nil
}

// open reverses seal. A failed authentication is ErrWrongPassword.
func open(sealed, password []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if len(sealed) < sealHeaderSize+nonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("sealed key too short: %d bytes", len(sealed))
	}
	salt := sealed[:saltSize]
	params := KDFParams{
		Memory:      binary.LittleEndian.Uint32(sealed[saltSize:]),
		Iterations:  binary.LittleEndian.Uint32(sealed[saltSize+4:]),
		Parallelism: sealed[saltSize+8],
	}
	if params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("sealed key has invalid kdf params")
	}
	nonce := sealed[sealHeaderSize : sealHeaderSize+nonceSize]
	ciphertext := sealed[sealHeaderSize+nonceSize:]

	key := params.derive(password, salt)
	defer wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

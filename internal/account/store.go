package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

var prefixAccount = []byte("a/")

func accountKey(addr types.Address) []byte {
	return append(append([]byte{}, prefixAccount...), addr[:]...)
}

// Store persists accounts in a key-value database.
type Store struct {
	db      storage.DB
	chainID uint16
	params  KDFParams
	clock   clock.Clock

	mu       sync.Mutex
	onChange []func()
}

// Option configures a Store.
type Option func(*Store)

// WithKDFParams sets the Argon2id cost for new sealed keys.
func WithKDFParams(p KDFParams) Option {
	return func(s *Store) { s.params = p }
}

// WithClock sets the clock used for creation timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore creates an account store for addresses on chainID.
func NewStore(db storage.DB, chainID uint16, opts ...Option) *Store {
	s := &Store{
		db:      db,
		chainID: chainID,
		params:  DefaultKDFParams(),
		clock:   clock.NewDefaultClock(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ChainID returns the chain id addresses are derived for.
func (s *Store) ChainID() uint16 {
	return s.chainID
}

// OnChange registers fn to run after an account is added or removed.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) changed() {
	s.mu.Lock()
	fns := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Create generates a new account. An empty password stores the key in the clear.
func (s *Store) Create(password, alias string) (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	return s.add(key, password, alias)
}

// ImportPrivateKey adds an account for an existing 32-byte private key.
func (s *Store) ImportPrivateKey(priv []byte, password, alias string) (*Account, error) {
	key, err := crypto.PrivateKeyFromBytes(priv)
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	return s.add(key, password, alias)
}

// ImportMnemonic adds the account at HD index of a BIP-39 mnemonic.
func (s *Store) ImportMnemonic(mnemonic, passphrase string, index uint32, password, alias string) (*Account, error) {
	raw, err := DeriveKey(mnemonic, passphrase, index)
	if err != nil {
		return nil, err
	}
	defer wipe(raw)
	return s.ImportPrivateKey(raw, password, alias)
}

func (s *Store) add(key *crypto.PrivateKey, password, alias string) (*Account, error) {
	if password != "" {
		if err := ValidatePasswordFormat(password); err != nil {
			return nil, err
		}
	}
	pub := key.PublicKey()
	acct := &Account{
		Address:   crypto.AddressFromPubKey(s.chainID, pub),
		PubKey:    pub,
		Alias:     alias,
		CreatedAt: s.clock.Now().UnixMilli(),
	}
	if password == "" {
		acct.PrivKey = key.Serialize()
	} else {
		sealed, err := seal(key.Serialize(), []byte(password), s.params)
		if err != nil {
			return nil, fmt.Errorf("seal key: %w", err)
		}
		acct.Sealed = sealed
	}

	ok, err := s.db.Has(accountKey(acct.Address))
	if err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}
	if ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, acct.Address)
	}
	if err := s.put(acct); err != nil {
		return nil, err
	}
	log.Account.Info().Str("address", acct.Address.String()).Bool("encrypted", acct.IsEncrypted()).Msg("Account added")
	s.changed()
	return acct, nil
}

func (s *Store) put(acct *Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	if err := s.db.Put(accountKey(acct.Address), data); err != nil {
		return fmt.Errorf("store account: %w", err)
	}
	return nil
}

// Get returns the account for addr, or ErrNotFound.
func (s *Store) Get(addr types.Address) (*Account, error) {
	data, err := s.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &acct, nil
}

// List returns all accounts ordered by creation time, then address.
func (s *Store) List() ([]*Account, error) {
	var out []*Account
	err := s.db.ForEach(prefixAccount, func(_, value []byte) error {
		var acct Account
		if err := json.Unmarshal(value, &acct); err != nil {
			return fmt.Errorf("unmarshal account: %w", err)
		}
		out = append(out, &acct)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Address.Compare(out[j].Address) < 0
	})
	return out, nil
}

// Remove deletes an account after checking its password.
func (s *Store) Remove(addr types.Address, password string) error {
	if err := s.ValidatePassword(addr, password); err != nil {
		return err
	}
	if err := s.db.Delete(accountKey(addr)); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	log.Account.Info().Str("address", addr.String()).Msg("Account removed")
	s.changed()
	return nil
}

// SetPassword seals an unencrypted account's key under a new password.
func (s *Store) SetPassword(addr types.Address, password string) error {
	if err := ValidatePasswordFormat(password); err != nil {
		return err
	}
	acct, err := s.Get(addr)
	if err != nil {
		return err
	}
	if acct.IsEncrypted() {
		return fmt.Errorf("account %s is already encrypted", addr)
	}
	sealed, err := seal(acct.PrivKey, []byte(password), s.params)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	acct.PrivKey = nil
	acct.Sealed = sealed
	return s.put(acct)
}

// IsEncrypted reports whether addr's key is password protected.
func (s *Store) IsEncrypted(addr types.Address) (bool, error) {
	acct, err := s.Get(addr)
	if err != nil {
		return false, err
	}
	return acct.IsEncrypted(), nil
}

// ValidatePassword checks password against addr's sealed key. Any password
// is accepted for an unencrypted account.
func (s *Store) ValidatePassword(addr types.Address, password string) error {
	key, err := s.unlock(addr, password)
	if err != nil {
		return err
	}
	key.Zero()
	return nil
}

// Signer unlocks addr's key for signing.
func (s *Store) Signer(addr types.Address, password string) (crypto.Signer, error) {
	return s.unlock(addr, password)
}

func (s *Store) unlock(addr types.Address, password string) (*crypto.PrivateKey, error) {
	acct, err := s.Get(addr)
	if err != nil {
		return nil, err
	}
	return acct.PrivateKey(password)
}

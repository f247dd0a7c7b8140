package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Key prefixes for the ledger store.
var (
	prefixOutput  = []byte("o/") // o/<owner(23)><txid(32)><index(4)> -> coin bytes
	prefixTx      = []byte("t/") // t/<txid> -> tx record
	prefixInfo    = []byte("i/") // i/<txid> -> TransactionInfo JSON
	prefixAddrIdx = []byte("a/") // a/<addr(23)><txid> -> empty (index)
	prefixPending = []byte("p/") // p/<txid> -> tx bytes
	prefixSpent   = []byte("s/") // s/<owner(23)><txid(32)><index(4)> -> spending txid
)

// Unspent is a coin together with the outpoint that created it.
type Unspent struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Coin     tx.Coin        `json:"coin"`
}

// Input returns the transaction input that spends u.
func (u Unspent) Input() tx.Input {
	return tx.Input{PrevOut: u.Outpoint, Coin: u.Coin}
}

// CoinStore is the persistence the ledger runs on. Store is the production
// implementation.
type CoinStore interface {
	Coins(addr types.Address) ([]Unspent, error)
	Coin(owner types.Address, op types.Outpoint) (tx.Coin, error)
	PutCoin(owner types.Address, op types.Outpoint, c tx.Coin) error

	SaveTx(t *tx.Transaction, related []types.Address) error
	DeleteTx(t *tx.Transaction, related []types.Address) error

	Info(hash types.Hash) (*TransactionInfo, error)
	PutInfo(info *TransactionInfo) error
	DeleteInfo(hash types.Hash) error
	Infos(addr types.Address) ([]*TransactionInfo, error)

	PutPending(t *tx.Transaction) error
	DeletePending(hash types.Hash) error
	Pending() ([]*tx.Transaction, error)
}

// Store implements CoinStore backed by a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a ledger store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// outputKey builds an output key: "o/" + owner(23) + txid(32) + index(4).
func outputKey(owner types.Address, op types.Outpoint) []byte {
	key := make([]byte, 0, len(prefixOutput)+types.AddressSize+types.OutpointSize)
	key = append(key, prefixOutput...)
	key = append(key, owner[:]...)
	key = append(key, op.TxID[:]...)
	return binary.BigEndian.AppendUint32(key, op.Index)
}

// spentKey marks an outpoint as consumed by a saved local transaction.
func spentKey(owner types.Address, op types.Outpoint) []byte {
	key := outputKey(owner, op)
	copy(key, prefixSpent)
	return key
}

func outputPrefix(owner types.Address) []byte {
	return append(append([]byte{}, prefixOutput...), owner[:]...)
}

func hashKey(prefix []byte, h types.Hash) []byte {
	return append(append(make([]byte, 0, len(prefix)+types.HashSize), prefix...), h[:]...)
}

// addrIdxKey builds an address index key: "a/" + addr(23) + txid(32).
func addrIdxKey(addr types.Address, h types.Hash) []byte {
	key := make([]byte, 0, len(prefixAddrIdx)+types.AddressSize+types.HashSize)
	key = append(key, prefixAddrIdx...)
	key = append(key, addr[:]...)
	return append(key, h[:]...)
}

// Coins returns every coin stored for addr in outpoint order.
func (s *Store) Coins(addr types.Address) ([]Unspent, error) {
	prefix := outputPrefix(addr)
	var out []Unspent
	err := s.db.ForEach(prefix, func(key, value []byte) error {
		rest := key[len(prefix):]
		if len(rest) != types.OutpointSize {
			return fmt.Errorf("corrupt output key: %d byte suffix", len(rest))
		}
		var u Unspent
		copy(u.Outpoint.TxID[:], rest[:types.HashSize])
		u.Outpoint.Index = binary.BigEndian.Uint32(rest[types.HashSize:])
		c, err := tx.DecodeCoin(value)
		if err != nil {
			return fmt.Errorf("output %s: %w", u.Outpoint, err)
		}
		u.Coin = c
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coins scan: %w", err)
	}
	return out, nil
}

// Coin returns the stored coin at op owned by owner.
func (s *Store) Coin(owner types.Address, op types.Outpoint) (tx.Coin, error) {
	data, err := s.db.Get(outputKey(owner, op))
	if err != nil {
		return tx.Coin{}, fmt.Errorf("output get: %w", err)
	}
	return tx.DecodeCoin(data)
}

// PutCoin writes c under (owner, op), replacing any stored version.
func (s *Store) PutCoin(owner types.Address, op types.Outpoint, c tx.Coin) error {
	if err := s.db.Put(outputKey(owner, op), c.Bytes()); err != nil {
		return fmt.Errorf("output put: %w", err)
	}
	return nil
}

// txRecord is the stored form of a local transaction. spent lists the input
// positions whose coins this store removed when saving, so a delete can
// restore exactly those.
type txRecord struct {
	height int64
	spent  []uint32
	raw    []byte
}

// Format: height(8) | uvarint n | n x uvarint input position | tx bytes
func (r *txRecord) bytes() []byte {
	buf := make([]byte, 0, 8+1+len(r.spent)+len(r.raw))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.height))
	buf = binary.AppendUvarint(buf, uint64(len(r.spent)))
	for _, p := range r.spent {
		buf = binary.AppendUvarint(buf, uint64(p))
	}
	return append(buf, r.raw...)
}

func decodeTxRecord(b []byte) (*txRecord, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("tx record: %w", tx.ErrShortBuffer)
	}
	r := &txRecord{height: int64(binary.BigEndian.Uint64(b))}
	b = b[8:]
	n, k := binary.Uvarint(b)
	if k <= 0 || n > uint64(len(b)) {
		return nil, fmt.Errorf("tx record: bad spent count")
	}
	b = b[k:]
	for i := uint64(0); i < n; i++ {
		p, k := binary.Uvarint(b)
		if k <= 0 {
			return nil, fmt.Errorf("tx record: bad spent position")
		}
		r.spent = append(r.spent, uint32(p))
		b = b[k:]
	}
	r.raw = b
	return r, nil
}

func (s *Store) record(hash types.Hash) (*txRecord, error) {
	data, err := s.db.Get(hashKey(prefixTx, hash))
	if err != nil {
		return nil, err
	}
	return decodeTxRecord(data)
}

// Tx returns a stored local transaction with its block height.
func (s *Store) Tx(hash types.Hash) (*tx.Transaction, error) {
	rec, err := s.record(hash)
	if err != nil {
		return nil, fmt.Errorf("tx get: %w", err)
	}
	t, err := tx.Decode(rec.raw)
	if err != nil {
		return nil, err
	}
	t.BlockHeight = rec.height
	return t, nil
}

func ownedBy(c tx.Coin, related []types.Address) (types.Address, bool) {
	a, ok := c.Address()
	if !ok {
		return types.Address{}, false
	}
	for _, r := range related {
		if r == a {
			return a, true
		}
	}
	return types.Address{}, false
}

// SaveTx writes the raw transaction and applies its coin deltas for the
// related addresses in one batch: outputs they own are added (an existing
// record for the same output is kept), inputs they own are removed and
// marked spent. An output already marked spent by another saved
// transaction is not added back, whatever order the two are saved in.
// Saving a transaction again is idempotent.
func (s *Store) SaveTx(t *tx.Transaction, related []types.Address) error {
	hash := t.Hash()
	rec := &txRecord{height: t.BlockHeight, raw: t.Bytes()}
	spent := make(map[uint32]struct{})
	if prev, err := s.record(hash); err == nil {
		for _, p := range prev.spent {
			spent[p] = struct{}{}
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("tx record get: %w", err)
	}

	b := storage.NewBatch(s.db)
	if cd := t.CoinData; cd != nil {
		for i, out := range cd.To {
			owner, ok := ownedBy(out, related)
			if !ok {
				continue
			}
			op := types.Outpoint{TxID: hash, Index: uint32(i)}
			consumed, err := s.db.Has(spentKey(owner, op))
			if err != nil {
				return fmt.Errorf("spent marker has: %w", err)
			}
			if consumed {
				continue
			}
			key := outputKey(owner, op)
			exists, err := s.db.Has(key)
			if err != nil {
				return fmt.Errorf("output has: %w", err)
			}
			if exists {
				continue
			}
			if err := b.Put(key, out.Bytes()); err != nil {
				return fmt.Errorf("output put: %w", err)
			}
		}
		for i, in := range cd.From {
			owner, ok := ownedBy(in.Coin, related)
			if !ok {
				continue
			}
			if err := b.Put(spentKey(owner, in.PrevOut), hash[:]); err != nil {
				return fmt.Errorf("spent marker put: %w", err)
			}
			key := outputKey(owner, in.PrevOut)
			exists, err := s.db.Has(key)
			if err != nil {
				return fmt.Errorf("output has: %w", err)
			}
			if !exists {
				continue
			}
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("output delete: %w", err)
			}
			spent[uint32(i)] = struct{}{}
		}
	}
	for p := range spent {
		rec.spent = append(rec.spent, p)
	}
	slices.Sort(rec.spent)

	if err := b.Put(hashKey(prefixTx, hash), rec.bytes()); err != nil {
		return fmt.Errorf("tx put: %w", err)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}

// DeleteTx removes the raw transaction and reverts its coin deltas: outputs
// owned by the related addresses are removed, the inputs SaveTx spent are
// restored, and the spent markers it wrote are cleared.
func (s *Store) DeleteTx(t *tx.Transaction, related []types.Address) error {
	hash := t.Hash()
	rec, err := s.record(hash)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("tx record get: %w", err)
	}

	b := storage.NewBatch(s.db)
	if cd := t.CoinData; cd != nil {
		for i, out := range cd.To {
			if owner, ok := ownedBy(out, related); ok {
				if err := b.Delete(outputKey(owner, types.Outpoint{TxID: hash, Index: uint32(i)})); err != nil {
					return fmt.Errorf("output delete: %w", err)
				}
			}
		}
		for _, in := range cd.From {
			owner, ok := ownedBy(in.Coin, related)
			if !ok {
				continue
			}
			key := spentKey(owner, in.PrevOut)
			by, err := s.db.Get(key)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("spent marker get: %w", err)
			}
			if !bytes.Equal(by, hash[:]) {
				continue
			}
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("spent marker delete: %w", err)
			}
		}
		if rec != nil {
			for _, p := range rec.spent {
				if int(p) >= len(cd.From) {
					return fmt.Errorf("tx record: spent position %d out of range", p)
				}
				in := cd.From[p]
				owner, ok := in.Coin.Address()
				if !ok {
					continue
				}
				if err := b.Put(outputKey(owner, in.PrevOut), in.Coin.Bytes()); err != nil {
					return fmt.Errorf("output restore: %w", err)
				}
			}
		}
	}
	if err := b.Delete(hashKey(prefixTx, hash)); err != nil {
		return fmt.Errorf("tx delete: %w", err)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("tx delete commit: %w", err)
	}
	return nil
}

// Info returns the stored record for hash, wrapping storage.ErrNotFound
// when there is none.
func (s *Store) Info(hash types.Hash) (*TransactionInfo, error) {
	data, err := s.db.Get(hashKey(prefixInfo, hash))
	if err != nil {
		return nil, fmt.Errorf("tx info get: %w", err)
	}
	var info TransactionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("tx info unmarshal: %w", err)
	}
	return &info, nil
}

// PutInfo writes info and indexes it under each of its addresses.
func (s *Store) PutInfo(info *TransactionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("tx info marshal: %w", err)
	}
	b := storage.NewBatch(s.db)
	if err := b.Put(hashKey(prefixInfo, info.TxHash), data); err != nil {
		return fmt.Errorf("tx info put: %w", err)
	}
	for _, a := range info.Addresses {
		if err := b.Put(addrIdxKey(a, info.TxHash), []byte{}); err != nil {
			return fmt.Errorf("tx info index put: %w", err)
		}
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("tx info commit: %w", err)
	}
	return nil
}

// DeleteInfo removes the record for hash and its index entries. Deleting a
// missing record is not an error.
func (s *Store) DeleteInfo(hash types.Hash) error {
	info, err := s.Info(hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	b := storage.NewBatch(s.db)
	for _, a := range info.Addresses {
		if err := b.Delete(addrIdxKey(a, hash)); err != nil {
			return fmt.Errorf("tx info index delete: %w", err)
		}
	}
	if err := b.Delete(hashKey(prefixInfo, hash)); err != nil {
		return fmt.Errorf("tx info delete: %w", err)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("tx info delete commit: %w", err)
	}
	return nil
}

// Infos returns the records indexed under addr, unordered.
func (s *Store) Infos(addr types.Address) ([]*TransactionInfo, error) {
	prefix := append(append([]byte{}, prefixAddrIdx...), addr[:]...)
	var hashes []types.Hash
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		rest := key[len(prefix):]
		if len(rest) != types.HashSize {
			return fmt.Errorf("corrupt tx info index key")
		}
		var h types.Hash
		copy(h[:], rest)
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tx info scan: %w", err)
	}

	infos := make([]*TransactionInfo, 0, len(hashes))
	for _, h := range hashes {
		info, err := s.Info(h)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// PutPending adds t to the pending pool.
func (s *Store) PutPending(t *tx.Transaction) error {
	if err := s.db.Put(hashKey(prefixPending, t.Hash()), t.Bytes()); err != nil {
		return fmt.Errorf("pending put: %w", err)
	}
	return nil
}

// DeletePending removes hash from the pending pool.
func (s *Store) DeletePending(hash types.Hash) error {
	if err := s.db.Delete(hashKey(prefixPending, hash)); err != nil {
		return fmt.Errorf("pending delete: %w", err)
	}
	return nil
}

// Pending returns the pending pool in hash order.
func (s *Store) Pending() ([]*tx.Transaction, error) {
	var out []*tx.Transaction
	err := s.db.ForEach(prefixPending, func(_, value []byte) error {
		t, err := tx.Decode(value)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pending scan: %w", err)
	}
	return out, nil
}

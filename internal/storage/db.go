// Package storage provides the key-value abstraction the node persists to.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in key order.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch collects writes and applies them together on Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by databases that can commit a Batch atomically.
type Batcher interface {
	NewBatch() Batch
}

// NewBatch returns an atomic batch when db supports one, otherwise a batch
// that replays its writes one by one on Commit.
func NewBatch(db DB) Batch {
	if b, ok := db.(Batcher); ok {
		return b.NewBatch()
	}
	return &replayBatch{db: db}
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

func (o batchOp) apply(db DB) error {
	if o.delete {
		return db.Delete(o.key)
	}
	return db.Put(o.key, o.value)
}

// replayBatch buffers writes and applies them in order without atomicity.
type replayBatch struct {
	db  DB
	ops []batchOp
}

func (b *replayBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: clone(key), value: clone(value)})
	return nil
}

func (b *replayBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: clone(key), delete: true})
	return nil
}

func (b *replayBatch) Commit() error {
	for _, op := range b.ops {
		if err := op.apply(b.db); err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

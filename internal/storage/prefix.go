package storage

// PrefixDB wraps a DB and prepends a fixed prefix to all keys, giving each
// component its own namespace inside one node database.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: clone(prefix)}
}

func withPrefix(prefix, key []byte) []byte {
	out := make([]byte, len(prefix)+len(key))
	copy(out, prefix)
	copy(out[len(prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(withPrefix(p.prefix, key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(withPrefix(p.prefix, key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(withPrefix(p.prefix, key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(withPrefix(p.prefix, key))
}

// ForEach iterates over keys with the given prefix inside the namespace.
// Keys passed to fn have the namespace prefix stripped.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(withPrefix(p.prefix, prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// DeleteAll removes every key in the namespace in one batch.
func (p *PrefixDB) DeleteAll() error {
	b := NewBatch(p.inner)
	err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		return b.Delete(key)
	})
	if err != nil {
		return err
	}
	return b.Commit()
}

// Close is a no-op; the inner DB owns its lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch returns a batch on the inner DB that prefixes every key.
func (p *PrefixDB) NewBatch() Batch {
	return &prefixBatch{inner: NewBatch(p.inner), prefix: p.prefix}
}

type prefixBatch struct {
	inner  Batch
	prefix []byte
}

func (pb *prefixBatch) Put(key, value []byte) error {
	return pb.inner.Put(withPrefix(pb.prefix, key), value)
}

func (pb *prefixBatch) Delete(key []byte) error {
	return pb.inner.Delete(withPrefix(pb.prefix, key))
}

func (pb *prefixBatch) Commit() error {
	return pb.inner.Commit()
}

package tx

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// HeightTimeDivide separates height thresholds from millisecond timestamps.
// Positive lock times above it are timestamps, at or below it block heights.
const HeightTimeDivide int64 = 1_000_000_000_000

// LockTimeUntilRelease is the wire sentinel for an output that stays locked
// until an explicit release.
const LockTimeUntilRelease int64 = -1

const lockTimeSize = 6

// maxLockTime is the largest lock time the 48-bit wire field holds.
const maxLockTime int64 = 1<<47 - 1

// ErrBadLockTime is returned for a lock time with no wire meaning: below -1
// or beyond the 48-bit field.
var ErrBadLockTime = errors.New("invalid lock time")

func checkLockTime(v int64) error {
	if v < LockTimeUntilRelease || v > maxLockTime {
		return fmt.Errorf("%w: %d", ErrBadLockTime, v)
	}
	return nil
}

// LockState is the maturity state of an output.
type LockState uint8

const (
	LockMatured    LockState = iota // spendable
	LockLocked                      // locked until released (wire value -1)
	LockTimeLocked                  // spendable once a height or time threshold passes
)

// String returns a human-readable name for the state.
func (s LockState) String() string {
	switch s {
	case LockMatured:
		return "matured"
	case LockLocked:
		return "locked"
	case LockTimeLocked:
		return "time-locked"
	default:
		return "unknown"
	}
}

// ThresholdKind says what a time-lock threshold is compared against.
type ThresholdKind uint8

const (
	ThresholdHeight ThresholdKind = iota
	ThresholdTimestamp
)

// Lock is the maturity condition of a coin. The zero value is matured.
type Lock struct {
	state     LockState
	kind      ThresholdKind
	threshold uint64
}

// Unlocked is a matured lock (wire value 0).
var Unlocked = Lock{}

// Locked is the release-pending lock (wire value -1).
var Locked = Lock{state: LockLocked}

// LockFromTime interprets a wire lock time. Negative values are locked,
// zero is matured, positive values are time-locks whose kind is decided by
// HeightTimeDivide.
func LockFromTime(v int64) Lock {
	switch {
	case v < 0:
		return Locked
	case v == 0:
		return Unlocked
	case v > HeightTimeDivide:
		return Lock{state: LockTimeLocked, kind: ThresholdTimestamp, threshold: uint64(v)}
	default:
		return Lock{state: LockTimeLocked, kind: ThresholdHeight, threshold: uint64(v)}
	}
}

// HeightLock locks until the chain reaches height.
func HeightLock(height uint64) Lock {
	return LockFromTime(int64(height))
}

// TimeLock locks until wall-clock time t.
func TimeLock(t time.Time) Lock {
	return LockFromTime(t.UnixMilli())
}

// State returns the maturity state.
func (l Lock) State() LockState { return l.state }

// Kind returns the threshold kind. Only meaningful for LockTimeLocked.
func (l Lock) Kind() ThresholdKind { return l.kind }

// Threshold returns the height or millisecond timestamp of a time-lock.
func (l Lock) Threshold() uint64 { return l.threshold }

// LockTime returns the wire value.
func (l Lock) LockTime() int64 {
	switch l.state {
	case LockLocked:
		return LockTimeUntilRelease
	case LockTimeLocked:
		return int64(l.threshold)
	default:
		return 0
	}
}

// Usable reports whether a coin with this lock can be spent at wall-clock
// time now with the chain at bestHeight.
func (l Lock) Usable(now time.Time, bestHeight uint64) bool {
	switch l.state {
	case LockMatured:
		return true
	case LockTimeLocked:
		if l.kind == ThresholdTimestamp {
			return uint64(now.UnixMilli()) >= l.threshold
		}
		return bestHeight >= l.threshold
	default:
		return false
	}
}

// Coin is a transaction output: an owner, an amount and a maturity lock.
// Owner is either a raw address or a P2PKH/P2SH locking script.
type Coin struct {
	Owner  types.HexBytes `json:"owner"`
	Amount uint64         `json:"amount"`
	Lock   Lock           `json:"-"`
}

// NewCoin returns a coin owned directly by addr.
func NewCoin(addr types.Address, amount uint64, lock Lock) Coin {
	return Coin{Owner: addr.Bytes(), Amount: amount, Lock: lock}
}

// Address resolves the owning address, unwrapping owner scripts.
func (c Coin) Address() (types.Address, bool) {
	if len(c.Owner) == types.AddressSize {
		var a types.Address
		copy(a[:], c.Owner)
		return a, true
	}
	return types.AddressFromScript(c.Owner)
}

// OwnedBy reports whether addr owns the coin.
func (c Coin) OwnedBy(addr types.Address) bool {
	a, ok := c.Address()
	return ok && a == addr
}

// Size returns the encoded length of the coin.
func (c Coin) Size() int {
	return uvarintSize(uint64(len(c.Owner))) + len(c.Owner) + 8 + lockTimeSize
}

// AppendBytes appends the wire encoding: varbytes owner | amount (8 LE) | lock time (6 LE).
func (c Coin) AppendBytes(b []byte) []byte {
	b = appendVarBytes(b, c.Owner)
	b = binary.LittleEndian.AppendUint64(b, c.Amount)
	return appendUint48(b, c.Lock.LockTime())
}

// Bytes returns the wire encoding of the coin.
func (c Coin) Bytes() []byte {
	return c.AppendBytes(make([]byte, 0, c.Size()))
}

// DecodeCoin parses a coin produced by Bytes.
func DecodeCoin(b []byte) (Coin, error) {
	r := reader{buf: b}
	c := r.coin()
	if r.err != nil {
		return Coin{}, fmt.Errorf("decode coin: %w", r.err)
	}
	if r.off != len(b) {
		return Coin{}, fmt.Errorf("decode coin: %d trailing bytes", len(b)-r.off)
	}
	return c, nil
}

// coinJSON is the JSON representation of a Coin.
type coinJSON struct {
	Owner    types.HexBytes `json:"owner"`
	Address  string         `json:"address,omitempty"`
	Amount   uint64         `json:"amount"`
	LockTime int64          `json:"lockTime"`
}

// MarshalJSON encodes the coin with its wire lock time and resolved address.
func (c Coin) MarshalJSON() ([]byte, error) {
	j := coinJSON{Owner: c.Owner, Amount: c.Amount, LockTime: c.Lock.LockTime()}
	if a, ok := c.Address(); ok {
		j.Address = a.String()
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a coin encoded by MarshalJSON.
func (c *Coin) UnmarshalJSON(data []byte) error {
	var j coinJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if err := checkLockTime(j.LockTime); err != nil {
		return err
	}
	c.Owner = j.Owner
	c.Amount = j.Amount
	c.Lock = LockFromTime(j.LockTime)
	return nil
}

// ErrShortBuffer is returned when an encoding ends early.
var ErrShortBuffer = errors.New("short buffer")

func appendVarBytes(b, v []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(v)))
	return append(b, v...)
}

// appendUint48 writes the low 48 bits of v; -1 becomes 0xFFFFFFFFFFFF.
func appendUint48(b []byte, v int64) []byte {
	u := uint64(v)
	for i := 0; i < lockTimeSize; i++ {
		b = append(b, byte(u>>(8*i)))
	}
	return b
}

func uvarintSize(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.err = ErrShortBuffer
		return 0
	}
	r.off += n
	return v
}

func (r *reader) varBytes() []byte {
	n := r.uvarint()
	if n > uint64(len(r.buf)) {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// int48 reads a sign-extended 48-bit little endian integer.
func (r *reader) int48() int64 {
	b := r.take(lockTimeSize)
	if b == nil {
		return 0
	}
	var u uint64
	for i := 0; i < lockTimeSize; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return int64(u<<16) >> 16
}

func (r *reader) coin() Coin {
	owner := r.varBytes()
	amount := r.uint64()
	lock := r.int48()
	if r.err == nil {
		r.err = checkLockTime(lock)
	}
	return Coin{Owner: owner, Amount: amount, Lock: LockFromTime(lock)}
}

func (r *reader) outpoint() types.Outpoint {
	var o types.Outpoint
	if b := r.take(types.HashSize); b != nil {
		copy(o.TxID[:], b)
	}
	o.Index = r.uint32()
	return o
}

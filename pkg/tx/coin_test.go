package tx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

func testAddr(b byte) types.Address {
	h := bytes.Repeat([]byte{b}, types.Hash160Size)
	return types.NewAddress(8964, types.AddressTypeDefault, h)
}

func TestLockFromTime_States(t *testing.T) {
	tests := []struct {
		name  string
		v     int64
		state LockState
		kind  ThresholdKind
	}{
		{"locked", -1, LockLocked, ThresholdHeight},
		{"matured", 0, LockMatured, ThresholdHeight},
		{"height", 500, LockTimeLocked, ThresholdHeight},
		{"height at divide", HeightTimeDivide, LockTimeLocked, ThresholdHeight},
		{"timestamp", HeightTimeDivide + 1, LockTimeLocked, ThresholdTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := LockFromTime(tt.v)
			if l.State() != tt.state {
				t.Errorf("State() = %s, want %s", l.State(), tt.state)
			}
			if l.State() == LockTimeLocked && l.Kind() != tt.kind {
				t.Errorf("Kind() = %d, want %d", l.Kind(), tt.kind)
			}
			if l.LockTime() != tt.v {
				t.Errorf("LockTime() = %d, want %d", l.LockTime(), tt.v)
			}
		})
	}
}

func TestLock_Usable(t *testing.T) {
	now := time.UnixMilli(2_000_000_000_000)

	if !Unlocked.Usable(now, 0) {
		t.Error("matured lock should be usable")
	}
	if Locked.Usable(now, 1<<40) {
		t.Error("locked coin should never be usable")
	}

	h := HeightLock(100)
	if h.Usable(now, 99) {
		t.Error("height lock should not be usable below threshold")
	}
	if !h.Usable(now, 100) {
		t.Error("height lock should be usable at threshold")
	}

	ts := TimeLock(now.Add(time.Minute))
	if ts.Kind() != ThresholdTimestamp {
		t.Fatalf("TimeLock kind = %d, want timestamp", ts.Kind())
	}
	if ts.Usable(now, 1<<40) {
		t.Error("timestamp lock should ignore height")
	}
	if !ts.Usable(now.Add(time.Minute), 0) {
		t.Error("timestamp lock should be usable at threshold")
	}
}

func TestCoin_Size(t *testing.T) {
	c := NewCoin(testAddr(1), 50, Unlocked)
	if got, want := c.Size(), 38; got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
	if len(c.Bytes()) != c.Size() {
		t.Errorf("len(Bytes()) = %d, Size() = %d", len(c.Bytes()), c.Size())
	}
	in := Input{Coin: c}
	if in.Size() != 74 {
		t.Errorf("Input.Size() = %d, want 74", in.Size())
	}
}

func TestCoin_Roundtrip(t *testing.T) {
	for _, lock := range []Lock{Unlocked, Locked, HeightLock(77), LockFromTime(HeightTimeDivide + 5)} {
		c := NewCoin(testAddr(2), 12345, lock)
		got, err := DecodeCoin(c.Bytes())
		if err != nil {
			t.Fatalf("DecodeCoin: %v", err)
		}
		if !bytes.Equal(got.Owner, c.Owner) || got.Amount != c.Amount || got.Lock != c.Lock {
			t.Errorf("roundtrip mismatch: got %+v, want %+v", got, c)
		}
	}
}

func TestCoin_LockedEncoding(t *testing.T) {
	b := NewCoin(testAddr(3), 1, Locked).Bytes()
	tail := b[len(b)-6:]
	if !bytes.Equal(tail, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("locked lock time encoded as %x", tail)
	}
}

func TestDecodeCoin_RejectsBadLockTime(t *testing.T) {
	b := NewCoin(testAddr(3), 1, Locked).Bytes()
	copy(b[len(b)-6:], []byte{0xfe, 0xff, 0xff, 0xff, 0xff, 0xff}) // -2
	if _, err := DecodeCoin(b); !errors.Is(err, ErrBadLockTime) {
		t.Fatalf("DecodeCoin(-2) error = %v, want ErrBadLockTime", err)
	}

	// Every accepted encoding re-encodes to the same bytes.
	for _, tail := range [][]byte{
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0x4d, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	} {
		copy(b[len(b)-6:], tail)
		c, err := DecodeCoin(b)
		if err != nil {
			t.Fatalf("DecodeCoin(%x): %v", tail, err)
		}
		if !bytes.Equal(c.Bytes(), b) {
			t.Errorf("lock time %x re-encodes as %x", tail, c.Bytes()[len(b)-6:])
		}
	}
}

func TestCoin_UnmarshalJSONRejectsBadLockTime(t *testing.T) {
	var c Coin
	err := json.Unmarshal([]byte(`{"owner":"00","amount":1,"lockTime":-2}`), &c)
	if !errors.Is(err, ErrBadLockTime) {
		t.Fatalf("Unmarshal error = %v, want ErrBadLockTime", err)
	}
}

func TestDecodeCoin_Short(t *testing.T) {
	b := NewCoin(testAddr(4), 1, Unlocked).Bytes()
	if _, err := DecodeCoin(b[:len(b)-1]); err == nil {
		t.Error("expected error for truncated coin")
	}
	if _, err := DecodeCoin(append(b, 0x00)); err == nil {
		t.Error("expected error for trailing bytes")
	}
}

func TestCoin_AddressFromScripts(t *testing.T) {
	a := testAddr(5)
	for _, owner := range [][]byte{a.Bytes(), types.P2PKHScript(a), types.P2SHScript(a)} {
		c := Coin{Owner: owner, Amount: 1}
		got, ok := c.Address()
		if !ok || got != a {
			t.Errorf("Address() for owner %x = %x, %v", owner, got, ok)
		}
		if !c.OwnedBy(a) {
			t.Errorf("OwnedBy should be true for owner %x", owner)
		}
	}
	if _, ok := (Coin{Owner: []byte{1, 2, 3}}).Address(); ok {
		t.Error("garbage owner should not resolve")
	}
}

func TestCoin_JSON(t *testing.T) {
	c := NewCoin(testAddr(6), 99, HeightLock(10))
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Coin
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(got.Owner, c.Owner) || got.Amount != 99 || got.Lock != c.Lock {
		t.Errorf("got %+v, want %+v", got, c)
	}
}

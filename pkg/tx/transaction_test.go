package tx

import (
	"bytes"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

func testTransfer(from, to types.Address) *Transaction {
	return NewBuilder(TypeTransfer, 1_700_000_000_000).
		SetRemark("rent").
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}, NewCoin(from, 1000, Unlocked)).
		AddOutput(NewCoin(to, 600, Unlocked)).
		AddOutput(NewCoin(from, 300, Unlocked)).
		Build()
}

func TestTransaction_Hash_Deterministic(t *testing.T) {
	tx := testTransfer(testAddr(1), testAddr(2))
	h1 := tx.Hash()
	h2 := tx.Hash()
	if h1 != h2 {
		t.Error("Hash() should be deterministic")
	}
	if h1.IsZero() {
		t.Error("Hash() should not be zero")
	}
}

func TestTransaction_Hash_ChangesWithContent(t *testing.T) {
	tx1 := testTransfer(testAddr(1), testAddr(2))
	tx2 := testTransfer(testAddr(1), testAddr(2))
	tx2.CoinData.To[0].Amount = 601
	if tx1.Hash() == tx2.Hash() {
		t.Error("different transactions should have different hashes")
	}
	tx3 := testTransfer(testAddr(1), testAddr(2))
	tx3.Remark = "other"
	if tx1.Hash() == tx3.Hash() {
		t.Error("remark should be covered by the hash")
	}
}

func TestTransaction_Hash_IgnoresScriptSigAndHeight(t *testing.T) {
	tx := testTransfer(testAddr(1), testAddr(2))
	before := tx.Hash()
	tx.ScriptSig = []byte{0xde, 0xad}
	tx.BlockHeight = 42
	if tx.Hash() != before {
		t.Error("hash should not depend on script signature or block height")
	}
}

func TestTransaction_Roundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	from := crypto.AddressFromPubKey(8964, key.PublicKey())
	b := NewBuilder(TypeTransfer, 1_700_000_000_000).
		AddInput(types.Outpoint{TxID: types.Hash{0x02}, Index: 3}, NewCoin(from, 1000, Unlocked)).
		AddOutput(NewCoin(testAddr(9), 500, HeightLock(12))).
		AddOutput(Coin{Owner: types.P2PKHScript(from), Amount: 400})
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tx := b.Build()

	got, err := Decode(tx.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Hash() != tx.Hash() {
		t.Error("decoded hash mismatch")
	}
	if !bytes.Equal(got.Bytes(), tx.Bytes()) {
		t.Error("re-encoding differs")
	}
	if got.BlockHeight != Unconfirmed {
		t.Errorf("BlockHeight = %d, want %d", got.BlockHeight, Unconfirmed)
	}
}

func TestDecode_Truncated(t *testing.T) {
	b := testTransfer(testAddr(1), testAddr(2)).Bytes()
	for _, n := range []int{0, 5, len(b) / 2, len(b) - 1} {
		if _, err := Decode(b[:n]); err == nil {
			t.Errorf("Decode(%d bytes) should fail", n)
		}
	}
}

func TestTransaction_SizeWithScriptSig(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	from := crypto.AddressFromPubKey(8964, key.PublicKey())
	b := NewBuilder(TypeTransfer, 1).
		AddInput(types.Outpoint{TxID: types.Hash{0x03}}, NewCoin(from, 10, Unlocked)).
		AddOutput(NewCoin(testAddr(2), 5, Unlocked))
	estimate := b.Size() + P2PKHScriptSigSize
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if got := b.Build().Size(); got != estimate {
		t.Errorf("signed size = %d, estimate %d", got, estimate)
	}
}

func TestTransaction_AllRelatedAddresses(t *testing.T) {
	a, b := testAddr(1), testAddr(2)
	tx := testTransfer(a, b)
	got := tx.AllRelatedAddresses()
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("AllRelatedAddresses = %v, want [%s %s]", got, a, b)
	}
	if (&Transaction{}).AllRelatedAddresses() != nil {
		t.Error("no coin data should give no addresses")
	}
}

func TestTransaction_Copy(t *testing.T) {
	tx := testTransfer(testAddr(1), testAddr(2))
	c := tx.Copy()
	c.CoinData.To[0].Lock = Locked
	c.CoinData.To[0].Owner[0] ^= 0xff
	if tx.CoinData.To[0].Lock != Unlocked || tx.CoinData.To[0].Owner[0] == c.CoinData.To[0].Owner[0] {
		t.Error("Copy shares state with the original")
	}
}

func TestCoinData_Totals(t *testing.T) {
	tx := testTransfer(testAddr(1), testAddr(2))
	in, err := tx.CoinData.TotalInput()
	if err != nil || in != 1000 {
		t.Errorf("TotalInput = %d, %v", in, err)
	}
	out, err := tx.CoinData.TotalOutput()
	if err != nil || out != 900 {
		t.Errorf("TotalOutput = %d, %v", out, err)
	}
}

package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/account"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(context.Context, *tx.Transaction) error { return nil }

type testEnv struct {
	client  *Client
	chain   *chain.Chain
	genesis *config.Genesis
	funded  *account.Account
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	db := storage.NewMemory()
	accounts := account.NewStore(storage.NewPrefixDB(db, []byte("a/")), 9,
		account.WithKDFParams(account.LightKDFParams()))
	registry := account.NewRegistry(accounts)
	accounts.OnChange(func() { _ = registry.Reload() })

	funded, err := accounts.Create("", "funded")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	gen := &config.Genesis{
		ChainID:   9,
		ChainName: "Client Test",
		Symbol:    "CLT",
		Timestamp: time.Now().Add(-time.Hour).UnixMilli(),
		Alloc:     map[string]uint64{funded.Address.String(): 100_000 * config.Coin},
	}

	ch, err := chain.New(storage.NewPrefixDB(db, []byte("c/")))
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}
	l, err := ledger.New(ledger.Config{
		Store:       ledger.NewStore(storage.NewPrefixDB(db, []byte("l/"))),
		Accounts:    accounts,
		Registry:    registry,
		Chain:       ch,
		Broadcaster: nopBroadcaster{},
	})
	if err != nil {
		t.Fatalf("create ledger: %v", err)
	}
	ch.AddListener(ledger.NewBlockProcessor(l))
	if err := ch.InitFromGenesis(gen); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	srv := rpc.New("127.0.0.1:0", l, accounts, ch, gen)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		client:  New("http://" + srv.Addr() + "/"),
		chain:   ch,
		genesis: gen,
		funded:  funded,
	}
}

func TestClient_ChainGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	var result rpc.ChainInfoResult
	if err := env.client.Call("chain_getInfo", nil, &result); err != nil {
		t.Fatalf("Call error: %v", err)
	}

	if result.ChainID != 9 {
		t.Errorf("chain_id = %d, want 9", result.ChainID)
	}
	if result.Height != 0 {
		t.Errorf("height = %d, want 0", result.Height)
	}
	if result.TipHash == "" {
		t.Error("tip_hash is empty")
	}
}

func TestClient_GetBalance(t *testing.T) {
	env := setupTestEnv(t)

	var result rpc.BalanceResult
	if err := env.client.Call("ledger_getBalance", rpc.AddressParam{Address: env.funded.Address.String()}, &result); err != nil {
		t.Fatalf("Call error: %v", err)
	}

	expected := uint64(100_000) * config.Coin
	if result.Usable != expected {
		t.Errorf("usable = %d, want %d", result.Usable, expected)
	}
}

func TestClient_TransferAndHistory(t *testing.T) {
	env := setupTestEnv(t)

	var to rpc.AccountResult
	if err := env.client.Call("account_create", rpc.AccountCreateParam{}, &to); err != nil {
		t.Fatalf("account_create: %v", err)
	}

	var sent rpc.TransferResult
	err := env.client.CallContext(context.Background(), "ledger_transfer", rpc.TransferParam{
		From:   env.funded.Address.String(),
		To:     to.Address,
		Amount: 5 * config.Coin,
	}, &sent)
	if err != nil {
		t.Fatalf("ledger_transfer: %v", err)
	}

	var page rpc.TxListResult
	if err := env.client.Call("ledger_getTxList", rpc.TxListParam{Address: to.Address}, &page); err != nil {
		t.Fatalf("ledger_getTxList: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1", page.Total)
	}
}

func TestClient_BalanceNotEnough(t *testing.T) {
	env := setupTestEnv(t)

	var to rpc.AccountResult
	if err := env.client.Call("account_create", nil, &to); err != nil {
		t.Fatalf("account_create: %v", err)
	}
	err := env.client.Call("ledger_transfer", rpc.TransferParam{
		From:   env.funded.Address.String(),
		To:     to.Address,
		Amount: 200_000 * config.Coin,
	}, nil)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != rpc.CodeBalanceNotEnough {
		t.Errorf("error code = %d, want %d", rpcErr.Code, rpc.CodeBalanceNotEnough)
	}
}

func TestClient_ErrorData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32003,"message":"broadcast failed","data":{"tx_hash":"ab"}},"id":1}`))
	}))
	defer srv.Close()

	err := New(srv.URL).Call("ledger_transfer", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	var data rpc.TransferResult
	if err := rpcErr.DecodeData(&data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.TxHash != "ab" {
		t.Errorf("tx_hash = %q, want ab", data.TxHash)
	}
}

func TestClient_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	if err := New(srv.URL).Call("chain_getInfo", nil, nil); err == nil {
		t.Fatal("expected error for 403")
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	env := setupTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := env.client.CallContext(ctx, "chain_getInfo", nil, nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestClient_Call_InvalidEndpoint(t *testing.T) {
	client := New("http://127.0.0.1:1/") // port 1, refused

	var result rpc.ChainInfoResult
	err := client.Call("chain_getInfo", nil, &result)
	if err == nil {
		t.Fatal("expected connection error")
	}
}

func TestClient_Call_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	var raw json.RawMessage
	err := env.client.Call("nonexistent_method", nil, &raw)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}

	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("error code = %d, want -32601", rpcErr.Code)
	}
}

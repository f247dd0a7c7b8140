package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/account"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

const (
	testChainID     uint16 = 77
	testMnemonic           = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	genesisBalance         = 100_000 * config.Coin
	testPassword           = "hunter2024"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []*tx.Transaction
	err  error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, t *tx.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, t)
	return nil
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// testEnv holds all components for an RPC test.
type testEnv struct {
	server   *Server
	chain    *chain.Chain
	ledger   *ledger.Ledger
	accounts *account.Store
	bcast    *recordingBroadcaster
	genesis  *config.Genesis
	funded   *account.Account // encrypted with testPassword, holds genesisBalance
	url      string
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithConfig(t, config.RPCConfig{})
}

func setupTestEnvWithConfig(t *testing.T, rpcCfg config.RPCConfig) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	db := storage.NewMemory()
	accounts := account.NewStore(storage.NewPrefixDB(db, []byte("a/")), testChainID,
		account.WithKDFParams(account.LightKDFParams()))
	registry := account.NewRegistry(accounts)
	accounts.OnChange(func() { _ = registry.Reload() })

	funded, err := accounts.Create(testPassword, "funded")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	gen := &config.Genesis{
		ChainID:   testChainID,
		ChainName: "RPC Test",
		Symbol:    "TST",
		Timestamp: time.Now().Add(-time.Hour).UnixMilli(),
		Alloc:     map[string]uint64{funded.Address.String(): genesisBalance},
	}

	ch, err := chain.New(storage.NewPrefixDB(db, []byte("c/")))
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}

	bcast := &recordingBroadcaster{}
	l, err := ledger.New(ledger.Config{
		Store:       ledger.NewStore(storage.NewPrefixDB(db, []byte("l/"))),
		Accounts:    accounts,
		Registry:    registry,
		Chain:       ch,
		Broadcaster: bcast,
	})
	if err != nil {
		t.Fatalf("create ledger: %v", err)
	}
	ch.AddListener(ledger.NewBlockProcessor(l))
	if err := ch.InitFromGenesis(gen); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	srv := New("127.0.0.1:0", l, accounts, ch, gen, rpcCfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:   srv,
		chain:    ch,
		ledger:   l,
		accounts: accounts,
		bcast:    bcast,
		genesis:  gen,
		funded:   funded,
		url:      fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

// decodeResult re-decodes the generic result into out.
func decodeResult(t *testing.T, resp Response, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	data, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func expectCode(t *testing.T, resp Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error code %d, got success", code)
	}
	if resp.Error.Code != code {
		t.Errorf("error code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

// ── Chain ───────────────────────────────────────────────────────────────

func TestRPC_ChainGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	var info ChainInfoResult
	decodeResult(t, rpcCall(t, env.url, "chain_getInfo", nil), &info)

	if info.ChainID != testChainID {
		t.Errorf("chain_id = %d, want %d", info.ChainID, testChainID)
	}
	if info.Symbol != "TST" {
		t.Errorf("symbol = %q, want TST", info.Symbol)
	}
	if info.Height != 0 {
		t.Errorf("height = %d, want 0", info.Height)
	}
	if info.TipHash != env.chain.TipHash().String() {
		t.Errorf("tip_hash = %s, want %s", info.TipHash, env.chain.TipHash())
	}
	if info.Peers != 0 {
		t.Errorf("peers = %d without p2p, want 0", info.Peers)
	}
}

// ── Balance ─────────────────────────────────────────────────────────────

func TestRPC_LedgerGetBalance(t *testing.T) {
	env := setupTestEnv(t)

	var bal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: env.funded.Address.String()}), &bal)

	if bal.Total != genesisBalance || bal.Usable != genesisBalance || bal.Locked != 0 {
		t.Errorf("balance = %+v, want total=usable=%d", bal, uint64(genesisBalance))
	}
}

func TestRPC_LedgerGetBalance_UnknownAccount(t *testing.T) {
	env := setupTestEnv(t)

	other := account.NewStore(storage.NewMemory(), testChainID, account.WithKDFParams(account.LightKDFParams()))
	stranger, err := other.Create("", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	resp := rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: stranger.Address.String()})
	expectCode(t, resp, CodeNotFound)
}

func TestRPC_LedgerGetBalance_InvalidAddress(t *testing.T) {
	env := setupTestEnv(t)

	expectCode(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: "not-an-address"}), CodeInvalidParams)
	expectCode(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{}), CodeInvalidParams)
}

// ── Transfer ────────────────────────────────────────────────────────────

func createPlainAccount(t *testing.T, env *testEnv) *AccountResult {
	t.Helper()
	var acct AccountResult
	decodeResult(t, rpcCall(t, env.url, "account_create", AccountCreateParam{Alias: "plain"}), &acct)
	return &acct
}

func TestRPC_LedgerTransfer(t *testing.T) {
	env := setupTestEnv(t)
	to := createPlainAccount(t, env)

	var res TransferResult
	decodeResult(t, rpcCall(t, env.url, "ledger_transfer", TransferParam{
		From:     env.funded.Address.String(),
		To:       to.Address,
		Amount:   10 * config.Coin,
		Password: testPassword,
		Remark:   "rent",
	}), &res)

	if res.TxHash == "" {
		t.Fatal("empty tx hash")
	}
	if env.bcast.count() != 1 {
		t.Errorf("broadcast count = %d, want 1", env.bcast.count())
	}

	var toBal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: to.Address}), &toBal)
	if toBal.Total != 10*config.Coin {
		t.Errorf("recipient total = %d, want %d", toBal.Total, uint64(10*config.Coin))
	}

	var fromBal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: env.funded.Address.String()}), &fromBal)
	if fromBal.Total >= genesisBalance-10*config.Coin {
		t.Errorf("sender total = %d, want below %d after fee", fromBal.Total, uint64(genesisBalance-10*config.Coin))
	}
}

func TestRPC_LedgerTransfer_WrongPassword(t *testing.T) {
	env := setupTestEnv(t)
	to := createPlainAccount(t, env)

	resp := rpcCall(t, env.url, "ledger_transfer", TransferParam{
		From:     env.funded.Address.String(),
		To:       to.Address,
		Amount:   config.Coin,
		Password: "wrongpass1",
	})
	expectCode(t, resp, CodeInvalidParams)
	if env.bcast.count() != 0 {
		t.Error("nothing should be broadcast")
	}
}

func TestRPC_LedgerTransfer_BalanceNotEnough(t *testing.T) {
	env := setupTestEnv(t)
	to := createPlainAccount(t, env)

	resp := rpcCall(t, env.url, "ledger_transfer", TransferParam{
		From:     env.funded.Address.String(),
		To:       to.Address,
		Amount:   genesisBalance,
		Password: testPassword,
	})
	expectCode(t, resp, CodeBalanceNotEnough)
}

func TestRPC_LedgerTransfer_ZeroAmount(t *testing.T) {
	env := setupTestEnv(t)
	to := createPlainAccount(t, env)

	resp := rpcCall(t, env.url, "ledger_transfer", TransferParam{
		From:     env.funded.Address.String(),
		To:       to.Address,
		Password: testPassword,
	})
	expectCode(t, resp, CodeInvalidParams)
}

func TestRPC_LedgerTransfer_BroadcastFailure(t *testing.T) {
	env := setupTestEnv(t)
	to := createPlainAccount(t, env)
	env.bcast.err = errors.New("no peers")

	resp := rpcCall(t, env.url, "ledger_transfer", TransferParam{
		From:     env.funded.Address.String(),
		To:       to.Address,
		Amount:   config.Coin,
		Password: testPassword,
	})
	expectCode(t, resp, CodeBroadcastFailed)

	data, ok := resp.Error.Data.(map[string]interface{})
	if !ok || data["tx_hash"] == "" {
		t.Fatalf("error data = %v, want tx_hash", resp.Error.Data)
	}

	// The transaction stays recorded as unconfirmed.
	var page TxListResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getTxList", TxListParam{Address: to.Address}), &page)
	if page.Total != 1 {
		t.Errorf("recipient history = %d, want 1", page.Total)
	}
}

// ── History ─────────────────────────────────────────────────────────────

func TestRPC_LedgerGetTxList(t *testing.T) {
	env := setupTestEnv(t)
	to := createPlainAccount(t, env)

	for i := 0; i < 3; i++ {
		resp := rpcCall(t, env.url, "ledger_transfer", TransferParam{
			From:     env.funded.Address.String(),
			To:       to.Address,
			Amount:   config.Coin,
			Password: testPassword,
		})
		if resp.Error != nil {
			t.Fatalf("transfer %d: %s", i, resp.Error.Message)
		}
	}

	var page TxListResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getTxList", TxListParam{
		Address:    env.funded.Address.String(),
		PageNumber: 1,
		PageSize:   2,
	}), &page)

	// Genesis allocation plus three transfers.
	if page.Total != 4 {
		t.Errorf("total = %d, want 4", page.Total)
	}
	if page.Pages != 2 {
		t.Errorf("pages = %d, want 2", page.Pages)
	}
	if len(page.List) != 2 {
		t.Errorf("page size = %d, want 2", len(page.List))
	}
}

func TestRPC_LedgerGetTxList_Empty(t *testing.T) {
	env := setupTestEnv(t)
	to := createPlainAccount(t, env)

	var page TxListResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getTxList", TxListParam{Address: to.Address}), &page)
	if page.Total != 0 || page.List == nil || len(page.List) != 0 {
		t.Errorf("page = %+v, want empty list", page)
	}
}

// ── Import ──────────────────────────────────────────────────────────────

func TestRPC_LedgerImportAddress(t *testing.T) {
	env := setupTestEnv(t)

	var res ImportResult
	decodeResult(t, rpcCall(t, env.url, "ledger_importAddress", AddressParam{Address: env.funded.Address.String()}), &res)
	if res.Height != env.chain.Height() {
		t.Errorf("scanned_to = %d, want %d", res.Height, env.chain.Height())
	}

	// Re-importing does not double count the allocation.
	var bal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: env.funded.Address.String()}), &bal)
	if bal.Total != genesisBalance {
		t.Errorf("total = %d, want %d", bal.Total, uint64(genesisBalance))
	}
}

func TestRPC_LedgerImportAddress_Invalid(t *testing.T) {
	env := setupTestEnv(t)

	expectCode(t, rpcCall(t, env.url, "ledger_importAddress", AddressParam{}), CodeInvalidParams)
	expectCode(t, rpcCall(t, env.url, "ledger_importAddress", AddressParam{Address: "zzz"}), CodeInvalidParams)
}

// ── Accounts ────────────────────────────────────────────────────────────

func TestRPC_AccountCreate(t *testing.T) {
	env := setupTestEnv(t)

	var acct AccountResult
	decodeResult(t, rpcCall(t, env.url, "account_create", AccountCreateParam{Password: "secret1234", Alias: "savings"}), &acct)
	if !acct.Encrypted {
		t.Error("account with password should be encrypted")
	}
	if acct.Alias != "savings" {
		t.Errorf("alias = %q, want savings", acct.Alias)
	}

	// The new account is immediately local.
	var bal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: acct.Address}), &bal)
	if bal.Total != 0 {
		t.Errorf("new account total = %d, want 0", bal.Total)
	}
}

func TestRPC_AccountCreate_WeakPassword(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "account_create", AccountCreateParam{Password: "short"})
	expectCode(t, resp, CodeInvalidParams)
}

func TestRPC_AccountImportMnemonic(t *testing.T) {
	env := setupTestEnv(t)

	var first AccountResult
	decodeResult(t, rpcCall(t, env.url, "account_importMnemonic", MnemonicImportParam{Mnemonic: testMnemonic}), &first)
	if first.Encrypted {
		t.Error("account without password should not be encrypted")
	}

	resp := rpcCall(t, env.url, "account_importMnemonic", MnemonicImportParam{Mnemonic: testMnemonic})
	expectCode(t, resp, CodeInvalidParams)

	var second AccountResult
	decodeResult(t, rpcCall(t, env.url, "account_importMnemonic", MnemonicImportParam{Mnemonic: testMnemonic, Index: 1}), &second)
	if second.Address == first.Address {
		t.Error("different index should derive a different address")
	}
}

func TestRPC_AccountImportMnemonic_Invalid(t *testing.T) {
	env := setupTestEnv(t)

	expectCode(t, rpcCall(t, env.url, "account_importMnemonic", MnemonicImportParam{}), CodeInvalidParams)
	expectCode(t, rpcCall(t, env.url, "account_importMnemonic", MnemonicImportParam{Mnemonic: "one two three"}), CodeInvalidParams)
}

func TestRPC_AccountList(t *testing.T) {
	env := setupTestEnv(t)
	createPlainAccount(t, env)

	var list []AccountResult
	decodeResult(t, rpcCall(t, env.url, "account_list", nil), &list)
	if len(list) != 2 {
		t.Fatalf("accounts = %d, want 2", len(list))
	}
	found := false
	for _, a := range list {
		if a.Address == env.funded.Address.String() {
			found = true
		}
	}
	if !found {
		t.Error("funded account missing from list")
	}
}

// ── Network ─────────────────────────────────────────────────────────────

func TestRPC_NetWithoutP2P(t *testing.T) {
	env := setupTestEnv(t)

	expectCode(t, rpcCall(t, env.url, "net_getPeerInfo", nil), CodeUnavailable)
	expectCode(t, rpcCall(t, env.url, "net_getBanList", nil), CodeUnavailable)
}

// ── Protocol ────────────────────────────────────────────────────────────

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	expectCode(t, rpcCall(t, env.url, "chain_getBlockByHeight", nil), CodeMethodNotFound)
}

func TestRPC_InvalidParams(t *testing.T) {
	env := setupTestEnv(t)

	expectCode(t, rpcCall(t, env.url, "ledger_getBalance", "not an object"), CodeInvalidParams)
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)

	if rpcResp.Error == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if rpcResp.Error.Code != CodeParseError {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeParseError)
	}
}

func TestRPC_GetMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)

	if rpcResp.Error == nil {
		t.Fatal("expected error for GET request")
	}
	if rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeInvalidRequest)
	}
}

// --- IP Filtering ---

func TestRPC_IPFilter_Allowed(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"127.0.0.1"},
	})

	resp := rpcCall(t, env.url, "chain_getInfo", nil)
	if resp.Error != nil {
		t.Errorf("expected success for 127.0.0.1, got error: %s", resp.Error.Message)
	}
}

func TestRPC_IPFilter_Blocked(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"10.0.0.0/8"},
	})

	req := Request{JSONRPC: "2.0", Method: "chain_getInfo", ID: 1}
	body, _ := json.Marshal(req)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

// --- CORS ---

func corsPost(t *testing.T, url, origin string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "chain_getInfo", ID: 1})
	httpReq, _ := http.NewRequest("POST", url, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Origin", origin)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRPC_CORS_SpecificOrigin(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		CORSOrigins: []string{"http://myapp.com"},
	})

	if got := corsPost(t, env.url, "http://myapp.com").Header.Get("Access-Control-Allow-Origin"); got != "http://myapp.com" {
		t.Errorf("CORS origin = %q, want %q", got, "http://myapp.com")
	}
	if got := corsPost(t, env.url, "http://evil.com").Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("non-matching origin should have no CORS header, got %q", got)
	}
}

func TestRPC_CORS_Preflight(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		CORSOrigins: []string{"*"},
	})

	httpReq, _ := http.NewRequest("OPTIONS", env.url, nil)
	httpReq.Header.Set("Origin", "http://example.com")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Error("preflight should have Allow-Methods header")
	}
}

func TestRPC_CORS_Disabled(t *testing.T) {
	env := setupTestEnv(t)

	if got := corsPost(t, env.url, "http://example.com").Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disabled CORS should have no origin header, got %q", got)
	}
}

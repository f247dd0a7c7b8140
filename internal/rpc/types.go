package rpc

import (
	"github.com/Klingon-tech/klingnet-ledger/internal/account"
	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Application codes.
	CodeNotFound         = -32000
	CodeBalanceNotEnough = -32001
	CodeTxRejected       = -32002
	CodeBroadcastFailed  = -32003
	CodeUnavailable      = -32004
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// ── Param types ─────────────────────────────────────────────────────────

// AddressParam is used by ledger_getBalance and ledger_importAddress.
type AddressParam struct {
	Address string `json:"address"`
}

// TransferParam is used by ledger_transfer.
type TransferParam struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   uint64 `json:"amount"`
	Password string `json:"password,omitempty"`
	Remark   string `json:"remark,omitempty"`
}

// TxListParam is used by ledger_getTxList. Zero page values select the
// defaults.
type TxListParam struct {
	Address    string `json:"address"`
	PageNumber int    `json:"page_number,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
}

// AccountCreateParam is used by account_create.
type AccountCreateParam struct {
	Password string `json:"password,omitempty"`
	Alias    string `json:"alias,omitempty"`
}

// MnemonicImportParam is used by account_importMnemonic.
type MnemonicImportParam struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase,omitempty"`
	Index      uint32 `json:"index"`
	Password   string `json:"password,omitempty"`
	Alias      string `json:"alias,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// ChainInfoResult is returned by chain_getInfo.
type ChainInfoResult struct {
	ChainID   uint16 `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`
	Height    uint64 `json:"height"`
	TipHash   string `json:"tip_hash"`
	Peers     int    `json:"peers"`
}

// BalanceResult is returned by ledger_getBalance.
type BalanceResult struct {
	Address string `json:"address"`
	Total   uint64 `json:"total"`
	Usable  uint64 `json:"usable"`
	Locked  uint64 `json:"locked"`
}

// TransferResult is returned by ledger_transfer.
type TransferResult struct {
	TxHash string `json:"tx_hash"`
}

// TxListResult is returned by ledger_getTxList.
type TxListResult struct {
	PageNumber int                       `json:"page_number"`
	PageSize   int                       `json:"page_size"`
	Total      int                       `json:"total"`
	Pages      int                       `json:"pages"`
	List       []*ledger.TransactionInfo `json:"list"`
}

// ImportResult is returned by ledger_importAddress.
type ImportResult struct {
	Address string `json:"address"`
	Height  uint64 `json:"scanned_to"`
}

// AccountResult describes a local account without key material.
type AccountResult struct {
	Address   string `json:"address"`
	PubKey    string `json:"pub_key"`
	Alias     string `json:"alias,omitempty"`
	Encrypted bool   `json:"encrypted"`
	CreatedAt int64  `json:"created_at"`
}

// NewAccountResult converts an account for RPC output.
func NewAccountResult(a *account.Account) *AccountResult {
	return &AccountResult{
		Address:   a.Address.String(),
		PubKey:    a.PubKey.String(),
		Alias:     a.Alias,
		Encrypted: a.IsEncrypted(),
		CreatedAt: a.CreatedAt,
	}
}

// PeerResult describes a connected peer.
type PeerResult struct {
	ID          string `json:"id"`
	Source      string `json:"source,omitempty"`
	ConnectedAt int64  `json:"connected_at"`
}

// BanResult describes a banned peer.
type BanResult struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	ExpiresAt int64  `json:"expires_at"`
}

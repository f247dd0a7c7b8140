package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/account"
	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// ── Chain endpoints ─────────────────────────────────────────────────────

func (s *Server) handleChainGetInfo(_ *Request) (interface{}, *Error) {
	st := s.chain.State()
	res := &ChainInfoResult{
		ChainID:   s.genesis.ChainID,
		ChainName: s.genesis.ChainName,
		Symbol:    s.genesis.Symbol,
		Height:    st.Height,
		TipHash:   st.TipHash.String(),
	}
	if s.p2pNode != nil {
		res.Peers = s.p2pNode.PeerCount()
	}
	return res, nil
}

// ── Ledger endpoints ────────────────────────────────────────────────────

func (s *Server) handleLedgerGetBalance(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := parseAddress(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, err := s.ledger.GetBalance(addr.Bytes())
	if err != nil {
		return nil, ledgerError(err)
	}
	return &BalanceResult{
		Address: addr.String(),
		Total:   bal.Total,
		Usable:  bal.Usable,
		Locked:  bal.Locked,
	}, nil
}

func (s *Server) handleLedgerTransfer(ctx context.Context, req *Request) (interface{}, *Error) {
	var params TransferParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	from, rpcErr := parseAddress(params.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddress(params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}

	hash, err := s.ledger.Transfer(ctx, from, to, params.Amount, params.Password, params.Remark)
	if err != nil {
		if !hash.IsZero() {
			// Recorded locally but not relayed; it stays pending for rebroadcast.
			return nil, &Error{
				Code:    CodeBroadcastFailed,
				Message: err.Error(),
				Data:    &TransferResult{TxHash: hash.String()},
			}
		}
		return nil, ledgerError(err)
	}
	return &TransferResult{TxHash: hash.String()}, nil
}

func (s *Server) handleLedgerGetTxList(req *Request) (interface{}, *Error) {
	var params TxListParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := parseAddress(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	page, err := s.ledger.ListTransactionInfoPage(addr, params.PageNumber, params.PageSize)
	if err != nil {
		return nil, ledgerError(err)
	}
	list := page.List
	if list == nil {
		list = []*ledger.TransactionInfo{}
	}
	return &TxListResult{
		PageNumber: page.PageNumber,
		PageSize:   page.PageSize,
		Total:      page.Total,
		Pages:      page.Pages,
		List:       list,
	}, nil
}

func (s *Server) handleLedgerImportAddress(ctx context.Context, req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Address == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}
	if err := s.ledger.ImportAddress(ctx, params.Address); err != nil {
		return nil, ledgerError(err)
	}
	return &ImportResult{Address: params.Address, Height: s.chain.Height()}, nil
}

// ── Account endpoints ───────────────────────────────────────────────────

func (s *Server) handleAccountCreate(req *Request) (interface{}, *Error) {
	var params AccountCreateParam
	if req.Params != nil {
		if err := parseParams(req, &params); err != nil {
			return nil, err
		}
	}
	acct, err := s.accounts.Create(params.Password, params.Alias)
	if err != nil {
		return nil, accountError(err)
	}
	return NewAccountResult(acct), nil
}

func (s *Server) handleAccountImportMnemonic(req *Request) (interface{}, *Error) {
	var params MnemonicImportParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Mnemonic == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "mnemonic is required"}
	}
	acct, err := s.accounts.ImportMnemonic(params.Mnemonic, params.Passphrase, params.Index, params.Password, params.Alias)
	if err != nil {
		return nil, accountError(err)
	}
	return NewAccountResult(acct), nil
}

func (s *Server) handleAccountList(_ *Request) (interface{}, *Error) {
	accts, err := s.accounts.List()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	out := make([]*AccountResult, len(accts))
	for i, a := range accts {
		out[i] = NewAccountResult(a)
	}
	return out, nil
}

// ── Network endpoints ───────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return nil, &Error{Code: CodeUnavailable, Message: "p2p is disabled"}
	}
	peers := s.p2pNode.PeerList()
	out := make([]PeerResult, len(peers))
	for i, p := range peers {
		out[i] = PeerResult{ID: p.ID.String(), Source: p.Source, ConnectedAt: p.ConnectedAt.Unix()}
	}
	return out, nil
}

func (s *Server) handleNetGetBanList(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return nil, &Error{Code: CodeUnavailable, Message: "p2p is disabled"}
	}
	bans := s.p2pNode.Bans().BanList()
	out := make([]BanResult, len(bans))
	for i, b := range bans {
		out[i] = BanResult{ID: b.ID, Reason: b.Reason, ExpiresAt: b.ExpiresAt}
	}
	return out, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

func parseAddress(s string) (types.Address, *Error) {
	if s == "" {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}
	addr, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address: %v", err)}
	}
	return addr, nil
}

// ledgerError maps a ledger error kind to a JSON-RPC error.
func ledgerError(err error) *Error {
	code := CodeInternalError
	switch ledger.Kind(err) {
	case ledger.ErrParameter, ledger.ErrAddress:
		code = CodeInvalidParams
	case ledger.ErrAccountNotExist:
		code = CodeNotFound
	case ledger.ErrBalanceNotEnough:
		code = CodeBalanceNotEnough
	case ledger.ErrSigning, ledger.ErrVerification:
		code = CodeTxRejected
	}
	return &Error{Code: code, Message: err.Error()}
}

func accountError(err error) *Error {
	switch {
	case errors.Is(err, account.ErrExists),
		errors.Is(err, account.ErrWeakPassword),
		errors.Is(err, account.ErrInvalidMnemonic):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, account.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}

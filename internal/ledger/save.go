package ledger

import (
	"errors"
	"slices"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Page is one page of transaction records.
type Page struct {
	PageNumber int                `json:"pageNumber"`
	PageSize   int                `json:"pageSize"`
	Total      int                `json:"total"`
	Pages      int                `json:"pages"`
	List       []*TransactionInfo `json:"list"`
}

// Paging defaults and limits.
const (
	DefaultPageNumber = 1
	DefaultPageSize   = 10
	MaxPageSize       = 100
)

// related returns the local addresses t touches.
func (l *Ledger) related(t *tx.Transaction) []types.Address {
	return l.registry.RelatedLocalAddresses(t.AllRelatedAddresses())
}

// SaveConfirmed records a transaction included in a block. It returns 1
// when the transaction touches a local account and 0 otherwise.
func (l *Ledger) SaveConfirmed(t *tx.Transaction) (int, error) {
	return l.saveTracked(t, StatusConfirmed)
}

// SaveUnconfirmed records a locally created or relayed transaction that is
// not yet in a block and adds it to the pending pool.
func (l *Ledger) SaveUnconfirmed(t *tx.Transaction) (int, error) {
	return l.saveTracked(t, StatusUnconfirmed)
}

func (l *Ledger) saveTracked(t *tx.Transaction, status Status) (int, error) {
	if t == nil {
		return 0, wrap(ErrParameter, "nil transaction", nil)
	}
	related := l.related(t)
	if len(related) == 0 {
		return 0, nil
	}
	unlock := l.locks.lock(related...)
	defer unlock()

	info, err := l.save(t, status, related)
	if err != nil {
		return 0, err
	}
	l.trackPending(t, info.Status)
	l.refreshLocked(related...)
	return 1, nil
}

// save writes the info record and the coin deltas of t for related and
// returns the stored record. A coin failure restores the info record as it
// was before the call. The caller holds the locks of related.
func (l *Ledger) save(t *tx.Transaction, status Status, related []types.Address) (*TransactionInfo, error) {
	hash := t.Hash()
	prev, err := l.store.Info(hash)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, wrap(ErrStorage, "load tx info", err)
	}

	info := newTransactionInfo(t, status, related)
	info.merge(prev)
	if err := l.store.PutInfo(info); err != nil {
		return nil, wrap(ErrStorage, "save tx info", err)
	}
	if err := l.store.SaveTx(t, related); err != nil {
		l.compensateOnPartialFailure(hash, prev)
		return nil, wrap(ErrStorage, "save coins", err)
	}
	return info, nil
}

// compensateOnPartialFailure puts the info record of hash back to prev, or
// removes it when there was none.
func (l *Ledger) compensateOnPartialFailure(hash types.Hash, prev *TransactionInfo) {
	var err error
	if prev != nil {
		err = l.store.PutInfo(prev)
	} else {
		err = l.store.DeleteInfo(hash)
	}
	if err != nil {
		log.Ledger.Error().Err(err).Str("tx", hash.String()).Msg("Failed to restore tx info after partial save")
	}
}

func (l *Ledger) trackPending(t *tx.Transaction, status Status) {
	hash := t.Hash()
	var err error
	if status == StatusUnconfirmed {
		err = l.store.PutPending(t)
	} else {
		err = l.store.DeletePending(hash)
	}
	if err != nil {
		log.Ledger.Warn().Err(err).Str("tx", hash.String()).Msg("Pending pool update failed")
	}
}

// SaveConfirmedBatch saves txs in order as confirmed and returns how many
// touched a local account. If any save fails, the ones already saved by
// this call are rolled back and the error is returned.
func (l *Ledger) SaveConfirmedBatch(txs []*tx.Transaction) (int, error) {
	saved := make([]*tx.Transaction, 0, len(txs))
	for _, t := range txs {
		n, err := l.SaveConfirmed(t)
		if err != nil {
			for _, s := range saved {
				if _, rerr := l.Rollback(s); rerr != nil {
					log.Ledger.Error().Err(rerr).Str("tx", s.Hash().String()).Msg("Batch rollback failed")
				}
			}
			return 0, err
		}
		if n > 0 {
			saved = append(saved, t)
		}
	}
	return len(saved), nil
}

// Rollback removes t from the ledger: its info record, its coin deltas,
// and its pending entry. It returns 1 when t touches a local account.
func (l *Ledger) Rollback(t *tx.Transaction) (int, error) {
	if t == nil {
		return 0, wrap(ErrParameter, "nil transaction", nil)
	}
	related := l.related(t)
	if len(related) == 0 {
		return 0, nil
	}
	unlock := l.locks.lock(related...)
	defer unlock()

	hash := t.Hash()
	if err := l.store.DeleteInfo(hash); err != nil {
		return 0, wrap(ErrStorage, "delete tx info", err)
	}
	if err := l.store.DeleteTx(t, related); err != nil {
		return 0, wrap(ErrStorage, "revert coins", err)
	}
	if err := l.store.DeletePending(hash); err != nil {
		log.Ledger.Warn().Err(err).Str("tx", hash.String()).Msg("Pending pool delete failed")
	}
	l.refreshLocked(related...)
	return 1, nil
}

// RollbackBatch rolls back txs in the given order. Individual failures are
// logged and do not stop the batch. With checkOwnership set, transactions
// that touch no local account are skipped first. It returns the number of
// transactions attempted.
func (l *Ledger) RollbackBatch(txs []*tx.Transaction, checkOwnership bool) int {
	if checkOwnership {
		txs = slices.DeleteFunc(slices.Clone(txs), func(t *tx.Transaction) bool {
			return t == nil || len(l.related(t)) == 0
		})
	}
	for _, t := range txs {
		if _, err := l.Rollback(t); err != nil {
			ev := log.Ledger.Error().Err(err)
			if t != nil {
				ev = ev.Str("tx", t.Hash().String())
			}
			ev.Msg("Rollback failed")
		}
	}
	return len(txs)
}

// saveRestricted records a confirmed t for addr alone. It is used when
// importing an address, so it neither touches the pending pool nor
// refreshes balances.
func (l *Ledger) saveRestricted(t *tx.Transaction, addr types.Address) (int, error) {
	var related []types.Address
	for _, a := range t.AllRelatedAddresses() {
		if a == addr {
			related = []types.Address{addr}
			break
		}
	}
	if len(related) == 0 {
		return 0, nil
	}
	unlock := l.locks.lock(addr)
	defer unlock()
	if _, err := l.save(t, StatusConfirmed, related); err != nil {
		return 0, err
	}
	return 1, nil
}

// ListTransactionInfo returns every record of addr, most recent first.
func (l *Ledger) ListTransactionInfo(addr types.Address) ([]*TransactionInfo, error) {
	infos, err := l.store.Infos(addr)
	if err != nil {
		return nil, wrap(ErrStorage, "list tx info", err)
	}
	sortInfos(infos)
	return infos, nil
}

// ListTransactionInfoPage returns one page of addr's records. Zero page
// arguments select the defaults.
func (l *Ledger) ListTransactionInfoPage(addr types.Address, pageNumber, pageSize int) (*Page, error) {
	if pageNumber < 0 || pageSize < 0 || pageSize > MaxPageSize {
		return nil, wrap(ErrParameter, "invalid paging", nil)
	}
	if pageNumber == 0 {
		pageNumber = DefaultPageNumber
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	infos, err := l.ListTransactionInfo(addr)
	if err != nil {
		return nil, err
	}

	p := &Page{
		PageNumber: pageNumber,
		PageSize:   pageSize,
		Total:      len(infos),
		Pages:      (len(infos) + pageSize - 1) / pageSize,
		List:       []*TransactionInfo{},
	}
	start := (pageNumber - 1) * pageSize
	if start < len(infos) {
		end := min(start+pageSize, len(infos))
		p.List = infos[start:end]
	}
	return p, nil
}

package ledger

import (
	"context"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// ImportAddress rebuilds the history and coins of a local address by
// scanning every block from genesis to the current height. The registry is
// reloaded first so a freshly imported account is recognized. The scan
// stops between blocks when ctx is cancelled.
func (l *Ledger) ImportAddress(ctx context.Context, addrStr string) error {
	addr, err := types.ParseAddress(addrStr)
	if err != nil {
		return wrap(ErrAddress, addrStr, err)
	}
	if err := l.registry.Reload(); err != nil {
		return wrap(ErrStorage, "reload accounts", err)
	}

	start := time.Now()
	height := l.chain.Height()
	saved := 0
	for h := uint64(0); h <= height; h++ {
		if err := ctx.Err(); err != nil {
			return wrap(ErrUnknown, "import cancelled", err)
		}
		blk, err := l.chain.GetBlockByHeight(h)
		if err != nil {
			return wrap(ErrStorage, "load block", err)
		}
		for _, t := range blk.Transactions {
			n, err := l.saveRestricted(t, addr)
			if err != nil {
				return err
			}
			saved += n
		}
	}
	l.RefreshBalance(addr)

	log.Ledger.Info().
		Str("address", addr.String()).
		Uint64("height", height).
		Int("txs", saved).
		Dur("elapsed", time.Since(start)).
		Msg("Address imported")
	return nil
}

package ledger

import (
	"context"
	"errors"

	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/log"
)

// RebroadcastPending relays every transaction in the pending pool. Entries
// the chain already contains are dropped from the pool instead. It returns
// the number of transactions relayed.
func (l *Ledger) RebroadcastPending(ctx context.Context) (int, error) {
	pending, err := l.store.Pending()
	if err != nil {
		return 0, wrap(ErrStorage, "load pending pool", err)
	}
	sent := 0
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return sent, wrap(ErrUnknown, "rebroadcast cancelled", err)
		}
		hash := t.Hash()
		_, err := l.chain.GetTransaction(hash)
		switch {
		case err == nil:
			if err := l.store.DeletePending(hash); err != nil {
				log.Ledger.Warn().Err(err).Str("tx", hash.String()).Msg("Pending pool delete failed")
			}
			continue
		case !errors.Is(err, chain.ErrTxNotFound):
			return sent, wrap(ErrStorage, "chain lookup", err)
		}
		if err := l.bcast.Broadcast(ctx, t); err != nil {
			log.Ledger.Warn().Err(err).Str("tx", hash.String()).Msg("Rebroadcast failed")
			continue
		}
		sent++
	}
	if sent > 0 {
		log.Ledger.Info().Int("count", sent).Msg("Pending transactions rebroadcast")
	}
	return sent, nil
}

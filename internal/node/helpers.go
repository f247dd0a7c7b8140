package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

// Key prefixes of the components sharing the node database.
var (
	prefixChain    = []byte("c/")
	prefixLedger   = []byte("l/")
	prefixAccounts = []byte("a/")
	prefixP2P      = []byte("p/")
)

// ErrOffline is returned by the broadcaster of a node running without P2P.
var ErrOffline = errors.New("p2p disabled, transaction not relayed")

// offlineBroadcaster keeps transfers pending until the node runs with P2P.
type offlineBroadcaster struct{}

func (offlineBroadcaster) Broadcast(context.Context, *tx.Transaction) error {
	return ErrOffline
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// resolveGenesis picks the genesis for cfg: the configured file if any,
// otherwise the built-in one for the network. A non-zero cfg.ChainID must
// match it.
func resolveGenesis(cfg *config.Config) (*config.Genesis, error) {
	var gen *config.Genesis
	if cfg.GenesisFile != "" {
		g, err := config.LoadGenesis(expandHome(cfg.GenesisFile))
		if err != nil {
			return nil, err
		}
		gen = g
	} else {
		gen = config.GenesisFor(cfg.Network)
	}
	if cfg.ChainID != 0 && cfg.ChainID != gen.ChainID {
		return nil, fmt.Errorf("configured chain id %d does not match genesis chain id %d", cfg.ChainID, gen.ChainID)
	}
	return gen, nil
}

// checkGenesis verifies that the stored genesis block is the one gen
// produces.
func checkGenesis(ch *chain.Chain, gen *config.Genesis) error {
	want, err := chain.CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}
	have, err := ch.GetBlockByHeight(0)
	if err != nil {
		return fmt.Errorf("load stored genesis: %w", err)
	}
	if have.Hash() != want.Hash() {
		return fmt.Errorf("stored genesis %s does not match configured genesis %s", have.Hash(), want.Hash())
	}
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Denomination constants.
// 1 coin = 10^8 Na. All on-chain amounts are in Na.
const (
	Decimals  = 8
	Coin      = 100_000_000
	MilliCoin = 100_000
)

// Chain IDs of the predefined networks.
const (
	MainnetChainID uint16 = 1
	TestnetChainID uint16 = 2
)

// Genesis holds the genesis block configuration.
// This is immutable after chain launch.
type Genesis struct {
	// Chain identity
	ChainID   uint16 `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	// Genesis block
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations (address -> amount in Na).
	Alloc map[string]uint64 `json:"alloc"`

	// Allocations created in the locked state (lock time -1). They become
	// spendable only when a later block releases them.
	Locked map[string]uint64 `json:"locked,omitempty"`
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   MainnetChainID,
		ChainName: "Klingnet Ledger Mainnet",
		Symbol:    "KGL",
		Timestamp: 1_792_108_800_000, // 2026-10-15
		ExtraData: "Klingnet Ledger Genesis",
		Alloc:     map[string]uint64{},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = TestnetChainID
	g.ChainName = "Klingnet Ledger Testnet"
	g.ExtraData = "Klingnet Ledger Testnet Genesis"
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if g.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}

	var total uint64
	check := func(field string, alloc map[string]uint64) error {
		for addrStr, v := range alloc {
			addr, err := types.ParseAddress(addrStr)
			if err != nil {
				return fmt.Errorf("invalid %s address %q: %w", field, addrStr, err)
			}
			if addr.ChainID() != g.ChainID {
				return fmt.Errorf("%s address %q belongs to chain %d, want %d",
					field, addrStr, addr.ChainID(), g.ChainID)
			}
			if v == 0 {
				return fmt.Errorf("%s amount for %q is zero", field, addrStr)
			}
			if total+v < total {
				return fmt.Errorf("genesis allocations overflow")
			}
			total += v
		}
		return nil
	}
	if err := check("alloc", g.Alloc); err != nil {
		return err
	}
	return check("locked", g.Locked)
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used to identify the chain and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}

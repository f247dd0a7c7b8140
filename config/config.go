// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// ChainID, when set, must match the genesis chain id. Zero accepts the
	// genesis as is.
	ChainID uint16 `conf:"chainid"`

	// GenesisFile overrides the built-in genesis for the network.
	GenesisFile string `conf:"genesis"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Account ledger
	Ledger LedgerConfig

	// Logging
	Log LogConfig
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds)
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// LedgerConfig holds account ledger settings.
type LedgerConfig struct {
	FeePerKB           uint64        `conf:"ledger.feeperkb"`           // Fee price in base units per started KB
	BalanceCacheSize   int           `conf:"ledger.balancecache"`       // Cached balances
	BalanceCacheTTL    time.Duration `conf:"ledger.balancettl"`         // Cached balance lifetime
	RebroadcastPending bool          `conf:"ledger.rebroadcastpending"` // Relay the pending pool on start
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-ledger
//	macOS:   ~/Library/Application Support/KlingnetLedger
//	Windows: %APPDATA%\KlingnetLedger
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-ledger"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetLedger")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetLedger")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetLedger")
	default:
		return filepath.Join(home, ".klingnet-ledger")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the node database directory. Chain, ledger and accounts
// share it under separate key prefixes.
func (c *Config) DBDir() string {
	return filepath.Join(c.ChainDataDir(), "db")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "ledger.conf")
}

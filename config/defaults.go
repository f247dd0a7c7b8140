package config

import "time"

// Ledger defaults.
const (
	DefaultFeePerKB         uint64 = 100_000
	DefaultBalanceCacheSize        = 1024
	DefaultBalanceCacheTTL         = 30 * time.Second
)

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       30313,
			MaxPeers:   50,
			// Seeds are libp2p multiaddrs, e.g.
			//   "/dns4/seed1.example.org/tcp/30313/p2p/12D3KooW..."
			Seeds: []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8555,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Ledger: LedgerConfig{
			FeePerKB:           DefaultFeePerKB,
			BalanceCacheSize:   DefaultBalanceCacheSize,
			BalanceCacheTTL:    DefaultBalanceCacheTTL,
			RebroadcastPending: true,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 30314
	cfg.RPC.Port = 8655
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}

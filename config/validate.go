package config

import (
	"fmt"
	"net"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	for i, ip := range cfg.RPC.AllowedIPs {
		if net.ParseIP(ip) == nil {
			if _, _, err := net.ParseCIDR(ip); err != nil {
				return fmt.Errorf("rpc.allowed[%d]: %q is not an IP or CIDR", i, ip)
			}
		}
	}

	if cfg.Ledger.FeePerKB == 0 {
		return fmt.Errorf("ledger.feeperkb must be positive")
	}
	if cfg.Ledger.BalanceCacheSize < 0 {
		return fmt.Errorf("ledger.balancecache must not be negative")
	}
	if cfg.Ledger.BalanceCacheTTL < 0 {
		return fmt.Errorf("ledger.balancettl must not be negative")
	}
	return nil
}

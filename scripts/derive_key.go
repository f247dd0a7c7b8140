// derive_key.go prints the pubkey and account address for a hex-encoded
// private key file.
// Usage: go run scripts/derive_key.go <keyfile> [chain-id]
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <keyfile> [chain-id]")
		os.Exit(1)
	}
	chainID := config.MainnetChainID
	if len(os.Args) > 2 {
		id, err := strconv.ParseUint(os.Args[2], 10, 16)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid chain id:", err)
			os.Exit(1)
		}
		chainID = uint16(id)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	key, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer key.Zero()
	pub := key.PublicKey()
	addr := crypto.AddressFromPubKey(chainID, pub)
	fmt.Printf("pubkey=%s\n", hex.EncodeToString(pub))
	fmt.Printf("address=%s\n", addr.String())
	fmt.Printf("chain_id=%d\n", chainID)
}

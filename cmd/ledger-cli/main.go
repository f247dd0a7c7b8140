// ledger-cli is a command-line client for a ledgerd node.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpcclient"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := "http://127.0.0.1:8555"
	timeout := rpcclient.DefaultTimeout

	// Global flags come before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case strings.HasPrefix(args[0], "--timeout="):
			d, err := time.ParseDuration(args[0][len("--timeout="):])
			if err != nil {
				fatal("invalid --timeout: %v", err)
			}
			timeout = d
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.NewWithTimeout(rpcURL, timeout)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "balance":
		cmdBalance(client, cmdArgs)
	case "send":
		cmdSend(client, cmdArgs)
	case "history":
		cmdHistory(client, cmdArgs)
	case "import":
		cmdImport(client, cmdArgs)
	case "account":
		cmdAccount(client, cmdArgs)
	case "peers":
		cmdPeers(client)
	case "bans":
		cmdBans(client)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledger-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>           RPC endpoint (default: http://127.0.0.1:8555)
  --timeout=<dur>       Request timeout (default: 10s; raise it for import)

Commands:
  status                          Show chain status
  balance <address>               Show balance of a local account
  send --from <addr> --to <addr> --amount <amt> [--remark <text>]
                                  Transfer coins (prompts for the password)
  history <address> [--page <n>] [--size <n>]
                                  Show transaction history
  import <address>                Rescan the chain for a local account

  account create [--alias <a>] [--no-password]
                                  Create a new account
  account import --mnemonic "..." [--index <n>] [--alias <a>] [--no-password]
                                  Import an account from a mnemonic
  account list                    List local accounts

  peers                           Show connected peers
  bans                            Show banned peers
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	var info rpc.ChainInfoResult
	if err := client.Call("chain_getInfo", nil, &info); err != nil {
		fatal("chain_getInfo: %v", err)
	}

	fmt.Printf("Chain:   %s (%d)\n", info.ChainName, info.ChainID)
	if info.Symbol != "" {
		fmt.Printf("Symbol:  %s\n", info.Symbol)
	}
	fmt.Printf("Height:  %d\n", info.Height)
	fmt.Printf("Tip:     %s\n", info.TipHash)
	fmt.Printf("Peers:   %d\n", info.Peers)
}

// ── balance ─────────────────────────────────────────────────────────────

func cmdBalance(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli balance <address>")
	}

	var bal rpc.BalanceResult
	if err := client.Call("ledger_getBalance", rpc.AddressParam{Address: args[0]}, &bal); err != nil {
		fatal("ledger_getBalance: %v", err)
	}

	fmt.Printf("Address: %s\n", bal.Address)
	fmt.Printf("Total:   %s\n", formatAmount(bal.Total))
	fmt.Printf("Usable:  %s\n", formatAmount(bal.Usable))
	fmt.Printf("Locked:  %s\n", formatAmount(bal.Locked))
}

// ── send ────────────────────────────────────────────────────────────────

func cmdSend(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	from := fs.String("from", "", "Sender address (local account)")
	to := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount to send (e.g. 1.5)")
	remark := fs.String("remark", "", "Optional remark")
	noPassword := fs.Bool("no-password", false, "Sender key is not encrypted")
	fs.Parse(args)

	if *from == "" || *to == "" || *amountStr == "" {
		fatal("Usage: ledger-cli send --from <addr> --to <addr> --amount <amt>")
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		fatal("invalid amount: %v", err)
	}

	var password string
	if !*noPassword {
		pw, err := readPassword("Account password: ")
		if err != nil {
			fatal("read password: %v", err)
		}
		password = string(pw)
	}

	var result rpc.TransferResult
	err = client.Call("ledger_transfer", rpc.TransferParam{
		From:     *from,
		To:       *to,
		Amount:   amount,
		Password: password,
		Remark:   *remark,
	}, &result)

	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeBroadcastFailed {
		var pending rpc.TransferResult
		_ = rpcErr.DecodeData(&pending)
		fmt.Printf("Transaction recorded but not relayed: %s\n", rpcErr.Message)
		fmt.Printf("  TX hash: %s (pending, will be rebroadcast)\n", pending.TxHash)
		os.Exit(2)
	}
	if err != nil {
		fatal("ledger_transfer: %v", err)
	}

	fmt.Printf("Transaction sent!\n")
	fmt.Printf("  TX hash: %s\n", result.TxHash)
	fmt.Printf("  Amount:  %s\n", formatAmount(amount))
}

// ── history ─────────────────────────────────────────────────────────────

func cmdHistory(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli history <address> [--page <n>] [--size <n>]")
	}
	addr := args[0]
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	page := fs.Int("page", 1, "Page number")
	size := fs.Int("size", 10, "Page size (max 100)")
	fs.Parse(args[1:])

	var result rpc.TxListResult
	if err := client.Call("ledger_getTxList", rpc.TxListParam{
		Address:    addr,
		PageNumber: *page,
		PageSize:   *size,
	}, &result); err != nil {
		fatal("ledger_getTxList: %v", err)
	}

	fmt.Printf("Page %d of %d (%d transactions)\n", result.PageNumber, result.Pages, result.Total)
	for _, info := range result.List {
		fmt.Printf("  %s  %-11s  %s\n",
			time.UnixMilli(info.Time).UTC().Format(time.RFC3339),
			info.Status,
			info.TxHash)
	}
}

// ── import ──────────────────────────────────────────────────────────────

func cmdImport(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli import <address>")
	}

	var result rpc.ImportResult
	if err := client.Call("ledger_importAddress", rpc.AddressParam{Address: args[0]}, &result); err != nil {
		fatal("ledger_importAddress: %v", err)
	}
	fmt.Printf("Imported %s (scanned to height %d)\n", result.Address, result.Height)
}

// ── account ─────────────────────────────────────────────────────────────

func cmdAccount(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: ledger-cli account <create|import|list> [flags]")
	}

	switch args[0] {
	case "create":
		cmdAccountCreate(client, args[1:])
	case "import":
		cmdAccountImport(client, args[1:])
	case "list":
		cmdAccountList(client)
	default:
		fatal("Unknown account command: %s", args[0])
	}
}

func cmdAccountCreate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("account create", flag.ExitOnError)
	alias := fs.String("alias", "", "Account alias")
	noPassword := fs.Bool("no-password", false, "Store the key unencrypted")
	fs.Parse(args)

	password := ""
	if !*noPassword {
		password = promptNewPassword()
	}

	var acct rpc.AccountResult
	if err := client.Call("account_create", rpc.AccountCreateParam{Password: password, Alias: *alias}, &acct); err != nil {
		fatal("account_create: %v", err)
	}
	printAccount(&acct)
}

func cmdAccountImport(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("account import", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic")
	index := fs.Uint("index", 0, "HD account index")
	alias := fs.String("alias", "", "Account alias")
	noPassword := fs.Bool("no-password", false, "Store the key unencrypted")
	fs.Parse(args)

	if *mnemonic == "" {
		fatal("Usage: ledger-cli account import --mnemonic \"...\" [--index <n>]")
	}
	password := ""
	if !*noPassword {
		password = promptNewPassword()
	}

	var acct rpc.AccountResult
	if err := client.Call("account_importMnemonic", rpc.MnemonicImportParam{
		Mnemonic: *mnemonic,
		Index:    uint32(*index),
		Password: password,
		Alias:    *alias,
	}, &acct); err != nil {
		fatal("account_importMnemonic: %v", err)
	}
	printAccount(&acct)
	fmt.Println("Run `ledger-cli import <address>` to restore its history.")
}

func cmdAccountList(client *rpcclient.Client) {
	var accts []rpc.AccountResult
	if err := client.Call("account_list", nil, &accts); err != nil {
		fatal("account_list: %v", err)
	}
	if len(accts) == 0 {
		fmt.Println("No accounts.")
		return
	}
	for _, a := range accts {
		enc := ""
		if a.Encrypted {
			enc = " (encrypted)"
		}
		fmt.Printf("  %s  %s%s\n", a.Address, a.Alias, enc)
	}
}

func printAccount(a *rpc.AccountResult) {
	fmt.Printf("Address:   %s\n", a.Address)
	fmt.Printf("PubKey:    %s\n", a.PubKey)
	if a.Alias != "" {
		fmt.Printf("Alias:     %s\n", a.Alias)
	}
	fmt.Printf("Encrypted: %t\n", a.Encrypted)
}

// ── net ─────────────────────────────────────────────────────────────────

func cmdPeers(client *rpcclient.Client) {
	var peers []rpc.PeerResult
	if err := client.Call("net_getPeerInfo", nil, &peers); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}
	fmt.Printf("Peers: %d\n", len(peers))
	for _, p := range peers {
		fmt.Printf("  %s  %-8s  since %s\n", p.ID, p.Source,
			time.Unix(p.ConnectedAt, 0).UTC().Format(time.RFC3339))
	}
}

func cmdBans(client *rpcclient.Client) {
	var bans []rpc.BanResult
	if err := client.Call("net_getBanList", nil, &bans); err != nil {
		fatal("net_getBanList: %v", err)
	}
	fmt.Printf("Banned: %d\n", len(bans))
	for _, b := range bans {
		fmt.Printf("  %s  until %s  %s\n", b.ID,
			time.Unix(b.ExpiresAt, 0).UTC().Format(time.RFC3339), b.Reason)
	}
}

// ── Password helpers ────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func promptNewPassword() string {
	pw, err := readPassword("New password (8-20 chars, letters and digits): ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Repeat password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(pw) != string(confirm) {
		fatal("passwords do not match")
	}
	return string(pw)
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

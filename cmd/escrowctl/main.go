package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	envRPCURL   = "ESCROW_RPC_URL"
	envRPCToken = "ESCROW_RPC_TOKEN"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv(envRPCToken))
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "keygen":
		return runKeygenCommand(args[1:], stdout, stderr)
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "state":
		return runStateCommand(args[1:], stdout, stderr)
	case "events":
		return runEventsCommand(args[1:], stdout, stderr)
	case "offer":
		return runOfferCommand(args[1:], stdout, stderr)
	case "deposit":
		return runDepositCommand(args[1:], stdout, stderr)
	case "pay":
		return runCallerCommand("pay", "escrow_confirmPayment", args[1:], stdout, stderr)
	case "deliver":
		return runCallerCommand("deliver", "escrow_confirmDelivery", args[1:], stdout, stderr)
	case "claim":
		return runClaimCommand(args[1:], stdout, stderr)
	case "transfer":
		return runTransferCommand(args[1:], stdout, stderr)
	case "balance":
		return runBalanceCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrowctl [--rpc URL] [--token JWT] <command> [flags]

Commands:
  keygen    Generate a principal key into an encrypted keystore
  token     Issue an RPC bearer token for a caller
  state     Show the escrow state
  events    List or export the escrow event log
  offer     Set (seller) or confirm (buyer) the offer
  deposit   Deposit native value into the escrow
  pay       Confirm payment (buyer)
  deliver   Confirm delivery and release payment (seller)
  claim     Claim the first or second vesting tranche (buyer)
  transfer  Transfer tokens between accounts
  balance   Show a token or native balance

Environment:
  ESCROW_RPC_URL    default for --rpc
  ESCROW_RPC_TOKEN  default for --token
`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(envRPCURL)); v != "" {
		return v
	}
	return "http://127.0.0.1:8545"
}

// applyGlobalFlags strips --rpc and --token from args. They may appear
// anywhere so subcommand flag sets never see them.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "-rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case arg == "--token" || arg == "-token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --token")
			}
			rpcAuthToken = strings.TrimSpace(args[i+1])
			i++
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimSpace(strings.TrimPrefix(arg, "--token="))
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

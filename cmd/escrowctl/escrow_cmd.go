package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"tokenescrow/cmd/internal/passphrase"
	"tokenescrow/crypto"
)

const envKeystorePassphrase = "ESCROW_KEYSTORE_PASSPHRASE"

var loadKeystore = crypto.LoadFromKeystore

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// callerFlags binds --caller and --keystore. Exactly one identifies the
// principal acting on the escrow.
type callerFlags struct {
	caller   string
	keystore string
}

func (c *callerFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.caller, "caller", "", "caller bech32 address")
	fs.StringVar(&c.keystore, "keystore", "", "keystore file whose address is the caller")
}

func (c *callerFlags) resolve() (string, error) {
	caller := strings.TrimSpace(c.caller)
	keystore := strings.TrimSpace(c.keystore)
	switch {
	case caller != "" && keystore != "":
		return "", fmt.Errorf("--caller and --keystore are mutually exclusive")
	case caller != "":
		if err := validateAccount("--caller", caller); err != nil {
			return "", err
		}
		return caller, nil
	case keystore != "":
		pass, err := passphrase.NewSource(envKeystorePassphrase, "keystore passphrase").Get()
		if err != nil {
			return "", err
		}
		key, err := loadKeystore(keystore, pass)
		if err != nil {
			return "", fmt.Errorf("load keystore: %w", err)
		}
		return key.PubKey().Address().String(), nil
	default:
		return "", fmt.Errorf("--caller or --keystore is required")
	}
}

func validateAccount(flagName, value string) error {
	if _, err := crypto.ParseAccount(value, crypto.AccountPrefix); err != nil {
		return fmt.Errorf("%s: %v", flagName, err)
	}
	return nil
}

// normalizeAmount accepts base-unit integers with optional underscores and
// an e-notation shorthand such as 5e18.
func normalizeAmount(flagName, value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	base := trimmed
	exponent := 0
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		exp, err := strconv.Atoi(trimmed[idx+1:])
		if err != nil || exp < 0 || exp > 77 {
			return "", fmt.Errorf("%s has an invalid exponent", flagName)
		}
		exponent = exp
	}
	amount, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return "", fmt.Errorf("%s must be a base-unit integer", flagName)
	}
	if amount.Sign() < 0 {
		return "", fmt.Errorf("%s must not be negative", flagName)
	}
	if exponent > 0 {
		amount.Mul(amount, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exponent)), nil))
	}
	return amount.String(), nil
}

func rejectPositional(fs *flag.FlagSet, stderr io.Writer) bool {
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "Error: unexpected positional arguments: %s\n", strings.Join(fs.Args(), " "))
		return true
	}
	return false
}

func runStateCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("state", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	return invoke("escrow_getState", nil, stdout, stderr)
}

func runOfferCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: escrowctl offer <set|confirm> [flags]")
		return 1
	}
	switch args[0] {
	case "set":
		return runOfferSet(args[1:], stdout, stderr)
	case "confirm":
		return runCallerCommand("offer confirm", "escrow_confirmOffer", args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown offer subcommand: %s\n", args[0])
		return 1
	}
}

func runOfferSet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("offer set", stderr)
	var (
		who          callerFlags
		tokenAmount  string
		nativeAmount string
	)
	who.bind(fs)
	fs.StringVar(&tokenAmount, "tokens", "", "token amount the seller will deliver")
	fs.StringVar(&nativeAmount, "price", "", "native value the buyer must pay")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	tokens, err := normalizeAmount("--tokens", tokenAmount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	price, err := normalizeAmount("--price", nativeAmount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	caller, err := who.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke("escrow_setOffer", map[string]string{
		"caller":       caller,
		"tokenAmount":  tokens,
		"nativeAmount": price,
	}, stdout, stderr)
}

func runDepositCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deposit", stderr)
	var (
		who    callerFlags
		amount string
	)
	who.bind(fs)
	fs.StringVar(&amount, "amount", "", "native value to deposit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	caller, err := who.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke("escrow_deposit", map[string]string{
		"caller": caller,
		"amount": normalized,
	}, stdout, stderr)
}

// runCallerCommand handles operations whose only parameter is the caller.
func runCallerCommand(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	var who callerFlags
	who.bind(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	caller, err := who.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(method, map[string]string{"caller": caller}, stdout, stderr)
}

func runClaimCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: escrowctl claim <first|second> [flags]")
		return 1
	}
	switch args[0] {
	case "first":
		return runCallerCommand("claim first", "escrow_claimFirstTranche", args[1:], stdout, stderr)
	case "second":
		return runCallerCommand("claim second", "escrow_claimSecondTranche", args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown tranche: %s\n", args[0])
		return 1
	}
}

func runTransferCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	var (
		who    callerFlags
		to     string
		amount string
	)
	who.bind(fs)
	fs.StringVar(&to, "to", "", "recipient bech32 address")
	fs.StringVar(&amount, "amount", "", "token amount to transfer")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	if strings.TrimSpace(to) == "" {
		return printError(stderr, "--to is required")
	}
	if err := validateAccount("--to", to); err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	caller, err := who.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke("token_transfer", map[string]string{
		"caller": caller,
		"to":     strings.TrimSpace(to),
		"amount": normalized,
	}, stdout, stderr)
}

func runBalanceCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	var (
		address string
		asset   string
	)
	fs.StringVar(&address, "address", "", "account bech32 address")
	fs.StringVar(&asset, "asset", "token", "ledger to query: token or native")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	if strings.TrimSpace(address) == "" {
		return printError(stderr, "--address is required")
	}
	if err := validateAccount("--address", address); err != nil {
		return printError(stderr, err.Error())
	}
	var method string
	switch strings.ToLower(strings.TrimSpace(asset)) {
	case "token":
		method = "token_balanceOf"
	case "native":
		method = "bank_balanceOf"
	default:
		return printError(stderr, "--asset must be token or native")
	}
	return invoke(method, map[string]string{"address": strings.TrimSpace(address)}, stdout, stderr)
}

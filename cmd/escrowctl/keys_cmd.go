package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tokenescrow/cmd/internal/passphrase"
	"tokenescrow/crypto"
	"tokenescrow/rpc"
)

const envJWTSecret = "ESCROW_JWT_SECRET"

var tokenNow = time.Now

func runKeygenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var out string
	fs.StringVar(&out, "out", "", "keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(out); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists", out))
	}

	pass, err := passphrase.NewSource(envKeystorePassphrase, "new keystore passphrase").Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	addr, err := crypto.SaveToKeystore(out, key, pass)
	if err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", addr.String(), out)
	return 0
}

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		who    callerFlags
		secret string
		issuer string
		ttl    time.Duration
	)
	who.bind(fs)
	fs.StringVar(&secret, "secret", os.Getenv(envJWTSecret), "HMAC secret shared with the node")
	fs.StringVar(&issuer, "issuer", "escrowctl", "token issuer expected by the node")
	fs.DurationVar(&ttl, "ttl", rpc.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	if strings.TrimSpace(secret) == "" {
		return printError(stderr, "--secret or "+envJWTSecret+" is required")
	}
	if ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}
	caller, err := who.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	raw, err := crypto.ParseAccount(caller, crypto.AccountPrefix)
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := rpc.IssueToken(strings.TrimSpace(secret), strings.TrimSpace(issuer), raw, ttl, tokenNow())
	if err != nil {
		return printError(stderr, fmt.Sprintf("issue token: %v", err))
	}
	fmt.Fprintln(stdout, token)
	return 0
}

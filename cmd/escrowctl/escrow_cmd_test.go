package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"tokenescrow/crypto"
)

var (
	sellerAccount = crypto.FromRaw(crypto.AccountPrefix, [20]byte{0x11}).String()
	buyerAccount  = crypto.FromRaw(crypto.AccountPrefix, [20]byte{0x22}).String()
)

type recordedCall struct {
	method string
	params string
}

func stubRPC(t *testing.T, result string, rpcErr *rpcError) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := escrowRPCCall
	escrowRPCCall = func(method string, params interface{}) (json.RawMessage, *rpcError, error) {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		*calls = append(*calls, recordedCall{method: method, params: string(encoded)})
		return json.RawMessage(result), rpcErr, nil
	}
	t.Cleanup(func() { escrowRPCCall = original })
	return calls
}

func TestCommandArgValidation(t *testing.T) {
	original := escrowRPCCall
	escrowRPCCall = func(method string, params interface{}) (json.RawMessage, *rpcError, error) {
		t.Fatalf("unexpected RPC call for method %s", method)
		return nil, nil, nil
	}
	defer func() { escrowRPCCall = original }()

	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "usage", args: nil, wantErr: "Usage:"},
		{name: "unknown", args: []string{"explode"}, wantErr: "Unknown command: explode"},
		{name: "offer_missing_sub", args: []string{"offer"}, wantErr: "offer <set|confirm>"},
		{name: "offer_missing_caller", args: []string{"offer", "set", "--tokens", "1", "--price", "2"}, wantErr: "--caller or --keystore is required"},
		{name: "offer_bad_amount", args: []string{"offer", "set", "--caller", sellerAccount, "--tokens", "1.5", "--price", "2"}, wantErr: "--tokens must be a base-unit integer"},
		{name: "offer_negative", args: []string{"offer", "set", "--caller", sellerAccount, "--tokens", "1", "--price", "-2"}, wantErr: "--price must not be negative"},
		{name: "deposit_bad_caller", args: []string{"deposit", "--caller", "nope", "--amount", "1"}, wantErr: "--caller:"},
		{name: "both_identities", args: []string{"pay", "--caller", buyerAccount, "--keystore", "k.json"}, wantErr: "mutually exclusive"},
		{name: "claim_unknown", args: []string{"claim", "third", "--caller", buyerAccount}, wantErr: "Unknown tranche: third"},
		{name: "transfer_missing_to", args: []string{"transfer", "--caller", sellerAccount, "--amount", "1"}, wantErr: "--to is required"},
		{name: "balance_bad_asset", args: []string{"balance", "--address", buyerAccount, "--asset", "gold"}, wantErr: "--asset must be token or native"},
		{name: "events_bad_export", args: []string{"events", "--export", "xml", "--out", "x"}, wantErr: "--export must be csv or parquet"},
		{name: "events_missing_out", args: []string{"events", "--export", "csv"}, wantErr: "--out is required"},
		{name: "positional", args: []string{"state", "extra"}, wantErr: "unexpected positional arguments"},
		{name: "missing_rpc_value", args: []string{"--rpc"}, wantErr: "missing value for --rpc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := runCLI(tc.args, &stdout, &stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d (stderr=%q)", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantErr) {
				t.Fatalf("stderr %q does not contain %q", stderr.String(), tc.wantErr)
			}
		})
	}
}

func TestCommandsBuildRequests(t *testing.T) {
	cases := []struct {
		name   string
		args   []string
		method string
		params string
	}{
		{
			name:   "offer_set",
			args:   []string{"offer", "set", "--caller", sellerAccount, "--tokens", "1_000", "--price", "4e1"},
			method: "escrow_setOffer",
			params: `{"caller":"` + sellerAccount + `","nativeAmount":"40","tokenAmount":"1000"}`,
		},
		{
			name:   "offer_confirm",
			args:   []string{"offer", "confirm", "--caller", buyerAccount},
			method: "escrow_confirmOffer",
			params: `{"caller":"` + buyerAccount + `"}`,
		},
		{
			name:   "deposit",
			args:   []string{"deposit", "--caller", buyerAccount, "--amount", "40"},
			method: "escrow_deposit",
			params: `{"amount":"40","caller":"` + buyerAccount + `"}`,
		},
		{
			name:   "pay",
			args:   []string{"pay", "--caller", buyerAccount},
			method: "escrow_confirmPayment",
			params: `{"caller":"` + buyerAccount + `"}`,
		},
		{
			name:   "deliver",
			args:   []string{"deliver", "--caller", sellerAccount},
			method: "escrow_confirmDelivery",
			params: `{"caller":"` + sellerAccount + `"}`,
		},
		{
			name:   "claim_first",
			args:   []string{"claim", "first", "--caller", buyerAccount},
			method: "escrow_claimFirstTranche",
			params: `{"caller":"` + buyerAccount + `"}`,
		},
		{
			name:   "claim_second",
			args:   []string{"claim", "second", "--caller", buyerAccount},
			method: "escrow_claimSecondTranche",
			params: `{"caller":"` + buyerAccount + `"}`,
		},
		{
			name:   "transfer",
			args:   []string{"transfer", "--caller", sellerAccount, "--to", buyerAccount, "--amount", "5"},
			method: "token_transfer",
			params: `{"amount":"5","caller":"` + sellerAccount + `","to":"` + buyerAccount + `"}`,
		},
		{
			name:   "native_balance",
			args:   []string{"balance", "--address", buyerAccount, "--asset", "native"},
			method: "bank_balanceOf",
			params: `{"address":"` + buyerAccount + `"}`,
		},
		{
			name:   "state",
			args:   []string{"state"},
			method: "escrow_getState",
			params: `null`,
		},
		{
			name:   "events",
			args:   []string{"events", "--since", "3", "--limit", "10"},
			method: "escrow_listEvents",
			params: `{"limit":10,"since":3}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := stubRPC(t, `{"ok":true}`, nil)
			var stdout, stderr bytes.Buffer
			if code := runCLI(tc.args, &stdout, &stderr); code != 0 {
				t.Fatalf("exit %d: %s", code, stderr.String())
			}
			if len(*calls) != 1 {
				t.Fatalf("expected one call, got %d", len(*calls))
			}
			got := (*calls)[0]
			if got.method != tc.method {
				t.Fatalf("method = %s, want %s", got.method, tc.method)
			}
			if got.params != tc.params {
				t.Fatalf("params = %s, want %s", got.params, tc.params)
			}
			if !strings.Contains(stdout.String(), `"ok": true`) {
				t.Fatalf("unexpected output %q", stdout.String())
			}
		})
	}
}

func TestRPCErrorSetsExitCode(t *testing.T) {
	stubRPC(t, ``, &rpcError{Code: -32024, Message: "too_early"})
	var stdout, stderr bytes.Buffer
	if code := runCLI([]string{"claim", "first", "--caller", buyerAccount}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if got := stderr.String(); got != "RPC error -32024: too_early\n" {
		t.Fatalf("unexpected stderr %q", got)
	}
}

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0", "0", true},
		{"1_000_000", "1000000", true},
		{"5e18", "5000000000000000000", true},
		{"12E0", "12", true},
		{"", "", false},
		{"1e-2", "", false},
		{"abc", "", false},
		{"-1", "", false},
	}
	for _, tc := range cases {
		got, err := normalizeAmount("--amount", tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("normalizeAmount(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("normalizeAmount(%q) expected error", tc.in)
		}
	}
}

package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenescrow/core/state"
	"tokenescrow/crypto"
	"tokenescrow/native/escrow"
	"tokenescrow/storage"
)

func account(fill byte) string {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{fill}, 20)).String()
}

func testnetYAML() string {
	return fmt.Sprintf(`network: testnet
testnet: true
token:
  symbol: tkn
  name: Test Token
  decimals: 18
  supply: "100000"
native:
  symbol: matic
  decimals: 18
escrow:
  seller: %s
  buyer: %s
alloc:
  - address: %s
    native: "40"
`, account(0x11), account(0x22), account(0x22))
}

func TestParseTestnetSpec(t *testing.T) {
	spec, err := ParseSpec([]byte(testnetYAML()))
	require.NoError(t, err)
	require.Equal(t, "TKN", spec.Token.Symbol)
	require.Equal(t, "MATIC", spec.Native.Symbol)
	require.Equal(t, "MATIC", spec.Native.Name)
	require.Equal(t, TestTokenAddress("testnet", "TKN"), spec.TokenAddress())
	seller, buyer := spec.Principals()
	require.NotEqual(t, seller, buyer)
}

func TestParseSpecRejects(t *testing.T) {
	tokenAddr := crypto.MustNewAddress(crypto.TokenPrefix, bytes.Repeat([]byte{0x33}, 20)).String()
	cases := map[string]string{
		"unknown field": "network: x\nbogus: 1\n",
		"missing token address on mainnet": fmt.Sprintf(
			"network: main\ntoken: {symbol: T, name: T}\nescrow: {seller: %s, buyer: %s}\n", account(1), account(2)),
		"same principals": fmt.Sprintf(
			"network: dev\ntestnet: true\ntoken: {symbol: T, name: T}\nescrow: {seller: %s, buyer: %s}\n", account(1), account(1)),
		"supply on bound token": fmt.Sprintf(
			"network: main\ntoken: {address: %s, symbol: T, name: T, supply: \"5\"}\nescrow: {seller: %s, buyer: %s}\n", tokenAddr, account(1), account(2)),
		"token prefix for account": fmt.Sprintf(
			"network: main\ntoken: {address: %s, symbol: T, name: T}\nescrow: {seller: %s, buyer: %s}\n", account(3), account(1), account(2)),
		"negative alloc": fmt.Sprintf(
			"network: dev\ntestnet: true\ntoken: {symbol: T, name: T}\nescrow: {seller: %s, buyer: %s}\nalloc: [{address: %s, native: \"-1\"}]\n", account(1), account(2), account(2)),
		"clashing symbols": fmt.Sprintf(
			"network: dev\ntestnet: true\ntoken: {symbol: MATIC, name: T}\nescrow: {seller: %s, buyer: %s}\n", account(1), account(2)),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSpec([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testnetYAML()), 0o600))
	spec, err := LoadSpec(path)
	require.NoError(t, err)

	db := storage.NewMemDB()
	now := time.Unix(1_700_000_000, 0)
	deployed, err := Apply(db, spec, now)
	require.NoError(t, err)
	require.Equal(t, escrow.PhaseOfferDecision, deployed.Phase)
	require.Equal(t, now.Unix(), deployed.CreatedAt)

	mgr := state.NewManager(db)
	seller, buyer := spec.Principals()
	bal, err := mgr.Balance(seller, "TKN")
	require.NoError(t, err)
	require.Equal(t, 0, bal.Cmp(big.NewInt(100_000)))
	bal, err = mgr.Balance(buyer, "MATIC")
	require.NoError(t, err)
	require.Equal(t, int64(40), bal.Int64())

	stored, ok, err := mgr.EscrowGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, deployed.Address, stored.Address)

	logged, err := mgr.Events(0, 0)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	require.Equal(t, escrow.EventTypeEscrowDeployed, logged[1].Event.Type)

	record, applied, err := mgr.GenesisApplied()
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, "testnet", record.Network)
	require.Equal(t, "TKN", record.TokenSymbol)
	require.Equal(t, "MATIC", record.NativeSymbol)

	_, err = Apply(db, spec, now)
	require.ErrorIs(t, err, ErrAlreadyApplied)
}

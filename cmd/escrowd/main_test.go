package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenescrow/core/state"
	"tokenescrow/crypto"
	"tokenescrow/storage"
)

func testGenesis() string {
	seller := crypto.FromRaw(crypto.AccountPrefix, [20]byte{0x11}).String()
	buyer := crypto.FromRaw(crypto.AccountPrefix, [20]byte{0x22}).String()
	return fmt.Sprintf(`network: escrowd-test
testnet: true
token:
  symbol: tkn
  name: Test Token
  decimals: 18
  supply: "1000"
native:
  symbol: matic
  decimals: 18
escrow:
  seller: %s
  buyer: %s
`, seller, buyer)
}

func writeConfig(t *testing.T, dir, backend string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	body := strings.Join([]string{
		`RPCAddress = "127.0.0.1:0"`,
		`DataDir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"`,
		`NetworkName = "escrowd-test"`,
		`[Storage]`,
		`Backend = "` + backend + `"`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body+"\n"), 0o600))
	return path
}

func TestRunRequiresGenesisOnFirstStart(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, storage.BackendMemory)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", cfgPath}, &stdout, &stderr)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not provisioned")
}

func TestRunServesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, storage.BackendBolt)
	genesisPath := filepath.Join(dir, "genesis.yaml")
	require.NoError(t, os.WriteFile(genesisPath, []byte(testGenesis()), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(ctx, []string{"-config", cfgPath, "-genesis", genesisPath}, &stdout, &stderr))
	require.Contains(t, stdout.String(), "genesis applied")
	require.Contains(t, stdout.String(), "escrow node stopped")

	db, err := storage.Open(storage.BackendBolt, filepath.Join(dir, "data"))
	require.NoError(t, err)
	record, ok, err := state.NewManager(db).GenesisApplied()
	db.Close()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "escrowd-test", record.Network)

	// A second start reuses the provisioned state without a genesis file.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel2()
	stdout.Reset()
	require.NoError(t, run(ctx2, []string{"-config", cfgPath}, &stdout, &stderr))
	require.Contains(t, stdout.String(), "using provisioned state")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Error(t, run(context.Background(), []string{"-bogus"}, &stdout, &stderr))
}

package token

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tokenescrow/core/events"
	"tokenescrow/core/state"
	"tokenescrow/native/common"
	"tokenescrow/storage"
)

func newLedger(t *testing.T) (*Ledger, *events.Recorder) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	require.NoError(t, mgr.RegisterToken("TKN", "Test Token", 18, [20]byte{0xaa}))
	ledger := NewLedger(mgr, "tkn")
	rec := &events.Recorder{}
	ledger.SetEmitter(rec)
	return ledger, rec
}

func TestMintAndTransfer(t *testing.T) {
	ledger, rec := newLedger(t)
	alice, bob := [20]byte{1}, [20]byte{2}

	require.NoError(t, ledger.Mint(alice, big.NewInt(1_000)))
	supply, err := ledger.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, int64(1_000), supply.Int64())

	require.NoError(t, ledger.Transfer(alice, bob, big.NewInt(250)))
	bal, err := ledger.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, int64(250), bal.Int64())
	bal, err = ledger.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(750), bal.Int64())

	emitted := rec.Events()
	require.Len(t, emitted, 2)
	require.Equal(t, events.TypeTokenTransfer, emitted[1].Type)
	require.Equal(t, "250", emitted[1].Attributes["amount"])

	addr, err := ledger.Address()
	require.NoError(t, err)
	require.Equal(t, [20]byte{0xaa}, addr)
}

func TestTransferFailuresLeaveBalances(t *testing.T) {
	ledger, rec := newLedger(t)
	alice, bob := [20]byte{1}, [20]byte{2}
	require.NoError(t, ledger.Mint(alice, big.NewInt(5)))
	rec.Reset()

	require.ErrorIs(t, ledger.Transfer(alice, bob, big.NewInt(6)), common.ErrInsufficientBalance)
	require.ErrorIs(t, ledger.Transfer(alice, bob, big.NewInt(-1)), common.ErrInvalidAmount)
	require.Empty(t, rec.Events())

	bal, err := ledger.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(5), bal.Int64())
}

func TestMintRejectsSupplyOverflow(t *testing.T) {
	ledger, _ := newLedger(t)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.NoError(t, ledger.Mint([20]byte{1}, max))
	require.ErrorIs(t, ledger.Mint([20]byte{2}, big.NewInt(1)), common.ErrBalanceOverflow)
}

func TestUnregisteredLedger(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()), "NONE")
	_, err := ledger.BalanceOf([20]byte{1})
	require.Error(t, err)
}

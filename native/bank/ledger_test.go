package bank

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tokenescrow/core/events"
	"tokenescrow/core/state"
	"tokenescrow/native/common"
	"tokenescrow/storage"
)

func TestNativeLedger(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	require.NoError(t, mgr.RegisterToken(DefaultSymbol, "Matic", 18, [20]byte{}))

	ledger := NewLedger(mgr, "")
	require.Equal(t, DefaultSymbol, ledger.Symbol())
	rec := &events.Recorder{}
	ledger.SetEmitter(rec)

	buyer, engine := [20]byte{2}, [20]byte{9}
	require.NoError(t, ledger.Credit(buyer, big.NewInt(40)))
	require.NoError(t, ledger.Transfer(buyer, engine, big.NewInt(15)))
	require.ErrorIs(t, ledger.Transfer(buyer, engine, big.NewInt(26)), common.ErrInsufficientBalance)

	bal, err := ledger.Balance(engine)
	require.NoError(t, err)
	require.Equal(t, int64(15), bal.Int64())
	bal, err = ledger.Balance(buyer)
	require.NoError(t, err)
	require.Equal(t, int64(25), bal.Int64())

	emitted := rec.Events()
	require.Len(t, emitted, 1)
	require.Equal(t, events.TypeNativeTransfer, emitted[0].Type)
	require.Equal(t, DefaultSymbol, emitted[0].Attributes["asset"])
}

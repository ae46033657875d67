package core

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenescrow/core/genesis"
	"tokenescrow/core/state"
	"tokenescrow/crypto"
	"tokenescrow/native/escrow"
	"tokenescrow/storage"
)

var (
	sellerAddr = [20]byte{0x11}
	buyerAddr  = [20]byte{0x22}
	otherAddr  = [20]byte{0x33}
)

func account(addr [20]byte) string {
	return crypto.FromRaw(crypto.AccountPrefix, addr).String()
}

type fixture struct {
	node   *Node
	db     storage.Database
	escrow [20]byte
	now    time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw := fmt.Sprintf(`network: escrow-test
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
alloc:
  - address: %s
    native: "100"
  - address: %s
    native: "5"
`, account(sellerAddr), account(buyerAddr), account(buyerAddr), account(otherAddr))
	spec, err := genesis.ParseSpec([]byte(raw))
	require.NoError(t, err)

	db := storage.NewMemDB()
	f := &fixture{db: db, now: time.Unix(1_700_000_000, 0)}
	deployed, err := genesis.Apply(db, spec, f.now)
	require.NoError(t, err)
	f.escrow = deployed.Address

	node, err := NewNode(db, escrow.DefaultSchedule())
	require.NoError(t, err)
	node.SetNowFunc(func() time.Time { return f.now })
	f.node = node
	return f
}

func TestNewNodeRequiresGenesis(t *testing.T) {
	_, err := NewNode(storage.NewMemDB(), escrow.DefaultSchedule())
	require.ErrorIs(t, err, ErrNotProvisioned)

	_, err = NewNode(storage.NewMemDB(), escrow.Schedule{FirstDelay: time.Hour, SecondDelay: time.Minute})
	require.Error(t, err)
}

func TestNodeHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.node
	require.Equal(t, "TKN", n.TokenSymbol())
	require.Equal(t, "MATIC", n.NativeSymbol())
	require.Equal(t, "escrow-test", n.Network())

	_, err := n.SetOffer(ctx, sellerAddr, big.NewInt(1000), big.NewInt(40))
	require.NoError(t, err)
	_, err = n.ConfirmOffer(ctx, buyerAddr)
	require.NoError(t, err)
	_, err = n.Deposit(ctx, buyerAddr, big.NewInt(40))
	require.NoError(t, err)
	_, err = n.ConfirmPayment(ctx, buyerAddr)
	require.NoError(t, err)
	_, err = n.TokenTransfer(ctx, sellerAddr, f.escrow, big.NewInt(1000))
	require.NoError(t, err)

	receipt, err := n.ConfirmDelivery(ctx, sellerAddr)
	require.NoError(t, err)
	require.Equal(t, int64(40), receipt.Amount.Int64())
	require.Equal(t, escrow.PhaseVesting, receipt.Escrow.Phase)

	bal, err := n.NativeBalance(sellerAddr)
	require.NoError(t, err)
	require.Equal(t, int64(40), bal.Int64())
	held, err := n.HeldValue()
	require.NoError(t, err)
	require.Zero(t, held.Sign())

	_, err = n.ClaimFirstTranche(ctx, buyerAddr)
	require.ErrorIs(t, err, escrow.ErrTooEarly)

	f.advance(182 * 24 * time.Hour)
	receipt, err = n.ClaimFirstTranche(ctx, buyerAddr)
	require.NoError(t, err)
	require.Equal(t, int64(500), receipt.Amount.Int64())
	_, err = n.ClaimFirstTranche(ctx, buyerAddr)
	require.ErrorIs(t, err, escrow.ErrAlreadyClaimed)

	f.advance(183 * 24 * time.Hour)
	receipt, err = n.ClaimSecondTranche(ctx, buyerAddr)
	require.NoError(t, err)
	require.Equal(t, int64(500), receipt.Amount.Int64())

	bal, err = n.TokenBalance(buyerAddr)
	require.NoError(t, err)
	require.Equal(t, int64(1000), bal.Int64())
	bal, err = n.TokenBalance(f.escrow)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	esc, err := n.EscrowState()
	require.NoError(t, err)
	require.True(t, esc.FirstClaimed)
	require.True(t, esc.SecondClaimed)
}

func TestNodeRejectedOperationLeavesState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before, err := f.node.EscrowEvents(0, 0)
	require.NoError(t, err)

	_, err = f.node.ConfirmOffer(ctx, sellerAddr)
	require.ErrorIs(t, err, escrow.ErrInvalidCaller)
	_, err = f.node.Deposit(ctx, otherAddr, big.NewInt(6))
	require.Error(t, err)
	require.Equal(t, "insufficient_balance", Outcome(err))

	after, err := f.node.EscrowEvents(0, 0)
	require.NoError(t, err)
	require.Equal(t, before, after)

	bal, err := f.node.NativeBalance(otherAddr)
	require.NoError(t, err)
	require.Equal(t, int64(5), bal.Int64())
	esc, err := f.node.EscrowState()
	require.NoError(t, err)
	require.Zero(t, esc.EscrowedValue.Sign())
}

func TestNodeUnderpaymentThenTopUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.node
	_, err := n.SetOffer(ctx, sellerAddr, big.NewInt(10), big.NewInt(40))
	require.NoError(t, err)
	_, err = n.ConfirmOffer(ctx, buyerAddr)
	require.NoError(t, err)
	_, err = n.Deposit(ctx, buyerAddr, big.NewInt(39))
	require.NoError(t, err)
	_, err = n.ConfirmPayment(ctx, buyerAddr)
	require.ErrorIs(t, err, escrow.ErrInsufficientPayment)

	// Any account may top up the escrowed value.
	_, err = n.Deposit(ctx, otherAddr, big.NewInt(1))
	require.NoError(t, err)
	_, err = n.ConfirmPayment(ctx, buyerAddr)
	require.NoError(t, err)

	_, err = n.ConfirmDelivery(ctx, sellerAddr)
	require.ErrorIs(t, err, escrow.ErrInsufficientDeposit)
}

func TestTokenTransferValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.node.TokenTransfer(context.Background(), buyerAddr, sellerAddr, big.NewInt(1))
	require.Error(t, err)
	require.Equal(t, "insufficient_balance", Outcome(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.node.TokenTransfer(ctx, sellerAddr, buyerAddr, big.NewInt(1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestEventsSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logged, err := f.node.EscrowEvents(0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, logged)
	last := logged[len(logged)-1].Sequence

	updates, stop, backlog, err := f.node.EventsSubscribe(ctx, "")
	require.NoError(t, err)
	defer stop()
	require.Len(t, backlog, len(logged))

	_, err = f.node.SetOffer(ctx, sellerAddr, big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)

	select {
	case record := <-updates:
		require.Equal(t, last+1, record.Sequence)
		require.Equal(t, escrow.EventTypeOfferUpdated, record.Event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected offer update")
	}

	_, _, resumed, err := f.node.EventsSubscribe(ctx, fmt.Sprint(last))
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	require.Equal(t, last+1, resumed[0].Sequence)

	_, _, _, err = f.node.EventsSubscribe(ctx, "abc")
	require.Error(t, err)
}

func TestEventLogIsHashChained(t *testing.T) {
	f := newFixture(t)
	_, err := f.node.SetOffer(context.Background(), sellerAddr, big.NewInt(3), big.NewInt(4))
	require.NoError(t, err)

	records, err := f.node.EscrowEvents(0, 0)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, record := range records {
		require.Len(t, record.Hash, 64)
		require.False(t, seen[record.Hash])
		seen[record.Hash] = true
	}
	limited, err := f.node.EscrowEvents(1, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, uint64(2), limited[0].Sequence)
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{escrow.ErrInvalidCaller, "invalid_caller"},
		{escrow.ErrInvalidState, "invalid_state"},
		{escrow.ErrTooEarly, "too_early"},
		{escrow.ErrAlreadyClaimed, "already_claimed"},
		{escrow.ErrNotDeployed, "not_deployed"},
		{fmt.Errorf("wrapped: %w", escrow.ErrInsufficientPayment), "insufficient_payment"},
		{bytes.ErrTooLarge, "error"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Outcome(tc.err))
	}
}

func TestNodeSurvivesReopen(t *testing.T) {
	f := newFixture(t)
	_, err := f.node.SetOffer(context.Background(), sellerAddr, big.NewInt(7), big.NewInt(8))
	require.NoError(t, err)

	reopened, err := NewNode(f.db, escrow.DefaultSchedule())
	require.NoError(t, err)
	esc, err := reopened.EscrowState()
	require.NoError(t, err)
	require.Equal(t, int64(7), esc.Offer.TokenAmount.Int64())

	version, ok, err := state.NewManager(f.db).StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state.StateVersion, version)
}

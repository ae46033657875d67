package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tokenescrow/core/events"
	"tokenescrow/core/state"
	"tokenescrow/crypto"
	"tokenescrow/native/bank"
	"tokenescrow/native/common"
	"tokenescrow/native/escrow"
	"tokenescrow/native/token"
	"tokenescrow/observability"
	"tokenescrow/storage"
)

const instrumentationName = "tokenescrow/core"

// ErrNotProvisioned is returned when the database has not been through genesis.
var ErrNotProvisioned = errors.New("node: genesis not applied")

// Receipt describes the committed outcome of a mutating operation.
type Receipt struct {
	Operation string              `json:"operation"`
	Amount    *big.Int            `json:"amount,omitempty"`
	Escrow    *escrow.Escrow      `json:"-"`
	Events    []state.EventRecord `json:"events"`
}

// Node is the central controller: it serialises escrow operations, commits
// each one atomically and fans committed events out to subscribers.
type Node struct {
	db       storage.Database
	mu       sync.Mutex
	schedule escrow.Schedule
	nowFn    func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
	ops      metric.Int64Counter
	genesis  state.GenesisRecord

	streamMu      sync.Mutex
	streamSubs    map[uint64]*subscriber
	streamNextID  uint64
	streamHistory []state.EventRecord
}

// NewNode opens a node over a provisioned database. The schedule is validated
// before any operation can run.
func NewNode(db storage.Database, schedule escrow.Schedule) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database must not be nil")
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if err := state.EnsureStateVersion(db); err != nil {
		return nil, err
	}
	record, ok, err := state.NewManager(db).GenesisApplied()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotProvisioned
	}
	meter := otel.Meter(instrumentationName)
	ops, err := meter.Int64Counter("escrow.operations",
		metric.WithDescription("Escrow operations executed by the node."))
	if err != nil {
		return nil, fmt.Errorf("node: create counter: %w", err)
	}
	n := &Node{
		db:       db,
		schedule: schedule,
		nowFn:    time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
		ops:      ops,
		genesis:  *record,
	}
	n.refreshGauges()
	return n, nil
}

// SetLogger replaces the node logger. Passing nil keeps the current one.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger != nil {
		n.logger = logger
	}
}

// SetNowFunc overrides the clock used to timestamp operations.
func (n *Node) SetNowFunc(now func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if now == nil {
		n.nowFn = time.Now
		return
	}
	n.nowFn = now
}

// Network returns the network name recorded at genesis.
func (n *Node) Network() string { return n.genesis.Network }

// TokenSymbol returns the symbol of the escrowed token.
func (n *Node) TokenSymbol() string { return n.genesis.TokenSymbol }

// NativeSymbol returns the symbol of the native currency.
func (n *Node) NativeSymbol() string { return n.genesis.NativeSymbol }

// Schedule returns the vesting schedule in force.
func (n *Node) Schedule() escrow.Schedule { return n.schedule }

type session struct {
	manager *state.Manager
	engine  *escrow.Engine
	tokens  *token.Ledger
	native  *bank.Ledger
}

func (n *Node) newSession(now time.Time, emitter events.Emitter) (*session, error) {
	manager := state.NewManager(n.db)
	tokens := token.NewLedger(manager, n.genesis.TokenSymbol)
	tokens.SetEmitter(emitter)
	native := bank.NewLedger(manager, n.genesis.NativeSymbol)
	native.SetEmitter(emitter)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetTokenLedger(tokens)
	engine.SetNativeLedger(native)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return now.Unix() })
	if err := engine.SetSchedule(n.schedule); err != nil {
		return nil, err
	}
	return &session{manager: manager, engine: engine, tokens: tokens, native: native}, nil
}

// execute runs op on a fresh overlay and commits it only when op succeeds.
// Events are appended to the persisted log inside the same commit.
func (n *Node) execute(ctx context.Context, operation string, caller [20]byte, op func(*session) (*big.Int, error)) (*Receipt, error) {
	ctx, span := n.tracer.Start(ctx, "escrow."+operation, trace.WithAttributes(
		attribute.String("escrow.caller", crypto.FromRaw(crypto.AccountPrefix, caller).String()),
	))
	defer span.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	n.mu.Lock()
	receipt, err := n.executeLocked(operation, op)
	n.mu.Unlock()

	outcome := Outcome(err)
	observability.Escrow().RecordOperation(operation, outcome, time.Since(start))
	n.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.logger.Warn("escrow operation rejected",
			slog.String("operation", operation),
			slog.String("outcome", outcome),
			slog.Any("error", err))
		return nil, err
	}
	n.refreshGauges()
	n.logger.Info("escrow operation committed",
		slog.String("operation", operation),
		slog.String("phase", receipt.Escrow.Phase.String()),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (n *Node) executeLocked(operation string, op func(*session) (*big.Int, error)) (*Receipt, error) {
	now := n.nowFn()
	recorder := &events.Recorder{}
	sess, err := n.newSession(now, recorder)
	if err != nil {
		return nil, err
	}
	amount, err := op(sess)
	if err != nil {
		return nil, err
	}
	before, err := sess.manager.EventCount()
	if err != nil {
		return nil, err
	}
	for _, evt := range recorder.Events() {
		if _, err := sess.manager.AppendEvent(evt, now.Unix()); err != nil {
			return nil, err
		}
	}
	records, err := sess.manager.Events(before, 0)
	if err != nil {
		return nil, err
	}
	snapshot, err := sess.engine.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := sess.manager.Commit(); err != nil {
		return nil, fmt.Errorf("node: commit %s: %w", operation, err)
	}
	// Published under the operation lock so subscribers observe commit order.
	n.publish(records)
	return &Receipt{Operation: operation, Amount: amount, Escrow: snapshot, Events: records}, nil
}

// SetOffer lets the seller propose new terms.
func (n *Node) SetOffer(ctx context.Context, caller [20]byte, tokenAmount, nativeAmount *big.Int) (*Receipt, error) {
	return n.execute(ctx, "set_offer", caller, func(s *session) (*big.Int, error) {
		return nil, s.engine.SetOffer(caller, tokenAmount, nativeAmount)
	})
}

// ConfirmOffer lets the buyer accept the current offer.
func (n *Node) ConfirmOffer(ctx context.Context, caller [20]byte) (*Receipt, error) {
	return n.execute(ctx, "confirm_offer", caller, func(s *session) (*big.Int, error) {
		return nil, s.engine.ConfirmOffer(caller)
	})
}

// Deposit moves native value from caller into the escrow.
func (n *Node) Deposit(ctx context.Context, caller [20]byte, amount *big.Int) (*Receipt, error) {
	return n.execute(ctx, "deposit", caller, func(s *session) (*big.Int, error) {
		return amount, s.engine.Deposit(caller, amount)
	})
}

// ConfirmPayment lets the buyer lock in the escrowed value.
func (n *Node) ConfirmPayment(ctx context.Context, caller [20]byte) (*Receipt, error) {
	return n.execute(ctx, "confirm_payment", caller, func(s *session) (*big.Int, error) {
		return nil, s.engine.ConfirmPayment(caller)
	})
}

// ConfirmDelivery lets the seller release payment once the tokens are held.
func (n *Node) ConfirmDelivery(ctx context.Context, caller [20]byte) (*Receipt, error) {
	return n.execute(ctx, "confirm_delivery", caller, func(s *session) (*big.Int, error) {
		if err := s.engine.ConfirmDelivery(caller); err != nil {
			return nil, err
		}
		esc, err := s.engine.Snapshot()
		if err != nil {
			return nil, err
		}
		return esc.PaidOut, nil
	})
}

// ClaimFirstTranche releases the first half of the deposited tokens.
func (n *Node) ClaimFirstTranche(ctx context.Context, caller [20]byte) (*Receipt, error) {
	receipt, err := n.execute(ctx, "claim_first_tranche", caller, func(s *session) (*big.Int, error) {
		return s.engine.ClaimFirstTranche(caller)
	})
	if err == nil {
		observability.Escrow().RecordTranche(escrow.TrancheFirst.String())
	}
	return receipt, err
}

// ClaimSecondTranche releases the remainder of the deposited tokens.
func (n *Node) ClaimSecondTranche(ctx context.Context, caller [20]byte) (*Receipt, error) {
	receipt, err := n.execute(ctx, "claim_second_tranche", caller, func(s *session) (*big.Int, error) {
		return s.engine.ClaimSecondTranche(caller)
	})
	if err == nil {
		observability.Escrow().RecordTranche(escrow.TrancheSecond.String())
	}
	return receipt, err
}

// TokenTransfer moves tokens between holders. Sellers fund the escrow address
// this way before confirming delivery.
func (n *Node) TokenTransfer(ctx context.Context, from, to [20]byte, amount *big.Int) (*Receipt, error) {
	return n.execute(ctx, "token_transfer", from, func(s *session) (*big.Int, error) {
		if _, ok, err := s.manager.EscrowGet(); err != nil {
			return nil, err
		} else if !ok {
			return nil, escrow.ErrNotDeployed
		}
		return amount, s.tokens.Transfer(from, to, amount)
	})
}

func (n *Node) readSession() (*session, error) {
	return n.newSession(n.now(), events.NoopEmitter{})
}

func (n *Node) now() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nowFn()
}

// EscrowState returns the committed escrow record.
func (n *Node) EscrowState() (*escrow.Escrow, error) {
	sess, err := n.readSession()
	if err != nil {
		return nil, err
	}
	return sess.engine.Snapshot()
}

// TokenBalance returns the committed token balance of addr.
func (n *Node) TokenBalance(addr [20]byte) (*big.Int, error) {
	sess, err := n.readSession()
	if err != nil {
		return nil, err
	}
	return sess.tokens.BalanceOf(addr)
}

// NativeBalance returns the committed native balance of addr.
func (n *Node) NativeBalance(addr [20]byte) (*big.Int, error) {
	sess, err := n.readSession()
	if err != nil {
		return nil, err
	}
	return sess.native.Balance(addr)
}

// HeldValue returns the native value currently held by the escrow address.
func (n *Node) HeldValue() (*big.Int, error) {
	sess, err := n.readSession()
	if err != nil {
		return nil, err
	}
	return sess.engine.HeldValue()
}

// EscrowEvents returns up to limit committed events after the since sequence.
func (n *Node) EscrowEvents(since uint64, limit int) ([]state.EventRecord, error) {
	return state.NewManager(n.db).Events(since, limit)
}

func (n *Node) refreshGauges() {
	sess, err := n.readSession()
	if err != nil {
		return
	}
	esc, err := sess.engine.Snapshot()
	if err != nil {
		return
	}
	value, err := sess.native.Balance(esc.Address)
	if err != nil {
		return
	}
	tokens, err := sess.tokens.BalanceOf(esc.Address)
	if err != nil {
		return
	}
	metrics := observability.Escrow()
	metrics.SetPhase(uint8(esc.Phase))
	metrics.SetHoldings(value, tokens)
}

// Outcome classifies an operation error into a stable metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, escrow.ErrInvalidCaller):
		return "invalid_caller"
	case errors.Is(err, escrow.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, escrow.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, escrow.ErrInsufficientDeposit):
		return "insufficient_deposit"
	case errors.Is(err, escrow.ErrTooEarly):
		return "too_early"
	case errors.Is(err, escrow.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, escrow.ErrNotDeployed):
		return "not_deployed"
	case errors.Is(err, escrow.ErrInvalidAmount), errors.Is(err, common.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, common.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

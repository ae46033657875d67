package escrow

import (
	"fmt"
	"math/big"
	"time"

	"tokenescrow/core/events"
	"tokenescrow/core/types"
)

type engineState interface {
	EscrowGet() (*Escrow, bool, error)
	EscrowPut(*Escrow) error
}

// TokenLedger is the fungible token ledger the seller funds the engine on and
// the buyer is paid out of.
type TokenLedger interface {
	BalanceOf(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
}

// NativeLedger moves the host currency in and out of the engine's custody.
type NativeLedger interface {
	Balance(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine enforces the escrow state machine. Every operation validates the
// caller, the phase and the amounts before the first ledger call, and the
// ledger call precedes the record update, so a rejected operation leaves
// nothing behind.
type Engine struct {
	state    engineState
	tokens   TokenLedger
	native   NativeLedger
	emitter  events.Emitter
	schedule Schedule
	nowFn    func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// vesting schedule.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		schedule: DefaultSchedule(),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenLedger configures the token ledger.
func (e *Engine) SetTokenLedger(ledger TokenLedger) { e.tokens = ledger }

// SetNativeLedger configures the native currency ledger.
func (e *Engine) SetNativeLedger(ledger NativeLedger) { e.native = ledger }

// SetSchedule overrides the vesting schedule applied at delivery.
func (e *Engine) SetSchedule(schedule Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	e.schedule = schedule
	return nil
}

// Schedule returns the vesting schedule in use.
func (e *Engine) Schedule() Schedule { return e.schedule }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadEscrow() (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotDeployed
	}
	return SanitizeEscrow(esc)
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	return e.state.EscrowPut(sanitized)
}

// load fetches the escrow and checks the designated caller and phase, in that
// order.
func (e *Engine) load(caller [20]byte, principal func(*Escrow) [20]byte, phase Phase) (*Escrow, error) {
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	if principal != nil && caller != principal(esc) {
		return nil, ErrInvalidCaller
	}
	if esc.Phase != phase {
		return nil, ErrInvalidState
	}
	return esc, nil
}

func seller(e *Escrow) [20]byte { return e.Seller }
func buyer(e *Escrow) [20]byte  { return e.Buyer }

// Deploy creates the escrow agreement. It can only run once per state.
func (e *Engine) Deploy(sellerAddr, buyerAddr, token [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok, err := e.state.EscrowGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyDeployed
	}
	esc := &Escrow{
		Seller:    sellerAddr,
		Buyer:     buyerAddr,
		Token:     token,
		Address:   DeriveAddress(sellerAddr, buyerAddr, token),
		Phase:     PhaseOfferDecision,
		CreatedAt: e.now(),
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, fmt.Errorf("escrow: deploy: %w", err)
	}
	e.emit(NewDeployedEvent(esc))
	return esc.Clone(), nil
}

// SetOffer overwrites the offer terms. Only the seller may call it, and only
// while the offer is still being decided.
func (e *Engine) SetOffer(caller [20]byte, tokenAmount, nativeAmount *big.Int) error {
	if tokenAmount == nil || tokenAmount.Sign() < 0 || nativeAmount == nil || nativeAmount.Sign() < 0 {
		return ErrInvalidAmount
	}
	esc, err := e.load(caller, seller, PhaseOfferDecision)
	if err != nil {
		return err
	}
	esc.Offer = Offer{TokenAmount: new(big.Int).Set(tokenAmount), NativeAmount: new(big.Int).Set(nativeAmount)}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewOfferUpdatedEvent(esc))
	return nil
}

// ConfirmOffer freezes the offer and opens the payment phase.
func (e *Engine) ConfirmOffer(caller [20]byte) error {
	esc, err := e.load(caller, seller, PhaseOfferDecision)
	if err != nil {
		return err
	}
	esc.Phase = PhaseAwaitingPayment
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewOfferConfirmedEvent(esc))
	return nil
}

// Deposit moves native value from the caller into the engine's custody. Any
// caller may deposit in any phase; a zero amount is accepted without effect.
func (e *Engine) Deposit(caller [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if e.native == nil {
		return errNilNativeLedger
	}
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := e.native.Transfer(caller, esc.Address, amount); err != nil {
		return fmt.Errorf("escrow: deposit: %w", err)
	}
	esc.EscrowedValue = new(big.Int).Add(esc.EscrowedValue, amount)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewValueDepositedEvent(esc, caller, amount))
	return nil
}

// ConfirmPayment lets the buyer close the payment phase once the escrowed value
// covers the agreed native amount. Excess value is not refunded.
func (e *Engine) ConfirmPayment(caller [20]byte) error {
	esc, err := e.load(caller, buyer, PhaseAwaitingPayment)
	if err != nil {
		return err
	}
	if esc.EscrowedValue.Cmp(esc.Offer.NativeAmount) < 0 {
		return ErrInsufficientPayment
	}
	esc.Phase = PhaseAwaitingDelivery
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewPaymentConfirmedEvent(esc))
	return nil
}

// ConfirmDelivery accepts the tokens the seller transferred to the engine,
// forwards the escrowed value to the seller and starts vesting.
func (e *Engine) ConfirmDelivery(caller [20]byte) error {
	if e.tokens == nil {
		return errNilTokenLedger
	}
	if e.native == nil {
		return errNilNativeLedger
	}
	esc, err := e.load(caller, seller, PhaseAwaitingDelivery)
	if err != nil {
		return err
	}
	held, err := e.tokens.BalanceOf(esc.Address)
	if err != nil {
		return fmt.Errorf("escrow: token balance: %w", err)
	}
	if held == nil || held.Cmp(esc.Offer.TokenAmount) < 0 {
		return ErrInsufficientDeposit
	}
	paid := new(big.Int).Set(esc.EscrowedValue)
	if paid.Sign() > 0 {
		if err := e.native.Transfer(esc.Address, esc.Seller, paid); err != nil {
			return fmt.Errorf("escrow: pay seller: %w", err)
		}
	}
	now := e.now()
	esc.PaidOut = new(big.Int).Add(esc.PaidOut, paid)
	esc.EscrowedValue = big.NewInt(0)
	esc.DepositedTokens = new(big.Int).Set(held)
	esc.DeliveredAt = now
	esc.FirstClaimAt, esc.SecondClaimAt = e.schedule.unlocks(now)
	esc.Phase = PhaseVesting
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDeliveryConfirmedEvent(esc, paid))
	return nil
}

// ClaimFirstTranche releases half of the deposited tokens to the buyer once the
// first unlock time has passed.
func (e *Engine) ClaimFirstTranche(caller [20]byte) (*big.Int, error) {
	return e.claim(caller, TrancheFirst)
}

// ClaimSecondTranche releases the remaining tokens to the buyer once the
// second unlock time has passed.
func (e *Engine) ClaimSecondTranche(caller [20]byte) (*big.Int, error) {
	return e.claim(caller, TrancheSecond)
}

func (e *Engine) claim(caller [20]byte, tranche Tranche) (*big.Int, error) {
	if e.tokens == nil {
		return nil, errNilTokenLedger
	}
	esc, err := e.load(caller, buyer, PhaseVesting)
	if err != nil {
		return nil, err
	}
	var (
		unlockAt int64
		claimed  bool
		amount   *big.Int
	)
	switch tranche {
	case TrancheFirst:
		unlockAt, claimed, amount = esc.FirstClaimAt, esc.FirstClaimed, esc.FirstTrancheAmount()
	case TrancheSecond:
		unlockAt, claimed, amount = esc.SecondClaimAt, esc.SecondClaimed, esc.SecondTrancheAmount()
	default:
		return nil, fmt.Errorf("escrow: unknown tranche %d", tranche)
	}
	if e.now() < unlockAt {
		return nil, ErrTooEarly
	}
	if claimed {
		return nil, ErrAlreadyClaimed
	}
	if amount.Sign() > 0 {
		if err := e.tokens.Transfer(esc.Address, esc.Buyer, amount); err != nil {
			return nil, fmt.Errorf("escrow: release %s tranche: %w", tranche, err)
		}
	}
	if tranche == TrancheFirst {
		esc.FirstClaimed = true
	} else {
		esc.SecondClaimed = true
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewTrancheClaimedEvent(esc, tranche, amount))
	return amount, nil
}

// Snapshot returns a copy of the escrow record.
func (e *Engine) Snapshot() (*Escrow, error) {
	return e.loadEscrow()
}

// HeldValue reports the native balance of the engine's custody account as seen
// by the native ledger.
func (e *Engine) HeldValue() (*big.Int, error) {
	if e.native == nil {
		return nil, errNilNativeLedger
	}
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	return e.native.Balance(esc.Address)
}

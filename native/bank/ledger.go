package bank

import (
	"fmt"
	"math/big"
	"strings"

	"tokenescrow/core/events"
	"tokenescrow/native/common"
)

// DefaultSymbol is the native currency symbol used when none is configured.
const DefaultSymbol = "MATIC"

// Ledger is the host currency ledger. It holds plain balances and never mints
// except through genesis credits.
type Ledger struct {
	state   common.BalanceStore
	symbol  string
	emitter events.Emitter
}

// NewLedger binds the native ledger to symbol, falling back to DefaultSymbol.
func NewLedger(st common.BalanceStore, symbol string) *Ledger {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		normalized = DefaultSymbol
	}
	return &Ledger{state: st, symbol: normalized, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil discards events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Symbol returns the native currency symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Balance returns the native balance of addr.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	return l.state.Balance(addr, l.symbol)
}

// Transfer pushes amount from one account to another.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: state not configured")
	}
	if err := common.Move(l.state, l.symbol, from, to, amount); err != nil {
		return fmt.Errorf("bank: transfer: %w", err)
	}
	l.emitter.Emit(events.NativeTransfer{Asset: l.symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Credit adds amount to addr. Used to seed genesis allocations.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: state not configured")
	}
	if _, err := common.Add(l.state, l.symbol, addr, amount); err != nil {
		return fmt.Errorf("bank: credit: %w", err)
	}
	return nil
}

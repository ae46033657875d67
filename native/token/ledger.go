package token

import (
	"fmt"
	"math/big"
	"strings"

	"tokenescrow/core/events"
	"tokenescrow/core/state"
	"tokenescrow/native/common"
)

type ledgerState interface {
	common.BalanceStore
	Token(symbol string) (*state.TokenMetadata, error)
	SetTotalSupply(symbol string, supply *big.Int) error
}

// Ledger is the fungible token bound to a single registered symbol. Balances
// live in the state manager under that symbol.
type Ledger struct {
	state   ledgerState
	symbol  string
	emitter events.Emitter
}

// NewLedger binds a ledger to symbol on the given state.
func NewLedger(st ledgerState, symbol string) *Ledger {
	return &Ledger{state: st, symbol: strings.ToUpper(strings.TrimSpace(symbol)), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil discards events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Symbol returns the ledger symbol.
func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) metadata() (*state.TokenMetadata, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("token: state not configured")
	}
	meta, err := l.state.Token(l.symbol)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("token: %s not registered", l.symbol)
	}
	return meta, nil
}

// Address returns the ledger address recorded at registration.
func (l *Ledger) Address() ([20]byte, error) {
	meta, err := l.metadata()
	if err != nil {
		return [20]byte{}, err
	}
	return meta.Address, nil
}

// BalanceOf returns the token balance held by addr.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if _, err := l.metadata(); err != nil {
		return nil, err
	}
	return l.state.Balance(addr, l.symbol)
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	meta, err := l.metadata()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(meta.TotalSupply), nil
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if _, err := l.metadata(); err != nil {
		return err
	}
	if err := common.Move(l.state, l.symbol, from, to, amount); err != nil {
		return fmt.Errorf("token: transfer: %w", err)
	}
	l.emitter.Emit(events.TokenTransfer{Token: l.symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Mint credits new tokens to an account. It is only invoked while applying
// genesis allocations.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	meta, err := l.metadata()
	if err != nil {
		return err
	}
	if err := common.CheckAmount(amount); err != nil {
		return err
	}
	supply := new(big.Int).Add(meta.TotalSupply, amount)
	if _, err := common.Fits256(supply); err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	if _, err := common.Add(l.state, l.symbol, to, amount); err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	if err := l.state.SetTotalSupply(l.symbol, supply); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenTransfer{Token: l.symbol, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

package common

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBalanceOverflow     = errors.New("ledger: balance exceeds 256 bits")
)

// BalanceStore is the slice of state both ledgers operate on.
type BalanceStore interface {
	Balance(addr [20]byte, symbol string) (*big.Int, error)
	SetBalance(addr [20]byte, symbol string, amount *big.Int) error
}

// CheckAmount rejects nil and negative amounts.
func CheckAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Fits256 converts v into a uint256, reporting ErrBalanceOverflow when it does
// not fit.
func Fits256(v *big.Int) (*uint256.Int, error) {
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return out, nil
}

// Move debits from and credits to on the ledger identified by symbol. Both
// balances are checked before either is written.
func Move(store BalanceStore, symbol string, from, to [20]byte, amount *big.Int) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("ledger: state not configured")
	}
	fromBal, err := store.Balance(from, symbol)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	toBal, err := store.Balance(to, symbol)
	if err != nil {
		return err
	}
	debit, err := Fits256(fromBal)
	if err != nil {
		return err
	}
	credit, err := Fits256(toBal)
	if err != nil {
		return err
	}
	delta, err := Fits256(amount)
	if err != nil {
		return err
	}
	if _, overflow := credit.AddOverflow(credit, delta); overflow {
		return ErrBalanceOverflow
	}
	debit.Sub(debit, delta)
	if err := store.SetBalance(from, symbol, debit.ToBig()); err != nil {
		return err
	}
	return store.SetBalance(to, symbol, credit.ToBig())
}

// Add credits amount to addr and returns the new balance.
func Add(store BalanceStore, symbol string, addr [20]byte, amount *big.Int) (*big.Int, error) {
	if err := CheckAmount(amount); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("ledger: state not configured")
	}
	current, err := store.Balance(addr, symbol)
	if err != nil {
		return nil, err
	}
	bal, err := Fits256(current)
	if err != nil {
		return nil, err
	}
	delta, err := Fits256(amount)
	if err != nil {
		return nil, err
	}
	if _, overflow := bal.AddOverflow(bal, delta); overflow {
		return nil, ErrBalanceOverflow
	}
	next := bal.ToBig()
	if err := store.SetBalance(addr, symbol, next); err != nil {
		return nil, err
	}
	return next, nil
}

package common

import (
	"errors"
	"math/big"
	"testing"
)

type memStore map[[20]byte]*big.Int

func (m memStore) Balance(addr [20]byte, _ string) (*big.Int, error) {
	if bal, ok := m[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m memStore) SetBalance(addr [20]byte, _ string, amount *big.Int) error {
	m[addr] = new(big.Int).Set(amount)
	return nil
}

func TestMove(t *testing.T) {
	store := memStore{}
	a, b := [20]byte{1}, [20]byte{2}
	store[a] = big.NewInt(10)

	if err := Move(store, "X", a, b, big.NewInt(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := Move(store, "X", a, b, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := Move(store, "X", a, b, big.NewInt(4)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if store[a].Int64() != 6 || store[b].Int64() != 4 {
		t.Fatalf("unexpected balances %s/%s", store[a], store[b])
	}
	if err := Move(store, "X", a, a, big.NewInt(6)); err != nil {
		t.Fatalf("self move: %v", err)
	}
	if store[a].Int64() != 6 {
		t.Fatalf("self move changed balance to %s", store[a])
	}
}

func TestMoveRejectsOverflow(t *testing.T) {
	store := memStore{}
	a, b := [20]byte{1}, [20]byte{2}
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	store[a] = big.NewInt(1)
	store[b] = max
	if err := Move(store, "X", a, b, big.NewInt(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
	if store[a].Int64() != 1 {
		t.Fatalf("debit applied despite overflow")
	}
}

func TestAdd(t *testing.T) {
	store := memStore{}
	a := [20]byte{1}
	next, err := Add(store, "X", a, big.NewInt(3))
	if err != nil || next.Int64() != 3 {
		t.Fatalf("add: %v %v", next, err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := Add(store, "X", a, huge); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}

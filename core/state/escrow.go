package state

import (
	"fmt"
	"math/big"

	"tokenescrow/native/escrow"
)

type storedEscrow struct {
	Seller          [20]byte
	Buyer           [20]byte
	Token           [20]byte
	Address         [20]byte
	Phase           uint8
	TokenAmount     *big.Int
	NativeAmount    *big.Int
	EscrowedValue   *big.Int
	PaidOut         *big.Int
	DepositedTokens *big.Int
	FirstClaimAt    uint64
	SecondClaimAt   uint64
	FirstClaimed    bool
	SecondClaimed   bool
	CreatedAt       uint64
	DeliveredAt     uint64
}

func toUnix(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("negative timestamp %d", v)
	}
	return uint64(v), nil
}

func newStoredEscrow(e *escrow.Escrow) (*storedEscrow, error) {
	stored := &storedEscrow{
		Seller:          e.Seller,
		Buyer:           e.Buyer,
		Token:           e.Token,
		Address:         e.Address,
		Phase:           uint8(e.Phase),
		TokenAmount:     e.Offer.TokenAmount,
		NativeAmount:    e.Offer.NativeAmount,
		EscrowedValue:   e.EscrowedValue,
		PaidOut:         e.PaidOut,
		DepositedTokens: e.DepositedTokens,
		FirstClaimed:    e.FirstClaimed,
		SecondClaimed:   e.SecondClaimed,
	}
	var err error
	for _, field := range []struct {
		dst *uint64
		src int64
	}{
		{&stored.FirstClaimAt, e.FirstClaimAt},
		{&stored.SecondClaimAt, e.SecondClaimAt},
		{&stored.CreatedAt, e.CreatedAt},
		{&stored.DeliveredAt, e.DeliveredAt},
	} {
		if *field.dst, err = toUnix(field.src); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	return &escrow.Escrow{
		Seller:  s.Seller,
		Buyer:   s.Buyer,
		Token:   s.Token,
		Address: s.Address,
		Phase:   escrow.Phase(s.Phase),
		Offer: escrow.Offer{
			TokenAmount:  s.TokenAmount,
			NativeAmount: s.NativeAmount,
		},
		EscrowedValue:   s.EscrowedValue,
		PaidOut:         s.PaidOut,
		DepositedTokens: s.DepositedTokens,
		FirstClaimAt:    int64(s.FirstClaimAt),
		SecondClaimAt:   int64(s.SecondClaimAt),
		FirstClaimed:    s.FirstClaimed,
		SecondClaimed:   s.SecondClaimed,
		CreatedAt:       int64(s.CreatedAt),
		DeliveredAt:     int64(s.DeliveredAt),
	}
}

// EscrowPut stores the escrow record after validating it.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	stored, err := newStoredEscrow(sanitized)
	if err != nil {
		return fmt.Errorf("escrow record: %w", err)
	}
	return m.putRLP(escrowRecordKeyBytes, stored)
}

// EscrowGet loads the escrow record. The boolean is false when no escrow has
// been deployed.
func (m *Manager) EscrowGet() (*escrow.Escrow, bool, error) {
	stored := new(storedEscrow)
	ok, err := m.getRLP(escrowRecordKeyBytes, stored)
	if err != nil || !ok {
		return nil, false, err
	}
	sanitized, err := escrow.SanitizeEscrow(stored.toEscrow())
	if err != nil {
		return nil, false, fmt.Errorf("escrow record: %w", err)
	}
	return sanitized, true, nil
}

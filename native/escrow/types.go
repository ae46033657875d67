package escrow

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Offer captures the agreed exchange terms: the number of tokens the seller
// delivers against the native value the buyer pays.
type Offer struct {
	TokenAmount  *big.Int
	NativeAmount *big.Int
}

// Clone returns a deep copy of the offer with non-nil amounts.
func (o Offer) Clone() Offer {
	return Offer{TokenAmount: cloneBigInt(o.TokenAmount), NativeAmount: cloneBigInt(o.NativeAmount)}
}

// Escrow is the single agreement managed by the engine. Seller, Buyer, Token
// and Address are fixed at deployment; every other field is advanced by the
// engine operations.
type Escrow struct {
	Seller  [20]byte
	Buyer   [20]byte
	Token   [20]byte
	Address [20]byte

	Phase Phase
	Offer Offer

	// EscrowedValue is native value received and not yet forwarded.
	EscrowedValue *big.Int
	// PaidOut is native value already forwarded to the seller.
	PaidOut *big.Int
	// DepositedTokens is the token balance accepted at delivery.
	DepositedTokens *big.Int

	FirstClaimAt  int64
	SecondClaimAt int64
	FirstClaimed  bool
	SecondClaimed bool

	CreatedAt   int64
	DeliveredAt int64
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Offer = e.Offer.Clone()
	clone.EscrowedValue = cloneBigInt(e.EscrowedValue)
	clone.PaidOut = cloneBigInt(e.PaidOut)
	clone.DepositedTokens = cloneBigInt(e.DepositedTokens)
	return &clone
}

// FirstTrancheAmount is the token amount released by the first claim.
func (e *Escrow) FirstTrancheAmount() *big.Int {
	if e == nil || e.DepositedTokens == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Rsh(e.DepositedTokens, 1)
}

// SecondTrancheAmount is the remainder of the deposit after the first
// tranche, so both tranches always sum to the full deposit.
func (e *Escrow) SecondTrancheAmount() *big.Int {
	if e == nil || e.DepositedTokens == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(e.DepositedTokens, e.FirstTrancheAmount())
}

// DeriveAddress returns the engine's own ledger account for the given
// principals and token. The derivation is deterministic so every node binds the
// same custody account.
func DeriveAddress(seller, buyer, token [20]byte) [20]byte {
	buf := make([]byte, 0, len("escrow")+60)
	buf = append(buf, "escrow"...)
	buf = append(buf, seller[:]...)
	buf = append(buf, buyer[:]...)
	buf = append(buf, token[:]...)
	hash := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// SanitizeEscrow validates the supplied escrow record and returns a clone with
// non-nil amount fields. The function does not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.Seller == ([20]byte{}) || clone.Buyer == ([20]byte{}) {
		return nil, fmt.Errorf("escrow principals must be set")
	}
	if clone.Seller == clone.Buyer {
		return nil, fmt.Errorf("escrow seller and buyer must differ")
	}
	if clone.Token == ([20]byte{}) {
		return nil, fmt.Errorf("escrow token must be set")
	}
	if !clone.Phase.Valid() {
		return nil, fmt.Errorf("invalid escrow phase: %d", clone.Phase)
	}
	for name, v := range map[string]*big.Int{
		"offer token amount":  clone.Offer.TokenAmount,
		"offer native amount": clone.Offer.NativeAmount,
		"escrowed value":      clone.EscrowedValue,
		"paid out":            clone.PaidOut,
		"deposited tokens":    clone.DepositedTokens,
	} {
		if v.Sign() < 0 {
			return nil, fmt.Errorf("escrow %s must be non-negative", name)
		}
	}
	if clone.Phase == PhaseVesting && clone.SecondClaimAt <= clone.FirstClaimAt {
		return nil, fmt.Errorf("second tranche must unlock after the first")
	}
	if clone.Phase != PhaseVesting && (clone.FirstClaimed || clone.SecondClaimed) {
		return nil, fmt.Errorf("tranche claimed outside vesting")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

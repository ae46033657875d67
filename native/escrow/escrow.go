package escrow

import "fmt"

// Phase is the macro-state of the escrow. Phases only ever advance.
type Phase uint8

const (
	PhaseOfferDecision Phase = iota
	PhaseAwaitingPayment
	PhaseAwaitingDelivery
	PhaseVesting
)

// Valid reports whether the phase value is within the supported range.
func (p Phase) Valid() bool {
	return p <= PhaseVesting
}

func (p Phase) String() string {
	switch p {
	case PhaseOfferDecision:
		return "offer_decision"
	case PhaseAwaitingPayment:
		return "awaiting_payment"
	case PhaseAwaitingDelivery:
		return "awaiting_delivery"
	case PhaseVesting:
		return "vesting"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Tranche identifies one of the two vesting releases.
type Tranche uint8

const (
	TrancheFirst Tranche = iota + 1
	TrancheSecond
)

func (t Tranche) String() string {
	switch t {
	case TrancheFirst:
		return "first"
	case TrancheSecond:
		return "second"
	default:
		return fmt.Sprintf("tranche(%d)", uint8(t))
	}
}

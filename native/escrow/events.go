package escrow

import (
	"math/big"
	"strconv"

	"tokenescrow/core/types"
	"tokenescrow/crypto"
)

const (
	EventTypeEscrowDeployed    = "escrow.deployed"
	EventTypeOfferUpdated      = "escrow.offer.updated"
	EventTypeOfferConfirmed    = "escrow.offer.confirmed"
	EventTypeValueDeposited    = "escrow.value.deposited"
	EventTypePaymentConfirmed  = "escrow.payment.confirmed"
	EventTypeDeliveryConfirmed = "escrow.delivery.confirmed"
	EventTypeTrancheClaimed    = "escrow.tranche.claimed"
)

// NewDeployedEvent returns the canonical event payload for a newly deployed
// escrow.
func NewDeployedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDeployed, e)
	if e != nil {
		evt.Attributes["seller"] = accountString(e.Seller)
		evt.Attributes["buyer"] = accountString(e.Buyer)
		evt.Attributes["token"] = crypto.FromRaw(crypto.TokenPrefix, e.Token).String()
	}
	return evt
}

// NewOfferUpdatedEvent is emitted whenever the seller rewrites the offer.
func NewOfferUpdatedEvent(e *Escrow) *types.Event {
	return newOfferEvent(EventTypeOfferUpdated, e)
}

// NewOfferConfirmedEvent is emitted when the offer terms are frozen.
func NewOfferConfirmedEvent(e *Escrow) *types.Event {
	return newOfferEvent(EventTypeOfferConfirmed, e)
}

// NewValueDepositedEvent records native value moved into custody.
func NewValueDepositedEvent(e *Escrow, from [20]byte, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeValueDeposited, e)
	evt.Attributes["from"] = accountString(from)
	evt.Attributes["amount"] = amountString(amount)
	if e != nil {
		evt.Attributes["escrowedValue"] = amountString(e.EscrowedValue)
	}
	return evt
}

// NewPaymentConfirmedEvent is emitted when the buyer confirms payment.
func NewPaymentConfirmedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypePaymentConfirmed, e)
	if e != nil {
		evt.Attributes["escrowedValue"] = amountString(e.EscrowedValue)
	}
	return evt
}

// NewDeliveryConfirmedEvent is emitted when the seller's tokens are accepted
// and the escrowed value has been forwarded.
func NewDeliveryConfirmedEvent(e *Escrow, paid *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeDeliveryConfirmed, e)
	evt.Attributes["paid"] = amountString(paid)
	if e != nil {
		evt.Attributes["depositedTokens"] = amountString(e.DepositedTokens)
		evt.Attributes["firstClaimAt"] = strconv.FormatInt(e.FirstClaimAt, 10)
		evt.Attributes["secondClaimAt"] = strconv.FormatInt(e.SecondClaimAt, 10)
	}
	return evt
}

// NewTrancheClaimedEvent is emitted when the buyer receives a vesting tranche.
func NewTrancheClaimedEvent(e *Escrow, tranche Tranche, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeTrancheClaimed, e)
	evt.Attributes["tranche"] = tranche.String()
	evt.Attributes["amount"] = amountString(amount)
	return evt
}

func newOfferEvent(eventType string, e *Escrow) *types.Event {
	evt := newEscrowEvent(eventType, e)
	if e != nil {
		evt.Attributes["tokenAmount"] = amountString(e.Offer.TokenAmount)
		evt.Attributes["nativeAmount"] = amountString(e.Offer.NativeAmount)
	}
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e != nil {
		attrs["escrow"] = accountString(e.Address)
		attrs["phase"] = e.Phase.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func accountString(addr [20]byte) string {
	return crypto.FromRaw(crypto.AccountPrefix, addr).String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

package events

import (
	"math/big"

	"tokenescrow/core/types"
	"tokenescrow/crypto"
)

const (
	// TypeTokenTransfer is emitted for every movement on the fungible token ledger.
	TypeTokenTransfer = "token.transfer"
	// TypeNativeTransfer is emitted for native currency movements.
	TypeNativeTransfer = "transfer.native"
)

// TokenTransfer captures a token ledger movement.
type TokenTransfer struct {
	Token  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	attrs := map[string]string{}
	if token := normalizeAsset(e.Token); token != "" {
		attrs["token"] = token
	}
	attrs["from"] = crypto.FromRaw(crypto.AccountPrefix, e.From).String()
	attrs["to"] = crypto.FromRaw(crypto.AccountPrefix, e.To).String()
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTokenTransfer, Attributes: attrs}
}

// NativeTransfer captures a native currency movement.
type NativeTransfer struct {
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (NativeTransfer) EventType() string { return TypeNativeTransfer }

func (e NativeTransfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = crypto.FromRaw(crypto.AccountPrefix, e.From).String()
	attrs["to"] = crypto.FromRaw(crypto.AccountPrefix, e.To).String()
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeNativeTransfer, Attributes: attrs}
}

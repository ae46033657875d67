package escrow

import "errors"

var (
	ErrInvalidCaller       = errors.New("escrow: invalid caller")
	ErrInvalidState        = errors.New("escrow: invalid state")
	ErrInsufficientPayment = errors.New("escrow: not enough native value")
	ErrInsufficientDeposit = errors.New("escrow: not enough tokens")
	ErrTooEarly            = errors.New("escrow: too early")
	ErrAlreadyClaimed      = errors.New("escrow: already claimed")

	ErrNotDeployed     = errors.New("escrow: not deployed")
	ErrAlreadyDeployed = errors.New("escrow: already deployed")
	ErrInvalidAmount   = errors.New("escrow: invalid amount")

	errNilState        = errors.New("escrow engine: state not configured")
	errNilTokenLedger  = errors.New("escrow engine: token ledger not configured")
	errNilNativeLedger = errors.New("escrow engine: native ledger not configured")
)

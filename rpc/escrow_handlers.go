package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"tokenescrow/core"
	"tokenescrow/core/state"
	"tokenescrow/crypto"
	"tokenescrow/native/common"
	"tokenescrow/native/escrow"
	"tokenescrow/observability/logging"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

const maxEventsPerPage = 1000

type escrowCallerParams struct {
	Caller string `json:"caller"`
}

type escrowOfferParams struct {
	Caller       string `json:"caller"`
	TokenAmount  string `json:"tokenAmount"`
	NativeAmount string `json:"nativeAmount"`
}

type escrowAmountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type tokenTransferParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type listEventsParams struct {
	Since uint64 `json:"since"`
	Limit int    `json:"limit"`
}

type offerJSON struct {
	TokenAmount  string `json:"tokenAmount"`
	NativeAmount string `json:"nativeAmount"`
}

type trancheJSON struct {
	Amount   string `json:"amount"`
	UnlockAt int64  `json:"unlockAt,omitempty"`
	Claimed  bool   `json:"claimed"`
}

type escrowJSON struct {
	Address         string      `json:"address"`
	Seller          string      `json:"seller"`
	Buyer           string      `json:"buyer"`
	Token           string      `json:"token"`
	Phase           string      `json:"phase"`
	Offer           offerJSON   `json:"offer"`
	EscrowedValue   string      `json:"escrowedValue"`
	PaidOut         string      `json:"paidOut"`
	DepositedTokens string      `json:"depositedTokens"`
	FirstTranche    trancheJSON `json:"firstTranche"`
	SecondTranche   trancheJSON `json:"secondTranche"`
	CreatedAt       int64       `json:"createdAt"`
	DeliveredAt     int64       `json:"deliveredAt,omitempty"`
	HeldValue       string      `json:"heldValue,omitempty"`
}

type receiptJSON struct {
	Operation string              `json:"operation"`
	Amount    string              `json:"amount,omitempty"`
	Escrow    escrowJSON          `json:"escrow"`
	Events    []state.EventRecord `json:"events"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Balance string `json:"balance"`
}

func formatAccount(addr [20]byte) string {
	return crypto.FromRaw(crypto.AccountPrefix, addr).String()
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	return escrowJSON{
		Address:         formatAccount(esc.Address),
		Seller:          formatAccount(esc.Seller),
		Buyer:           formatAccount(esc.Buyer),
		Token:           crypto.FromRaw(crypto.TokenPrefix, esc.Token).String(),
		Phase:           esc.Phase.String(),
		Offer:           offerJSON{TokenAmount: esc.Offer.TokenAmount.String(), NativeAmount: esc.Offer.NativeAmount.String()},
		EscrowedValue:   esc.EscrowedValue.String(),
		PaidOut:         esc.PaidOut.String(),
		DepositedTokens: esc.DepositedTokens.String(),
		FirstTranche: trancheJSON{
			Amount:   esc.FirstTrancheAmount().String(),
			UnlockAt: esc.FirstClaimAt,
			Claimed:  esc.FirstClaimed,
		},
		SecondTranche: trancheJSON{
			Amount:   esc.SecondTrancheAmount().String(),
			UnlockAt: esc.SecondClaimAt,
			Claimed:  esc.SecondClaimed,
		},
		CreatedAt:   esc.CreatedAt,
		DeliveredAt: esc.DeliveredAt,
	}
}

func formatReceipt(receipt *core.Receipt) receiptJSON {
	out := receiptJSON{Operation: receipt.Operation, Events: receipt.Events}
	if receipt.Amount != nil {
		out.Amount = receipt.Amount.String()
	}
	if receipt.Escrow != nil {
		out.Escrow = formatEscrowJSON(receipt.Escrow)
	}
	if out.Events == nil {
		out.Events = []state.EventRecord{}
	}
	return out
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	return crypto.ParseAccount(trimmed, crypto.AccountPrefix)
}

// parseAmount accepts a non-negative base-10 integer.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_params", err.Error())
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrNotDeployed):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrInvalidCaller):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrInsufficientPayment),
		errors.Is(err, escrow.ErrInsufficientDeposit),
		errors.Is(err, escrow.ErrTooEarly),
		errors.Is(err, escrow.ErrAlreadyClaimed),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, common.ErrInvalidAmount),
		errors.Is(err, common.ErrInsufficientBalance),
		errors.Is(err, common.ErrBalanceOverflow):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = core.Outcome(err)
	}
	writeError(w, status, id, code, message, err.Error())
}

// callerParams decodes params, resolves the caller and checks its token.
func (s *Server) callerParams(w http.ResponseWriter, r *http.Request, req *RPCRequest, params interface{}, caller func() string) ([20]byte, bool) {
	if rpcErr := decodeParams(req, params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, rpcErr.Message, rpcErr.Data)
		return [20]byte{}, false
	}
	addr, err := parseBech32Address(caller())
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return [20]byte{}, false
	}
	if authErr := s.auth.authorize(r, addr); authErr != nil {
		s.logger.Warn("rejected unauthorised call",
			slog.String("method", req.Method),
			slog.String("caller", formatAccount(addr)),
			slog.String("request_id", requestIDFrom(r.Context())),
			logging.MaskField("authorization", r.Header.Get("Authorization")),
			slog.String("reason", authErr.Message))
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return [20]byte{}, false
	}
	return addr, true
}

func (s *Server) writeReceipt(w http.ResponseWriter, req *RPCRequest, receipt *core.Receipt, err error) {
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatReceipt(receipt))
}

func (s *Server) handleEscrowGetState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	esc, err := s.node.EscrowState()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	held, err := s.node.HeldValue()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := formatEscrowJSON(esc)
	out.HeldValue = held.String()
	writeResult(w, req.ID, out)
}

func (s *Server) handleEscrowListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listEventsParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, rpcErr.Message, rpcErr.Data)
			return
		}
	}
	if params.Limit <= 0 || params.Limit > maxEventsPerPage {
		params.Limit = maxEventsPerPage
	}
	records, err := s.node.EscrowEvents(params.Since, params.Limit)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	if records == nil {
		records = []state.EventRecord{}
	}
	writeResult(w, req.ID, records)
}

func (s *Server) handleEscrowSetOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowOfferParams
	caller, ok := s.callerParams(w, r, req, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	tokenAmount, err := parseAmount(params.TokenAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("tokenAmount: %w", err))
		return
	}
	nativeAmount, err := parseAmount(params.NativeAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("nativeAmount: %w", err))
		return
	}
	receipt, err := s.node.SetOffer(r.Context(), caller, tokenAmount, nativeAmount)
	s.writeReceipt(w, req, receipt, err)
}

func (s *Server) handleEscrowConfirmOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCallerParams
	caller, ok := s.callerParams(w, r, req, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	receipt, err := s.node.ConfirmOffer(r.Context(), caller)
	s.writeReceipt(w, req, receipt, err)
}

func (s *Server) handleEscrowDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowAmountParams
	caller, ok := s.callerParams(w, r, req, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	receipt, err := s.node.Deposit(r.Context(), caller, amount)
	s.writeReceipt(w, req, receipt, err)
}

func (s *Server) handleEscrowConfirmPayment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCallerParams
	caller, ok := s.callerParams(w, r, req, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	receipt, err := s.node.ConfirmPayment(r.Context(), caller)
	s.writeReceipt(w, req, receipt, err)
}

func (s *Server) handleEscrowConfirmDelivery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCallerParams
	caller, ok := s.callerParams(w, r, req, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	receipt, err := s.node.ConfirmDelivery(r.Context(), caller)
	s.writeReceipt(w, req, receipt, err)
}

func (s *Server) handleEscrowClaimFirstTranche(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCallerParams
	caller, ok := s.callerParams(w, r, req, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	receipt, err := s.node.ClaimFirstTranche(r.Context(), caller)
	s.writeReceipt(w, req, receipt, err)
}

func (s *Server) handleEscrowClaimSecondTranche(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCallerParams
	caller, ok := s.callerParams(w, r, req, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	receipt, err := s.node.ClaimSecondTranche(r.Context(), caller)
	s.writeReceipt(w, req, receipt, err)
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenTransferParams
	caller, ok := s.callerParams(w, r, req, &params, func() string { return params.Caller })
	if !ok {
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("to: %w", err))
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	receipt, err := s.node.TokenTransfer(r.Context(), caller, to, amount)
	s.writeReceipt(w, req, receipt, err)
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.writeBalance(w, req, s.node.TokenSymbol(), s.node.TokenBalance)
}

func (s *Server) handleBankBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.writeBalance(w, req, s.node.NativeSymbol(), s.node.NativeBalance)
}

func (s *Server) writeBalance(w http.ResponseWriter, req *RPCRequest, symbol string, lookup func([20]byte) (*big.Int, error)) {
	var params balanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, rpcErr.Message, rpcErr.Data)
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	balance, err := lookup(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON{Address: formatAccount(addr), Symbol: symbol, Balance: balance.String()})
}

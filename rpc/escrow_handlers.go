package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"nftescrow/crypto"
	"nftescrow/native/escrow"
	"nftescrow/storage/journal"
)

type escrowDeriveParams struct {
	Seller        string `json:"seller"`
	Buyer         string `json:"buyer"`
	AssetRegistry string `json:"assetRegistry"`
	Secret        string `json:"secret"`
}

type escrowOpenParams struct {
	ID            string `json:"id"`
	AssetID       string `json:"assetId"`
	Price         string `json:"price"`
	AssetRegistry string `json:"assetRegistry"`
	Buyer         string `json:"buyer"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowPayParams struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type escrowSetFeeParams struct {
	Fee *uint8 `json:"fee"`
}

type escrowDeriveResult struct {
	ID  string `json:"id"`
	Hex string `json:"hex"`
}

type agreementJSON struct {
	ID            string `json:"id"`
	AssetID       string `json:"assetId"`
	Price         string `json:"price"`
	AssetRegistry string `json:"assetRegistry"`
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	Deadline      int64  `json:"deadline"`
	CreatedAt     int64  `json:"createdAt"`
	SettledAt     int64  `json:"settledAt,omitempty"`
	Status        string `json:"status"`
}

type escrowFeeResult struct {
	FeePercent uint8  `json:"feePercent"`
	Admin      string `json:"admin"`
	Ledger     string `json:"ledger"`
}

type escrowWithdrawResult struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type escrowEventsResult struct {
	ID     string           `json:"id"`
	Events []journal.Record `json:"events"`
}

type escrowEventsSinceParams struct {
	After int64 `json:"after"`
	Limit int   `json:"limit,omitempty"`
}

type escrowEventsSinceResult struct {
	Events []journal.Record `json:"events"`
	Next   int64            `json:"next"`
}

// maxEventsPage bounds a single escrow_eventsSince page.
const maxEventsPage = 1000

func (s *Server) handleEscrowDeriveID(call *rpcCall) (interface{}, *RPCError) {
	var params escrowDeriveParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	seller, err := parseAddressParam("seller", params.Seller)
	if err != nil {
		return nil, invalidParams(err)
	}
	buyer, err := parseAddressParam("buyer", params.Buyer)
	if err != nil {
		return nil, invalidParams(err)
	}
	registry, err := parseAddressParam("assetRegistry", params.AssetRegistry)
	if err != nil {
		return nil, invalidParams(err)
	}
	secret, err := escrow.ParseSecret(params.Secret)
	if err != nil {
		return nil, invalidParams(err)
	}
	id := escrow.DeriveIdentifier(seller, buyer, registry, secret)
	return escrowDeriveResult{ID: escrow.FormatID(id), Hex: fmt.Sprintf("0x%x", id[:])}, nil
}

func (s *Server) handleEscrowOpen(call *rpcCall) (interface{}, *RPCError) {
	var params escrowOpenParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := escrow.ParseID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	assetID, err := parseUintParam("assetId", params.AssetID)
	if err != nil {
		return nil, invalidParams(err)
	}
	price, err := parseUintParam("price", params.Price)
	if err != nil {
		return nil, invalidParams(err)
	}
	registry, err := parseAddressParam("assetRegistry", params.AssetRegistry)
	if err != nil {
		return nil, invalidParams(err)
	}
	buyer, err := parseAddressParam("buyer", params.Buyer)
	if err != nil {
		return nil, invalidParams(err)
	}
	agreement, err := s.ledger.Open(call.caller, id, assetID, price, registry, buyer)
	if err != nil {
		return nil, escrowError(err)
	}
	return formatAgreementJSON(agreement), nil
}

func (s *Server) handleEscrowPay(call *rpcCall) (interface{}, *RPCError) {
	var params escrowPayParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := escrow.ParseID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	value, err := parseUintParam("value", params.Value)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.ledger.Pay(call.caller, id, value); err != nil {
		return nil, escrowError(err)
	}
	return s.agreementResult(id)
}

func (s *Server) handleEscrowCancel(call *rpcCall) (interface{}, *RPCError) {
	return s.handleEscrowTransition(call, s.ledger.Cancel)
}

func (s *Server) handleEscrowReject(call *rpcCall) (interface{}, *RPCError) {
	return s.handleEscrowTransition(call, s.ledger.Reject)
}

func (s *Server) handleEscrowTransition(call *rpcCall, fn func([20]byte, [32]byte) error) (interface{}, *RPCError) {
	var params escrowIDParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := escrow.ParseID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := fn(call.caller, id); err != nil {
		return nil, escrowError(err)
	}
	return s.agreementResult(id)
}

func (s *Server) handleEscrowGet(call *rpcCall) (interface{}, *RPCError) {
	var params escrowIDParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := escrow.ParseID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	return s.agreementResult(id)
}

func (s *Server) agreementResult(id [32]byte) (interface{}, *RPCError) {
	agreement, err := s.ledger.Agreement(id)
	if err != nil {
		return nil, escrowError(err)
	}
	return formatAgreementJSON(agreement), nil
}

func (s *Server) handleEscrowFee(_ *rpcCall) (interface{}, *RPCError) {
	fee, err := s.ledger.FeePercent()
	if err != nil {
		return nil, escrowError(err)
	}
	return escrowFeeResult{
		FeePercent: fee,
		Admin:      crypto.FormatAddress(s.ledger.Admin()),
		Ledger:     crypto.FormatAddress(s.ledger.Address()),
	}, nil
}

func (s *Server) handleEscrowSetFee(call *rpcCall) (interface{}, *RPCError) {
	var params escrowSetFeeParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Fee == nil {
		return nil, invalidParams(fmt.Errorf("fee required"))
	}
	if err := s.ledger.SetFeePercent(call.caller, *params.Fee); err != nil {
		return nil, escrowError(err)
	}
	return s.handleEscrowFee(call)
}

func (s *Server) handleEscrowWithdrawFees(call *rpcCall) (interface{}, *RPCError) {
	amount, err := s.ledger.WithdrawFees(call.caller)
	if err != nil {
		return nil, escrowError(err)
	}
	return escrowWithdrawResult{Recipient: crypto.FormatAddress(call.caller), Amount: amount.String()}, nil
}

func (s *Server) handleEscrowEvents(call *rpcCall) (interface{}, *RPCError) {
	if s.journal == nil {
		return nil, newRPCError(http.StatusServiceUnavailable, codeInternal, "internal_error", "event journal not configured")
	}
	var params escrowIDParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := escrow.ParseID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	formatted := escrow.FormatID(id)
	records, err := s.journal.ByAgreement(call.ctx, formatted)
	if err != nil {
		return nil, newRPCError(http.StatusInternalServerError, codeInternal, "internal_error", err.Error())
	}
	if records == nil {
		records = []journal.Record{}
	}
	return escrowEventsResult{ID: formatted, Events: records}, nil
}

func (s *Server) handleEscrowEventsSince(call *rpcCall) (interface{}, *RPCError) {
	if s.journal == nil {
		return nil, newRPCError(http.StatusServiceUnavailable, codeInternal, "internal_error", "event journal not configured")
	}
	var params escrowEventsSinceParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.After < 0 {
		return nil, invalidParams(errors.New("after must not be negative"))
	}
	if params.Limit < 0 || params.Limit > maxEventsPage {
		return nil, invalidParams(fmt.Errorf("limit must be between 0 and %d", maxEventsPage))
	}
	records, err := s.journal.Since(call.ctx, params.After, params.Limit)
	if err != nil {
		return nil, newRPCError(http.StatusInternalServerError, codeInternal, "internal_error", err.Error())
	}
	next := params.After
	if len(records) > 0 {
		next = records[len(records)-1].Sequence
	} else {
		records = []journal.Record{}
	}
	return escrowEventsSinceResult{Events: records, Next: next}, nil
}

func parseAddressParam(name, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("%s required", name)
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

// parseUintParam accepts a non-negative decimal integer. Zero is allowed so
// the ledger reports price validation itself.
func parseUintParam(name, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", name)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", name, value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", name)
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("%s exceeds 256 bits", name)
	}
	return amount, nil
}

func formatAgreementJSON(a *escrow.Agreement) agreementJSON {
	return agreementJSON{
		ID:            escrow.FormatID(a.ID),
		AssetID:       a.AssetID.String(),
		Price:         a.Price.String(),
		AssetRegistry: crypto.FormatAddress(a.AssetRegistry),
		Buyer:         crypto.FormatAddress(a.Buyer),
		Seller:        crypto.FormatAddress(a.Seller),
		Deadline:      a.Deadline,
		CreatedAt:     a.CreatedAt,
		SettledAt:     a.SettledAt,
		Status:        a.Status.String(),
	}
}

func escrowError(err error) *RPCError {
	data := err.Error()
	switch {
	case errors.Is(err, escrow.ErrAgreementNotFound):
		return newRPCError(http.StatusNotFound, codeNotFound, "not_found", data)
	case errors.Is(err, escrow.ErrNotAuthorized), errors.Is(err, escrow.ErrUnauthorized):
		return newRPCError(http.StatusForbidden, codeForbidden, "forbidden", data)
	case errors.Is(err, escrow.ErrIdentifierReused),
		errors.Is(err, escrow.ErrNotPending),
		errors.Is(err, escrow.ErrDeadlineExpired),
		errors.Is(err, escrow.ErrDeadlineNotReached):
		return newRPCError(http.StatusConflict, codeConflict, "conflict", data)
	case errors.Is(err, escrow.ErrInvalidPrice),
		errors.Is(err, escrow.ErrInvalidAssetID),
		errors.Is(err, escrow.ErrInvalidAddress),
		errors.Is(err, escrow.ErrIncorrectPayment),
		errors.Is(err, escrow.ErrInvalidFee):
		return newRPCError(http.StatusBadRequest, codeInvalidParams, "invalid_params", data)
	case errors.Is(err, escrow.ErrCustodyTransferDenied), errors.Is(err, escrow.ErrTransferFailed):
		return newRPCError(http.StatusUnprocessableEntity, codeTransferFailure, "transfer_failed", data)
	default:
		return newRPCError(http.StatusInternalServerError, codeInternal, "internal_error", data)
	}
}

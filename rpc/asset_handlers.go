package rpc

import (
	"errors"
	"net/http"

	"nftescrow/crypto"
	"nftescrow/native/nft"
)

type nftApproveParams struct {
	Registry string `json:"registry"`
	AssetID  string `json:"assetId"`
	Operator string `json:"operator"`
}

type nftApprovalForAllParams struct {
	Registry string `json:"registry"`
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type nftOwnerParams struct {
	Registry string `json:"registry"`
	AssetID  string `json:"assetId"`
}

type bankBalanceParams struct {
	Address string `json:"address"`
}

type nftOwnerResult struct {
	Registry string `json:"registry"`
	AssetID  string `json:"assetId"`
	Owner    string `json:"owner"`
	Approved string `json:"approved,omitempty"`
}

type bankBalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) registry(value string) (*nft.Registry, *RPCError) {
	addr, err := parseAddressParam("registry", value)
	if err != nil {
		return nil, invalidParams(err)
	}
	registry, ok := s.registries.Registry(addr)
	if !ok {
		return nil, newRPCError(http.StatusNotFound, codeNotFound, "not_found", "unknown registry")
	}
	return registry, nil
}

func (s *Server) handleNFTApprove(call *rpcCall) (interface{}, *RPCError) {
	var params nftApproveParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	registry, rpcErr := s.registry(params.Registry)
	if rpcErr != nil {
		return nil, rpcErr
	}
	assetID, err := parseUintParam("assetId", params.AssetID)
	if err != nil {
		return nil, invalidParams(err)
	}
	operator, err := parseAddressParam("operator", params.Operator)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := registry.Approve(call.caller, assetID, operator); err != nil {
		return nil, assetError(err)
	}
	return s.ownerResult(registry, params.AssetID)
}

func (s *Server) handleNFTSetApprovalForAll(call *rpcCall) (interface{}, *RPCError) {
	var params nftApprovalForAllParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	registry, rpcErr := s.registry(params.Registry)
	if rpcErr != nil {
		return nil, rpcErr
	}
	operator, err := parseAddressParam("operator", params.Operator)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := registry.SetApprovalForAll(call.caller, operator, params.Approved); err != nil {
		return nil, assetError(err)
	}
	return params.Approved, nil
}

func (s *Server) handleNFTOwnerOf(call *rpcCall) (interface{}, *RPCError) {
	var params nftOwnerParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	registry, rpcErr := s.registry(params.Registry)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.ownerResult(registry, params.AssetID)
}

func (s *Server) ownerResult(registry *nft.Registry, rawID string) (interface{}, *RPCError) {
	assetID, err := parseUintParam("assetId", rawID)
	if err != nil {
		return nil, invalidParams(err)
	}
	owner, err := registry.OwnerOf(assetID)
	if err != nil {
		return nil, assetError(err)
	}
	result := nftOwnerResult{
		Registry: crypto.FormatAddress(registry.Address()),
		AssetID:  assetID.String(),
		Owner:    crypto.FormatAddress(owner),
	}
	approved, err := registry.GetApproved(assetID)
	if err != nil {
		return nil, assetError(err)
	}
	if approved != ([20]byte{}) {
		result.Approved = crypto.FormatAddress(approved)
	}
	return result, nil
}

func (s *Server) handleBankBalance(call *rpcCall) (interface{}, *RPCError) {
	var params bankBalanceParams
	if rpcErr := decodeParams(call.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := parseAddressParam("address", params.Address)
	if err != nil {
		return nil, invalidParams(err)
	}
	balance, err := s.vault.Balance(addr)
	if err != nil {
		return nil, newRPCError(http.StatusInternalServerError, codeInternal, "internal_error", err.Error())
	}
	return bankBalanceResult{Address: crypto.FormatAddress(addr), Balance: balance.String()}, nil
}

func assetError(err error) *RPCError {
	data := err.Error()
	switch {
	case errors.Is(err, nft.ErrAssetNotFound):
		return newRPCError(http.StatusNotFound, codeNotFound, "not_found", data)
	case errors.Is(err, nft.ErrNotOwner), errors.Is(err, nft.ErrNotApproved):
		return newRPCError(http.StatusForbidden, codeForbidden, "forbidden", data)
	default:
		return newRPCError(http.StatusBadRequest, codeInvalidParams, "invalid_params", data)
	}
}

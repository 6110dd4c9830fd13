package escrow

import "math/big"

// AssetCustody moves a uniquely identified asset between two holders. The
// operator must be the current holder or approved by it.
type AssetCustody interface {
	TransferFrom(operator, from, to [20]byte, assetID *big.Int) error
}

// CustodyDirectory resolves the custody collaborator for an asset registry
// address.
type CustodyDirectory interface {
	Custody(registry [20]byte) (AssetCustody, bool)
}

// ValueTransfer moves native currency between holders. Send reports a
// rejected or unfunded transfer as an error and never panics.
type ValueTransfer interface {
	Send(from, to [20]byte, amount *big.Int) error
	Balance(addr [20]byte) (*big.Int, error)
}

type ledgerState interface {
	AgreementPut(*Agreement) error
	AgreementGet(id [32]byte) (*Agreement, bool, error)
	IdentifierUsed(id [32]byte) (bool, error)
	MarkIdentifierUsed(id [32]byte) error
	FeePercent() (uint8, error)
	SetFeePercent(uint8) error
}

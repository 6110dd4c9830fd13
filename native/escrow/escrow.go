// Package escrow implements the custody ledger that holds a single
// non-fungible asset per agreement and releases it to the paying buyer or back
// to the seller.
package escrow

import "time"

const (
	// AgreementWindow is the fixed lifetime of a pending agreement.
	AgreementWindow = 24 * time.Hour

	// FeeDenominator expresses the fee as an integer percentage.
	FeeDenominator = 100

	// MaxFeePercent is the highest fee the administrator may configure.
	MaxFeePercent = 100
)

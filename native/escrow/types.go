package escrow

import (
	"fmt"
	"math/big"
)

// Status represents the lifecycle state of an agreement.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusAccepted
	StatusRejected
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Agreement captures a single asset-for-payment exchange held by the ledger.
// Price and the participants are fixed at creation; only Status and SettledAt
// change, and only once.
type Agreement struct {
	ID            [32]byte
	AssetID       *big.Int
	Price         *big.Int
	AssetRegistry [20]byte
	Buyer         [20]byte
	Seller        [20]byte
	Deadline      int64
	CreatedAt     int64
	SettledAt     int64
	Status        Status
}

// Clone returns a deep copy of the agreement so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	clone.AssetID = cloneBigInt(a.AssetID)
	clone.Price = cloneBigInt(a.Price)
	return &clone
}

// SanitizeAgreement validates a stored or decoded agreement and returns a
// clone with non-nil amounts. The original value is not mutated.
func SanitizeAgreement(a *Agreement) (*Agreement, error) {
	if a == nil {
		return nil, fmt.Errorf("nil agreement")
	}
	clone := a.Clone()
	if clone.AssetID.Sign() < 0 {
		return nil, fmt.Errorf("agreement asset id must be non-negative")
	}
	if clone.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid agreement status: %d", clone.Status)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

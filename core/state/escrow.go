package state

import (
	"fmt"
	"math/big"

	"nftescrow/native/escrow"
)

var (
	agreementPrefix    = []byte("escrow/agreement/")
	usedIdentifierPref = []byte("escrow/used/")
	feePercentKey      = []byte("escrow/fee-percent")
)

// DefaultFeePercent is the fee installed when a fresh store is initialised.
const DefaultFeePercent uint8 = 2

type storedAgreement struct {
	ID            [32]byte
	AssetID       *big.Int
	Price         *big.Int
	AssetRegistry [20]byte
	Buyer         [20]byte
	Seller        [20]byte
	Deadline      uint64
	CreatedAt     uint64
	SettledAt     uint64
	Status        uint8
}

func newStoredAgreement(a *escrow.Agreement) *storedAgreement {
	return &storedAgreement{
		ID:            a.ID,
		AssetID:       new(big.Int).Set(a.AssetID),
		Price:         new(big.Int).Set(a.Price),
		AssetRegistry: a.AssetRegistry,
		Buyer:         a.Buyer,
		Seller:        a.Seller,
		Deadline:      uint64(a.Deadline),
		CreatedAt:     uint64(a.CreatedAt),
		SettledAt:     uint64(a.SettledAt),
		Status:        uint8(a.Status),
	}
}

func (s *storedAgreement) toAgreement() *escrow.Agreement {
	return &escrow.Agreement{
		ID:            s.ID,
		AssetID:       s.AssetID,
		Price:         s.Price,
		AssetRegistry: s.AssetRegistry,
		Buyer:         s.Buyer,
		Seller:        s.Seller,
		Deadline:      int64(s.Deadline),
		CreatedAt:     int64(s.CreatedAt),
		SettledAt:     int64(s.SettledAt),
		Status:        escrow.Status(s.Status),
	}
}

func agreementKey(id [32]byte) []byte {
	return prefixedKey(agreementPrefix, id[:])
}

func usedIdentifierKey(id [32]byte) []byte {
	return prefixedKey(usedIdentifierPref, id[:])
}

// AgreementPut validates and stores the agreement, replacing any previous
// record under the same identifier.
func (m *Manager) AgreementPut(a *escrow.Agreement) error {
	sanitized, err := escrow.SanitizeAgreement(a)
	if err != nil {
		return err
	}
	if sanitized.Deadline < 0 || sanitized.CreatedAt < 0 || sanitized.SettledAt < 0 {
		return fmt.Errorf("escrow: negative timestamp")
	}
	return m.KVPut(agreementKey(sanitized.ID), newStoredAgreement(sanitized))
}

// AgreementGet loads the agreement stored under id.
func (m *Manager) AgreementGet(id [32]byte) (*escrow.Agreement, bool, error) {
	var stored storedAgreement
	ok, err := m.KVGet(agreementKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	agreement, err := escrow.SanitizeAgreement(stored.toAgreement())
	if err != nil {
		return nil, false, fmt.Errorf("escrow: corrupt agreement record: %w", err)
	}
	return agreement, true, nil
}

// IdentifierUsed reports whether id was ever opened.
func (m *Manager) IdentifierUsed(id [32]byte) (bool, error) {
	return m.KVHas(usedIdentifierKey(id))
}

// MarkIdentifierUsed records id as consumed. The mark is never cleared.
func (m *Manager) MarkIdentifierUsed(id [32]byte) error {
	return m.KVPut(usedIdentifierKey(id), true)
}

// FeePercent returns the stored fee percentage.
func (m *Manager) FeePercent() (uint8, error) {
	var value uint8
	ok, err := m.KVGet(feePercentKey, &value)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultFeePercent, nil
	}
	return value, nil
}

// SetFeePercent persists the fee percentage.
func (m *Manager) SetFeePercent(value uint8) error {
	if value > escrow.MaxFeePercent {
		return fmt.Errorf("%w: %d", escrow.ErrInvalidFee, value)
	}
	return m.KVPut(feePercentKey, value)
}

// EnsureFeePercent writes value only when no fee has been stored yet so a
// restarted daemon keeps the administrator's last setting.
func (m *Manager) EnsureFeePercent(value uint8) error {
	ok, err := m.KVHas(feePercentKey)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return m.SetFeePercent(value)
}

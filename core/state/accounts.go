package state

import (
	"fmt"
	"math/big"
)

var (
	balancePrefix        = []byte("balance:")
	assetOwnerPrefix     = []byte("asset/owner/")
	assetApprovalPrefix  = []byte("asset/approval/")
	operatorApprovalPref = []byte("asset/operator/")
)

func balanceKey(addr [20]byte) []byte {
	return prefixedKey(balancePrefix, addr[:])
}

func assetKey(prefix []byte, registry [20]byte, assetID *big.Int) []byte {
	var id [32]byte
	assetID.FillBytes(id[:])
	return prefixedKey(prefix, registry[:], id[:])
}

func validAssetID(assetID *big.Int) error {
	if assetID == nil || assetID.Sign() < 0 || assetID.BitLen() > 256 {
		return fmt.Errorf("asset id must be a non-negative 256-bit integer")
	}
	return nil
}

// Balance returns the native balance of addr. Unknown accounts hold zero.
func (m *Manager) Balance(addr [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetBalance overwrites the native balance of addr.
func (m *Manager) SetBalance(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("balance must be non-negative")
	}
	return m.KVPut(balanceKey(addr), amount)
}

// AssetOwner returns the holder of assetID within registry.
func (m *Manager) AssetOwner(registry [20]byte, assetID *big.Int) ([20]byte, bool, error) {
	var owner [20]byte
	if err := validAssetID(assetID); err != nil {
		return owner, false, err
	}
	ok, err := m.KVGet(assetKey(assetOwnerPrefix, registry, assetID), &owner)
	return owner, ok, err
}

// SetAssetOwner records owner as the holder of assetID within registry.
func (m *Manager) SetAssetOwner(registry [20]byte, assetID *big.Int, owner [20]byte) error {
	if err := validAssetID(assetID); err != nil {
		return err
	}
	return m.KVPut(assetKey(assetOwnerPrefix, registry, assetID), owner)
}

// AssetApproval returns the single address approved to move assetID. The zero
// address means no approval is set.
func (m *Manager) AssetApproval(registry [20]byte, assetID *big.Int) ([20]byte, error) {
	var approved [20]byte
	if err := validAssetID(assetID); err != nil {
		return approved, err
	}
	_, err := m.KVGet(assetKey(assetApprovalPrefix, registry, assetID), &approved)
	return approved, err
}

// SetAssetApproval replaces the approval for assetID. Passing the zero address
// clears it.
func (m *Manager) SetAssetApproval(registry [20]byte, assetID *big.Int, approved [20]byte) error {
	if err := validAssetID(assetID); err != nil {
		return err
	}
	return m.KVPut(assetKey(assetApprovalPrefix, registry, assetID), approved)
}

// OperatorApproved reports whether operator may move every asset owner holds
// within registry.
func (m *Manager) OperatorApproved(registry, owner, operator [20]byte) (bool, error) {
	var approved bool
	_, err := m.KVGet(prefixedKey(operatorApprovalPref, registry[:], owner[:], operator[:]), &approved)
	return approved, err
}

// SetOperatorApproval grants or revokes blanket approval for operator.
func (m *Manager) SetOperatorApproval(registry, owner, operator [20]byte, approved bool) error {
	return m.KVPut(prefixedKey(operatorApprovalPref, registry[:], owner[:], operator[:]), approved)
}

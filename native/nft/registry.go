// Package nft provides an in-process registry of uniquely identified assets
// with owner and operator approvals. It stands in for an external asset
// contract so the escrow ledger can run as a self-contained devnet.
package nft

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrAssetNotFound     = errors.New("nft: asset does not exist")
	ErrAssetExists       = errors.New("nft: asset already minted")
	ErrNotOwner          = errors.New("nft: sender does not own asset")
	ErrNotApproved       = errors.New("nft: operator not approved")
	ErrInvalidRecipient  = errors.New("nft: invalid recipient")
	ErrRecipientRejected = errors.New("nft: recipient rejected asset")
)

// Store persists ownership and approvals.
type Store interface {
	AssetOwner(registry [20]byte, assetID *big.Int) ([20]byte, bool, error)
	SetAssetOwner(registry [20]byte, assetID *big.Int, owner [20]byte) error
	AssetApproval(registry [20]byte, assetID *big.Int) ([20]byte, error)
	SetAssetApproval(registry [20]byte, assetID *big.Int, approved [20]byte) error
	OperatorApproved(registry, owner, operator [20]byte) (bool, error)
	SetOperatorApproval(registry, owner, operator [20]byte, approved bool) error
}

// ReceiveHook runs after an asset has been assigned to its new holder.
// Returning an error reverts the transfer.
type ReceiveHook func(operator, from [20]byte, assetID *big.Int) error

// Registry tracks ownership of the assets minted under one registry address.
type Registry struct {
	address [20]byte
	name    string
	store   Store
	hooks   map[[20]byte]ReceiveHook
}

// NewRegistry creates a registry identified by address.
func NewRegistry(address [20]byte, name string, store Store) *Registry {
	return &Registry{
		address: address,
		name:    name,
		store:   store,
		hooks:   make(map[[20]byte]ReceiveHook),
	}
}

func (r *Registry) Address() [20]byte { return r.address }

func (r *Registry) Name() string { return r.name }

// SetReceiveHook installs hook for holder. A nil hook removes it.
func (r *Registry) SetReceiveHook(holder [20]byte, hook ReceiveHook) {
	if hook == nil {
		delete(r.hooks, holder)
		return
	}
	r.hooks[holder] = hook
}

// Seed assigns a fresh asset to owner. Only genesis loading calls it.
func (r *Registry) Seed(owner [20]byte, assetID *big.Int) error {
	if owner == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	_, exists, err := r.store.AssetOwner(r.address, assetID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, assetID)
	}
	return r.store.SetAssetOwner(r.address, assetID, owner)
}

// OwnerOf returns the current holder of assetID.
func (r *Registry) OwnerOf(assetID *big.Int) ([20]byte, error) {
	owner, ok, err := r.store.AssetOwner(r.address, assetID)
	if err != nil {
		return owner, err
	}
	if !ok {
		return owner, fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	return owner, nil
}

// Approve lets operator move assetID once. The caller must own the asset or
// hold blanket approval from its owner.
func (r *Registry) Approve(caller [20]byte, assetID *big.Int, operator [20]byte) error {
	owner, err := r.OwnerOf(assetID)
	if err != nil {
		return err
	}
	if caller != owner {
		allowed, err := r.store.OperatorApproved(r.address, owner, caller)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrNotOwner
		}
	}
	return r.store.SetAssetApproval(r.address, assetID, operator)
}

// GetApproved returns the single-asset approval, or the zero address.
func (r *Registry) GetApproved(assetID *big.Int) ([20]byte, error) {
	if _, err := r.OwnerOf(assetID); err != nil {
		return [20]byte{}, err
	}
	return r.store.AssetApproval(r.address, assetID)
}

// SetApprovalForAll grants or revokes operator's right to move every asset the
// caller holds.
func (r *Registry) SetApprovalForAll(caller, operator [20]byte, approved bool) error {
	if operator == caller {
		return fmt.Errorf("nft: cannot approve self as operator")
	}
	return r.store.SetOperatorApproval(r.address, caller, operator, approved)
}

func (r *Registry) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	return r.store.OperatorApproved(r.address, owner, operator)
}

// TransferFrom moves assetID from its holder to a new one on behalf of
// operator. The single-asset approval is cleared on every transfer.
func (r *Registry) TransferFrom(operator, from, to [20]byte, assetID *big.Int) error {
	if to == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	owner, err := r.OwnerOf(assetID)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: %s", ErrNotOwner, assetID)
	}
	approved, err := r.store.AssetApproval(r.address, assetID)
	if err != nil {
		return err
	}
	if operator != from && operator != approved {
		allowed, err := r.store.OperatorApproved(r.address, from, operator)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s", ErrNotApproved, assetID)
		}
	}
	if err := r.store.SetAssetApproval(r.address, assetID, [20]byte{}); err != nil {
		return err
	}
	if err := r.store.SetAssetOwner(r.address, assetID, to); err != nil {
		return err
	}
	if hook, ok := r.hooks[to]; ok {
		if err := hook(operator, from, new(big.Int).Set(assetID)); err != nil {
			_ = r.store.SetAssetOwner(r.address, assetID, from)
			_ = r.store.SetAssetApproval(r.address, assetID, approved)
			return fmt.Errorf("%w: %w", ErrRecipientRejected, err)
		}
	}
	return nil
}

// RejectAll is a receive hook for holders that refuse every asset.
func RejectAll(reason string) ReceiveHook {
	return func([20]byte, [20]byte, *big.Int) error {
		return errors.New(reason)
	}
}

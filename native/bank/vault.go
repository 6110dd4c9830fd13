package bank

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be non-negative")
	ErrRecipientRejected   = errors.New("bank: recipient rejected transfer")
)

// Store persists native balances.
type Store interface {
	Balance(addr [20]byte) (*big.Int, error)
	SetBalance(addr [20]byte, amount *big.Int) error
}

// ReceiveHook runs after a recipient has been credited. Returning an error
// reverts the transfer. Hooks may call back into other components.
type ReceiveHook func(from [20]byte, amount *big.Int) error

// Vault moves native currency between accounts. It is not safe for concurrent
// use; callers serialize access.
type Vault struct {
	store Store
	hooks map[[20]byte]ReceiveHook
}

// NewVault creates a vault over the provided balance store.
func NewVault(store Store) *Vault {
	return &Vault{store: store, hooks: make(map[[20]byte]ReceiveHook)}
}

// SetReceiveHook installs hook for addr. A nil hook removes it.
func (v *Vault) SetReceiveHook(addr [20]byte, hook ReceiveHook) {
	if hook == nil {
		delete(v.hooks, addr)
		return
	}
	v.hooks[addr] = hook
}

// Balance returns the balance held by addr.
func (v *Vault) Balance(addr [20]byte) (*big.Int, error) {
	if v == nil || v.store == nil {
		return nil, fmt.Errorf("bank: vault not initialised")
	}
	return v.store.Balance(addr)
}

// Credit adds amount to addr without a counterparty. It is used to seed
// genesis balances only.
func (v *Vault) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	current, err := v.Balance(addr)
	if err != nil {
		return err
	}
	return v.store.SetBalance(addr, new(big.Int).Add(current, amount))
}

// Send moves amount from one account to another and then runs the recipient's
// receive hook. When the hook fails both balances are restored.
func (v *Vault) Send(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromBal, err := v.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	if from == to || amount.Sign() == 0 {
		return v.runHook(from, to, amount)
	}
	toBal, err := v.store.Balance(to)
	if err != nil {
		return err
	}
	if err := v.store.SetBalance(from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := v.store.SetBalance(to, new(big.Int).Add(toBal, amount)); err != nil {
		_ = v.store.SetBalance(from, fromBal)
		return err
	}
	if err := v.runHook(from, to, amount); err != nil {
		// Side effects of the hook itself are not undone.
		_ = v.store.SetBalance(to, toBal)
		_ = v.store.SetBalance(from, fromBal)
		return err
	}
	return nil
}

func (v *Vault) runHook(from, to [20]byte, amount *big.Int) error {
	hook, ok := v.hooks[to]
	if !ok {
		return nil
	}
	if err := hook(from, new(big.Int).Set(amount)); err != nil {
		return fmt.Errorf("%w: %w", ErrRecipientRejected, err)
	}
	return nil
}

// RejectAll is a receive hook for accounts that refuse every incoming payment.
func RejectAll(reason string) ReceiveHook {
	return func([20]byte, *big.Int) error {
		return errors.New(reason)
	}
}

package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"nftescrow/core/events"
	"nftescrow/core/types"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Ledger holds escrowed assets under agreement identifiers and resolves each
// agreement exactly once. It holds no lock: callers must serialize mutating
// calls. Every resolving operation persists the terminal status before any
// outbound value or custody transfer so a collaborator that re-enters the
// ledger from a transfer callback observes a non-pending agreement.
type Ledger struct {
	address [20]byte
	admin   [20]byte
	state   ledgerState
	custody CustodyDirectory
	value   ValueTransfer
	emitter events.Emitter
	nowFn   func() int64
}

// NewLedger creates a ledger that takes custody under address and accepts
// administrative calls only from admin. State and collaborators are attached
// with the Set* methods before use.
func NewLedger(address, admin [20]byte) *Ledger {
	return &Ledger{
		address: address,
		admin:   admin,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetCustody configures the directory used to reach asset registries.
func (l *Ledger) SetCustody(directory CustodyDirectory) { l.custody = directory }

// SetValueTransfer configures the native currency collaborator.
func (l *Ledger) SetValueTransfer(value ValueTransfer) { l.value = value }

// SetNowFunc overrides the time source used by the ledger. Primarily intended
// for tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Address returns the identity under which the ledger holds custody.
func (l *Ledger) Address() [20]byte { return l.address }

// Admin returns the administrator fixed at construction.
func (l *Ledger) Admin() [20]byte { return l.admin }

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(escrowEvent{evt: event})
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil || l.custody == nil || l.value == nil {
		return ErrNotConfigured
	}
	return nil
}

func (l *Ledger) loadAgreement(id [32]byte) (*Agreement, error) {
	agreement, ok, err := l.state.AgreementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAgreementNotFound
	}
	return agreement, nil
}

func (l *Ledger) moveAsset(registry [20]byte, assetID *big.Int, from, to [20]byte) error {
	custody, ok := l.custody.Custody(registry)
	if !ok || custody == nil {
		return fmt.Errorf("%w: unknown asset registry", ErrCustodyTransferDenied)
	}
	if err := custody.TransferFrom(l.address, from, to, cloneBigInt(assetID)); err != nil {
		return fmt.Errorf("%w: %w", ErrCustodyTransferDenied, err)
	}
	return nil
}

// Agreement returns a copy of the stored agreement.
func (l *Ledger) Agreement(id [32]byte) (*Agreement, error) {
	if l == nil || l.state == nil {
		return nil, ErrNotConfigured
	}
	agreement, err := l.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	return agreement.Clone(), nil
}

// IdentifierUsed reports whether the identifier was ever opened.
func (l *Ledger) IdentifierUsed(id [32]byte) (bool, error) {
	if l == nil || l.state == nil {
		return false, ErrNotConfigured
	}
	return l.state.IdentifierUsed(id)
}

// FeePercent returns the fee applied to the next payment settlement.
func (l *Ledger) FeePercent() (uint8, error) {
	if l == nil || l.state == nil {
		return 0, ErrNotConfigured
	}
	return l.state.FeePercent()
}

// Open takes custody of assetID from the caller and records a pending
// agreement that the buyer can settle until the deadline one day from now.
func (l *Ledger) Open(caller [20]byte, id [32]byte, assetID, price *big.Int, assetRegistry, buyer [20]byte) (*Agreement, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	used, err := l.state.IdentifierUsed(id)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrIdentifierReused
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if assetID == nil || assetID.Sign() < 0 {
		return nil, ErrInvalidAssetID
	}
	if assetRegistry == ([20]byte{}) {
		return nil, fmt.Errorf("%w: asset registry", ErrInvalidAddress)
	}
	if buyer == ([20]byte{}) {
		return nil, fmt.Errorf("%w: buyer", ErrInvalidAddress)
	}
	if err := l.moveAsset(assetRegistry, assetID, caller, l.address); err != nil {
		return nil, err
	}
	now := l.now()
	agreement := &Agreement{
		ID:            id,
		AssetID:       cloneBigInt(assetID),
		Price:         cloneBigInt(price),
		AssetRegistry: assetRegistry,
		Buyer:         buyer,
		Seller:        caller,
		Deadline:      now + int64(AgreementWindow/time.Second),
		CreatedAt:     now,
		Status:        StatusPending,
	}
	if err := l.state.MarkIdentifierUsed(id); err != nil {
		return nil, l.restoreAsset(id, assetRegistry, assetID, caller, err)
	}
	if err := l.state.AgreementPut(agreement); err != nil {
		return nil, l.restoreAsset(id, assetRegistry, assetID, caller, err)
	}
	l.emit(NewOpenedEvent(agreement))
	return agreement.Clone(), nil
}

// restoreAsset hands the asset back after a failed open and returns cause,
// joined with the return failure if the asset could not be handed back. The
// identifier may already be marked used; it is never reopened either way.
func (l *Ledger) restoreAsset(id [32]byte, registry [20]byte, assetID *big.Int, seller [20]byte, cause error) error {
	if err := l.moveAsset(registry, assetID, l.address, seller); err != nil {
		l.emit(NewSettlementIncompleteEvent(id, LegAsset, err))
		return errors.Join(cause, err)
	}
	return cause
}

// Pay settles the agreement for the buyer. value is the payment attached to
// the call and must equal the agreed price. Once the status is Accepted a
// failed payout or asset delivery is reported but not rolled back.
func (l *Ledger) Pay(caller [20]byte, id [32]byte, value *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	agreement, err := l.loadAgreement(id)
	if err != nil {
		return err
	}
	now := l.now()
	if err := guard(agreement, RoleBuyer, caller, now); err != nil {
		return err
	}
	amount := cloneBigInt(value)
	if amount.Cmp(agreement.Price) != 0 {
		return fmt.Errorf("%w: got %s, want %s", ErrIncorrectPayment, amount, agreement.Price)
	}
	feePercent, err := l.state.FeePercent()
	if err != nil {
		return err
	}
	_, payout := SplitPayment(amount, feePercent)

	if err := l.value.Send(caller, l.address, amount); err != nil {
		return fmt.Errorf("%w: collect payment: %w", ErrTransferFailed, err)
	}

	agreement.Status = StatusAccepted
	agreement.SettledAt = now
	if err := l.state.AgreementPut(agreement); err != nil {
		if refundErr := l.value.Send(l.address, caller, amount); refundErr != nil {
			l.emit(NewSettlementIncompleteEvent(id, LegRefund, refundErr))
			return errors.Join(err, fmt.Errorf("%w: refund buyer: %w", ErrTransferFailed, refundErr))
		}
		return err
	}

	if payout.Sign() > 0 {
		if err := l.value.Send(l.address, agreement.Seller, payout); err != nil {
			l.emit(NewSettlementIncompleteEvent(id, LegPayout, err))
			return fmt.Errorf("%w: payout to seller: %w", ErrTransferFailed, err)
		}
	}
	if err := l.moveAsset(agreement.AssetRegistry, agreement.AssetID, l.address, agreement.Buyer); err != nil {
		l.emit(NewSettlementIncompleteEvent(id, LegAsset, err))
		return err
	}
	l.emit(NewPaidEvent(agreement, now))
	return nil
}

// Cancel returns the asset to the seller once the deadline has passed without
// the buyer acting. If the seller refuses the asset the agreement stays
// pending and the call can be retried.
func (l *Ledger) Cancel(caller [20]byte, id [32]byte) error {
	return l.release(caller, id, RoleSeller, StatusCancelled, NewCancelledEvent)
}

// Reject lets the buyer decline a live agreement; the asset goes back to the
// seller and no fee applies.
func (l *Ledger) Reject(caller [20]byte, id [32]byte) error {
	return l.release(caller, id, RoleBuyer, StatusRejected, NewRejectedEvent)
}

func (l *Ledger) release(caller [20]byte, id [32]byte, role Role, status Status, eventFn func(*Agreement) *types.Event) error {
	if err := l.ready(); err != nil {
		return err
	}
	agreement, err := l.loadAgreement(id)
	if err != nil {
		return err
	}
	now := l.now()
	if err := guard(agreement, role, caller, now); err != nil {
		return err
	}
	agreement.Status = status
	agreement.SettledAt = now
	if err := l.state.AgreementPut(agreement); err != nil {
		return err
	}
	if err := l.moveAsset(agreement.AssetRegistry, agreement.AssetID, l.address, agreement.Seller); err != nil {
		agreement.Status = StatusPending
		agreement.SettledAt = 0
		if putErr := l.state.AgreementPut(agreement); putErr != nil {
			return errors.Join(err, putErr)
		}
		return err
	}
	l.emit(eventFn(agreement))
	return nil
}

// SetFeePercent updates the fee applied to subsequent payment settlements.
func (l *Ledger) SetFeePercent(caller [20]byte, value uint8) error {
	if l == nil || l.state == nil {
		return ErrNotConfigured
	}
	if caller != l.admin {
		return ErrUnauthorized
	}
	if value > MaxFeePercent {
		return fmt.Errorf("%w: %d", ErrInvalidFee, value)
	}
	previous, err := l.state.FeePercent()
	if err != nil {
		return err
	}
	if err := l.state.SetFeePercent(value); err != nil {
		return err
	}
	l.emit(NewFeeUpdatedEvent(previous, value))
	return nil
}

// WithdrawFees sweeps the ledger's entire native balance to the administrator
// and returns the amount moved.
func (l *Ledger) WithdrawFees(caller [20]byte) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if caller != l.admin {
		return nil, ErrUnauthorized
	}
	balance, err := l.value.Balance(l.address)
	if err != nil {
		return nil, err
	}
	amount := cloneBigInt(balance)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := l.value.Send(l.address, caller, amount); err != nil {
		return nil, fmt.Errorf("%w: withdraw: %w", ErrTransferFailed, err)
	}
	l.emit(NewFeesWithdrawnEvent(caller, amount))
	return amount, nil
}

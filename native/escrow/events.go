package escrow

import (
	"math/big"
	"strconv"

	"nftescrow/core/types"
	"nftescrow/crypto"
)

const (
	EventTypeAgreementOpened      = "escrow.agreement.opened"
	EventTypeAgreementPaid        = "escrow.agreement.paid"
	EventTypeAgreementCancelled   = "escrow.agreement.cancelled"
	EventTypeAgreementRejected    = "escrow.agreement.rejected"
	EventTypeSettlementIncomplete = "escrow.settlement.incomplete"
	EventTypeFeeUpdated           = "escrow.fee.updated"
	EventTypeFeesWithdrawn        = "escrow.fees.withdrawn"
)

// Settlement legs reported by NewSettlementIncompleteEvent.
const (
	LegPayout = "payout"
	LegAsset  = "asset"
	LegRefund = "refund"
)

// NewOpenedEvent returns the canonical payload for a newly opened agreement.
func NewOpenedEvent(a *Agreement) *types.Event {
	return newCustodyEvent(EventTypeAgreementOpened, a)
}

// NewCancelledEvent returns the payload emitted when the seller reclaims the
// asset after the deadline.
func NewCancelledEvent(a *Agreement) *types.Event {
	return newCustodyEvent(EventTypeAgreementCancelled, a)
}

// NewRejectedEvent returns the payload emitted when the buyer declines.
func NewRejectedEvent(a *Agreement) *types.Event {
	return newCustodyEvent(EventTypeAgreementRejected, a)
}

// NewPaidEvent returns the payload emitted once payment settled the
// agreement and the asset reached the buyer.
func NewPaidEvent(a *Agreement, timestamp int64) *types.Event {
	attrs := make(map[string]string)
	if a != nil {
		attrs["id"] = FormatID(a.ID)
		attrs["timestamp"] = strconv.FormatInt(timestamp, 10)
		attrs["assetId"] = cloneBigInt(a.AssetID).String()
		attrs["price"] = cloneBigInt(a.Price).String()
	}
	return &types.Event{Type: EventTypeAgreementPaid, Attributes: attrs}
}

// NewSettlementIncompleteEvent reports an outbound leg that failed while the
// ledger held the buyer's funds or the seller's asset. Observers use it to
// resolve the stuck funds or asset out of band.
func NewSettlementIncompleteEvent(id [32]byte, leg string, cause error) *types.Event {
	attrs := map[string]string{
		"id":  FormatID(id),
		"leg": leg,
	}
	if cause != nil {
		attrs["error"] = cause.Error()
	}
	return &types.Event{Type: EventTypeSettlementIncomplete, Attributes: attrs}
}

func NewFeeUpdatedEvent(previous, current uint8) *types.Event {
	return &types.Event{
		Type: EventTypeFeeUpdated,
		Attributes: map[string]string{
			"previous": strconv.FormatUint(uint64(previous), 10),
			"current":  strconv.FormatUint(uint64(current), 10),
		},
	}
}

func NewFeesWithdrawnEvent(recipient [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFeesWithdrawn,
		Attributes: map[string]string{
			"recipient": crypto.FormatAddress(recipient),
			"amount":    cloneBigInt(amount).String(),
		},
	}
}

func newCustodyEvent(eventType string, a *Agreement) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = FormatID(a.ID)
	attrs["assetId"] = cloneBigInt(a.AssetID).String()
	attrs["price"] = cloneBigInt(a.Price).String()
	attrs["assetRegistry"] = crypto.FormatAddress(a.AssetRegistry)
	return &types.Event{Type: eventType, Attributes: attrs}
}

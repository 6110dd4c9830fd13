package escrow

import "errors"

var (
	ErrIdentifierReused      = errors.New("escrow: identifier already used")
	ErrInvalidPrice          = errors.New("escrow: price must be positive")
	ErrInvalidAssetID        = errors.New("escrow: asset id must be non-negative")
	ErrInvalidAddress        = errors.New("escrow: null address")
	ErrCustodyTransferDenied = errors.New("escrow: custody transfer denied")
	ErrNotAuthorized         = errors.New("escrow: caller is not a party to the agreement")
	ErrDeadlineExpired       = errors.New("escrow: deadline expired")
	ErrDeadlineNotReached    = errors.New("escrow: deadline not reached")
	ErrNotPending            = errors.New("escrow: agreement not pending")
	ErrTransferFailed        = errors.New("escrow: value transfer failed")
	ErrUnauthorized          = errors.New("escrow: administrator only")

	ErrAgreementNotFound = errors.New("escrow: agreement not found")
	ErrIncorrectPayment  = errors.New("escrow: payment does not match price")
	ErrInvalidFee        = errors.New("escrow: fee percentage out of range")
	ErrNotConfigured     = errors.New("escrow: ledger not configured")
)

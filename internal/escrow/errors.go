package escrow

import "errors"

var (
	ErrNotFound               = errors.New("escrow not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrUnsupportedCurrency    = errors.New("unsupported currency")
	ErrFundingMismatch        = errors.New("funding proof amount mismatch")
	ErrDuplicateSignature     = errors.New("duplicate signature")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrDisputeAlreadyOpen     = errors.New("dispute already open")
	ErrNoOpenDispute          = errors.New("no open dispute")

	// ErrSettlementFailed is retryable: escrow state is left unchanged
	ErrSettlementFailed = errors.New("settlement failed")
)

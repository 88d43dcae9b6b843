package models

import "errors"

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTraderNotFound      = errors.New("trader not found")
	ErrMerchantNotFound    = errors.New("merchant not found")
	ErrMethodNotFound      = errors.New("method not found")
	ErrDeviceNotFound      = errors.New("device not found")

	// ErrPreconditionFailed means a status compare-and-set lost to a
	// concurrent transition: the stored status moved off the value the
	// caller loaded before its plan could commit.
	ErrPreconditionFailed = errors.New("status precondition failed")

	// ErrInvariantViolation means a balance adjustment would drive a
	// guarded field negative; the whole settlement rolled back.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	ErrInsufficientBalance = errors.New("insufficient trader balance")
)

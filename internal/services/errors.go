package services

import "errors"

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrHolderNotFound         = errors.New("holder not found")
	ErrObligationNotFound     = errors.New("obligation not found")
	ErrSessionNotFound        = errors.New("reward session not found")
	ErrSessionInactive        = errors.New("reward session is not active")
	ErrAlreadyConsolidated    = errors.New("user deposits already consolidated")
	ErrNothingToConsolidate   = errors.New("no deposits to consolidate")
	ErrCapInvariant           = errors.New("reward paid would exceed cap")
	ErrBonusNotActive         = errors.New("bonus credit is not active")
	ErrPaymentTooSmall        = errors.New("payment does not cover the daily fee")
	ErrTransferAlreadyApplied = errors.New("transfer already applied")
	ErrDuplicateDeposit       = errors.New("deposit transaction already registered")
	ErrReasonRequired         = errors.New("reason is required")
	ErrInvalidAmount          = errors.New("invalid amount")
)

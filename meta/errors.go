package meta

import "github.com/pkg/errors"

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUnknownAddress       = errors.New("unknown address")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrInvalidKey           = errors.New("invalid private key")
	ErrIdentityMismatch     = errors.New("identity does not match recipient")
	ErrNotificationExpired  = errors.New("notification has expired")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrAlreadyResponded     = errors.New("notification already responded")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already submitted")
	ErrChainIntegrity       = errors.New("chain integrity violation")
	ErrStaleBlock           = errors.New("block does not extend chain head")
	ErrMiningCancelled      = errors.New("mining cancelled")
	ErrInvalidDecision      = errors.New("decision must be accept or reject")
	ErrStakeTooLow          = errors.New("stake below minimum")
	ErrStaleTransaction     = errors.New("transaction timestamp is too old")
)

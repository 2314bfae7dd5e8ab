package contract

import "errors"

// Error kinds for the registry and ticket ledger. Every rejected operation
// wraps exactly one of these so callers can match with errors.Is. All are
// violated preconditions, terminal for the calling transaction.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrEventInactive       = errors.New("event inactive")
	ErrSoldOut             = errors.New("sold out")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInvalidOrUsedTicket = errors.New("invalid or used ticket")
)

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

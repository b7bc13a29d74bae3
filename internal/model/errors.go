package model

import "errors"

// Business and infrastructure error taxonomy. Callers branch on these with
// errors.Is; wrapped messages carry the human-readable detail.
var (
	// ErrInvalidRequest marks a malformed quantity or symbol. Recoverable
	// by the caller correcting the request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInsufficientFunds rejects a buy whose cost exceeds current cash.
	// No margin orders allowed.
	ErrInsufficientFunds = errors.New("insufficient cash")

	// ErrInsufficientHoldings rejects a sell larger than the held quantity.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrOrderNotFound means the order identifier is unknown.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAlreadyTerminal means the order is executed or cancelled and can
	// no longer change.
	ErrAlreadyTerminal = errors.New("order already terminal")

	// ErrQuoteUnavailable means the quote source could not price the symbol.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrStoreIO marks a persistence failure. The triggering operation did
	// not happen; in-memory state is only authoritative once a save lands.
	ErrStoreIO = errors.New("store i/o failure")
)

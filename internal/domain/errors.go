package domain

import "errors"

// Common lookup errors shared across the trade layer
var (
	// ErrNoTicker is returned when a pair has no ticker yet
	ErrNoTicker = errors.New("no ticker for pair")
	// ErrNoBalance is returned when an account holds no record for an asset
	ErrNoBalance = errors.New("no balance for asset")
)

// Package types holds the small value objects shared across modules.
package types

import "github.com/google/uuid"

// ID is the internal primary key for every entity.
type ID string

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Money is an amount in integer minor currency units (cents).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// USD wraps a cent amount in the platform currency.
func USD(cents int64) Money {
	return Money{Amount: cents, Currency: "usd"}
}

package types

import (
	"fmt"
	"math/rand"
	"time"
)

// Reference codes are the human-readable numbers shown to customers and
// providers (TOW-20250114-0042). They are unique in practice but nothing
// internal keys off them; internal identity is always the ID.

func NewRequestNumber() string { return refCode("TOW") }

func NewOfferNumber() string { return refCode("OFF") }

func NewJobNumber() string { return refCode("JOB") }

func refCode(prefix string) string {
	date := time.Now().UTC().Format("20060102")
	return fmt.Sprintf("%s-%s-%04d", prefix, date, rand.Intn(10000))
}

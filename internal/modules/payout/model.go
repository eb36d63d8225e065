// Package payout orchestrates money movement for finished jobs and
// keeps the provider-facing payout ledger.
package payout

import (
	"time"

	"towlink/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Method string

const (
	MethodStandard Method = "standard"
	MethodInstant  Method = "instant"
)

// Payout is one ledger row per transfer attempt. A failed transfer
// leaves a failed row behind so support can see what happened; the
// retry writes a fresh row.
type Payout struct {
	ID         types.ID
	JobID      types.ID
	ProviderID types.ID

	Amount int64 // cents
	Method Method
	Status Status

	TransferRef   string
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

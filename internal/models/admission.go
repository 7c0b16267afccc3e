package models

import (
	"time"

	"github.com/google/uuid"
)

// Admission is the audit record written when a participant is admitted and served.
type Admission struct {
	ID            uuid.UUID     `json:"id"`
	UserID        string        `json:"user_id"`
	Wallet        WalletAddress `json:"wallet"`
	CycleID       uuid.UUID     `json:"cycle_id"`
	Generation    uint64        `json:"generation"`
	TransactionID string        `json:"transaction_id"`
	AdmittedAt    time.Time     `json:"admitted_at"`
}

// CycleArchive is the summary of a finished cycle, written when the cycle is reset.
type CycleArchive struct {
	Cycle   PollCycle `json:"cycle"`
	Tally   PollTally `json:"tally"`
	ResetBy string    `json:"reset_by,omitempty"`
	ResetAt time.Time `json:"reset_at"`
}

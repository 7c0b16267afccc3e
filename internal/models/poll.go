package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRequirement is what a participant must pay to be admitted to a cycle.
type PaymentRequirement struct {
	Recipient string `json:"recipient"`
	// MinAmount is in base units: tinybars, or the token's smallest unit when TokenID is set,
	// in which case only transfers of that token count.
	MinAmount int64  `json:"min_amount"`
	TokenID   string `json:"token_id,omitempty"`
}

// PollCycle is one active voting round.
type PollCycle struct {
	ID          uuid.UUID          `json:"id"`
	Generation  uint64             `json:"generation"`
	Question    string             `json:"question"`
	Options     []string           `json:"options"`
	Description string             `json:"description,omitempty"`
	Requirement PaymentRequirement `json:"requirement"`
	// Watermark is the ledger consensus time at poll creation. Only payments at or
	// after it count for this cycle.
	Watermark time.Time `json:"watermark"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PollTally holds vote counts per option, in option order.
type PollTally struct {
	Generation uint64   `json:"generation"`
	Options    []string `json:"options"`
	Counts     []int    `json:"counts"`
	Paid       int      `json:"paid"`
	Served     int      `json:"served"`
	Voted      int      `json:"voted"`
}

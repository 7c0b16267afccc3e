package models

import "time"

// WalletAddress is a ledger account id in shard.realm.number form (e.g. 0.0.1234567).
type WalletAddress string

func (w WalletAddress) String() string { return string(w) }

// Wallet is a participant's registered sending wallet. Write-once per user.
type Wallet struct {
	UserID       string        `json:"user_id"`
	Address      WalletAddress `json:"address"`
	RegisteredAt time.Time     `json:"registered_at"`
}

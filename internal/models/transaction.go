package models

import "time"

// TransactionResultSuccess is the mirror node result code of an applied transaction.
const TransactionResultSuccess = "SUCCESS"

// Transfer is a native currency (tinybar) movement within a transaction.
// Amount is signed: negative for the sender, positive for the receiver.
type Transfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// TokenTransfer is a fungible token movement within a transaction.
type TokenTransfer struct {
	TokenID string `json:"token_id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Transaction is a read-only ledger transaction as reported by the mirror node.
type Transaction struct {
	ID             string          `json:"transaction_id"`
	Timestamp      time.Time       `json:"consensus_timestamp"`
	Result         string          `json:"result"`
	Transfers      []Transfer      `json:"transfers"`
	TokenTransfers []TokenTransfer `json:"token_transfers"`
}

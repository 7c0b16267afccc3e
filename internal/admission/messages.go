package admission

import (
	"fmt"

	"github.com/Slothbar/slothvote/config"
	"github.com/Slothbar/slothvote/internal/models"
)

// Outcome is the result of a verification request.
type Outcome string

const (
	OutcomeNoPollActive      Outcome = "no_poll_active"
	OutcomeNotRegistered     Outcome = "not_registered"
	OutcomeAlreadyAdmitted   Outcome = "already_admitted"
	OutcomeLedgerError       Outcome = "ledger_error"
	OutcomePaymentNotFound   Outcome = "payment_not_found"
	OutcomeAdmittedAndServed Outcome = "admitted_and_served"
	// OutcomeDeliveryFailed: payment confirmed, but the messenger refused the poll.
	// The user stays paid and a retry only re-attempts delivery.
	OutcomeDeliveryFailed Outcome = "delivery_failed"
)

// Delivery is the result of a poll delivery attempt.
type Delivery string

const (
	DeliveryDelivered     Delivery = "delivered"
	DeliveryAlreadyServed Delivery = "already_served"
	DeliveryNoPollActive  Delivery = "no_poll_active"
	DeliveryNotPaid       Delivery = "not_paid"
	DeliveryFailed        Delivery = "failed"
)

// Units describes how base-unit amounts are shown to participants.
type Units struct {
	Decimals int32
	Symbol   string
}

func (u Units) format(amount int64) string {
	return config.FormatAmount(amount, u.Decimals) + " " + u.Symbol
}

const (
	msgNoPollActive    = "There is no active poll right now."
	msgNotRegistered   = "Register your wallet first, for example: 0.0.1234567."
	msgInvalidWallet   = "That does not look like a wallet address. Use the form 0.0.1234567."
	msgLedgerError     = "Could not reach the ledger. Please try again in a moment."
	msgAlreadyAdmitted = "You have already received this poll."
	msgDeliveryFailed  = "Payment confirmed, but the poll could not be delivered. Request verification again to retry."
	msgVoteRecorded    = "Your vote has been recorded."
)

func msgAlreadyRegistered(w models.WalletAddress) string {
	return fmt.Sprintf("Your wallet %s is already registered.", w)
}

func msgRegistered(w models.WalletAddress, req models.PaymentRequirement, u Units) string {
	return fmt.Sprintf("Wallet %s registered. When a poll is active, send at least %s to %s, then request verification.",
		w, u.format(req.MinAmount), req.Recipient)
}

func msgPaymentNotFound(w models.WalletAddress, req models.PaymentRequirement, u Units) string {
	return fmt.Sprintf("No payment of at least %s from %s to %s was found since this poll started. Pay and try again.",
		u.format(req.MinAmount), w, req.Recipient)
}

func msgAdmitted(tx string) string {
	return fmt.Sprintf("Payment confirmed (transaction %s). Here is the poll.", tx)
}

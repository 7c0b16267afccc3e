package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/models"
)

// TransactionSource lists a wallet's recent transactions, newest first.
type TransactionSource interface {
	ListRecentTransactions(ctx context.Context, account string, limit int) ([]models.Transaction, error)
}

// PaymentQuery describes the payment a wallet must have made.
type PaymentQuery struct {
	Wallet      models.WalletAddress
	Requirement models.PaymentRequirement
	// Since is the cycle watermark. Older transactions never count.
	Since time.Time
	// Claimed reports transactions already used to admit someone else this cycle. Optional.
	Claimed func(txID string) bool
}

// Verifier checks the ledger for a qualifying payment. It never mutates anything.
type Verifier struct {
	source   TransactionSource
	pageSize int
	logger   *zap.Logger
}

// NewVerifier creates a verifier reading pageSize transactions per lookup.
func NewVerifier(source TransactionSource, pageSize int, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Verifier{source: source, pageSize: pageSize, logger: logger}
}

// HasQualifyingPayment returns the first transaction (newest first) that satisfies q.
// A lookup failure is returned as an error wrapping ErrUnavailable, never as false.
func (v *Verifier) HasQualifyingPayment(ctx context.Context, q PaymentQuery) (models.Transaction, bool, error) {
	txs, err := v.source.ListRecentTransactions(ctx, q.Wallet.String(), v.pageSize)
	if err != nil {
		return models.Transaction{}, false, err
	}
	for _, tx := range txs {
		if tx.Timestamp.Before(q.Since) {
			continue
		}
		if !Qualifies(tx, q.Requirement) {
			continue
		}
		if q.Claimed != nil && q.Claimed(tx.ID) {
			v.logger.Debug("skip claimed transaction", zap.String("transaction_id", tx.ID), zap.String("wallet", q.Wallet.String()))
			continue
		}
		return tx, true, nil
	}
	return models.Transaction{}, false, nil
}

// Qualifies reports whether tx moves at least req.MinAmount to req.Recipient. When
// req.TokenID is set the amount is in that token and only its transfers count;
// otherwise only native transfers count.
func Qualifies(tx models.Transaction, req models.PaymentRequirement) bool {
	if tx.Result != "" && tx.Result != models.TransactionResultSuccess {
		return false
	}
	if req.TokenID != "" {
		for _, t := range tx.TokenTransfers {
			if t.TokenID == req.TokenID && t.Account == req.Recipient && abs(t.Amount) >= req.MinAmount {
				return true
			}
		}
		return false
	}
	for _, t := range tx.Transfers {
		if t.Account == req.Recipient && abs(t.Amount) >= req.MinAmount {
			return true
		}
	}
	return false
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Package ledger reads the Hedera mirror node REST API and decides whether a wallet
// has paid the receiving account for the active poll cycle.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/config"
	"github.com/Slothbar/slothvote/internal/models"
)

const (
	defaultPageSize     = 100
	maxPageSize         = 100
	defaultRetryBackoff = 500 * time.Millisecond
)

type mirrorTransfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type mirrorTokenTransfer struct {
	TokenID string `json:"token_id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type mirrorTransaction struct {
	ConsensusTimestamp string                `json:"consensus_timestamp"`
	TransactionID      string                `json:"transaction_id"`
	Result             string                `json:"result"`
	Transfers          []mirrorTransfer      `json:"transfers"`
	TokenTransfers     []mirrorTokenTransfer `json:"token_transfers"`
}

type transactionsResponse struct {
	Transactions []mirrorTransaction `json:"transactions"`
}

type accountResponse struct {
	Account string `json:"account"`
	Balance struct {
		Balance int64 `json:"balance"`
		Tokens  []struct {
			TokenID string `json:"token_id"`
			Balance int64  `json:"balance"`
		} `json:"tokens"`
	} `json:"balance"`
}

// Client talks to a mirror node over HTTP.
type Client struct {
	baseURL    string
	http       *http.Client
	pageSize   int
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewClient creates a mirror node client. A nil httpClient gets one with cfg.RequestTimeout.
func NewClient(cfg config.LedgerConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       httpClient,
		pageSize:   pageSize,
		maxRetries: cfg.MaxRetries,
		backoff:    defaultRetryBackoff,
		logger:     logger,
	}
}

// PageSize returns the configured number of transactions fetched per lookup.
func (c *Client) PageSize() int { return c.pageSize }

// ListRecentTransactions returns up to limit transactions involving account, newest first.
func (c *Client) ListRecentTransactions(ctx context.Context, account string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = c.pageSize
	}
	q := url.Values{}
	q.Set("account.id", account)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "desc")

	var resp transactionsResponse
	if err := c.get(ctx, "/api/v1/transactions", q, &resp); err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(resp.Transactions))
	for _, mt := range resp.Transactions {
		tx, err := mt.toModel()
		if err != nil {
			c.logger.Warn("skip malformed transaction", zap.String("transaction_id", mt.TransactionID), zap.Error(err))
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// LatestTimestamp returns the consensus time of the newest transaction on the network.
func (c *Client) LatestTimestamp(ctx context.Context) (time.Time, error) {
	q := url.Values{}
	q.Set("limit", "1")
	q.Set("order", "desc")

	var resp transactionsResponse
	if err := c.get(ctx, "/api/v1/transactions", q, &resp); err != nil {
		return time.Time{}, err
	}
	if len(resp.Transactions) == 0 {
		return time.Time{}, fmt.Errorf("%w: no transactions returned", ErrUnavailable)
	}
	ts, err := ParseTimestamp(resp.Transactions[0].ConsensusTimestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ts, nil
}

// TokenBalance returns account's balance of tokenID in base units.
func (c *Client) TokenBalance(ctx context.Context, account, tokenID string) (int64, error) {
	var resp accountResponse
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(account), nil, &resp); err != nil {
		return 0, err
	}
	for _, t := range resp.Balance.Tokens {
		if t.TokenID == tokenID {
			return t.Balance, nil
		}
	}
	return 0, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	_, err := withRateLimitRetry(ctx, c.maxRetries, c.backoff, func() (struct{}, error) {
		return struct{}{}, c.getOnce(ctx, path, query, out)
	})
	return err
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/api/v1/accounts/") {
		return ErrAccountNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug("mirror node non-success", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &StatusError{StatusCode: resp.StatusCode, Path: path}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func (mt mirrorTransaction) toModel() (models.Transaction, error) {
	ts, err := ParseTimestamp(mt.ConsensusTimestamp)
	if err != nil {
		return models.Transaction{}, err
	}
	tx := models.Transaction{
		ID:             mt.TransactionID,
		Timestamp:      ts,
		Result:         mt.Result,
		Transfers:      make([]models.Transfer, 0, len(mt.Transfers)),
		TokenTransfers: make([]models.TokenTransfer, 0, len(mt.TokenTransfers)),
	}
	for _, t := range mt.Transfers {
		tx.Transfers = append(tx.Transfers, models.Transfer{Account: t.Account, Amount: t.Amount})
	}
	for _, t := range mt.TokenTransfers {
		tx.TokenTransfers = append(tx.TokenTransfers, models.TokenTransfer{TokenID: t.TokenID, Account: t.Account, Amount: t.Amount})
	}
	return tx, nil
}

// ParseTimestamp parses a mirror node consensus timestamp ("1700000000.123456789").
func ParseTimestamp(s string) (time.Time, error) {
	secPart, nanoPart, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	var nsec int64
	if nanoPart != "" {
		if len(nanoPart) > 9 {
			return time.Time{}, fmt.Errorf("parse timestamp %q: fraction too long", s)
		}
		nanoPart += strings.Repeat("0", 9-len(nanoPart))
		nsec, err = strconv.ParseInt(nanoPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return time.Unix(sec, nsec).UTC(), nil
}

// FormatTimestamp renders t in mirror node form.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

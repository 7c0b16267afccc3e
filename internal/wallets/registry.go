// Package wallets keeps the write-once mapping from participant to sending wallet.
package wallets

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Slothbar/slothvote/internal/models"
)

var (
	ErrInvalidWalletFormat = errors.New("wallet address must look like 0.0.1234567")
	ErrAlreadyRegistered   = errors.New("wallet already registered")
	ErrNotRegistered       = errors.New("wallet not registered")
)

// ParseAddress validates a shard.realm.number account id. Every segment must be a
// non-negative integer.
func ParseAddress(s string) (models.WalletAddress, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return "", ErrInvalidWalletFormat
	}
	for _, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return "", ErrInvalidWalletFormat
		}
		if _, err := strconv.ParseUint(p, 10, 64); err != nil {
			return "", ErrInvalidWalletFormat
		}
	}
	return models.WalletAddress(s), nil
}

// Registry stores one wallet per user. The first registration sticks.
type Registry struct {
	mu      sync.RWMutex
	wallets map[string]models.Wallet
	now     func() time.Time
}

// NewRegistry creates an empty wallet registry.
func NewRegistry() *Registry {
	return &Registry{
		wallets: make(map[string]models.Wallet),
		now:     time.Now,
	}
}

// Register stores address for userID. A second call for the same user returns
// ErrAlreadyRegistered and leaves the stored wallet unchanged.
func (r *Registry) Register(userID, address string) (models.Wallet, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return models.Wallet{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.wallets[userID]; ok {
		return existing, ErrAlreadyRegistered
	}
	w := models.Wallet{UserID: userID, Address: addr, RegisteredAt: r.now().UTC()}
	r.wallets[userID] = w
	return w, nil
}

// Lookup returns the wallet registered by userID.
func (r *Registry) Lookup(userID string) (models.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[userID]
	if !ok {
		return models.Wallet{}, ErrNotRegistered
	}
	return w, nil
}

// Count returns the number of registered wallets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}

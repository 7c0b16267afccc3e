package wallets

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slothbar/slothvote/internal/models"
)

func TestParseAddress(t *testing.T) {
	valid := []string{"0.0.1234567", "0.0.0", " 0.0.42 ", "1.2.3"}
	for _, s := range valid {
		_, err := ParseAddress(s)
		assert.NoError(t, err, s)
	}

	invalid := []string{"", "1234567", "0.1234567", "0.0.", "0.0.abc", "0.0.-1", "a.b.c", "0.0.1.2", "0x1234", "0.0.12 34", "0.0.99999999999999999999"}
	for _, s := range invalid {
		_, err := ParseAddress(s)
		assert.ErrorIs(t, err, ErrInvalidWalletFormat, s)
	}
}

func TestRegisterFirstRegistrationSticks(t *testing.T) {
	r := NewRegistry()

	w, err := r.Register("u1", "0.0.1234567")
	require.NoError(t, err)
	assert.Equal(t, models.WalletAddress("0.0.1234567"), w.Address)
	assert.Equal(t, "u1", w.UserID)

	existing, err := r.Register("u1", "0.0.7654321")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, models.WalletAddress("0.0.1234567"), existing.Address)

	got, err := r.Lookup("u1")
	require.NoError(t, err)
	assert.Equal(t, models.WalletAddress("0.0.1234567"), got.Address)
}

func TestRegisterInvalidStoresNothing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("u1", "wallet")
	assert.ErrorIs(t, err, ErrInvalidWalletFormat)

	_, err = r.Lookup("u1")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Zero(t, r.Count())
}

func TestConcurrentRegisterOnlyOneWins(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Register("u1", "0.0.1234567"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, r.Count())
}

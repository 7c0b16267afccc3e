package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Slothbar/slothvote/internal/ledger"
	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/internal/polls"
	"github.com/Slothbar/slothvote/internal/wallets"
)

const (
	receiving = "0.0.9999"
	alice     = "alice"
	aliceAddr = "0.0.1234567"
)

var created = time.Unix(1700000000, 0).UTC()

type fakeSource struct {
	mu    sync.Mutex
	txs   map[string][]models.Transaction
	err   error
	calls int
	hold  chan struct{}

	// entered, when set, is signalled before waiting on hold.
	entered chan struct{}
}

func (f *fakeSource) ListRecentTransactions(_ context.Context, account string, _ int) ([]models.Transaction, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.hold != nil {
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.txs[account], nil
}

func (f *fakeSource) set(account string, txs ...models.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[account] = txs
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixedWatermark struct {
	at  time.Time
	err error
}

func (w *fixedWatermark) LatestTimestamp(context.Context) (time.Time, error) {
	return w.at, w.err
}

type fakeMessenger struct {
	mu          sync.Mutex
	notices     map[string][]string
	deliveries  map[string]int
	deleted     []string
	failDeliver bool
	hold        chan struct{}
	entered     chan struct{}
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{notices: make(map[string][]string), deliveries: make(map[string]int)}
}

func (m *fakeMessenger) Notify(_ context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices[userID] = append(m.notices[userID], text)
	return nil
}

func (m *fakeMessenger) DeliverPoll(_ context.Context, userID string, _ models.PollCycle) (string, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.hold != nil {
		<-m.hold
	}
	time.Sleep(time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeliver {
		return "", errors.New("chat unavailable")
	}
	m.deliveries[userID]++
	return fmt.Sprintf("receipt-%s-%d", userID, m.deliveries[userID]), nil
}

func (m *fakeMessenger) TryDelete(_ context.Context, _ string, messageRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageRef)
}

func (m *fakeMessenger) delivered(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveries[userID]
}

func (m *fakeMessenger) lastNotice(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.notices[userID]
	if len(n) == 0 {
		return ""
	}
	return n[len(n)-1]
}

type mockRecorder struct {
	mock.Mock
}

func (r *mockRecorder) EnqueueAdmission(ctx context.Context, a models.Admission) error {
	return r.Called(ctx, a).Error(0)
}

func (r *mockRecorder) EnqueueCycleArchive(ctx context.Context, a models.CycleArchive) error {
	return r.Called(ctx, a).Error(0)
}

type fixture struct {
	gate      *Gate
	source    *fakeSource
	watermark *fixedWatermark
	messenger *fakeMessenger
}

func newFixture(t *testing.T, recorder Recorder) *fixture {
	t.Helper()
	f := &fixture{
		source:    &fakeSource{txs: make(map[string][]models.Transaction)},
		watermark: &fixedWatermark{at: created},
		messenger: newFakeMessenger(),
	}
	f.gate = NewGate(Dependencies{
		Wallets:     wallets.NewRegistry(),
		Polls:       polls.NewLifecycle(),
		Verifier:    ledger.NewVerifier(f.source, 0, nil),
		Watermarks:  f.watermark,
		Messenger:   f.messenger,
		Recorder:    recorder,
		Requirement: models.PaymentRequirement{Recipient: receiving, MinAmount: 100_000_000},
		Units:       Units{Decimals: 8, Symbol: "HBAR"},
	})
	return f
}

func (f *fixture) register(t *testing.T, userID, addr string) {
	t.Helper()
	_, err := f.gate.RegisterWallet(context.Background(), userID, addr, "")
	require.NoError(t, err)
}

func (f *fixture) createPoll(t *testing.T) models.PollCycle {
	t.Helper()
	cycle, err := f.gate.CreatePoll(context.Background(), "admin", polls.NewPoll{
		Question: "Burn tokens?",
		Options:  []string{"Yes", "No"},
	})
	require.NoError(t, err)
	return cycle
}

func pay(id, from string, at time.Time, amount int64) models.Transaction {
	return models.Transaction{
		ID:        id,
		Timestamp: at,
		Result:    models.TransactionResultSuccess,
		Transfers: []models.Transfer{
			{Account: from, Amount: -amount},
			{Account: receiving, Amount: amount},
		},
	}
}

func TestVerificationWithoutPoll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.gate.RequestVerification(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoPollActive, res.Outcome)

	f.register(t, alice, aliceAddr)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))
	res, err = f.gate.RequestVerification(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoPollActive, res.Outcome)
	assert.Zero(t, f.source.callCount(), "ledger must not be queried without a poll")
	assert.Equal(t, msgNoPollActive, f.messenger.lastNotice(alice))
}

func TestVerificationRequiresWallet(t *testing.T) {
	f := newFixture(t, nil)
	f.createPoll(t)

	res, err := f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotRegistered, res.Outcome)
	assert.Equal(t, msgNotRegistered, f.messenger.lastNotice(alice))
}

func TestPaymentBeforeWatermarkIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, alice, aliceAddr)
	cycle := f.createPoll(t)
	require.Equal(t, created, cycle.Watermark)

	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(-time.Nanosecond), 100_000_000))
	res, err := f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaymentNotFound, res.Outcome)
	assert.Zero(t, f.messenger.delivered(alice))

	f.source.set(aliceAddr, pay("tx1", aliceAddr, created, 100_000_000))
	res, err = f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
	assert.Equal(t, "tx1", res.TransactionID)
	assert.Equal(t, 1, f.messenger.delivered(alice))
}

func TestPaymentBelowThreshold(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, alice, aliceAddr)
	f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 99_999_999))

	res, err := f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaymentNotFound, res.Outcome)
	assert.Contains(t, f.messenger.lastNotice(alice), "1 HBAR")
	assert.Contains(t, f.messenger.lastNotice(alice), receiving)
}

func TestConcurrentVerificationDeliversOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, alice, aliceAddr)
	f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))
	f.source.hold = make(chan struct{})

	const n = 16
	outcomes := make(chan Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.gate.RequestVerification(context.Background(), alice)
			assert.NoError(t, err)
			outcomes <- res.Outcome
		}()
	}
	// Let every request reach the ledger before any of them returns.
	time.Sleep(20 * time.Millisecond)
	close(f.source.hold)
	wg.Wait()
	close(outcomes)

	served := 0
	for o := range outcomes {
		switch o {
		case OutcomeAdmittedAndServed:
			served++
		case OutcomeAlreadyAdmitted:
		default:
			t.Fatalf("unexpected outcome %s", o)
		}
	}
	assert.Equal(t, 1, served)
	assert.Equal(t, 1, f.messenger.delivered(alice))
}

func TestConcurrentUsersDoNotBlockEachOther(t *testing.T) {
	f := newFixture(t, nil)
	f.createPoll(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		user := fmt.Sprintf("user-%d", i)
		addr := fmt.Sprintf("0.0.%d", 5000+i)
		f.register(t, user, addr)
		f.source.set(addr, pay("tx-"+user, addr, created.Add(time.Second), 100_000_000))
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.gate.RequestVerification(context.Background(), user)
			assert.NoError(t, err)
			assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
		}()
	}
	wg.Wait()

	tally, err := f.gate.Results()
	require.NoError(t, err)
	assert.Equal(t, 20, tally.Paid)
	assert.Equal(t, 20, tally.Served)
}

func TestLedgerFailureIsNotANegative(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, alice, aliceAddr)
	f.createPoll(t)
	f.source.setErr(fmt.Errorf("%w: status 500", ledger.ErrUnavailable))

	res, err := f.gate.RequestVerification(context.Background(), alice)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.Equal(t, OutcomeLedgerError, res.Outcome)
	assert.Equal(t, msgLedgerError, f.messenger.lastNotice(alice))

	f.source.setErr(nil)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))
	res, err = f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
}

func TestDeliveryFailureKeepsPaymentAndRetries(t *testing.T) {
	rec := &mockRecorder{}
	rec.On("EnqueueAdmission", mock.Anything, mock.MatchedBy(func(a models.Admission) bool {
		return a.UserID == alice && a.TransactionID == "tx1"
	})).Return(nil).Once()
	f := newFixture(t, rec)
	f.register(t, alice, aliceAddr)
	f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))
	f.messenger.failDeliver = true

	res, err := f.gate.RequestVerification(context.Background(), alice)
	assert.Error(t, err)
	assert.Equal(t, OutcomeDeliveryFailed, res.Outcome)
	assert.Equal(t, 1, f.source.callCount())

	f.messenger.mu.Lock()
	f.messenger.failDeliver = false
	f.messenger.mu.Unlock()

	res, err = f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
	assert.Equal(t, 1, f.source.callCount(), "paid users are not re-checked against the ledger")
	assert.Equal(t, 1, f.messenger.delivered(alice))
	rec.AssertExpectations(t)
}

func TestTransactionCannotAdmitTwoUsers(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, alice, aliceAddr)
	f.register(t, "bob", "0.0.7654321")
	f.createPoll(t)

	shared := pay("tx-shared", aliceAddr, created.Add(time.Second), 100_000_000)
	shared.Transfers = append(shared.Transfers, models.Transfer{Account: "0.0.7654321", Amount: 0})
	f.source.set(aliceAddr, shared)
	f.source.set("0.0.7654321", shared)

	res, err := f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)

	res, err = f.gate.RequestVerification(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomePaymentNotFound, res.Outcome)
}

func TestResetRequiresNewPayment(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, alice, aliceAddr)
	first := f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))

	res, err := f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, OutcomeAdmittedAndServed, res.Outcome)

	prev, had := f.gate.ResetCycle(context.Background(), "admin")
	require.True(t, had)
	assert.Equal(t, first.ID, prev.ID)

	f.watermark.at = created.Add(time.Minute)
	second := f.createPoll(t)
	assert.Greater(t, second.Generation, first.Generation)

	res, err = f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaymentNotFound, res.Outcome, "old payment must not carry over")

	f.source.set(aliceAddr, pay("tx2", aliceAddr, created.Add(2*time.Minute), 100_000_000))
	res, err = f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
	assert.Equal(t, 2, f.messenger.delivered(alice))
}

func TestResetIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	_, had := f.gate.ResetCycle(context.Background(), "admin")
	assert.False(t, had)
	_, had = f.gate.ResetCycle(context.Background(), "admin")
	assert.False(t, had)
	assert.False(t, f.gate.Status().Active)
}

func TestCreatePollRejectsOverlap(t *testing.T) {
	f := newFixture(t, nil)
	first := f.createPoll(t)

	_, err := f.gate.CreatePoll(context.Background(), "admin", polls.NewPoll{Question: "Again?", Options: []string{"a", "b"}})
	assert.ErrorIs(t, err, polls.ErrAlreadyActive)

	st := f.gate.Status()
	require.True(t, st.Active)
	assert.Equal(t, first.ID, st.Cycle.ID)
	assert.Equal(t, "1 HBAR", st.Amount)
}

func TestCreatePollAmountOverride(t *testing.T) {
	f := newFixture(t, nil)
	cycle, err := f.gate.CreatePoll(context.Background(), "admin", polls.NewPoll{
		Question:  "Burn tokens?",
		Options:   []string{"Yes", "No"},
		MinAmount: 250_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(250_000_000), cycle.Requirement.MinAmount)
	assert.Equal(t, receiving, cycle.Requirement.Recipient)
	assert.Equal(t, "2.5 HBAR", f.gate.Status().Amount)
}

func TestCreatePollFallsBackToLocalClock(t *testing.T) {
	f := newFixture(t, nil)
	local := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.gate.now = func() time.Time { return local }
	f.watermark.err = fmt.Errorf("%w: timeout", ledger.ErrUnavailable)

	cycle := f.createPoll(t)
	assert.Equal(t, local, cycle.Watermark)
}

func TestCastVote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, alice, aliceAddr)
	f.createPoll(t)

	assert.ErrorIs(t, f.gate.CastVote(ctx, alice, 0), ErrNotServed)

	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))
	_, err := f.gate.RequestVerification(ctx, alice)
	require.NoError(t, err)

	assert.ErrorIs(t, f.gate.CastVote(ctx, alice, 2), ErrInvalidOption)
	require.NoError(t, f.gate.CastVote(ctx, alice, 1))
	assert.ErrorIs(t, f.gate.CastVote(ctx, alice, 0), ErrAlreadyVoted)

	tally, err := f.gate.Results()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, tally.Counts)
	assert.Equal(t, 1, tally.Voted)
}

func TestRegisterWalletMasksInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.gate.RegisterWallet(ctx, alice, "alice.wallet", "m1")
	assert.ErrorIs(t, err, wallets.ErrInvalidWalletFormat)
	assert.Equal(t, msgInvalidWallet, f.messenger.lastNotice(alice))

	w, err := f.gate.RegisterWallet(ctx, alice, aliceAddr, "m2")
	require.NoError(t, err)
	assert.Equal(t, models.WalletAddress(aliceAddr), w.Address)
	assert.Contains(t, f.messenger.lastNotice(alice), receiving)

	w, err = f.gate.RegisterWallet(ctx, alice, "0.0.42", "m3")
	assert.ErrorIs(t, err, wallets.ErrAlreadyRegistered)
	assert.Equal(t, models.WalletAddress(aliceAddr), w.Address)

	assert.Equal(t, []string{"m1", "m2", "m3"}, f.messenger.deleted)
}

func TestRecorderReceivesAdmissionAndArchive(t *testing.T) {
	rec := &mockRecorder{}
	rec.On("EnqueueAdmission", mock.Anything, mock.MatchedBy(func(a models.Admission) bool {
		return a.UserID == alice && a.TransactionID == "tx1" && a.Wallet == aliceAddr
	})).Return(nil).Once()
	rec.On("EnqueueCycleArchive", mock.Anything, mock.MatchedBy(func(a models.CycleArchive) bool {
		return a.Cycle.Question == "Burn tokens?" && a.Tally.Served == 1 && a.ResetBy == "admin"
	})).Return(errors.New("queue down")).Once()

	f := newFixture(t, rec)
	f.register(t, alice, aliceAddr)
	f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))

	res, err := f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, OutcomeAdmittedAndServed, res.Outcome)

	// A second verification must not produce another audit record.
	res, err = f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyAdmitted, res.Outcome)

	_, had := f.gate.ResetCycle(context.Background(), "admin")
	assert.True(t, had, "queue failures must not fail the reset")
	rec.AssertExpectations(t)
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.register(t, "user-1", "0.0.1234567")
	cycle, err := f.gate.CreatePoll(ctx, "admin", polls.NewPoll{Question: "Burn tokens?", Options: []string{"Yes", "No"}})
	require.NoError(t, err)
	f.source.set("0.0.1234567", pay("0.0.1234567-1700000001-000000000", "0.0.1234567", cycle.Watermark.Add(time.Second), 100_000_000))

	res, err := f.gate.RequestVerification(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
	require.NotNil(t, res.Cycle)
	assert.Equal(t, []string{"Yes", "No"}, res.Cycle.Options)
	assert.NotEmpty(t, res.Receipt)

	res, err = f.gate.RequestVerification(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyAdmitted, res.Outcome)

	d, err := f.gate.DeliverPoll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, DeliveryAlreadyServed, d)
	assert.Equal(t, 1, f.messenger.delivered("user-1"))

	d, err = f.gate.DeliverPoll(ctx, "stranger")
	require.NoError(t, err)
	assert.Equal(t, DeliveryNotPaid, d)
}

func TestResetDuringLedgerLookupRerunsAgainstNewCycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, alice, aliceAddr)
	first := f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))
	f.source.hold = make(chan struct{})
	f.source.entered = make(chan struct{}, maxCycleAttempts)

	done := make(chan Result, 1)
	go func() {
		res, err := f.gate.RequestVerification(ctx, alice)
		assert.NoError(t, err)
		done <- res
	}()

	<-f.source.entered
	_, had := f.gate.ResetCycle(ctx, "admin")
	require.True(t, had)
	second := f.createPoll(t)
	close(f.source.hold)

	res := <-done
	assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
	require.NotNil(t, res.Cycle)
	assert.Equal(t, second.ID, res.Cycle.ID)
	assert.NotEqual(t, first.ID, res.Cycle.ID)
	assert.Equal(t, 2, f.source.callCount(), "the lookup must be repeated for the new cycle")
	assert.Equal(t, 1, f.messenger.delivered(alice))
}

func TestResetWaitsForDeliveryInFlight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, alice, aliceAddr)
	f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))
	f.messenger.hold = make(chan struct{})
	f.messenger.entered = make(chan struct{}, 1)

	done := make(chan Result, 1)
	go func() {
		res, _ := f.gate.RequestVerification(ctx, alice)
		done <- res
	}()
	<-f.messenger.entered

	resetDone := make(chan struct{})
	go func() {
		f.gate.ResetCycle(ctx, "admin")
		close(resetDone)
	}()
	assert.Never(t, func() bool {
		select {
		case <-resetDone:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond, "reset must not finish while the poll is being sent")

	close(f.messenger.hold)
	<-resetDone
	assert.Equal(t, OutcomeAdmittedAndServed, (<-done).Outcome)

	res, err := f.gate.RequestVerification(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoPollActive, res.Outcome)
	assert.Equal(t, 1, f.messenger.delivered(alice))
}

// stripeRecorder records whether the user's lock stripe was free during enqueue.
type stripeRecorder struct {
	gate     *Gate
	mu       sync.Mutex
	unlocked []bool
}

func (r *stripeRecorder) EnqueueAdmission(_ context.Context, a models.Admission) error {
	l := r.gate.userLock(a.UserID)
	free := l.TryLock()
	if free {
		l.Unlock()
	}
	r.mu.Lock()
	r.unlocked = append(r.unlocked, free)
	r.mu.Unlock()
	return nil
}

func (r *stripeRecorder) EnqueueCycleArchive(context.Context, models.CycleArchive) error {
	return nil
}

func TestAdmissionIsRecordedOutsideUserLock(t *testing.T) {
	rec := &stripeRecorder{}
	f := newFixture(t, rec)
	rec.gate = f.gate
	f.register(t, alice, aliceAddr)
	f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))

	res, err := f.gate.RequestVerification(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
	assert.Equal(t, []bool{true}, rec.unlocked)
}

func TestInlineVerificationNeedsNoMessenger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, alice, aliceAddr)
	f.createPoll(t)
	f.source.set(aliceAddr, pay("tx1", aliceAddr, created.Add(time.Second), 100_000_000))
	f.messenger.failDeliver = true

	res, err := f.gate.RequestVerificationInline(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmittedAndServed, res.Outcome)
	require.NotNil(t, res.Cycle)
	assert.NotEmpty(t, res.Receipt)
	assert.Zero(t, f.messenger.delivered(alice))

	require.NoError(t, f.gate.CastVote(ctx, alice, 0))

	res, err = f.gate.RequestVerification(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyAdmitted, res.Outcome)
}

func TestAlreadyVotedMessage(t *testing.T) {
	assert.Equal(t, "vote already recorded", ErrAlreadyVoted.Error())
}

// Package admission decides, per participant and poll cycle, whether a ledger payment
// has been made and delivers the poll at most once.
package admission

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/ledger"
	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/internal/polls"
	"github.com/Slothbar/slothvote/internal/wallets"
)

const (
	userLockStripes = 64
	// A reset racing a verification makes the verification re-read the cycle.
	maxCycleAttempts = 3
)

var (
	ErrInvalidOption = errors.New("option is not found")
	ErrNotServed     = errors.New("poll has not been delivered to this user")
	ErrAlreadyVoted  = errors.New("vote already recorded")
)

// Messenger is the messaging side: plain-text notices, poll delivery, and best-effort
// deletion of a user's message (used to mask wallet input).
type Messenger interface {
	Notify(ctx context.Context, userID, text string) error
	DeliverPoll(ctx context.Context, userID string, cycle models.PollCycle) (receipt string, err error)
	TryDelete(ctx context.Context, userID, messageRef string)
}

// Verifier looks for a qualifying payment on the ledger.
type Verifier interface {
	HasQualifyingPayment(ctx context.Context, q ledger.PaymentQuery) (models.Transaction, bool, error)
}

// WatermarkSource reports the ledger's latest consensus time.
type WatermarkSource interface {
	LatestTimestamp(ctx context.Context) (time.Time, error)
}

// Recorder receives durable side records. Failures are logged and never affect admission.
type Recorder interface {
	EnqueueAdmission(ctx context.Context, a models.Admission) error
	EnqueueCycleArchive(ctx context.Context, a models.CycleArchive) error
}

// Dependencies wires a Gate.
type Dependencies struct {
	Wallets    *wallets.Registry
	Polls      *polls.Lifecycle
	Verifier   Verifier
	Watermarks WatermarkSource
	Messenger  Messenger
	Recorder   Recorder // optional
	// Requirement is the default payment requirement for new cycles.
	Requirement   models.PaymentRequirement
	Units         Units
	LedgerTimeout time.Duration
	Logger        *zap.Logger
}

// Result is what RequestVerification reports back to the caller.
type Result struct {
	Outcome       Outcome           `json:"outcome"`
	Cycle         *models.PollCycle `json:"poll,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Receipt       string            `json:"receipt,omitempty"`
}

type deliverFunc func(ctx context.Context, userID string, cycle models.PollCycle) (receipt string, err error)

type participantKey struct {
	userID     string
	generation uint64
}

type claimKey struct {
	generation uint64
	txID       string
}

type participant struct {
	paid    bool
	served  bool
	txID    string
	receipt string
	vote    int
}

// Gate owns all admission state: wallet registry, poll lifecycle and per-user
// participant state for the current generation.
//
// Locking: mu guards participants and claimed and is never held across I/O. The
// striped user lock serializes one user's admission step (paid → deliver → served)
// and may be held across poll delivery, but never across a ledger lookup or the
// recorder. ResetCycle takes every stripe. Order: user stripes, mu, lifecycle.
type Gate struct {
	wallets    *wallets.Registry
	polls      *polls.Lifecycle
	verifier   Verifier
	watermarks WatermarkSource
	messenger  Messenger
	recorder   Recorder
	defaultReq models.PaymentRequirement
	units      Units
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu           sync.Mutex
	participants map[participantKey]*participant
	claimed      map[claimKey]string

	userLocks [userLockStripes]sync.Mutex
}

// NewGate creates an admission gate.
func NewGate(deps Dependencies) *Gate {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.LedgerTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gate{
		wallets:      deps.Wallets,
		polls:        deps.Polls,
		verifier:     deps.Verifier,
		watermarks:   deps.Watermarks,
		messenger:    deps.Messenger,
		recorder:     deps.Recorder,
		defaultReq:   deps.Requirement,
		units:        deps.Units,
		timeout:      timeout,
		logger:       logger,
		now:          time.Now,
		participants: make(map[participantKey]*participant),
		claimed:      make(map[claimKey]string),
	}
}

// RegisterWallet stores the user's sending wallet and tells them where to pay. The
// message that carried the address is deleted best-effort whatever the outcome.
func (g *Gate) RegisterWallet(ctx context.Context, userID, address, messageRef string) (models.Wallet, error) {
	if messageRef != "" {
		defer g.messenger.TryDelete(ctx, userID, messageRef)
	}
	w, err := g.wallets.Register(userID, address)
	switch {
	case errors.Is(err, wallets.ErrInvalidWalletFormat):
		g.notify(ctx, userID, msgInvalidWallet)
		return w, err
	case errors.Is(err, wallets.ErrAlreadyRegistered):
		g.notify(ctx, userID, msgAlreadyRegistered(w.Address))
		return w, err
	case err != nil:
		return w, err
	}
	g.logger.Info("wallet registered", zap.String("user_id", userID), zap.String("wallet", w.Address.String()))
	g.notify(ctx, userID, msgRegistered(w.Address, g.requirement(), g.units))
	return w, nil
}

// Wallet returns the user's registered wallet.
func (g *Gate) Wallet(userID string) (models.Wallet, error) {
	return g.wallets.Lookup(userID)
}

// RequestVerification checks the ledger for the user's payment to the active cycle and,
// once paid, delivers the poll exactly once through the messenger.
func (g *Gate) RequestVerification(ctx context.Context, userID string) (Result, error) {
	return g.requestVerification(ctx, userID, g.messenger.DeliverPoll)
}

// RequestVerificationInline is RequestVerification for callers that hand the poll back
// in their own reply, such as the HTTP endpoint. Returning the result is the delivery.
func (g *Gate) RequestVerificationInline(ctx context.Context, userID string) (Result, error) {
	return g.requestVerification(ctx, userID, deliverInline)
}

func deliverInline(context.Context, string, models.PollCycle) (string, error) {
	return "inline-" + uuid.NewString(), nil
}

func (g *Gate) requestVerification(ctx context.Context, userID string, deliver deliverFunc) (Result, error) {
	for attempt := 0; attempt < maxCycleAttempts; attempt++ {
		res, stale, err := g.verifyOnce(ctx, userID, deliver)
		if !stale {
			return res, err
		}
		g.logger.Debug("cycle changed during verification", zap.String("user_id", userID), zap.Int("attempt", attempt))
	}
	g.notify(ctx, userID, msgNoPollActive)
	return Result{Outcome: OutcomeNoPollActive}, nil
}

// verifyOnce runs one verification against the current cycle. stale reports that the
// cycle changed between the ledger lookup and the state update.
func (g *Gate) verifyOnce(ctx context.Context, userID string, deliver deliverFunc) (res Result, stale bool, err error) {
	cycle, ok := g.polls.Current()
	if !ok {
		g.notify(ctx, userID, msgNoPollActive)
		return Result{Outcome: OutcomeNoPollActive}, false, nil
	}
	wallet, err := g.wallets.Lookup(userID)
	if err != nil {
		g.notify(ctx, userID, msgNotRegistered)
		return Result{Outcome: OutcomeNotRegistered}, false, nil
	}

	lock := g.userLock(userID)
	lock.Lock()
	if p := g.lookup(userID, cycle.Generation); p != nil && p.paid {
		res, err := g.admitLocked(ctx, userID, cycle, p, deliver)
		lock.Unlock()
		if res.Outcome == OutcomeAdmittedAndServed {
			g.recordAdmission(ctx, userID, wallet, cycle, res.TransactionID)
		}
		return res, false, err
	}
	lock.Unlock()

	// Ledger lookup runs without any lock held.
	tx, found, err := g.checkLedger(ctx, userID, wallet, cycle)
	if err != nil {
		g.logger.Warn("ledger lookup failed", zap.String("user_id", userID), zap.String("wallet", wallet.Address.String()), zap.Error(err))
		g.notify(ctx, userID, msgLedgerError)
		return Result{Outcome: OutcomeLedgerError}, false, err
	}

	lock.Lock()
	res, stale, err = g.settleLocked(ctx, userID, wallet, cycle, tx, found, deliver)
	lock.Unlock()

	if res.Outcome == OutcomeAdmittedAndServed {
		g.recordAdmission(ctx, userID, wallet, cycle, res.TransactionID)
	}
	return res, stale, err
}

// settleLocked applies a ledger answer to the participant and delivers the poll.
// Caller holds the user lock.
func (g *Gate) settleLocked(ctx context.Context, userID string, wallet models.Wallet, cycle models.PollCycle, tx models.Transaction, found bool, deliver deliverFunc) (Result, bool, error) {
	g.mu.Lock()
	if g.polls.Generation() != cycle.Generation {
		g.mu.Unlock()
		return Result{}, true, nil
	}
	p := g.participantLocked(userID, cycle.Generation)
	if !p.paid {
		if !found || !g.claimLocked(cycle.Generation, tx.ID, userID) {
			g.mu.Unlock()
			g.notify(ctx, userID, msgPaymentNotFound(wallet.Address, cycle.Requirement, g.units))
			return Result{Outcome: OutcomePaymentNotFound}, false, nil
		}
		p.paid = true
		p.txID = tx.ID
		g.logger.Info("payment verified",
			zap.String("user_id", userID),
			zap.String("wallet", wallet.Address.String()),
			zap.String("transaction_id", tx.ID),
			zap.Uint64("generation", cycle.Generation),
		)
	}
	g.mu.Unlock()

	res, err := g.admitLocked(ctx, userID, cycle, p, deliver)
	return res, false, err
}

// DeliverPoll delivers the active poll to a paid user unless it was already delivered.
func (g *Gate) DeliverPoll(ctx context.Context, userID string) (Delivery, error) {
	cycle, ok := g.polls.Current()
	if !ok {
		return DeliveryNoPollActive, nil
	}
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p := g.lookup(userID, cycle.Generation)
	if p == nil {
		return DeliveryNotPaid, nil
	}
	return g.deliverLocked(ctx, userID, cycle, p, g.messenger.DeliverPoll)
}

// admitLocked turns a paid participant into an outcome. Caller holds the user lock.
func (g *Gate) admitLocked(ctx context.Context, userID string, cycle models.PollCycle, p *participant, deliver deliverFunc) (Result, error) {
	d, err := g.deliverLocked(ctx, userID, cycle, p, deliver)

	g.mu.Lock()
	res := Result{TransactionID: p.txID, Receipt: p.receipt}
	g.mu.Unlock()

	switch d {
	case DeliveryDelivered:
		res.Outcome = OutcomeAdmittedAndServed
		res.Cycle = &cycle
		g.notify(ctx, userID, msgAdmitted(res.TransactionID))
	case DeliveryAlreadyServed:
		res.Outcome = OutcomeAlreadyAdmitted
		res.Cycle = &cycle
		g.notify(ctx, userID, msgAlreadyAdmitted)
	case DeliveryNoPollActive:
		res = Result{Outcome: OutcomeNoPollActive}
		g.notify(ctx, userID, msgNoPollActive)
	default:
		res.Outcome = OutcomeDeliveryFailed
		g.notify(ctx, userID, msgDeliveryFailed)
	}
	return res, err
}

// deliverLocked sends the poll and marks the participant served. Caller holds the user
// lock, so two requests for the same user cannot both reach the messenger, and
// ResetCycle cannot close the cycle until the send has returned.
func (g *Gate) deliverLocked(ctx context.Context, userID string, cycle models.PollCycle, p *participant, deliver deliverFunc) (Delivery, error) {
	g.mu.Lock()
	paid, served := p.paid, p.served
	current := g.polls.Generation() == cycle.Generation
	g.mu.Unlock()
	if !current {
		return DeliveryNoPollActive, nil
	}
	if !paid {
		return DeliveryNotPaid, nil
	}
	if served {
		return DeliveryAlreadyServed, nil
	}

	receipt, err := deliver(ctx, userID, cycle)
	if err != nil {
		g.logger.Warn("poll delivery failed", zap.String("user_id", userID), zap.Uint64("generation", cycle.Generation), zap.Error(err))
		return DeliveryFailed, fmt.Errorf("deliver poll: %w", err)
	}

	g.mu.Lock()
	p.served = true
	p.receipt = receipt
	g.mu.Unlock()
	g.logger.Info("poll delivered", zap.String("user_id", userID), zap.Uint64("generation", cycle.Generation), zap.String("receipt", receipt))
	return DeliveryDelivered, nil
}

// CastVote records the user's single vote for the active cycle.
func (g *Gate) CastVote(ctx context.Context, userID string, option int) error {
	cycle, ok := g.polls.Current()
	if !ok {
		return polls.ErrNoActivePoll
	}
	if option < 0 || option >= len(cycle.Options) {
		return ErrInvalidOption
	}

	g.mu.Lock()
	p := g.participants[participantKey{userID: userID, generation: cycle.Generation}]
	switch {
	case p == nil || !p.served:
		g.mu.Unlock()
		return ErrNotServed
	case p.vote >= 0:
		g.mu.Unlock()
		return ErrAlreadyVoted
	}
	p.vote = option
	g.mu.Unlock()

	g.logger.Info("vote cast", zap.String("user_id", userID), zap.Uint64("generation", cycle.Generation), zap.Int("option", option))
	g.notify(ctx, userID, msgVoteRecorded)
	return nil
}

// CreatePoll starts a new cycle. The watermark is the ledger's latest consensus time,
// or the local clock when the ledger cannot be reached.
func (g *Gate) CreatePoll(ctx context.Context, actor string, in polls.NewPoll) (models.PollCycle, error) {
	if _, active := g.polls.Current(); active {
		return models.PollCycle{}, polls.ErrAlreadyActive
	}
	req := g.defaultReq
	if in.MinAmount > 0 {
		req.MinAmount = in.MinAmount
	}
	cycle, err := g.polls.Create(polls.CreateParams{
		Question:    in.Question,
		Options:     in.Options,
		Description: in.Description,
		Watermark:   g.watermark(ctx),
		Requirement: req,
		CreatedBy:   actor,
	})
	if err != nil {
		return models.PollCycle{}, err
	}
	g.logger.Info("poll created",
		zap.String("cycle_id", cycle.ID.String()),
		zap.Uint64("generation", cycle.Generation),
		zap.Time("watermark", cycle.Watermark),
		zap.String("created_by", actor),
	)
	return cycle, nil
}

// ResetCycle ends the active cycle, if any, and drops all participant state. The finished
// cycle and its tally are handed to the recorder for archiving.
func (g *Gate) ResetCycle(ctx context.Context, actor string) (models.PollCycle, bool) {
	// Wait out deliveries in flight so no closed poll is sent after Reset returns.
	unlock := g.lockAllUsers()
	g.mu.Lock()
	prev, had := g.polls.Reset()
	var tally models.PollTally
	if had {
		tally = g.tallyLocked(prev)
	}
	gen := g.polls.Generation()
	for k := range g.participants {
		if k.generation < gen {
			delete(g.participants, k)
		}
	}
	for k := range g.claimed {
		if k.generation < gen {
			delete(g.claimed, k)
		}
	}
	g.mu.Unlock()
	unlock()

	g.logger.Info("poll cycle reset", zap.Bool("had_cycle", had), zap.Uint64("generation", gen), zap.String("reset_by", actor))
	if had && g.recorder != nil {
		archive := models.CycleArchive{Cycle: prev, Tally: tally, ResetBy: actor, ResetAt: g.now().UTC()}
		if err := g.recorder.EnqueueCycleArchive(ctx, archive); err != nil {
			g.logger.Error("enqueue cycle archive", zap.String("cycle_id", prev.ID.String()), zap.Error(err))
		}
	}
	return prev, had
}

// Status reports whether a poll is active and what it costs.
func (g *Gate) Status() polls.Status {
	cycle, ok := g.polls.Current()
	st := polls.Status{Active: ok, Generation: g.polls.Generation(), Requirement: g.defaultReq}
	if ok {
		st.Cycle = &cycle
		st.Requirement = cycle.Requirement
	}
	st.Amount = g.units.format(st.Requirement.MinAmount)
	return st
}

// Results returns the vote tally of the active cycle.
func (g *Gate) Results() (models.PollTally, error) {
	cycle, ok := g.polls.Current()
	if !ok {
		return models.PollTally{}, polls.ErrNoActivePoll
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tallyLocked(cycle), nil
}

func (g *Gate) tallyLocked(cycle models.PollCycle) models.PollTally {
	t := models.PollTally{
		Generation: cycle.Generation,
		Options:    cycle.Options,
		Counts:     make([]int, len(cycle.Options)),
	}
	for k, p := range g.participants {
		if k.generation != cycle.Generation {
			continue
		}
		if p.paid {
			t.Paid++
		}
		if p.served {
			t.Served++
		}
		if p.vote >= 0 && p.vote < len(t.Counts) {
			t.Counts[p.vote]++
			t.Voted++
		}
	}
	return t
}

func (g *Gate) checkLedger(ctx context.Context, userID string, wallet models.Wallet, cycle models.PollCycle) (models.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.verifier.HasQualifyingPayment(ctx, ledger.PaymentQuery{
		Wallet:      wallet.Address,
		Requirement: cycle.Requirement,
		Since:       cycle.Watermark,
		Claimed: func(txID string) bool {
			g.mu.Lock()
			defer g.mu.Unlock()
			owner, ok := g.claimed[claimKey{generation: cycle.Generation, txID: txID}]
			return ok && owner != userID
		},
	})
}

func (g *Gate) watermark(ctx context.Context) time.Time {
	if g.watermarks != nil {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		ts, err := g.watermarks.LatestTimestamp(ctx)
		if err == nil {
			return ts
		}
		g.logger.Warn("ledger watermark unavailable, using local clock", zap.Error(err))
	}
	return g.now().UTC()
}

func (g *Gate) recordAdmission(ctx context.Context, userID string, wallet models.Wallet, cycle models.PollCycle, txID string) {
	if g.recorder == nil {
		return
	}
	a := models.Admission{
		ID:            uuid.New(),
		UserID:        userID,
		Wallet:        wallet.Address,
		CycleID:       cycle.ID,
		Generation:    cycle.Generation,
		TransactionID: txID,
		AdmittedAt:    g.now().UTC(),
	}
	if err := g.recorder.EnqueueAdmission(ctx, a); err != nil {
		g.logger.Error("enqueue admission", zap.String("user_id", userID), zap.Error(err))
	}
}

func (g *Gate) requirement() models.PaymentRequirement {
	if cycle, ok := g.polls.Current(); ok {
		return cycle.Requirement
	}
	return g.defaultReq
}

func (g *Gate) notify(ctx context.Context, userID, text string) {
	if err := g.messenger.Notify(ctx, userID, text); err != nil {
		g.logger.Debug("notify failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (g *Gate) lookup(userID string, generation uint64) *participant {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.participants[participantKey{userID: userID, generation: generation}]
}

// participantLocked returns the participant entry, creating it. Caller holds mu.
func (g *Gate) participantLocked(userID string, generation uint64) *participant {
	k := participantKey{userID: userID, generation: generation}
	p, ok := g.participants[k]
	if !ok {
		p = &participant{vote: -1}
		g.participants[k] = p
	}
	return p
}

// claimLocked reserves txID for userID within generation. Caller holds mu.
func (g *Gate) claimLocked(generation uint64, txID, userID string) bool {
	k := claimKey{generation: generation, txID: txID}
	if owner, ok := g.claimed[k]; ok && owner != userID {
		return false
	}
	g.claimed[k] = userID
	return true
}

func (g *Gate) lockAllUsers() func() {
	for i := range g.userLocks {
		g.userLocks[i].Lock()
	}
	return func() {
		for i := range g.userLocks {
			g.userLocks[i].Unlock()
		}
	}
}

func (g *Gate) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &g.userLocks[h.Sum32()%userLockStripes]
}

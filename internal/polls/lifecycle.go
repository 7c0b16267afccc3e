// Package polls holds the single active poll cycle and its generation counter.
package polls

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Slothbar/slothvote/internal/models"
)

var (
	ErrInvalidOptions = errors.New("the number of options should be at least 2")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrAlreadyActive  = errors.New("a poll is already active")
	ErrNoActivePoll   = errors.New("no poll is active")
)

// CreateParams describes a new poll cycle.
type CreateParams struct {
	Question    string
	Options     []string
	Description string
	Watermark   time.Time
	Requirement models.PaymentRequirement
	CreatedBy   string
}

// Lifecycle is a two-state machine: Idle (no cycle) and Active (one cycle).
// Every Create and Reset bumps the generation so per-user state from a previous
// cycle can never be mistaken for state of the current one.
type Lifecycle struct {
	mu         sync.RWMutex
	cycle      *models.PollCycle
	generation uint64
	now        func() time.Time
}

// NewLifecycle creates an idle lifecycle at generation 0.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{now: time.Now}
}

// Create activates a new cycle. It never replaces a running one.
func (l *Lifecycle) Create(p CreateParams) (models.PollCycle, error) {
	question := strings.TrimSpace(p.Question)
	if question == "" {
		return models.PollCycle{}, ErrEmptyQuestion
	}
	options := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if len(options) < 2 {
		return models.PollCycle{}, ErrInvalidOptions
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cycle != nil {
		return models.PollCycle{}, ErrAlreadyActive
	}
	l.generation++
	cycle := models.PollCycle{
		ID:          uuid.New(),
		Generation:  l.generation,
		Question:    question,
		Options:     options,
		Description: strings.TrimSpace(p.Description),
		Requirement: p.Requirement,
		Watermark:   p.Watermark.UTC(),
		CreatedBy:   p.CreatedBy,
		CreatedAt:   l.now().UTC(),
	}
	l.cycle = &cycle
	return cloneCycle(cycle), nil
}

// Reset returns to Idle and bumps the generation. It always succeeds; the previous
// cycle is returned when there was one.
func (l *Lifecycle) Reset() (models.PollCycle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	if l.cycle == nil {
		return models.PollCycle{}, false
	}
	prev := *l.cycle
	l.cycle = nil
	return prev, true
}

// Current returns the active cycle, if any.
func (l *Lifecycle) Current() (models.PollCycle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cycle == nil {
		return models.PollCycle{}, false
	}
	return cloneCycle(*l.cycle), true
}

// Generation returns the current generation counter.
func (l *Lifecycle) Generation() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.generation
}

func cloneCycle(c models.PollCycle) models.PollCycle {
	c.Options = append([]string(nil), c.Options...)
	return c
}

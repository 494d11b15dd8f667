// Package session owns the lifecycle of one payment: intent creation,
// candidate derivation and exactly one polling loop at a time.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/speedrun-hq/paywatch/pkg/candidates"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/metrics"
	"github.com/speedrun-hq/paywatch/pkg/models"
	"github.com/speedrun-hq/paywatch/pkg/poller"
)

// Status is the caller-visible state of a session
type Status string

const (
	StatusIdle         Status = "idle"
	StatusCreating     Status = "creating"
	StatusPolling      Status = "polling"
	StatusSucceeded    Status = "succeeded"
	StatusConfirmed    Status = "confirmed"
	StatusFailed       Status = "failed"
	StatusExhausted    Status = "exhausted"
	StatusCancelled    Status = "cancelled"
	StatusIntentFailed Status = "intent_failed"
)

// Terminal reports whether the session stopped polling
func (s Status) Terminal() bool {
	switch s {
	case StatusIdle, StatusCreating, StatusPolling:
		return false
	}
	return true
}

// DefaultSettleDelay lets the backend persist a new intent before the first poll
const DefaultSettleDelay = 600 * time.Millisecond

const defaultEventBuffer = 8

// IntentCreator creates payment intents on the storefront API
type IntentCreator interface {
	CreateIntent(ctx context.Context, amount, token string) (models.PaymentIntent, error)
}

// Config holds the per-session polling parameters
type Config struct {
	// Origin resolves relative discovered URLs and template paths
	Origin      string
	Templates   []string
	Token       string
	Interval    time.Duration
	MaxAttempts int
	SettleDelay time.Duration
	EventBuffer int
}

// Event is emitted once per terminal transition
type Event struct {
	SessionID string                `json:"session_id"`
	Status    Status                `json:"status"`
	Intent    *models.PaymentIntent `json:"intent,omitempty"`
	Attempts  int                   `json:"attempts"`
	Err       error                 `json:"-"`
	At        time.Time             `json:"at"`
}

// Snapshot is a read-only view of a session
type Snapshot struct {
	ID         string                   `json:"id"`
	Status     Status                   `json:"status"`
	Amount     string                   `json:"amount,omitempty"`
	Intent     *models.PaymentIntent    `json:"intent,omitempty"`
	Candidates []models.StatusCandidate `json:"candidates,omitempty"`
	Poll       *models.PollState        `json:"poll,omitempty"`
	Error      string                   `json:"error,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// Session drives one payment attempt at a time
type Session struct {
	id      string
	creator IntentCreator
	prober  poller.Prober
	cfg     Config
	logger  logger.Logger

	mu         sync.Mutex
	status     Status
	amount     string
	intent     *models.PaymentIntent
	candidates []models.StatusCandidate
	loop       *poller.Loop
	generation uint64
	lastErr    error
	createdAt  time.Time
	updatedAt  time.Time

	events chan Event
}

// New creates an idle session
func New(id string, creator IntentCreator, prober poller.Prober, cfg Config, logger logger.Logger) *Session {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	now := time.Now()
	return &Session{
		id:        id,
		creator:   creator,
		prober:    prober,
		cfg:       cfg,
		logger:    logger,
		status:    StatusIdle,
		createdAt: now,
		updatedAt: now,
		events:    make(chan Event, cfg.EventBuffer),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Events delivers terminal transitions. Events are dropped when nobody reads.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Start creates a new intent for amount and begins polling for it.
// Any loop left over from a previous Start is cancelled first.
func (s *Session) Start(ctx context.Context, amount string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	prev := s.loop
	s.loop = nil
	s.status = StatusCreating
	s.amount = amount
	s.intent = nil
	s.candidates = nil
	s.lastErr = nil
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	s.logger.InfoWithSession(s.id, "Creating payment intent for amount %s", amount)
	intent, err := s.creator.CreateIntent(ctx, amount, s.cfg.Token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return ErrSuperseded
	}

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrIntentCreation, err)
		s.logger.ErrorWithSession(s.id, "Intent creation failed: %v", err)
		s.finishLocked(StatusIntentFailed, err, 0)
		return err
	}

	list := candidates.Build(intent.Raw, intent.ID, s.cfg.Origin, s.cfg.Templates)
	loop := poller.New(s.prober, poller.Config{
		Interval:     s.cfg.Interval,
		MaxAttempts:  s.cfg.MaxAttempts,
		InitialDelay: s.cfg.SettleDelay,
		Token:        s.cfg.Token,
		SessionID:    s.id,
	}, s.logger)

	// the loop outlives the caller's request, only Cancel or Confirm stop it
	if err := loop.Start(context.WithoutCancel(ctx), list); err != nil {
		return err
	}

	s.intent = &intent
	s.candidates = list
	s.loop = loop
	s.status = StatusPolling
	s.updatedAt = time.Now()

	s.logger.InfoWithSession(s.id, "Intent %s created, polling %d status candidates", intent.ID, len(list))
	go s.watch(gen, loop)
	return nil
}

// Confirm finalizes the session on the buyer's word and stops polling.
// It is a no-op without an active intent or on a terminal session.
func (s *Session) Confirm() {
	s.mu.Lock()
	if s.status.Terminal() || s.intent == nil {
		s.mu.Unlock()
		return
	}
	loop := s.loop
	s.finishLocked(StatusConfirmed, nil, attemptsOf(loop))
	s.mu.Unlock()

	s.logger.NoticeWithSession(s.id, "Payment confirmed manually")
	if loop != nil {
		loop.Cancel()
	}
}

// Cancel tears the session down. Calling it again has no effect.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	// invalidate an intent creation still in flight
	s.generation++
	loop := s.loop
	s.finishLocked(StatusCancelled, nil, attemptsOf(loop))
	s.mu.Unlock()

	if loop != nil {
		loop.Cancel()
	}
}

// Status returns the current status
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error attached to the last terminal transition
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// UpdatedAt returns the time of the last status change
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Snapshot returns a copy of the session state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		Status:     s.status,
		Amount:     s.amount,
		Candidates: append([]models.StatusCandidate(nil), s.candidates...),
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if s.intent != nil {
		intent := *s.intent
		snap.Intent = &intent
	}
	if s.loop != nil {
		poll := s.loop.Snapshot()
		snap.Poll = &poll
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// watch maps the terminal state of loop onto the session
func (s *Session) watch(gen uint64, loop *poller.Loop) {
	<-loop.Done()
	poll := loop.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	// superseded or already finalized by Confirm/Cancel
	if gen != s.generation || s.loop != loop || s.status.Terminal() {
		return
	}

	switch poll.State {
	case models.LoopSucceeded:
		s.finishLocked(StatusSucceeded, nil, poll.Attempts)
	case models.LoopFailed:
		s.finishLocked(StatusFailed, ErrPaymentFailed, poll.Attempts)
	case models.LoopExhausted:
		s.finishLocked(StatusExhausted, ErrPollingExhausted, poll.Attempts)
	default:
		s.finishLocked(StatusCancelled, nil, poll.Attempts)
	}
}

// finishLocked records a terminal status and emits its event
func (s *Session) finishLocked(status Status, err error, attempts int) {
	s.status = status
	s.lastErr = err
	s.updatedAt = time.Now()
	metrics.SessionsFinished.WithLabelValues(string(status)).Inc()

	event := Event{
		SessionID: s.id,
		Status:    status,
		Attempts:  attempts,
		Err:       err,
		At:        s.updatedAt,
	}
	if s.intent != nil {
		intent := *s.intent
		event.Intent = &intent
	}

	select {
	case s.events <- event:
	default:
		s.logger.ErrorWithSession(s.id, "Event buffer full, dropping %s event", status)
	}
}

func attemptsOf(loop *poller.Loop) int {
	if loop == nil {
		return 0
	}
	return loop.Snapshot().Attempts
}

// Package poller drives repeated status probing for one payment intent.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/speedrun-hq/paywatch/pkg/classifier"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/metrics"
	"github.com/speedrun-hq/paywatch/pkg/models"
)

const (
	// DefaultInterval is the time between two ticks
	DefaultInterval = 3000 * time.Millisecond

	// DefaultMaxAttempts is the number of ticks before the loop gives up
	DefaultMaxAttempts = 40

	tracerName = "github.com/speedrun-hq/paywatch/pkg/poller"
)

// ErrAlreadyStarted is returned when Start is called on a loop that left idle
var ErrAlreadyStarted = errors.New("polling loop already started")

// Prober performs a single status probe. Implementations must not return
// until the probe finished or ctx is done.
type Prober interface {
	Probe(ctx context.Context, url, token string) models.ProbeResult
}

// Config holds the loop parameters
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	// InitialDelay is waited once before the ticker starts
	InitialDelay time.Duration
	// Token is sent as bearer credential to same-origin candidates
	Token     string
	SessionID string
}

// Loop polls a fixed candidate list until a response classifies as paid or
// failed, the attempt budget is spent, or the loop is cancelled.
type Loop struct {
	prober Prober
	cfg    Config
	logger logger.Logger
	tracer trace.Tracer

	mu         sync.Mutex
	state      models.PollState
	candidates []models.StatusCandidate
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates an idle loop
func New(prober Prober, cfg Config, logger logger.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}

	return &Loop{
		prober: prober,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		state: models.PollState{
			State:       models.LoopIdle,
			Interval:    cfg.Interval,
			MaxAttempts: cfg.MaxAttempts,
		},
		done: make(chan struct{}),
	}
}

// Start moves the loop from idle to running. The loop stops on its own when
// it reaches a terminal state or when ctx is done.
func (l *Loop) Start(ctx context.Context, candidates []models.StatusCandidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.State != models.LoopIdle {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.candidates = append([]models.StatusCandidate(nil), candidates...)
	l.state.State = models.LoopRunning
	l.state.StartedAt = time.Now()

	l.logger.DebugWithSession(l.cfg.SessionID, "Polling %d candidates every %v, at most %d ticks",
		len(l.candidates), l.cfg.Interval, l.cfg.MaxAttempts)

	go l.run(loopCtx)
	return nil
}

// Cancel stops the loop. When Cancel returns no further probe will be issued.
// Cancelling a terminal loop is a no-op.
func (l *Loop) Cancel() {
	l.mu.Lock()
	switch {
	case l.state.State.Terminal():
		l.mu.Unlock()
		return
	case l.state.State == models.LoopIdle:
		l.finishLocked(models.LoopCancelled)
		close(l.done)
		l.mu.Unlock()
		return
	}
	l.finishLocked(models.LoopCancelled)
	l.cancel()
	l.mu.Unlock()

	// wait for the loop goroutine so an in-flight probe cannot outlive us
	<-l.done
}

// State returns the current loop state
func (l *Loop) State() models.LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.State
}

// Snapshot returns a copy of the poll state
func (l *Loop) Snapshot() models.PollState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the loop is terminal and its goroutine exited
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the loop is terminal or ctx is done
func (l *Loop) Wait(ctx context.Context) (models.PollState, error) {
	select {
	case <-l.done:
		return l.Snapshot(), nil
	case <-ctx.Done():
		return l.Snapshot(), ctx.Err()
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.cancel()

	if l.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			l.finish(models.LoopCancelled)
			return
		case <-time.After(l.cfg.InitialDelay):
		}
	}

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.finish(models.LoopCancelled)
			return
		case <-ticker.C:
			if next := l.tick(ctx); next.Terminal() {
				l.finish(next)
				return
			}
		}
	}
}

// tick probes the candidates once, in order, and returns the resulting state
func (l *Loop) tick(ctx context.Context) models.LoopState {
	if ctx.Err() != nil {
		return models.LoopCancelled
	}

	attempt := l.nextAttempt()
	metrics.PollTicks.Inc()

	ctx, span := l.tracer.Start(ctx, "poll.tick", trace.WithAttributes(
		attribute.String("session.id", l.cfg.SessionID),
		attribute.Int("poll.attempt", attempt),
		attribute.Int("poll.candidates", len(l.candidates)),
	))
	defer span.End()

	for _, candidate := range l.candidates {
		if ctx.Err() != nil {
			return models.LoopCancelled
		}

		// the credential never leaves the API host
		token := ""
		if candidate.SameOrigin {
			token = l.cfg.Token
		}
		result := l.prober.Probe(ctx, candidate.URL, token)
		l.countProbe()

		// results that arrive after cancellation are discarded
		if ctx.Err() != nil {
			return models.LoopCancelled
		}
		if !result.OK {
			continue
		}

		verdict := classifier.Classify(result.Body)
		span.SetAttributes(
			attribute.String("poll.url", candidate.URL),
			attribute.String("poll.verdict", verdict.String()),
		)
		l.logger.DebugWithSession(l.cfg.SessionID, "Tick %d: %s answered, verdict %s", attempt, candidate.URL, verdict)

		switch verdict {
		case classifier.Paid:
			l.setMatched(candidate.URL)
			return models.LoopSucceeded
		case classifier.Failed:
			l.setMatched(candidate.URL)
			return models.LoopFailed
		}
		return l.afterTick(attempt)
	}

	metrics.TickMisses.Inc()
	l.logger.DebugWithSession(l.cfg.SessionID, "Tick %d: no candidate answered", attempt)
	return l.afterTick(attempt)
}

func (l *Loop) afterTick(attempt int) models.LoopState {
	if attempt >= l.cfg.MaxAttempts {
		return models.LoopExhausted
	}
	return models.LoopRunning
}

func (l *Loop) nextAttempt() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Attempts++
	return l.state.Attempts
}

func (l *Loop) countProbe() {
	l.mu.Lock()
	l.state.Probes++
	l.mu.Unlock()
}

func (l *Loop) setMatched(url string) {
	l.mu.Lock()
	l.state.MatchedURL = url
	l.mu.Unlock()
}

func (l *Loop) finish(state models.LoopState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishLocked(state)
}

// finishLocked records the first terminal transition, later ones are ignored
func (l *Loop) finishLocked(state models.LoopState) {
	if l.state.State.Terminal() {
		return
	}
	l.state.State = state
	l.state.FinishedAt = time.Now()

	metrics.LoopsFinished.WithLabelValues(string(state)).Inc()
	metrics.AttemptsToFinish.WithLabelValues(string(state)).Observe(float64(l.state.Attempts))

	switch state {
	case models.LoopSucceeded:
		l.logger.NoticeWithSession(l.cfg.SessionID, "Payment confirmed after %d ticks", l.state.Attempts)
	case models.LoopFailed:
		l.logger.NoticeWithSession(l.cfg.SessionID, "Payment reported as failed after %d ticks", l.state.Attempts)
	case models.LoopExhausted:
		l.logger.InfoWithSession(l.cfg.SessionID, "Polling exhausted after %d ticks without a verdict", l.state.Attempts)
	case models.LoopCancelled:
		l.logger.DebugWithSession(l.cfg.SessionID, "Polling cancelled after %d ticks", l.state.Attempts)
	}
}

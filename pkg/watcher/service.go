// Package watcher runs the paywatch service: a registry of payment sessions
// behind the health and control HTTP server.
package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/speedrun-hq/paywatch/pkg/apiclient"
	"github.com/speedrun-hq/paywatch/pkg/circuitbreaker"
	"github.com/speedrun-hq/paywatch/pkg/config"
	"github.com/speedrun-hq/paywatch/pkg/health"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/metrics"
	"github.com/speedrun-hq/paywatch/pkg/poller"
	"github.com/speedrun-hq/paywatch/pkg/probe"
	"github.com/speedrun-hq/paywatch/pkg/session"
)

// reapInterval is how often finished sessions are checked for expiry
const reapInterval = time.Minute

// Service owns all payment sessions of the process
type Service struct {
	config  *config.Config
	logger  logger.Logger
	creator session.IntentCreator
	prober  poller.Prober
	breaker *circuitbreaker.CircuitBreaker

	mu       sync.RWMutex
	sessions map[string]*session.Session
	now      func() time.Time
}

var _ health.SessionRegistry = (*Service)(nil)

// NewService creates the service with its API client and prober
func NewService(cfg *config.Config, log logger.Logger) *Service {
	breaker := circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		log,
	)
	client := apiclient.New(cfg.IntentURL(), cfg.PaymentMethod, breaker, log)
	return newService(cfg, log, client, probe.New(cfg.ProbeTimeout, log), breaker)
}

func newService(cfg *config.Config, log logger.Logger, creator session.IntentCreator, prober poller.Prober, breaker *circuitbreaker.CircuitBreaker) *Service {
	return &Service{
		config:   cfg,
		logger:   log,
		creator:  creator,
		prober:   prober,
		breaker:  breaker,
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
}

// Start serves the HTTP surface and reaps expired sessions until ctx is done.
// Active sessions are cancelled on return.
func (s *Service) Start(ctx context.Context) error {
	defer s.Shutdown()

	g, ctx := errgroup.WithContext(ctx)

	healthServer := health.NewServer(s.config.MetricsPort, s, s.breaker, s.config.MetricsAPIKey, s.logger)
	g.Go(func() error {
		return healthServer.Start(ctx)
	})

	g.Go(func() error {
		s.logger.Info("Session reaper started, ttl %v", s.config.SessionTTL)
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Session reaper shutting down")
				return nil
			case <-ticker.C:
				if n := s.reap(); n > 0 {
					s.logger.Debug("Reaped %d expired sessions", n)
				}
			}
		}
	})

	s.logger.Info("Starting paywatch against %s, polling every %v for at most %d ticks",
		s.config.IntentURL(), s.config.PollingInterval, s.config.MaxPollAttempts)
	return g.Wait()
}

// NewSession registers an idle session
func (s *Service) NewSession() *session.Session {
	sess := session.New(uuid.NewString(), s.creator, s.prober, session.Config{
		Origin:      s.config.APIEndpoint,
		Templates:   s.config.StatusTemplates,
		Token:       s.config.AuthToken,
		Interval:    s.config.PollingInterval,
		MaxAttempts: s.config.MaxPollAttempts,
		SettleDelay: s.config.SettleDelay,
	}, s.logger)

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	return sess
}

// CreateSession registers a session and starts it for amount. The snapshot
// is returned even when intent creation failed.
func (s *Service) CreateSession(ctx context.Context, amount string) (session.Snapshot, error) {
	sess := s.NewSession()
	err := sess.Start(ctx, amount)
	return sess.Snapshot(), err
}

// ListSessions returns snapshots ordered by creation time
func (s *Service) ListSessions() []session.Snapshot {
	s.mu.RLock()
	snaps := make([]session.Snapshot, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// GetSession returns the snapshot of one session
func (s *Service) GetSession(id string) (session.Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// ConfirmSession marks a session as paid on the buyer's word
func (s *Service) ConfirmSession(id string) (session.Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	sess.Confirm()
	return sess.Snapshot(), nil
}

// CancelSession stops a session. Its record stays until reaped.
func (s *Service) CancelSession(id string) (session.Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	sess.Cancel()
	return sess.Snapshot(), nil
}

// Shutdown cancels every session
func (s *Service) Shutdown() {
	s.mu.RLock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.Cancel()
	}
}

func (s *Service) lookup(id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// reap drops terminal sessions idle for longer than the session ttl
func (s *Service) reap() int {
	cutoff := s.now().Add(-s.config.SessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Status().Terminal() && sess.UpdatedAt().Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return removed
}

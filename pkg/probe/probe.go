// Package probe performs single status checks against candidate URLs.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/speedrun-hq/paywatch/pkg/jsonvalue"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/metrics"
	"github.com/speedrun-hq/paywatch/pkg/models"
)

const (
	// DefaultTimeout bounds one probe end to end
	DefaultTimeout = 8 * time.Second

	// maxBodyBytes caps how much of a status response is read
	maxBodyBytes = 1 << 20
)

// Prober issues status probes
type Prober struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     logger.Logger
}

// New creates a prober with its own HTTP client
func New(timeout time.Duration, logger logger.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		httpClient: NewHTTPClient(),
		timeout:    timeout,
		logger:     logger,
	}
}

// NewWithClient creates a prober around an existing HTTP client
func NewWithClient(client *http.Client, timeout time.Duration, logger logger.Logger) *Prober {
	p := New(timeout, logger)
	p.httpClient = client
	return p
}

// NewHTTPClient creates an HTTP client with pooled, traced connections.
// Per-request deadlines come from the probe context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}),
	}
}

// Probe issues one GET against url. It never returns an error: every failure
// is folded into a ProbeResult with OK false.
func (p *Prober) Probe(ctx context.Context, url, token string) models.ProbeResult {
	start := time.Now()
	result := p.do(ctx, url, token)
	result.Duration = time.Since(start)

	metrics.ProbesTotal.WithLabelValues(string(result.Outcome)).Inc()
	metrics.ProbeDuration.WithLabelValues(string(result.Outcome)).Observe(result.Duration.Seconds())

	if !result.OK {
		p.logger.Debug("Probe %s failed (%s, status %d): %v", url, result.Outcome, result.StatusCode, result.Err)
	}
	return result
}

func (p *Prober) do(ctx context.Context, url, token string) models.ProbeResult {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return models.ProbeResult{Outcome: models.OutcomeNetworkError, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.ProbeResult{Outcome: classifyTransportError(err), Err: err}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			p.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.ProbeResult{StatusCode: resp.StatusCode, Outcome: classifyTransportError(err), Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ProbeResult{
			StatusCode: resp.StatusCode,
			Outcome:    models.OutcomeHTTPError,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	body, err := jsonvalue.Parse(bodyBytes)
	if err != nil {
		return models.ProbeResult{StatusCode: resp.StatusCode, Outcome: models.OutcomeDecodeError, Err: err}
	}

	return models.ProbeResult{
		OK:         true,
		StatusCode: resp.StatusCode,
		Body:       body,
		Outcome:    models.OutcomeOK,
	}
}

func classifyTransportError(err error) models.ProbeOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.OutcomeTimeout
	}
	return models.OutcomeNetworkError
}

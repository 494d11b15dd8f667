package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/speedrun-hq/paywatch/pkg/apiclient"
	"github.com/speedrun-hq/paywatch/pkg/circuitbreaker"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	sessions  map[string]session.Snapshot
	createErr error
	confirmed []string
	cancelled []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{sessions: map[string]session.Snapshot{
		"s1": {ID: "s1", Status: session.StatusPolling, Amount: "10"},
		"s2": {ID: "s2", Status: session.StatusSucceeded, Amount: "20"},
	}}
}

func (f *fakeRegistry) CreateSession(_ context.Context, amount string) (session.Snapshot, error) {
	if f.createErr != nil {
		return session.Snapshot{ID: "s3", Status: session.StatusIntentFailed}, f.createErr
	}
	snap := session.Snapshot{ID: "s3", Status: session.StatusPolling, Amount: amount}
	f.sessions[snap.ID] = snap
	return snap, nil
}

func (f *fakeRegistry) ListSessions() []session.Snapshot {
	return []session.Snapshot{f.sessions["s1"], f.sessions["s2"]}
}

func (f *fakeRegistry) GetSession(id string) (session.Snapshot, error) {
	snap, ok := f.sessions[id]
	if !ok {
		return session.Snapshot{}, session.ErrSessionNotFound
	}
	return snap, nil
}

func (f *fakeRegistry) ConfirmSession(id string) (session.Snapshot, error) {
	snap, err := f.GetSession(id)
	if err != nil {
		return snap, err
	}
	f.confirmed = append(f.confirmed, id)
	snap.Status = session.StatusConfirmed
	return snap, nil
}

func (f *fakeRegistry) CancelSession(id string) (session.Snapshot, error) {
	snap, err := f.GetSession(id)
	if err != nil {
		return snap, err
	}
	f.cancelled = append(f.cancelled, id)
	snap.Status = session.StatusCancelled
	return snap, nil
}

func newTestServer(registry SessionRegistry, breaker *circuitbreaker.CircuitBreaker, apiKey string) *httptest.Server {
	return httptest.NewServer(NewServer("0", registry, breaker, apiKey, &logger.EmptyLogger{}).Handler())
}

func do(t *testing.T, method, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthAndReady(t *testing.T) {
	breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Minute, &logger.EmptyLogger{})
	srv := newTestServer(newFakeRegistry(), breaker, "")
	defer srv.Close()

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/health", "", nil).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/ready", "", nil).StatusCode)

	breaker.RecordFailure()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, srv.URL+"/ready", "", nil).StatusCode)

	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/circuit/reset", "", nil).StatusCode)
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/ready", "", nil).StatusCode)
}

func TestStatus(t *testing.T) {
	breaker := circuitbreaker.NewCircuitBreaker(true, 3, time.Minute, time.Minute, &logger.EmptyLogger{})
	srv := newTestServer(newFakeRegistry(), breaker, "")
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Sessions int                  `json:"sessions"`
		ByStatus map[string]int       `json:"by_status"`
		Circuit  circuitbreaker.State `json:"circuit"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 2, status.Sessions)
	assert.Equal(t, map[string]int{"polling": 1, "succeeded": 1}, status.ByStatus)
	assert.Equal(t, 3, status.Circuit.Threshold)
}

func TestSessionRoutes(t *testing.T) {
	registry := newFakeRegistry()
	srv := newTestServer(registry, nil, "")
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/sessions", `{"amount":"42"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "42", created.Amount)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/sessions/nope", "", nil).StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/sessions/s1/confirm", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"s1"}, registry.confirmed)

	resp = do(t, http.MethodDelete, srv.URL+"/sessions/s2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"s2"}, registry.cancelled)

	resp = do(t, http.MethodGet, srv.URL+"/sessions", "", nil)
	var list []session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/sessions", `not json`, nil).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, http.MethodPut, srv.URL+"/sessions/s1", "", nil).StatusCode)
}

func TestCreateSessionErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: %w", session.ErrIntentCreation, apiclient.ErrInvalidAmount), http.StatusBadRequest},
		{fmt.Errorf("%w: %w", session.ErrIntentCreation, apiclient.ErrCircuitOpen), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", session.ErrIntentCreation, apiclient.ErrIntentRejected), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			registry := newFakeRegistry()
			registry.createErr = tt.err
			srv := newTestServer(registry, nil, "")
			defer srv.Close()

			resp := do(t, http.MethodPost, srv.URL+"/sessions", `{"amount":"1"}`, nil)
			assert.Equal(t, tt.code, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.err.Error(), body.Error)
			require.NotNil(t, body.Session)
			assert.Equal(t, session.StatusIntentFailed, body.Session.Status)
		})
	}
}

func TestMetricsAuth(t *testing.T) {
	srv := newTestServer(newFakeRegistry(), nil, "secret")
	defer srv.Close()

	tests := []struct {
		name   string
		header map[string]string
		code   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
		{"wrong key", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"valid", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, do(t, http.MethodGet, srv.URL+"/metrics", "", tt.header).StatusCode)
		})
	}
}

func TestSessionRoutesRequireAPIKey(t *testing.T) {
	registry := newFakeRegistry()
	breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Minute, &logger.EmptyLogger{})
	breaker.RecordFailure()
	srv := newTestServer(registry, breaker, "secret")
	defer srv.Close()

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/sessions", `{"amount":"12.50"}`},
		{http.MethodGet, "/sessions", ""},
		{http.MethodGet, "/sessions/s1", ""},
		{http.MethodPost, "/sessions/s1/confirm", ""},
		{http.MethodDelete, "/sessions/s1", ""},
		{http.MethodPost, "/circuit/reset", ""},
	}
	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			resp := do(t, r.method, srv.URL+r.path, r.body, map[string]string{"Authorization": "Bearer nope"})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			resp = do(t, r.method, srv.URL+r.path, r.body, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	assert.NotContains(t, registry.sessions, "s3")
	assert.Empty(t, registry.confirmed)
	assert.Empty(t, registry.cancelled)
	assert.True(t, breaker.IsOpen())

	auth := map[string]string{"Authorization": "Bearer secret"}
	assert.Equal(t, http.StatusCreated, do(t, http.MethodPost, srv.URL+"/sessions", `{"amount":"12.50"}`, auth).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/sessions/s1", "", auth).StatusCode)
	assert.Contains(t, registry.sessions, "s3")

	// liveness stays open for orchestrators
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/health", "", nil).StatusCode)
}

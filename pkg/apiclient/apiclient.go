// Package apiclient provides a client for creating payment intents on the storefront API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/speedrun-hq/paywatch/pkg/circuitbreaker"
	"github.com/speedrun-hq/paywatch/pkg/jsonvalue"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/metrics"
	"github.com/speedrun-hq/paywatch/pkg/models"
)

var (
	// ErrCircuitOpen is returned without a request while the breaker is open
	ErrCircuitOpen = errors.New("intent API circuit breaker is open")

	// ErrIntentRejected is returned when the API answers with success false
	ErrIntentRejected = errors.New("intent rejected by API")

	// ErrMissingAmount is returned when the response carries no payable amount
	ErrMissingAmount = errors.New("intent response has no amount")

	// ErrInvalidAmount is returned for amounts that are not positive decimals
	ErrInvalidAmount = errors.New("amount must be a positive decimal")
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}

// Field names seen across storefront API versions, in lookup order
var (
	containerKeys = []string{"data", "order", "payment", "donation"}
	idKeys        = []string{"orderId", "order_id", "id", "_id", "paymentId", "donationId", "transactionId"}
	amountKeys    = []string{"amountToPay", "amount", "totalAmount", "payableAmount"}
	upiKeys       = []string{"upiId", "upi_id", "vpa"}
	qrKeys        = []string{"qrCode", "qr", "qrImage", "qrUrl"}
	txnKeys       = []string{"transactionId", "transactionRef", "txnId", "referenceId"}
)

const maxResponseBytes = 1 << 20

type intentRequest struct {
	Amount        string `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
}

// Client represents a storefront API client
type Client struct {
	intentURL     string
	paymentMethod string
	httpClient    *http.Client
	breaker       *circuitbreaker.CircuitBreaker
	logger        logger.Logger
}

// New creates a new API client. breaker may be nil.
func New(intentURL, paymentMethod string, breaker *circuitbreaker.CircuitBreaker, logger logger.Logger) *Client {
	return &Client{
		intentURL:     intentURL,
		paymentMethod: paymentMethod,
		httpClient:    createHTTPClient(),
		breaker:       breaker,
		logger:        logger,
	}
}

// CreateIntent posts a new payment intent and decodes the response
func (c *Client) CreateIntent(ctx context.Context, amount, token string) (models.PaymentIntent, error) {
	if err := validateAmount(amount); err != nil {
		metrics.IntentsCreated.WithLabelValues("invalid").Inc()
		return models.PaymentIntent{}, err
	}

	if c.breaker != nil && c.breaker.IsOpen() {
		metrics.IntentsCreated.WithLabelValues("circuit_open").Inc()
		return models.PaymentIntent{}, ErrCircuitOpen
	}

	intent, err := c.createIntent(ctx, amount, token)
	if err != nil {
		metrics.IntentsCreated.WithLabelValues(resultLabel(err)).Inc()
		if c.breaker != nil && isOutage(err) {
			c.breaker.RecordFailure()
		}
		return models.PaymentIntent{}, err
	}

	metrics.IntentsCreated.WithLabelValues("ok").Inc()
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	return intent, nil
}

func (c *Client) createIntent(ctx context.Context, amount, token string) (models.PaymentIntent, error) {
	payload, err := json.Marshal(intentRequest{Amount: amount, PaymentMethod: c.paymentMethod})
	if err != nil {
		return models.PaymentIntent{}, fmt.Errorf("failed to encode intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.intentURL, bytes.NewReader(payload))
	if err != nil {
		return models.PaymentIntent{}, fmt.Errorf("failed to build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.PaymentIntent{}, fmt.Errorf("failed to create intent: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.PaymentIntent{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.PaymentIntent{}, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	body, err := jsonvalue.Parse(bodyBytes)
	if err != nil {
		return models.PaymentIntent{}, fmt.Errorf("failed to decode intent response: %w, body: %s", err, string(bodyBytes))
	}

	intent, err := decodeIntent(body)
	if err != nil {
		return models.PaymentIntent{}, err
	}
	c.logger.Debug("Created intent %s for amount %s", intent.ID, intent.Amount)
	return intent, nil
}

// decodeIntent pulls intent fields from wherever this API version put them
func decodeIntent(body jsonvalue.Value) (models.PaymentIntent, error) {
	if success, ok := body.Get("success"); ok {
		if b, isBool := success.Bool(); isBool && !b {
			if msg := body.StringField("message"); msg != "" {
				return models.PaymentIntent{}, fmt.Errorf("%w: %s", ErrIntentRejected, msg)
			}
			return models.PaymentIntent{}, ErrIntentRejected
		}
	}

	scopes := []jsonvalue.Value{body}
	for _, key := range containerKeys {
		if nested, ok := body.Get(key); ok && nested.Kind() == jsonvalue.Object {
			scopes = append(scopes, nested)
		}
	}

	amount := firstScalar(scopes, amountKeys...)
	if amount == "" {
		return models.PaymentIntent{}, ErrMissingAmount
	}

	var payments []jsonvalue.Value
	for _, scope := range scopes {
		if list, ok := scope.Get("payments"); ok && list.Kind() == jsonvalue.Array {
			payments = list.Items()
			break
		}
	}

	// the first payment sub-record can carry the UPI handle and QR
	lookup := scopes
	if len(payments) > 0 && payments[0].Kind() == jsonvalue.Object {
		lookup = append(append([]jsonvalue.Value(nil), scopes...), payments[0])
	}

	txnRef := firstScalar(lookup, txnKeys...)
	id := firstScalar(scopes, idKeys...)
	if id == "" {
		id = txnRef
	}

	return models.PaymentIntent{
		ID:             id,
		Amount:         amount,
		UPIID:          firstScalar(lookup, upiKeys...),
		QRPayload:      firstScalar(lookup, qrKeys...),
		TransactionRef: txnRef,
		Payments:       payments,
		Raw:            body,
		CreatedAt:      time.Now(),
	}, nil
}

func firstScalar(scopes []jsonvalue.Value, keys ...string) string {
	for _, scope := range scopes {
		for _, key := range keys {
			if v, ok := scope.Get(key); ok {
				if s, ok := v.Scalar(); ok {
					return s
				}
			}
		}
	}
	return ""
}

// decimalAmount accepts plain decimals such as "50" or "12.50"
var decimalAmount = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

func validateAmount(amount string) error {
	if !decimalAmount.MatchString(amount) {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil || f <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return nil
}

// isOutage reports whether err means the API is unreachable or broken,
// as opposed to a well-formed rejection
func isOutage(err error) bool {
	// the caller went away, the API did nothing wrong
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	return !errors.Is(err, ErrIntentRejected) && !errors.Is(err, ErrMissingAmount)
}

func resultLabel(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrIntentRejected):
		return "rejected"
	case errors.Is(err, ErrMissingAmount):
		return "malformed"
	case errors.As(err, &statusErr):
		return "http_error"
	}
	return "error"
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		}),
	}
}

package session

import "errors"

var (
	// ErrIntentCreation wraps any failure to create the payment intent
	ErrIntentCreation = errors.New("payment intent creation failed")

	// ErrPaymentFailed is reported when the backend marks the payment as failed
	ErrPaymentFailed = errors.New("payment failed")

	// ErrPollingExhausted is reported when no verdict arrived within the attempt budget
	ErrPollingExhausted = errors.New("payment status inconclusive: polling exhausted")

	// ErrSuperseded is returned by Start when a newer Start or a Cancel overtook it
	ErrSuperseded = errors.New("session start superseded")
)

// ErrSessionNotFound is returned by registries for unknown session ids
var ErrSessionNotFound = errors.New("session not found")

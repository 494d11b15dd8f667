package models

import (
	"time"

	"github.com/speedrun-hq/paywatch/pkg/jsonvalue"
)

// PaymentIntent represents a payment intent created on the storefront API
type PaymentIntent struct {
	ID             string            `json:"id"`
	Amount         string            `json:"amount"`
	UPIID          string            `json:"upi_id,omitempty"`
	QRPayload      string            `json:"qr_payload,omitempty"` // data URI or remote URL
	TransactionRef string            `json:"transaction_ref,omitempty"`
	Payments       []jsonvalue.Value `json:"payments,omitempty"`
	Raw            jsonvalue.Value   `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
}

// HasQRImage reports whether the QR payload is an inline data URI
func (p PaymentIntent) HasQRImage() bool {
	return len(p.QRPayload) > 5 && p.QRPayload[:5] == "data:"
}

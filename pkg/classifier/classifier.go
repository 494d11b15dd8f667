// Package classifier decides whether a status response describes a paid or a
// failed payment. Backends disagree on the response shape, so the checks are
// heuristic field lookups over a jsonvalue.Value.
package classifier

import "github.com/speedrun-hq/paywatch/pkg/jsonvalue"

const (
	paidKeyword = "paid"
	failKeyword = "fail"
)

// IsPaid reports whether v represents a confirmed payment.
// Missing or mistyped fields never match; non-object values are never paid.
func IsPaid(v jsonvalue.Value) bool {
	if v.Kind() != jsonvalue.Object {
		return false
	}

	switch {
	case v.ContainsFold("status", paidKeyword):
		return true
	case v.IsTrue("paid"):
		return true
	case v.IsTrue("isPaid"):
		return true
	case v.IsTrue("payment_confirmed"):
		return true
	case v.ContainsFold("paymentStatus", paidKeyword):
		return true
	case v.IsTrue("success") && (v.IsTrue("paid") || v.ContainsFold("status", paidKeyword)):
		return true
	}

	if data, ok := v.Get("data"); ok && IsPaid(data) {
		return true
	}

	if payments, ok := v.Get("payments"); ok {
		for _, p := range payments.Items() {
			if IsPaid(p) {
				return true
			}
		}
	}

	if payment, ok := v.Get("payment"); ok && IsPaid(payment) {
		return true
	}

	return false
}

// IsFailed reports whether the top level of v carries an explicit failure signal
func IsFailed(v jsonvalue.Value) bool {
	return v.ContainsFold("status", failKeyword) ||
		v.ContainsFold("paymentStatus", failKeyword) ||
		v.ContainsFold("message", failKeyword)
}

// Verdict is the combined classification of one status body
type Verdict int

const (
	Pending Verdict = iota
	Paid
	Failed
)

func (v Verdict) String() string {
	switch v {
	case Paid:
		return "paid"
	case Failed:
		return "failed"
	}
	return "pending"
}

// Classify applies IsPaid and then IsFailed
func Classify(v jsonvalue.Value) Verdict {
	if IsPaid(v) {
		return Paid
	}
	if IsFailed(v) {
		return Failed
	}
	return Pending
}

package models

import (
	"time"

	"github.com/speedrun-hq/paywatch/pkg/jsonvalue"
)

// CandidateSource records where a status candidate came from
type CandidateSource string

const (
	// SourceDiscovered marks URLs found in the intent creation response
	SourceDiscovered CandidateSource = "discovered"
	// SourceTemplate marks URLs built from a static id template
	SourceTemplate CandidateSource = "template"
)

// StatusCandidate is one URL that may report the current payment status
type StatusCandidate struct {
	URL    string          `json:"url"`
	Source CandidateSource `json:"source"`
	// SameOrigin is true when the URL is on the API host; only those get the bearer token
	SameOrigin bool `json:"same_origin"`
}

// ProbeOutcome classifies a single probe
type ProbeOutcome string

const (
	OutcomeOK           ProbeOutcome = "ok"
	OutcomeHTTPError    ProbeOutcome = "http_error"
	OutcomeNetworkError ProbeOutcome = "network_error"
	OutcomeTimeout      ProbeOutcome = "timeout"
	OutcomeDecodeError  ProbeOutcome = "decode_error"
)

// ProbeResult is the normalized result of one status probe. It is never persisted.
type ProbeResult struct {
	OK         bool
	StatusCode int
	Body       jsonvalue.Value
	Outcome    ProbeOutcome
	Duration   time.Duration
	Err        error // diagnostic only
}

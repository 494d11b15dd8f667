// Package candidates builds the ordered list of URLs that are polled for the
// status of one payment intent.
package candidates

import (
	"net/url"
	"strings"

	"github.com/speedrun-hq/paywatch/pkg/jsonvalue"
	"github.com/speedrun-hq/paywatch/pkg/models"
)

// IDPlaceholder is replaced by the path-escaped intent id in templates
const IDPlaceholder = "{id}"

// DefaultTemplates are the static status paths, most specific first
var DefaultTemplates = []string{
	"/api/payments/{id}/status",
	"/api/donations/{id}/status",
	"/api/orders/{id}/status",
	"/api/orders/{id}",
	"/api/payments/{id}",
	"/api/payment/status/{id}",
	"/api/v1/payments/{id}",
}

// Build returns discovered URLs from the intent creation body followed by the
// expanded templates. Same inputs always yield the same sequence.
// origin is the API base, e.g. "https://api.example.com".
func Build(body jsonvalue.Value, intentID, origin string, templates []string) []models.StatusCandidate {
	base, _ := url.Parse(strings.TrimRight(origin, "/") + "/")

	var out []models.StatusCandidate
	seen := make(map[string]bool)
	add := func(raw string, source models.CandidateSource) {
		resolved := resolve(base, raw)
		if resolved == nil || seen[resolved.String()] {
			return
		}
		seen[resolved.String()] = true
		out = append(out, models.StatusCandidate{
			URL:        resolved.String(),
			Source:     source,
			SameOrigin: base != nil && strings.EqualFold(resolved.Host, base.Host),
		})
	}

	for _, raw := range Discover(body) {
		add(raw, models.SourceDiscovered)
	}

	if intentID != "" {
		escaped := url.PathEscape(intentID)
		for _, tmpl := range templates {
			add(strings.ReplaceAll(tmpl, IDPlaceholder, escaped), models.SourceTemplate)
		}
	}

	return out
}

// Discover returns every string in body that looks like a URL or an API path,
// in source order
func Discover(body jsonvalue.Value) []string {
	var found []string
	body.Walk(func(_ []string, s string) {
		s = strings.TrimSpace(s)
		if looksLikeEndpoint(s) {
			found = append(found, s)
		}
	})
	return found
}

func looksLikeEndpoint(s string) bool {
	return strings.HasPrefix(s, "http") || strings.Contains(s, "/api/")
}

// resolve makes raw absolute against base. Paths are kept under the base
// path, so an origin like "https://shop.test/backend" prefixes rooted
// templates too. Paths that already carry the prefix are not doubled.
// Unparseable values are dropped.
func resolve(base *url.URL, raw string) *url.URL {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	if ref.IsAbs() {
		return ref
	}
	if base == nil {
		return nil
	}
	if ref.Host != "" {
		return base.ResolveReference(ref)
	}

	// base always ends in "/", so prefix is "" or "backend/"
	rel := strings.TrimLeft(ref.EscapedPath(), "/")
	prefix := strings.TrimLeft(base.EscapedPath(), "/")
	if prefix != "" && strings.HasPrefix(rel, prefix) {
		rel = "/" + rel
	}
	unescaped, err := url.PathUnescape(rel)
	if err != nil {
		return nil
	}
	ref.Path = unescaped
	ref.RawPath = rel
	return base.ResolveReference(ref)
}

// Package policy decides, before any SQL is generated, whether a caller's
// free-text request is permitted for their role.
package policy

import (
	"errors"
	"strings"

	"github.com/triage-ai/querygate/internal/auth"
)

// ErrForbidden is returned when the request intent is not allowed for the role.
var ErrForbidden = errors.New("forbidden")

// DefaultBulkMarkers are the phrases that mark a request as asking for every
// row of the table.
var DefaultBulkMarkers = []string{"all customers"}

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Marker  string // the phrase that matched, empty if none
}

// Evaluator gates bulk-access intents to admins. Matching is a
// case-insensitive substring search over the raw text, so a paraphrase
// ("show me everybody") is not caught.
type Evaluator struct {
	markers []string
}

// NewEvaluator creates an Evaluator. Empty markers are ignored; a nil or
// empty list falls back to DefaultBulkMarkers.
func NewEvaluator(markers []string) *Evaluator {
	cleaned := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			cleaned = append(cleaned, m)
		}
	}
	if len(cleaned) == 0 {
		for _, m := range DefaultBulkMarkers {
			cleaned = append(cleaned, strings.ToLower(m))
		}
	}
	return &Evaluator{markers: cleaned}
}

// Markers returns the normalized marker phrases.
func (e *Evaluator) Markers() []string {
	out := make([]string, len(e.markers))
	copy(out, e.markers)
	return out
}

// Evaluate returns the decision without converting it to an error.
func (e *Evaluator) Evaluate(id auth.Identity, rawText string) Decision {
	marker := e.bulkMarker(rawText)
	if marker == "" {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: id.IsAdmin(), Marker: marker}
}

// Authorize returns nil when the request may proceed to translation and
// ErrForbidden otherwise.
func (e *Evaluator) Authorize(id auth.Identity, rawText string) error {
	if d := e.Evaluate(id, rawText); !d.Allowed {
		return ErrForbidden
	}
	return nil
}

func (e *Evaluator) bulkMarker(rawText string) string {
	text := strings.ToLower(rawText)
	for _, m := range e.markers {
		if strings.Contains(text, m) {
			return m
		}
	}
	return ""
}

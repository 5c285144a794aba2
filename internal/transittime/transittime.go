// Package transittime normalizes the two time encodings emitted by the
// upstream prediction feed into a single Instant type, and decides whether a
// predicted arrival is still relevant relative to the serving host's clock.
package transittime

import (
	"strings"
	"time"
)

const (
	compactLayout = "20060102 15:04:05"

	// DefaultSkew is the forward correction applied to the host clock before
	// comparing against feed timestamps. The feed's clock runs a few seconds
	// ahead of ours in practice.
	DefaultSkew = 5 * time.Second

	// DefaultLookback is how far in the past a prediction may sit before it
	// is dropped as already-departed.
	DefaultLookback = 2 * time.Minute
)

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Instant is a point in time parsed from an upstream timestamp. The zero
// value is Unparseable: it sorts after every valid Instant and is never
// filtered as stale.
type Instant struct {
	t     time.Time
	valid bool
}

// Unparseable is the sentinel returned for raw strings that match neither
// upstream time encoding.
var Unparseable = Instant{}

// InstantOf wraps a concrete time, mainly for tests and fixtures.
func InstantOf(t time.Time) Instant {
	return Instant{t: t, valid: true}
}

// Valid reports whether the Instant carries a parsed time.
func (i Instant) Valid() bool {
	return i.valid
}

// Time returns the parsed time. It is the zero time for Unparseable.
func (i Instant) Time() time.Time {
	return i.t
}

// Before orders Instants ascending with Unparseable values last.
func (i Instant) Before(other Instant) bool {
	if !i.valid {
		return false
	}
	if !other.valid {
		return true
	}
	return i.t.Before(other.t)
}

// Parse decodes an upstream timestamp in either the compact local format
// ("20060102 15:04:05", no zone, interpreted in loc) or ISO-8601. Malformed
// input of either shape yields Unparseable; Parse never panics.
func Parse(raw string, loc *time.Location) Instant {
	if loc == nil {
		loc = time.Local
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Unparseable
	}

	// The compact format never contains 'T'; its presence marks ISO-8601.
	if strings.ContainsRune(raw, 'T') {
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
				return Instant{t: t, valid: true}
			}
		}
		return Unparseable
	}

	datePart, timePart, found := strings.Cut(raw, " ")
	if !found || datePart == "" || timePart == "" {
		return Unparseable
	}
	t, err := time.ParseInLocation(compactLayout, datePart+" "+timePart, loc)
	if err != nil {
		return Unparseable
	}
	return Instant{t: t, valid: true}
}

// IsRelevant reports whether a prediction is worth showing at now.
// Unparseable instants are conservatively included. A valid instant is
// relevant while it is no more than lookback behind the skew-corrected
// host clock.
func IsRelevant(i Instant, now time.Time, skew, lookback time.Duration) bool {
	if !i.valid {
		return true
	}
	return i.t.Sub(now.Add(skew)) > -lookback
}

// Package cache holds the last shaped response per query key together with
// its creation instant, and classifies entries into the three age bands the
// freshness policy acts on: fresh, stale-but-usable, expired.
package cache

import (
	"sort"
	"strings"
	"time"

	"trainwatch.transitboard.org/internal/models"
)

// Namespace prefixes keep station-level and stop-level entries for the same
// identifiers from colliding.
const (
	NamespaceStations = "stations"
	NamespaceStop     = "stop"
)

// BuildKey derives a deterministic cache key from a set of requested
// location identifiers: sorted, deduplicated, joined, and namespaced, so
// "40380,40360" and "40360,40380" share an entry.
func BuildKey(namespace string, ids []string) string {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)
	return namespace + ":" + strings.Join(unique, ",")
}

// Entry is one cached shaped response.
type Entry struct {
	Key       string
	Payload   models.ArrivalsPayload
	CreatedAt time.Time
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// IsFresh reports whether the entry can be served without any refresh.
// True strictly before CreatedAt+freshTTL.
func (e Entry) IsFresh(now time.Time, freshTTL time.Duration) bool {
	return e.Age(now) < freshTTL
}

// IsExpired reports whether the entry is no longer usable even as stale.
// False strictly before CreatedAt+staleTTL, true at and after.
func (e Entry) IsExpired(now time.Time, staleTTL time.Duration) bool {
	return e.Age(now) >= staleTTL
}

// Store is the persistence boundary for cache entries. Implementations must
// support concurrent get/put with atomic replace-on-write per key. Errors
// are advisory: callers treat a failed read as a miss and drop failed
// writes rather than failing the request.
type Store interface {
	Get(key string) (Entry, bool, error)
	Put(key string, payload models.ArrivalsPayload, createdAt time.Time) error
	Close() error
}

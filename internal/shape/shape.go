// Package shape transforms the upstream's flat arrival list into the nested
// station -> stop -> arrivals structure served to clients. Output is
// deterministic regardless of upstream record ordering: stations and stops
// appear in first-seen order, arrivals sorted by predicted time ascending.
package shape

import (
	"sort"
	"time"

	"trainwatch.transitboard.org/internal/models"
	"trainwatch.transitboard.org/internal/transittime"
	"trainwatch.transitboard.org/internal/upstream"
)

// DefaultMaxPerStop caps how many arrivals each platform carries.
const DefaultMaxPerStop = 3

// Options tunes the relevance filter and truncation applied while shaping.
type Options struct {
	// Location interprets the compact local-time format. Nil means the
	// host's local zone.
	Location *time.Location
	// Skew and Lookback feed the transittime relevance check.
	Skew     time.Duration
	Lookback time.Duration
	// MaxPerStop caps arrivals per stop; zero means DefaultMaxPerStop.
	MaxPerStop int
}

func (o Options) maxPerStop() int {
	if o.MaxPerStop <= 0 {
		return DefaultMaxPerStop
	}
	return o.MaxPerStop
}

// timedRecord pairs a raw record with its parsed arrival instant so the
// sort does not re-parse.
type timedRecord struct {
	record  upstream.ArrivalRecord
	instant transittime.Instant
}

// Stations shapes a station-level query result.
func Stations(records []upstream.ArrivalRecord, now time.Time, opts Options) []models.StationGroup {
	timed := filterRelevant(records, now, opts)

	// Stops are keyed by station+stop: the upstream occasionally repeats a
	// stop ID under a different station, and those records must stay in
	// their own station's group.
	type stopKey struct {
		station string
		stop    string
	}

	stationOrder := make([]string, 0)
	stopOrder := make(map[string][]string)
	stationNames := make(map[string]string)
	byStop := make(map[stopKey][]timedRecord)

	for _, tr := range timed {
		key := stopKey{station: tr.record.StationID, stop: tr.record.StopID}

		if _, seen := stationNames[key.station]; !seen {
			stationOrder = append(stationOrder, key.station)
			stationNames[key.station] = tr.record.StationName
		}
		if _, seen := byStop[key]; !seen {
			stopOrder[key.station] = append(stopOrder[key.station], key.stop)
		}
		byStop[key] = append(byStop[key], tr)
	}

	stations := make([]models.StationGroup, 0, len(stationOrder))
	for _, stationID := range stationOrder {
		group := models.StationGroup{
			StationID: stationID,
			Name:      stationNames[stationID],
		}
		for _, stopID := range stopOrder[stationID] {
			group.Stops = append(group.Stops, buildStop(byStop[stopKey{station: stationID, stop: stopID}], opts))
		}
		stations = append(stations, group)
	}
	return stations
}

// Stop shapes a single-platform query result. All input records are
// expected to share one stop identifier; an empty input yields an empty
// StopGroup rather than an error.
func Stop(records []upstream.ArrivalRecord, now time.Time, opts Options) models.StopGroup {
	timed := filterRelevant(records, now, opts)
	if len(timed) == 0 {
		return models.StopGroup{Arrivals: []models.Arrival{}}
	}
	return buildStop(timed, opts)
}

// filterRelevant applies the relevance window, except when doing so would
// empty a non-empty batch: systematic clock-skew misconfiguration should
// degrade to a too-generous answer, not an empty one.
func filterRelevant(records []upstream.ArrivalRecord, now time.Time, opts Options) []timedRecord {
	loc := opts.Location
	timed := make([]timedRecord, 0, len(records))
	kept := make([]timedRecord, 0, len(records))

	for _, record := range records {
		tr := timedRecord{
			record:  record,
			instant: transittime.Parse(record.ArrivalTime, loc),
		}
		timed = append(timed, tr)
		if transittime.IsRelevant(tr.instant, now, opts.Skew, opts.Lookback) {
			kept = append(kept, tr)
		}
	}

	if len(kept) == 0 && len(timed) > 0 {
		return timed
	}
	return kept
}

// buildStop sorts one stop's records by parsed instant ascending
// (unparseable last), truncates, and attaches display fields from the first
// record encountered for the stop.
func buildStop(timed []timedRecord, opts Options) models.StopGroup {
	group := models.StopGroup{
		StopID:   timed[0].record.StopID,
		Name:     timed[0].record.StopDescription,
		Route:    timed[0].record.Route,
		Arrivals: []models.Arrival{},
	}

	sorted := make([]timedRecord, len(timed))
	copy(sorted, timed)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].instant.Before(sorted[j].instant)
	})

	max := opts.maxPerStop()
	if len(sorted) > max {
		sorted = sorted[:max]
	}

	for _, tr := range sorted {
		group.Arrivals = append(group.Arrivals, toArrival(tr, opts.Location))
	}
	return group
}

// toArrival converts a raw record into the stable response contract,
// normalizing parseable times to RFC 3339 and passing unparseable ones
// through untouched.
func toArrival(tr timedRecord, loc *time.Location) models.Arrival {
	arrival := models.Arrival{
		Route:          tr.record.Route,
		Destination:    tr.record.Destination,
		ArrivalTime:    tr.record.ArrivalTime,
		PredictionTime: tr.record.PredictionTime,
		IsApproaching:  upstream.Flag(tr.record.IsApproaching),
		IsDelayed:      upstream.Flag(tr.record.IsDelayed),
		IsScheduleOnly: upstream.Flag(tr.record.IsScheduleOnly),
	}
	if tr.instant.Valid() {
		arrival.ArrivalTime = tr.instant.Time().Format(time.RFC3339)
	}
	if generated := transittime.Parse(tr.record.PredictionTime, loc); generated.Valid() {
		arrival.PredictionTime = generated.Time().Format(time.RFC3339)
	}
	return arrival
}

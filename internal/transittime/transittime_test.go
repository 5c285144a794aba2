package transittime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func TestParse_CompactFormat(t *testing.T) {
	loc := chicago(t)

	tests := []struct {
		name     string
		raw      string
		expected time.Time
	}{
		{
			name:     "morning arrival",
			raw:      "20240615 08:30:45",
			expected: time.Date(2024, 6, 15, 8, 30, 45, 0, loc),
		},
		{
			name:     "midnight rollover",
			raw:      "20241231 23:59:59",
			expected: time.Date(2024, 12, 31, 23, 59, 59, 0, loc),
		},
		{
			name:     "single digit fields padded",
			raw:      "20240101 01:02:03",
			expected: time.Date(2024, 1, 1, 1, 2, 3, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := Parse(tt.raw, loc)
			require.True(t, inst.Valid())
			assert.True(t, tt.expected.Equal(inst.Time()))
		})
	}
}

func TestParse_ISOFormat(t *testing.T) {
	loc := chicago(t)

	t.Run("without offset uses location", func(t *testing.T) {
		inst := Parse("2024-06-15T08:30:45", loc)
		require.True(t, inst.Valid())
		assert.True(t, time.Date(2024, 6, 15, 8, 30, 45, 0, loc).Equal(inst.Time()))
	})

	t.Run("with offset matches RFC3339", func(t *testing.T) {
		inst := Parse("2024-06-15T08:30:45-05:00", loc)
		require.True(t, inst.Valid())

		want, err := time.Parse(time.RFC3339, "2024-06-15T08:30:45-05:00")
		require.NoError(t, err)
		assert.True(t, want.Equal(inst.Time()))
	})
}

func TestParse_MalformedInput(t *testing.T) {
	loc := chicago(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty string", ""},
		{"whitespace only", "   "},
		{"missing time part", "20240615"},
		{"missing date part", " 08:30:45"},
		{"trailing space only", "20240615 "},
		{"garbage", "not-a-time"},
		{"iso garbage", "2024-99-99T99:99:99"},
		{"month out of range", "20241315 08:30:45"},
		{"short date part", "2024061 08:30:45"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := Parse(tt.raw, loc)
			assert.False(t, inst.Valid())
		})
	}
}

func TestInstant_Ordering(t *testing.T) {
	loc := chicago(t)
	early := Parse("20240615 08:00:00", loc)
	late := Parse("20240615 09:00:00", loc)
	bad := Parse("garbage", loc)

	assert.True(t, early.Before(late))
	assert.False(t, late.Before(early))

	// Unparseable sorts last against everything, including itself
	assert.True(t, early.Before(bad))
	assert.False(t, bad.Before(early))
	assert.False(t, bad.Before(bad))
}

func TestIsRelevant(t *testing.T) {
	loc := chicago(t)
	now := time.Date(2024, 6, 15, 8, 30, 0, 0, loc)

	tests := []struct {
		name     string
		instant  Instant
		expected bool
	}{
		{
			name:     "future arrival is relevant",
			instant:  InstantOf(now.Add(5 * time.Minute)),
			expected: true,
		},
		{
			name:     "arrival just inside lookback window",
			instant:  InstantOf(now.Add(DefaultSkew).Add(-DefaultLookback + time.Second)),
			expected: true,
		},
		{
			name:     "arrival beyond lookback window",
			instant:  InstantOf(now.Add(-10 * time.Minute)),
			expected: false,
		},
		{
			name:     "arrival exactly at lookback boundary is dropped",
			instant:  InstantOf(now.Add(DefaultSkew).Add(-DefaultLookback)),
			expected: false,
		},
		{
			name:     "unparseable is conservatively included",
			instant:  Unparseable,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsRelevant(tt.instant, now, DefaultSkew, DefaultLookback)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIsRelevant_SkewShiftsCutoff(t *testing.T) {
	// The cutoff is measured against the skew-corrected host clock, so an
	// arrival just inside the window without correction falls outside it
	// once the feed's clock lead is accounted for.
	loc := chicago(t)
	now := time.Date(2024, 6, 15, 8, 30, 0, 0, loc)
	arrival := InstantOf(now.Add(-DefaultLookback + 3*time.Second))

	assert.True(t, IsRelevant(arrival, now, 0, DefaultLookback))
	assert.False(t, IsRelevant(arrival, now, DefaultSkew, DefaultLookback))
}

package dragonbot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  relativeDuration
	}{
		{input: "1d12h", want: relativeDuration{Days: 1, Hours: 12}},
		{input: "30M", want: relativeDuration{Minutes: 30}},
		{input: "1m", want: relativeDuration{Months: 1}},
		{input: "2 weeks 3 days", want: relativeDuration{Weeks: 2, Days: 3}},
		{input: "1y2m3w4d5h6M7s", want: relativeDuration{1, 2, 3, 4, 5, 6, 7}},
		{input: "90s", want: relativeDuration{Seconds: 90}},
		{input: "1 year", want: relativeDuration{Years: 1}},
	}
	for _, tc := range tests {
		t.Run(
			tc.input, func(t *testing.T) {
				t.Parallel()
				got, err := parseDurationString(tc.input)
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			},
		)
	}
}

func TestParseDurationString_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "0s", "abc", "1h1d", "5 fortnights", "-1h"} {
		_, err := parseDurationString(input)
		assert.ErrorIs(t, err, errInvalidDuration, "input: %q", input)
	}

	_, err := parseDurationString("99999999999999999999s")
	assert.ErrorIs(t, err, errDurationRange)
}

func TestRelativeDuration_After(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)

	got, err := relativeDuration{Months: 1}.After(start)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.February, 29, 10, 0, 0, 0, time.UTC), got)

	got, err = relativeDuration{Years: 1, Months: 1}.After(start)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.February, 28, 10, 0, 0, 0, time.UTC), got)

	got, err = relativeDuration{Months: 11}.After(start)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.December, 31, 10, 0, 0, 0, time.UTC), got)

	got, err = relativeDuration{Days: 1, Hours: 12, Seconds: 30}.After(start)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.February, 1, 22, 0, 30, 0, time.UTC), got)

	_, err = relativeDuration{Years: 10000}.After(start)
	assert.ErrorIs(t, err, errDurationRange)

	_, err = relativeDuration{Days: 365 * 8000}.After(start)
	assert.ErrorIs(t, err, errDurationRange)
}

func TestParseISODateTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  time.Time
	}{
		{
			input: "2024-05-01T12:30:00Z",
			want:  time.Date(2024, time.May, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			input: "2024-05-01 12:30+02:00",
			want:  time.Date(2024, time.May, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			input: "2024-05-01T12:30:15.5-0130",
			want:  time.Date(2024, time.May, 1, 14, 0, 15, 500000000, time.UTC),
		},
		{
			input: "2024",
			want:  time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			input: "2024-03",
			want:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.input, func(t *testing.T) {
				t.Parallel()
				got, err := parseISODateTime(tc.input)
				require.NoError(t, err)
				assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
				assert.Equal(t, time.UTC, got.Location())
			},
		)
	}

	for _, input := range []string{"2024-02-30", "2024-13-01", "2024-05-01T25:00", "1d", "tomorrow"} {
		_, err := parseISODateTime(input)
		assert.Error(t, err, "input: %q", input)
	}
}

func TestCapTimeoutDuration(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	limit := now.Add(maximumTimeout)

	capped, got := capTimeoutDuration(now, now.Add(time.Hour))
	assert.False(t, capped)
	assert.Equal(t, now.Add(time.Hour), got)

	capped, got = capTimeoutDuration(now, now.Add(29*24*time.Hour))
	assert.True(t, capped)
	assert.Equal(t, limit.Add(-time.Minute), got)

	// exactly at the limit isn't reported as capped, but still has to
	// land under it
	capped, got = capTimeoutDuration(now, limit)
	assert.False(t, capped)
	assert.Equal(t, limit.Add(-time.Minute), got)

	capped, got = capTimeoutDuration(now, limit.Add(-30*time.Second))
	assert.False(t, capped)
	assert.Equal(t, limit.Add(-90*time.Second), got)
}

func TestTimeoutExpiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

	got, msg := timeoutExpiry(now, "")
	assert.Empty(t, msg)
	assert.Equal(t, now.Add(defaultTimeoutDuration), got)

	got, msg = timeoutExpiry(now, "2h")
	assert.Empty(t, msg)
	assert.Equal(t, now.Add(2*time.Hour), got)

	got, msg = timeoutExpiry(now, "2024-05-03T00:00:00Z")
	assert.Empty(t, msg)
	assert.Equal(t, now.Add(48*time.Hour), got)

	_, msg = timeoutExpiry(now, "whenever")
	assert.Equal(t, "`whenever` is not a valid duration string or ISO-8601 datetime.", msg)

	_, msg = timeoutExpiry(now, "10000y")
	assert.Equal(t, "`10000y` results in a datetime outside the supported range.", msg)
}

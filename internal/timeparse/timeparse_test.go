package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTime(t *testing.T) {
	loc := Location()

	tests := []struct {
		input any
		want  time.Time
		name  string
	}{
		{
			name:  "ISO with explicit UTC zone",
			input: "2025-04-06T10:30:00Z",
			want:  time.Date(2025, 4, 6, 15, 30, 0, 0, loc),
		},
		{
			name:  "ISO with offset",
			input: "2025-04-06T10:30:00+03:00",
			want:  time.Date(2025, 4, 6, 12, 30, 0, 0, loc),
		},
		{
			name:  "ISO without zone interpreted in operating zone",
			input: "2025-04-06T10:30:00",
			want:  time.Date(2025, 4, 6, 10, 30, 0, 0, loc),
		},
		{
			name:  "SQL style",
			input: "2025-04-06 10:30:45",
			want:  time.Date(2025, 4, 6, 10, 30, 45, 0, loc),
		},
		{
			name:  "locale format",
			input: "06.04.2025 10:30",
			want:  time.Date(2025, 4, 6, 10, 30, 0, 0, loc),
		},
		{
			name:  "date only",
			input: "2025-04-06",
			want:  time.Date(2025, 4, 6, 0, 0, 0, 0, loc),
		},
		{
			name:  "epoch seconds",
			input: int64(1743935400), // 2025-04-06 10:30:00 UTC
			want:  time.Date(2025, 4, 6, 15, 30, 0, 0, loc),
		},
		{
			name:  "epoch millis",
			input: int64(1743935400000),
			want:  time.Date(2025, 4, 6, 15, 30, 0, 0, loc),
		},
		{
			name:  "native time value",
			input: time.Date(2025, 4, 6, 10, 30, 0, 0, time.UTC),
			want:  time.Date(2025, 4, 6, 15, 30, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTime(tt.input)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
			assert.Equal(t, OperatingZone, got.Location().String())
		})
	}
}

func TestResolveFallsBackToNow(t *testing.T) {
	for _, input := range []any{nil, "", "   ", "not a date", "99.99.9999"} {
		before := time.Now().In(Location())
		got := ResolveTime(input)
		after := time.Now().In(Location())

		require.False(t, got.Before(before.Add(-time.Second)), "input %v", input)
		require.False(t, got.After(after.Add(time.Second)), "input %v", input)
	}
}

func TestResolveDisplayFragments(t *testing.T) {
	parts := Resolve("2025-01-06 09:05:00")

	assert.Equal(t, "Пн", parts.Weekday)
	assert.Equal(t, "6 янв", parts.DateDisplay)
	assert.Equal(t, "09:05", parts.TimeDisplay)
	assert.Equal(t, "06.01.2025 09:05", parts.Formatted)
	assert.Equal(t, "2025-01-06 09:05:00", parts.DB())
}

func TestResolveIsPure(t *testing.T) {
	a := Resolve("2025-04-06 10:30:00")
	b := Resolve("2025-04-06 10:30:00")
	assert.Equal(t, a, b)
}

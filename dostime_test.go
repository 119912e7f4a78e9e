package zipkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDOSTimeRoundTrip(t *testing.T) {
	in := time.Date(2024, time.March, 15, 13, 37, 42, 0, time.UTC)
	d := NewDOSTime(in)
	got := d.Time()

	require.Equal(t, in.Year(), got.Year())
	require.Equal(t, in.Month(), got.Month())
	require.Equal(t, in.Day(), got.Day())
	require.Equal(t, in.Hour(), got.Hour())
	require.Equal(t, in.Minute(), got.Minute())
	// 2-second resolution: 42 truncates to 42 (even), fine here.
	require.Equal(t, in.Second(), got.Second())
}

func TestDOSTimeTwoSecondResolution(t *testing.T) {
	odd := time.Date(2024, time.March, 15, 13, 37, 43, 0, time.UTC)
	d := NewDOSTime(odd)
	require.Equal(t, 42, d.Time().Second())
}

func TestDOSTimeClampsYearRange(t *testing.T) {
	tooEarly := NewDOSTime(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 1980, tooEarly.Time().Year())

	tooLate := NewDOSTime(time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 2107, tooLate.Time().Year())
}

func TestDOSTimeFromParts(t *testing.T) {
	orig := NewDOSTime(time.Date(2020, time.December, 25, 8, 15, 30, 0, time.UTC))
	d := DOSTimeFromParts(orig.DatePart(), orig.TimePart())
	require.True(t, d.Equal(orig))
}

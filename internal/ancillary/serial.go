package ancillary

import (
	"fmt"
	"time"
)

// DataType distinguishes a delta exchange set from a baseline one in the
// serial file token.
type DataType string

const (
	DataTypeUpdate DataType = "UPDATE"
	DataTypeBase   DataType = "BASE"
)

// weekOfYear implements the "first full week, Thursday rule" calendar: week 1
// begins on the first Thursday of the calendar year, and dates before it
// belong to the final week of the previous year. Returns the week number and
// the year that anchors it.
func weekOfYear(t time.Time) (week, year int) {
	t = t.UTC().Truncate(24 * time.Hour)
	year = t.Year()
	start := firstThursday(year)
	if t.Before(start) {
		year--
		start = firstThursday(year)
	}
	week = int(t.Sub(start).Hours()/(24*7)) + 1
	return week, year
}

// firstThursday returns the first Thursday of the year, UTC midnight.
func firstThursday(year int) time.Time {
	d := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Thursday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset)
}

// SerialLine renders the single line of the serial file. The week number is
// zero-padded to two digits and concatenated with the two-digit year; the
// data type token is UPDATE for delta sets and BASE for baselines. The
// trailing tokens are fixed and parsed positionally downstream.
func SerialLine(buildTime time.Time, dataType DataType) string {
	week, year := weekOfYear(buildTime)
	return fmt.Sprintf("GBWK%02d-%02d   %s%s    02.00U01X01\r\n",
		week%100, year%100, buildTime.UTC().Format("20060102"), dataType)
}

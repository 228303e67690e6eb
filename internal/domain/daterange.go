package domain

import (
	"fmt"
	"iter"
	"time"
)

// MonthRange spans one calendar month: Start is the first day of the month
// (inclusive) and End the first day of the next month (exclusive).
type MonthRange struct {
	Start time.Time
	End   time.Time
}

// NewMonthRange builds the range for (year, month) in UTC.
func NewMonthRange(year, month int) (MonthRange, error) {
	if month < 1 || month > 12 {
		return MonthRange{}, fmt.Errorf("month %d out of range 1..12", month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return MonthRange{Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// Days yields every date in the range in ascending order.
func (m MonthRange) Days() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for d := m.Start; d.Before(m.End); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}
}

// Len returns the number of days in the range.
func (m MonthRange) Len() int {
	return int(m.End.Sub(m.Start).Hours() / 24)
}

// YearSpan is an inclusive range of years.
type YearSpan struct {
	Min int
	Max int
}

// Count returns the number of years in the span.
func (y YearSpan) Count() int { return y.Max - y.Min + 1 }

func (y YearSpan) String() string { return fmt.Sprintf("%d-%d", y.Min, y.Max) }

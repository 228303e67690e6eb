package domain

import "time"

// RemoteQuery asks the aggregation service for one month's rainy-day sum:
// every daily image in Years whose calendar month is Month is clipped to the
// area, turned into a 0/1 indicator of value > Threshold and summed.
type RemoteQuery struct {
	Years     YearSpan
	Month     int
	Threshold float64
	Scale     int // output pixel size in metres
}

// Start is January 1st of the first year.
func (q RemoteQuery) Start() time.Time {
	return time.Date(q.Years.Min, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// End is January 1st after the last year, exclusive.
func (q RemoteQuery) End() time.Time {
	return time.Date(q.Years.Max+1, time.January, 1, 0, 0, 0, 0, time.UTC)
}

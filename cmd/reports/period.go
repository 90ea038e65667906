package reports

import "time"

// Named parameters every report query may reference.
const (
	ParamRangeFrom = "dates_rangefrom"
	ParamRangeTo   = "dates_rangeto"
)

// ReportingPeriod is the date range a run reports on: the first day of the
// current month through the end of today.
type ReportingPeriod struct {
	From time.Time
	To   time.Time
}

// NewReportingPeriod derives the period containing now, in now's location.
func NewReportingPeriod(now time.Time) ReportingPeriod {
	y, m, d := now.Date()
	loc := now.Location()
	return ReportingPeriod{
		From: time.Date(y, m, 1, 0, 0, 0, 0, loc),
		To:   time.Date(y, m, d, 23, 59, 59, 0, loc),
	}
}

// Params returns the query bindings, formatted as YYYY-MM-01 and
// YYYY-MM-DD 23:59:59.
func (p ReportingPeriod) Params() map[string]any {
	return map[string]any{
		ParamRangeFrom: p.From.Format("2006-01-02"),
		ParamRangeTo:   p.To.Format("2006-01-02 15:04:05"),
	}
}

func (p ReportingPeriod) String() string {
	return p.From.Format("2006-01-02") + " .. " + p.To.Format("2006-01-02 15:04:05")
}

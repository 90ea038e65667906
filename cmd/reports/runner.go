package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Status classifies the outcome of one report.
type Status int

const (
	Produced Status = iota
	Empty
	Failed
)

func (s Status) String() string {
	switch s {
	case Produced:
		return "produced"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of running one definition. Table is set only when
// Status is Produced; Err only when Status is Failed.
type Result struct {
	Name     string
	Query    string
	Table    *Table
	Status   Status
	Err      error
	Duration time.Duration
}

// Runner executes report definitions one at a time against a single handle.
type Runner struct {
	db     Queryer
	style  PlaceholderStyle
	logger *slog.Logger
}

// NewRunner creates a Runner that binds parameters in the given style.
func NewRunner(db Queryer, style PlaceholderStyle, logger *slog.Logger) *Runner {
	return &Runner{db: db, style: style, logger: logger}
}

// Run strips the definition markup, binds the period and executes the query.
// It never returns an error: failures are carried in the Result.
func (r *Runner) Run(ctx context.Context, def Definition, period ReportingPeriod) Result {
	start := time.Now()
	res := Result{Name: def.Name}

	query, ok := ExtractQuery(def.RawDefinition)
	if !ok {
		r.logger.Warn(fmt.Sprintf("⚠️  Report %s: no <query value> markup, using definition text as SQL", def.Name))
	}
	res.Query = query

	bound, args, err := BindNamed(query, period.Params(), r.style)
	if err != nil {
		return r.fail(res, start, err)
	}

	table, err := Execute(ctx, r.db, bound, args...)
	if err != nil {
		return r.fail(res, start, err)
	}
	res.Duration = time.Since(start)

	if table.Len() == 0 {
		res.Status = Empty
		r.logger.Info(fmt.Sprintf("Report %s returned no rows, skipping", def.Name),
			"report", def.Name)
		return res
	}

	res.Status = Produced
	res.Table = table
	r.logger.Info(fmt.Sprintf("✅ Report %s: %d rows in %s", def.Name, table.Len(), res.Duration.Round(time.Millisecond)),
		"report", def.Name, "rows", table.Len())
	return res
}

func (r *Runner) fail(res Result, start time.Time, err error) Result {
	res.Status = Failed
	res.Err = err
	res.Duration = time.Since(start)
	r.logger.Error(fmt.Sprintf("❌ Report %s failed: %v", res.Name, err),
		"report", res.Name, "query", res.Query)
	return res
}

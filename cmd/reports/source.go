package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDefinitions is returned when the definitions query yields no rows.
var ErrNoDefinitions = errors.New("no report definitions found")

const definitionsQuery = `
	SELECT "Name", "Definition"
	FROM "Reports"."ReportDefinitions"
	WHERE "State" = :state AND "AssignId" = :assign_id
`

// Definition is one stored report: a name and the markup-wrapped SQL.
type Definition struct {
	Name          string
	RawDefinition string
}

// Source lists the report definitions assigned to this job.
type Source struct {
	db       Queryer
	style    PlaceholderStyle
	state    int
	assignID int
	logger   *slog.Logger
}

// NewSource creates a definitions source filtered by state and assignment id.
func NewSource(db Queryer, style PlaceholderStyle, state, assignID int, logger *slog.Logger) *Source {
	return &Source{
		db:       db,
		style:    style,
		state:    state,
		assignID: assignID,
		logger:   logger,
	}
}

// Fetch returns the active definitions in database order. An empty result is
// reported as ErrNoDefinitions.
func (s *Source) Fetch(ctx context.Context) ([]Definition, error) {
	query, args, err := BindNamed(definitionsQuery, map[string]any{
		"state":     s.state,
		"assign_id": s.assignID,
	}, s.style)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query report definitions: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var d Definition
		if err := rows.Scan(&d.Name, &d.RawDefinition); err != nil {
			return nil, fmt.Errorf("failed to scan report definition: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report definitions: %w", err)
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("%w (state=%d, assign_id=%d)", ErrNoDefinitions, s.state, s.assignID)
	}

	s.logger.Debug("Fetched report definitions", "count", len(defs))
	return defs, nil
}

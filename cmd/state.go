package cmd

import (
	"errors"
	"fmt"
)

// RunState is a stage of a single pipeline run
type RunState int

const (
	StateInit RunState = iota
	StateConnected
	StateDefinitionsFetched
	StateReportsRun
	StateFolderResolved
	StateUploaded
	StateArchived
	StateNotified
	StateCleanedUp
	StateDone
	StateAborted
)

var ErrInvalidTransition = errors.New("invalid run state transition")

var stateNames = map[RunState]string{
	StateInit:               "init",
	StateConnected:          "connected",
	StateDefinitionsFetched: "definitions_fetched",
	StateReportsRun:         "reports_run",
	StateFolderResolved:     "folder_resolved",
	StateUploaded:           "uploaded",
	StateArchived:           "archived",
	StateNotified:           "notified",
	StateCleanedUp:          "cleaned_up",
	StateDone:               "done",
	StateAborted:            "aborted",
}

func (s RunState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StageOutcome records what happened when the run entered a state
type StageOutcome struct {
	State   RunState
	Skipped bool
	Reason  string
	Err     error
}

// runStateMachine tracks the current state and the outcome of every stage
type runStateMachine struct {
	current  RunState
	outcomes []StageOutcome
}

func newRunStateMachine() *runStateMachine {
	return &runStateMachine{current: StateInit}
}

// transition moves from the current state to "to". The expected prior state
// is passed explicitly so out-of-order calls surface as errors.
func (m *runStateMachine) transition(from, to RunState) error {
	if m.current != from {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidTransition, from, m.current)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.current = to
	return nil
}

// advance moves to the next state and records its outcome
func (m *runStateMachine) advance(to RunState, outcome StageOutcome) error {
	if err := m.transition(m.current, to); err != nil {
		return err
	}
	outcome.State = to
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func (m *runStateMachine) completed(to RunState, err error) error {
	return m.advance(to, StageOutcome{Err: err})
}

func (m *runStateMachine) skipped(to RunState, reason string) error {
	return m.advance(to, StageOutcome{Skipped: true, Reason: reason})
}

func (m *runStateMachine) abort(err error) error {
	return m.advance(StateAborted, StageOutcome{Err: err})
}

func isAllowedTransition(from, to RunState) bool {
	switch from {
	case StateInit:
		return to == StateConnected || to == StateAborted
	case StateConnected:
		return to == StateDefinitionsFetched || to == StateAborted
	case StateDefinitionsFetched, StateReportsRun, StateFolderResolved,
		StateUploaded, StateArchived, StateNotified, StateCleanedUp:
		return to == from+1
	default:
		return false
	}
}

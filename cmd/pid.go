package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/efektum/mystery-hours/cmd/reports"
)

var ErrAlreadyRunning = errors.New("another run is already in progress")

// TaskInfo represents the status of the run in progress
type TaskInfo struct {
	PID            int       `json:"pid"`
	RunID          string    `json:"run_id"`
	StartTime      time.Time `json:"start_time"`
	CurrentStage   string    `json:"current_stage"`
	CurrentReport  string    `json:"current_report,omitempty"`
	Progress       float64   `json:"progress"`
	TotalItems     int       `json:"total_items"`
	CompletedItems int       `json:"completed_items"`
	LastUpdate     time.Time `json:"last_update"`
}

func stateDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".mystery-hours")
}

// GetPIDFilePath returns the path to the PID file
func GetPIDFilePath() string {
	return filepath.Join(stateDir(), "run.pid")
}

// GetTaskFilePath returns the path to the task info file
func GetTaskFilePath() string {
	return filepath.Join(stateDir(), "current_task.json")
}

// WritePIDFile writes the current process PID to a file
func WritePIDFile() error {
	pidPath := GetPIDFilePath()
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// RemovePIDFile removes the PID file
func RemovePIDFile() error {
	return os.Remove(GetPIDFilePath())
}

// ReadPIDFile reads the PID from file
func ReadPIDFile() (int, error) {
	data, err := os.ReadFile(GetPIDFilePath())
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks for existence without delivering anything
	return process.Signal(syscall.Signal(0)) == nil
}

// acquireRunLock writes the PID file unless a live process already holds
// it. A stale file left by a crashed run is replaced. The returned func
// removes the PID and task files.
func acquireRunLock() (func(), error) {
	if pid, err := ReadPIDFile(); err == nil && pid != os.Getpid() && IsProcessRunning(pid) {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	if err := WritePIDFile(); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	return func() {
		_ = RemovePIDFile()
		_ = RemoveTaskFile()
	}, nil
}

// WriteTaskInfo writes current task information to file
func WriteTaskInfo(info *TaskInfo) error {
	taskPath := GetTaskFilePath()
	if err := os.MkdirAll(filepath.Dir(taskPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task info: %w", err)
	}

	return os.WriteFile(taskPath, data, 0o600)
}

// ReadTaskInfo reads current task information from file
func ReadTaskInfo() (*TaskInfo, error) {
	data, err := os.ReadFile(GetTaskFilePath())
	if err != nil {
		return nil, err
	}

	var info TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task info: %w", err)
	}

	return &info, nil
}

// RemoveTaskFile removes the task info file
func RemoveTaskFile() error {
	return os.Remove(GetTaskFilePath())
}

// taskFileObserver mirrors pipeline progress into the task info file so
// the status command can report on a run from another process
type taskFileObserver struct {
	info *TaskInfo
}

func newTaskFileObserver(runID string) *taskFileObserver {
	return &taskFileObserver{info: &TaskInfo{
		PID:       os.Getpid(),
		RunID:     runID,
		StartTime: time.Now(),
	}}
}

func (o *taskFileObserver) StageStarted(state RunState) {
	o.info.CurrentStage = state.String()
	if state != StateReportsRun {
		o.info.CurrentReport = ""
	}
	_ = WriteTaskInfo(o.info)
}

func (o *taskFileObserver) ReportStarted(index, total int, name string) {
	o.info.CurrentReport = name
	o.info.TotalItems = total
	o.info.CompletedItems = index - 1
	o.info.Progress = float64(index-1) / float64(total)
	_ = WriteTaskInfo(o.info)
}

func (o *taskFileObserver) ReportFinished(index, total int, _ reports.Result) {
	o.info.TotalItems = total
	o.info.CompletedItems = index
	o.info.Progress = float64(index) / float64(total)
	_ = WriteTaskInfo(o.info)
}

// multiObserver fans progress out to several observers
type multiObserver []Observer

func (m multiObserver) StageStarted(state RunState) {
	for _, o := range m {
		o.StageStarted(state)
	}
}

func (m multiObserver) ReportStarted(index, total int, name string) {
	for _, o := range m {
		o.ReportStarted(index, total, name)
	}
}

func (m multiObserver) ReportFinished(index, total int, result reports.Result) {
	for _, o := range m {
		o.ReportFinished(index, total, result)
	}
}

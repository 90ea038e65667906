package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/efektum/mystery-hours/cmd/clock"
	"github.com/efektum/mystery-hours/cmd/compressors"
	"github.com/efektum/mystery-hours/cmd/formatters"
	"github.com/efektum/mystery-hours/cmd/notify"
	"github.com/efektum/mystery-hours/cmd/remote"
	"github.com/efektum/mystery-hours/cmd/reports"
)

// Errors that make a run exit non-zero
var (
	ErrRunAborted         = errors.New("run aborted")
	ErrAllReportsFailed   = errors.New("every report failed")
	ErrNotificationFailed = errors.New("reports were produced but the notification was not delivered")
)

// Stage skip reasons
const (
	skipNoArtifacts   = "no artifacts produced"
	skipDryRun        = "dry run"
	skipFolderFailed  = "delivery folder not resolved"
	skipFilesMode     = "delivery mode is files"
	skipArchiveFailed = "archive not created"
	skipCancelled     = "run interrupted"
)

// DBOpener opens and verifies the reporting database connection
type DBOpener func(ctx context.Context) (*sql.DB, error)

// sqlOpener returns a DBOpener for the configured driver. The pool is
// limited to one connection; queries run sequentially.
func sqlOpener(config *DatabaseConfig) DBOpener {
	return func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open(config.Driver, config.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	}
}

// RunReport summarizes a single pipeline run
type RunReport struct {
	RunID       string
	Period      reports.ReportingPeriod
	Definitions int
	Produced    int
	Empty       int
	Failed      int
	Artifacts   []formatters.Artifact
	Uploaded    []string
	FolderID    string
	ArchivePath string
	MailSent    bool
	DryRun      bool
	Failures    []notify.Failure
	Stages      []StageOutcome
	FinalState  RunState
	Duration    time.Duration
}

// ArtifactPaths returns the paths of every written report file
func (r *RunReport) ArtifactPaths() []string {
	paths := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		paths[i] = a.Path
	}
	return paths
}

// Observer receives progress updates while a run is in flight
type Observer interface {
	StageStarted(state RunState)
	ReportStarted(index, total int, name string)
	ReportFinished(index, total int, result reports.Result)
}

type nopObserver struct{}

func (nopObserver) StageStarted(RunState)                   {}
func (nopObserver) ReportStarted(int, int, string)          {}
func (nopObserver) ReportFinished(int, int, reports.Result) {}

// Pipeline runs the whole report job once: fetch definitions, run every
// report, deliver the results and clean up.
type Pipeline struct {
	config   *Config
	runID    string
	clock    clock.Clock
	openDB   DBOpener
	drive    remote.Drive
	sender   notify.Sender
	observer Observer

	core     *slog.Logger
	database *slog.Logger
	storage  *slog.Logger
	mail     *slog.Logger
}

// PipelineOption customizes a Pipeline
type PipelineOption func(*Pipeline)

// WithObserver attaches a progress observer
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithRunID overrides the run id used in logs and the report
func WithRunID(id string) PipelineOption {
	return func(p *Pipeline) {
		p.runID = id
	}
}

// NewPipeline creates a pipeline. drive and sender may be nil for a dry run.
func NewPipeline(config *Config, logger *slog.Logger, c clock.Clock, openDB DBOpener, drive remote.Drive, sender notify.Sender, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		config:   config,
		clock:    c,
		openDB:   openDB,
		drive:    drive,
		sender:   sender,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}

	base := logger
	if p.runID != "" {
		base = logger.With(slog.String("run_id", p.runID))
	}
	p.core = componentLogger(base, "core")
	p.database = componentLogger(base, "database")
	p.storage = componentLogger(base, "storage")
	p.mail = componentLogger(base, "mail")

	return p
}

// pipelineRun holds what one run has produced so far
type pipelineRun struct {
	report       *RunReport
	scratch      *scratch
	now          time.Time
	folderErr    error
	archiveErr   error
	deliverables []string
	notifyErr    error
}

// Run executes one pass. The scratch directory is emptied on every exit
// path, including panics.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	start := p.clock.Now()
	sm := newRunStateMachine()
	run := &pipelineRun{
		report: &RunReport{
			RunID:  p.runID,
			Period: reports.NewReportingPeriod(start),
			DryRun: p.config.DryRun,
		},
		now: start,
	}
	defer func() {
		run.report.Stages = sm.outcomes
		run.report.FinalState = sm.current
		run.report.Duration = p.clock.Now().Sub(start)
	}()

	p.core.Info(fmt.Sprintf("📅 Reporting period %s", run.report.Period))

	scr, err := newScratch(p.config.ScratchDir, p.storage)
	if err != nil {
		return run.report, p.abort(sm, err)
	}
	run.scratch = scr
	defer func() {
		if err := scr.Release(); err != nil {
			p.core.Warn("⚠️  Scratch directory was not fully cleaned", "error", err)
		}
	}()

	formatter, err := formatters.GetFormatter(p.config.OutputFormat)
	if err != nil {
		return run.report, p.abort(sm, err)
	}

	p.observer.StageStarted(StateConnected)
	db, err := p.openDB(ctx)
	if err != nil {
		p.database.Error(fmt.Sprintf("❌ Database connection failed: %v", err))
		return run.report, p.abort(sm, err)
	}
	defer db.Close()
	p.database.Info("✅ Connected to database")
	if err := sm.completed(StateConnected, nil); err != nil {
		return run.report, err
	}

	p.observer.StageStarted(StateDefinitionsFetched)
	style := reports.StyleForDriver(p.config.Database.Driver)
	source := reports.NewSource(db, style, p.config.Database.State, p.config.Database.AssignID, p.database)
	definitions, err := source.Fetch(ctx)
	if err != nil {
		p.database.Error(fmt.Sprintf("❌ Failed to fetch report definitions: %v", err))
		return run.report, p.abort(sm, err)
	}
	run.report.Definitions = len(definitions)
	if err := sm.completed(StateDefinitionsFetched, nil); err != nil {
		return run.report, err
	}

	runner := reports.NewRunner(db, style, p.database)
	writer := formatters.NewWriter(scr.dir, formatter, p.clock)

	stages := []struct {
		state RunState
		run   func(ctx context.Context) StageOutcome
	}{
		{StateReportsRun, func(ctx context.Context) StageOutcome {
			return p.runReports(ctx, run, runner, writer, definitions)
		}},
		{StateFolderResolved, func(ctx context.Context) StageOutcome { return p.resolveFolder(ctx, run) }},
		{StateUploaded, func(ctx context.Context) StageOutcome { return p.upload(ctx, run) }},
		{StateArchived, func(context.Context) StageOutcome { return p.archive(run) }},
		{StateNotified, func(ctx context.Context) StageOutcome { return p.notify(ctx, run) }},
		{StateCleanedUp, func(context.Context) StageOutcome { return p.cleanup(run) }},
		{StateDone, func(context.Context) StageOutcome { return StageOutcome{} }},
	}

	for _, st := range stages {
		p.observer.StageStarted(st.state)
		if ctx.Err() != nil && st.state < StateCleanedUp {
			err = sm.skipped(st.state, skipCancelled)
		} else {
			err = sm.advance(st.state, st.run(ctx))
		}
		if err != nil {
			return run.report, err
		}
		p.logStage(sm.outcomes[len(sm.outcomes)-1])
	}

	if err := ctx.Err(); err != nil {
		return run.report, fmt.Errorf("run interrupted: %w", err)
	}
	return run.report, p.exitError(run)
}

func (p *Pipeline) abort(sm *runStateMachine, cause error) error {
	if err := sm.abort(cause); err != nil {
		return errors.Join(err, cause)
	}
	p.core.Error(fmt.Sprintf("❌ Run aborted: %v", cause))
	return fmt.Errorf("%w: %w", ErrRunAborted, cause)
}

func (p *Pipeline) logStage(outcome StageOutcome) {
	state := outcome.State
	switch {
	case outcome.Skipped:
		p.core.Info(fmt.Sprintf("⏭️  Stage %s skipped: %s", state, outcome.Reason))
	case outcome.Err != nil:
		p.core.Warn(fmt.Sprintf("⚠️  Stage %s finished with errors", state), "stage", state.String(), "error", outcome.Err)
	default:
		p.core.Debug(fmt.Sprintf("Stage %s done", state))
	}
}

func (p *Pipeline) recordFailure(run *pipelineRun, report, stage string, err error) {
	run.report.Failed++
	run.report.Failures = append(run.report.Failures, notify.Failure{
		Report: report,
		Stage:  stage,
		Err:    err,
		At:     p.clock.Now(),
	})
}

// runReports executes every definition in order. A failing report is
// recorded and the batch continues.
func (p *Pipeline) runReports(ctx context.Context, run *pipelineRun, runner *reports.Runner, writer *formatters.Writer, definitions []reports.Definition) StageOutcome {
	var errs []error
	total := len(definitions)

	for i, def := range definitions {
		if err := ctx.Err(); err != nil {
			p.core.Warn(fmt.Sprintf("⚠️  Stopping after %d of %d reports: %v", i, total, err))
			errs = append(errs, err)
			break
		}

		p.observer.ReportStarted(i+1, total, def.Name)
		res := runner.Run(ctx, def, run.report.Period)

		switch res.Status {
		case reports.Empty:
			run.report.Empty++
		case reports.Failed:
			p.recordFailure(run, def.Name, "query", res.Err)
			errs = append(errs, fmt.Errorf("report %s: %w", def.Name, res.Err))
		case reports.Produced:
			artifact, err := writer.Write(res)
			if err != nil {
				p.storage.Error(fmt.Sprintf("❌ Failed to write report %s: %v", def.Name, err))
				res.Status = reports.Failed
				res.Err = err
				p.recordFailure(run, def.Name, "write", err)
				errs = append(errs, err)
				break
			}
			run.report.Produced++
			run.report.Artifacts = append(run.report.Artifacts, artifact)
			p.storage.Debug(fmt.Sprintf("Wrote %s", artifact.Path))
		}

		p.observer.ReportFinished(i+1, total, res)
	}

	p.core.Info(fmt.Sprintf("📊 Reports: %d produced, %d empty, %d failed", run.report.Produced, run.report.Empty, run.report.Failed))
	return StageOutcome{Err: errors.Join(errs...)}
}

func (p *Pipeline) resolveFolder(ctx context.Context, run *pipelineRun) StageOutcome {
	if len(run.report.Artifacts) == 0 {
		return StageOutcome{Skipped: true, Reason: skipNoArtifacts}
	}

	segments := NewPathTemplate(p.config.Storage.PathTemplate).Segments(run.now)
	if p.config.DryRun {
		p.storage.Info(fmt.Sprintf("[dry run] Would resolve folder %s under %s", filepath.Join(segments...), p.config.Storage.RootFolderID))
		return StageOutcome{Skipped: true, Reason: skipDryRun}
	}

	resolver := remote.NewResolver(p.drive, p.storage)
	resolve := resolver.Resolve
	if !p.config.Storage.CreateFolders {
		resolve = resolver.ResolveExisting
	}

	folder, err := resolve(ctx, p.config.Storage.RootFolderID, segments)
	if err != nil {
		run.folderErr = err
		p.storage.Error(fmt.Sprintf("❌ Could not resolve delivery folder: %v", err))
		return StageOutcome{Err: err}
	}

	run.report.FolderID = folder.TargetID()
	p.storage.Info(fmt.Sprintf("📁 Delivery folder %s", filepath.Join(segments...)), "folder_id", run.report.FolderID)
	return StageOutcome{}
}

func (p *Pipeline) upload(ctx context.Context, run *pipelineRun) StageOutcome {
	paths := run.report.ArtifactPaths()
	switch {
	case len(paths) == 0:
		return StageOutcome{Skipped: true, Reason: skipNoArtifacts}
	case p.config.DryRun:
		for _, path := range paths {
			p.storage.Info(fmt.Sprintf("[dry run] Would upload %s", filepath.Base(path)))
		}
		return StageOutcome{Skipped: true, Reason: skipDryRun}
	case run.folderErr != nil:
		return StageOutcome{Skipped: true, Reason: skipFolderFailed}
	}

	uploaded, err := remote.NewUploader(p.drive, p.storage).Upload(ctx, paths, run.report.FolderID)
	run.report.Uploaded = uploaded
	if err != nil {
		p.storage.Error(fmt.Sprintf("❌ Upload stopped after %d of %d files: %v", len(uploaded), len(paths), err))
		return StageOutcome{Err: err}
	}

	p.storage.Info(fmt.Sprintf("✅ Uploaded %d file(s)", len(uploaded)))
	return StageOutcome{}
}

func (p *Pipeline) archive(run *pipelineRun) StageOutcome {
	paths := run.report.ArtifactPaths()
	switch {
	case len(paths) == 0:
		return StageOutcome{Skipped: true, Reason: skipNoArtifacts}
	case run.folderErr != nil:
		return StageOutcome{Skipped: true, Reason: skipFolderFailed}
	case p.config.Delivery.Mode == DeliveryFiles:
		run.deliverables = paths
		return StageOutcome{Skipped: true, Reason: skipFilesMode}
	}

	archiver := compressors.NewZipArchiver(run.scratch.dir, p.config.Delivery.ArchivePrefix, p.clock)
	password := compressors.Password(p.config.Delivery.PasswordPrefix, run.now.Year())
	archivePath, err := archiver.Archive(paths, password)
	if err != nil {
		run.archiveErr = err
		p.storage.Error(fmt.Sprintf("❌ Failed to create archive: %v", err))
		return StageOutcome{Err: err}
	}

	run.report.ArchivePath = archivePath
	run.deliverables = []string{archivePath}
	p.storage.Info(fmt.Sprintf("🗜️  Archived %d file(s) into %s", len(paths), filepath.Base(archivePath)))
	return StageOutcome{}
}

func (p *Pipeline) notify(ctx context.Context, run *pipelineRun) StageOutcome {
	var errs []error
	outcome := StageOutcome{}

	switch {
	case len(run.report.Artifacts) == 0:
		outcome = StageOutcome{Skipped: true, Reason: skipNoArtifacts}
	case run.folderErr != nil:
		run.notifyErr = fmt.Errorf("%s: %w", skipFolderFailed, run.folderErr)
		outcome = StageOutcome{Skipped: true, Reason: skipFolderFailed}
	case len(run.deliverables) == 0:
		run.notifyErr = fmt.Errorf("%s: %w", skipArchiveFailed, run.archiveErr)
		outcome = StageOutcome{Skipped: true, Reason: skipArchiveFailed}
	case p.config.DryRun:
		p.mail.Info(fmt.Sprintf("[dry run] Would email %d attachment(s) to %v", len(run.deliverables), p.config.Mail.Recipients))
		outcome = StageOutcome{Skipped: true, Reason: skipDryRun}
	default:
		notifier := notify.NewNotifier(p.sender, p.config.Campaign, p.clock, p.mail)
		if err := notifier.Send(ctx, run.deliverables, "", "", p.config.Mail.Recipients); err != nil {
			p.mail.Error(fmt.Sprintf("❌ Failed to send email: %v", err))
			run.notifyErr = err
			errs = append(errs, err)
		} else {
			run.report.MailSent = true
		}
	}

	if p.config.Mail.ErrorReport && len(run.report.Failures) > 0 {
		if p.config.DryRun {
			p.mail.Info(fmt.Sprintf("[dry run] Would email an error report for %d failure(s)", len(run.report.Failures)))
		} else {
			notifier := notify.NewNotifier(p.sender, p.config.Campaign, p.clock, p.mail)
			if err := notifier.SendErrorReport(ctx, run.report.Failures, p.config.Mail.Recipients); err != nil {
				p.mail.Warn(fmt.Sprintf("⚠️  Failed to send error report: %v", err))
				errs = append(errs, err)
			}
		}
	}

	if !outcome.Skipped {
		outcome.Err = errors.Join(errs...)
	}
	return outcome
}

func (p *Pipeline) cleanup(run *pipelineRun) StageOutcome {
	if err := run.scratch.Release(); err != nil {
		return StageOutcome{Err: err}
	}
	p.storage.Debug(fmt.Sprintf("Scratch directory %s emptied", run.scratch.dir))
	return StageOutcome{}
}

// exitError decides whether a completed run counts as failed
func (p *Pipeline) exitError(run *pipelineRun) error {
	r := run.report
	if r.Definitions > 0 && r.Failed == r.Definitions {
		return fmt.Errorf("%w (%d of %d)", ErrAllReportsFailed, r.Failed, r.Definitions)
	}
	if r.Produced > 0 && !r.MailSent && !r.DryRun {
		if run.notifyErr != nil {
			return fmt.Errorf("%w: %w", ErrNotificationFailed, run.notifyErr)
		}
		return ErrNotificationFailed
	}
	return nil
}

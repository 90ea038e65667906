package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"

	"github.com/efektum/mystery-hours/cmd/compressors"
	"github.com/efektum/mystery-hours/cmd/notify"
	"github.com/efektum/mystery-hours/cmd/remote"
	"github.com/efektum/mystery-hours/cmd/reports"
	"github.com/efektum/mystery-hours/cmd/testutil"
)

// fakeDrive keeps a folder tree in memory and records uploads
type fakeDrive struct {
	children    map[string][]remote.Item
	nextID      int
	uploads     []string
	listErr     error
	uploadLimit int // uploads fail once this many succeeded; -1 = never
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{children: make(map[string][]remote.Item), uploadLimit: -1}
}

func (d *fakeDrive) ListChildren(_ context.Context, parentID string) ([]remote.Item, error) {
	if d.listErr != nil {
		return nil, d.listErr
	}
	return append([]remote.Item(nil), d.children[parentID]...), nil
}

func (d *fakeDrive) CreateFolder(_ context.Context, parentID, name string) error {
	d.nextID++
	d.children[parentID] = append(d.children[parentID], remote.Item{
		ID:       fmt.Sprintf("folder-%d", d.nextID),
		Name:     name,
		IsFolder: true,
	})
	return nil
}

func (d *fakeDrive) UploadFile(_ context.Context, localPath, parentID string) error {
	if d.uploadLimit >= 0 && len(d.uploads) >= d.uploadLimit {
		return errors.New("quota exceeded")
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	d.uploads = append(d.uploads, filepath.Base(localPath))
	d.children[parentID] = append(d.children[parentID], remote.Item{ID: localPath, Name: filepath.Base(localPath)})
	return nil
}

// recordingSender stores every message, the attachment names that
// existed on disk at send time and the entry names of attached zips
type recordingSender struct {
	messages       []notify.Message
	attachments    [][]string
	archiveEntries map[string][]string
	err            error
	panicWith      any
}

func (s *recordingSender) SendMail(_ context.Context, msg notify.Message) error {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.err != nil {
		return s.err
	}

	var names []string
	for _, p := range msg.Attachments {
		if _, err := os.Stat(p); err != nil {
			return err
		}
		names = append(names, filepath.Base(p))

		if strings.HasSuffix(p, ".zip") {
			entries, err := zipEntryNames(p)
			if err != nil {
				return err
			}
			if s.archiveEntries == nil {
				s.archiveEntries = make(map[string][]string)
			}
			s.archiveEntries[filepath.Base(p)] = entries
		}
	}
	s.messages = append(s.messages, msg)
	s.attachments = append(s.attachments, names)
	return nil
}

func zipEntryNames(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		LogFormat:    "text",
		ScratchDir:   filepath.Join(t.TempDir(), "temp"),
		OutputFormat: "xlsx",
		Campaign:     "MS_Godziny",
		Log:          LogConfig{Level: "info", Dir: t.TempDir()},
		Database:     DatabaseConfig{Driver: "sqlite3", URL: ":memory:", State: 0, AssignID: 30},
		Storage: StorageConfig{
			Backend:       BackendGraph,
			RootFolderID:  "root",
			PathTemplate:  DefaultPathTemplate,
			CreateFolders: true,
		},
		Delivery: DeliveryConfig{
			Mode:           DeliveryArchive,
			ArchivePrefix:  compressors.DefaultArchivePrefix,
			PasswordPrefix: compressors.DefaultPasswordPrefix,
		},
		Mail: MailConfig{Recipients: []string{"raporty@example.com"}},
	}
}

// seedThreeReports adds two reports with rows, one empty report and one
// inactive definition that must not be picked up
func seedThreeReports(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO visits ("Shop", "Hours", "VisitedAt") VALUES
		('Poznań 1', 1.5, '2026-02-03 10:00:00'),
		('Gdańsk 4', 2.25, '2026-02-12 18:30:00')`)
	require.NoError(t, err)

	testutil.AddDefinition(t, db, "Godziny sklepow",
		`<query value="SELECT Shop, Hours FROM visits WHERE VisitedAt BETWEEN :dates_rangefrom AND :dates_rangeto"/>`, 0, 30)
	testutil.AddDefinition(t, db, "Puste",
		`<query value="SELECT Shop FROM visits WHERE Shop = 'nowhere'"/>`, 0, 30)
	testutil.AddDefinition(t, db, "Suma", `SELECT COUNT(*) AS total FROM visits`, 0, 30)
	testutil.AddDefinition(t, db, "Wylaczony", `<query value="SELECT 1"/>`, 1, 30)
}

func openerFor(db *sql.DB) DBOpener {
	return func(context.Context) (*sql.DB, error) {
		return db, nil
	}
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err, "scratch directory must exist after the run")
	assert.Empty(t, entries, "scratch directory must be empty after the run")
}

func newTestPipeline(config *Config, db *sql.DB, drive remote.Drive, sender notify.Sender) *Pipeline {
	return NewPipeline(config, testutil.NewTestLogger(), testutil.FixedClock(), openerFor(db), drive, sender, WithRunID("test-run"))
}

func TestPipelineThreeDefinitions(t *testing.T) {
	db := testutil.NewDefinitionsDB(t)
	seedThreeReports(t, db)
	config := testConfig(t)
	drive := newFakeDrive()
	sender := &recordingSender{}

	report, err := newTestPipeline(config, db, drive, sender).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Definitions)
	assert.Equal(t, 2, report.Produced)
	assert.Equal(t, 1, report.Empty)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, StateDone, report.FinalState)
	assert.Equal(t, "test-run", report.RunID)

	var reportNames []string
	for _, a := range report.Artifacts {
		reportNames = append(reportNames, a.ReportName)
	}
	assert.ElementsMatch(t, []string{"Godziny sklepow", "Suma"}, reportNames)

	assert.Len(t, drive.uploads, 2)
	assert.Len(t, report.Uploaded, 2)
	assert.NotEmpty(t, report.FolderID)

	// root/2026/02/Dodatkowe/MS_Godziny was created once
	assert.Equal(t, 4, drive.nextID)

	require.Len(t, sender.messages, 1)
	assert.Equal(t, []string{"MS_Godziny_2026_02_12_14_05_09.zip"}, sender.attachments[0])
	entries := sender.archiveEntries["MS_Godziny_2026_02_12_14_05_09.zip"]
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, drive.uploads, entries)
	for _, name := range entries {
		assert.True(t, strings.HasSuffix(name, ".xlsx"), name)
	}
	assert.Equal(t, "Podsumowanie MS_Godziny - 2026-02-12", sender.messages[0].Subject)
	assert.Equal(t, []string{"raporty@example.com"}, sender.messages[0].Recipients)
	assert.True(t, report.MailSent)
	assert.NotEmpty(t, report.ArchivePath)

	assertScratchEmpty(t, config.ScratchDir)
}

func TestPipelineDatabaseConnectFailure(t *testing.T) {
	config := testConfig(t)
	require.NoError(t, os.MkdirAll(config.ScratchDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(config.ScratchDir, "leftover.xlsx"), []byte("old"), 0o644))

	drive := newFakeDrive()
	sender := &recordingSender{}
	connErr := errors.New("connection refused")
	opener := func(context.Context) (*sql.DB, error) { return nil, connErr }

	p := NewPipeline(config, testutil.NewTestLogger(), testutil.FixedClock(), opener, drive, sender)
	report, err := p.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, err, connErr)
	assert.Equal(t, StateAborted, report.FinalState)
	assert.Empty(t, report.Artifacts)
	assert.Empty(t, drive.uploads)
	assert.Empty(t, sender.messages)
	assertScratchEmpty(t, config.ScratchDir)
}

func TestPipelineNoDefinitions(t *testing.T) {
	db := testutil.NewDefinitionsDB(t)
	config := testConfig(t)
	sender := &recordingSender{}

	report, err := newTestPipeline(config, db, newFakeDrive(), sender).Run(context.Background())

	assert.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, err, reports.ErrNoDefinitions)
	assert.Equal(t, StateAborted, report.FinalState)
	assert.Empty(t, sender.messages)
	assertScratchEmpty(t, config.ScratchDir)
}

func TestPipelineUploadFailureStillSucceeds(t *testing.T) {
	tests := []struct {
		name         string
		uploadLimit  int
		wantUploaded int
	}{
		{"one upload fails", 1, 1},
		{"every upload fails", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewDefinitionsDB(t)
			seedThreeReports(t, db)
			config := testConfig(t)
			drive := newFakeDrive()
			drive.uploadLimit = tt.uploadLimit
			sender := &recordingSender{}

			report, err := newTestPipeline(config, db, drive, sender).Run(context.Background())
			require.NoError(t, err)

			assert.Len(t, report.Uploaded, tt.wantUploaded)
			assert.Len(t, drive.uploads, tt.wantUploaded)
			assert.True(t, report.MailSent)
			require.Len(t, sender.messages, 1)
			assert.Len(t, sender.archiveEntries["MS_Godziny_2026_02_12_14_05_09.zip"], 2)
			assert.Equal(t, StateDone, report.FinalState)

			var uploadOutcome StageOutcome
			for _, s := range report.Stages {
				if s.State == StateUploaded {
					uploadOutcome = s
				}
			}
			assert.Error(t, uploadOutcome.Err)
			assertScratchEmpty(t, config.ScratchDir)
		})
	}
}

func TestPipelineOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		seed       func(t *testing.T, db *sql.DB)
		configure  func(c *Config, d *fakeDrive, s *recordingSender)
		wantErr    error
		wantMails  int
		wantUpload int
		check      func(t *testing.T, r *RunReport, s *recordingSender)
	}{
		{
			name: "all reports fail",
			seed: func(t *testing.T, db *sql.DB) {
				testutil.AddDefinition(t, db, "Zly", `<query value="SELECT * FROM missing_table"/>`, 0, 30)
				testutil.AddDefinition(t, db, "Nieznany", `<query value="SELECT :unknown"/>`, 0, 30)
			},
			wantErr: ErrAllReportsFailed,
			check: func(t *testing.T, r *RunReport, _ *recordingSender) {
				assert.Equal(t, 2, r.Failed)
				assert.Len(t, r.Failures, 2)
				assert.Equal(t, StateDone, r.FinalState)
			},
		},
		{
			name: "one failing report does not stop the batch",
			seed: func(t *testing.T, db *sql.DB) {
				seedThreeReports(t, db)
				testutil.AddDefinition(t, db, "Zly", `<query value="SELECT * FROM missing_table"/>`, 0, 30)
			},
			wantMails:  1,
			wantUpload: 2,
			check: func(t *testing.T, r *RunReport, _ *recordingSender) {
				assert.Equal(t, 2, r.Produced)
				assert.Equal(t, 1, r.Failed)
			},
		},
		{
			name: "mail failure fails the run",
			seed: seedThreeReports,
			configure: func(_ *Config, _ *fakeDrive, s *recordingSender) {
				s.err = errors.New("mailbox unavailable")
			},
			wantErr:    ErrNotificationFailed,
			wantUpload: 2,
		},
		{
			name: "folder resolution failure skips delivery",
			seed: seedThreeReports,
			configure: func(_ *Config, d *fakeDrive, _ *recordingSender) {
				d.listErr = errors.New("graph unavailable")
			},
			wantErr: ErrNotificationFailed,
			check: func(t *testing.T, r *RunReport, _ *recordingSender) {
				assert.Empty(t, r.ArchivePath)
				for _, s := range r.Stages {
					switch s.State {
					case StateUploaded, StateArchived, StateNotified:
						assert.True(t, s.Skipped, "stage %s should be skipped", s.State)
						assert.Equal(t, skipFolderFailed, s.Reason)
					case StateFolderResolved:
						var resErr *remote.FolderResolutionError
						assert.ErrorAs(t, s.Err, &resErr)
					}
				}
			},
		},
		{
			name: "missing folders are not created when creation is off",
			seed: seedThreeReports,
			configure: func(c *Config, _ *fakeDrive, _ *recordingSender) {
				c.Storage.CreateFolders = false
			},
			wantErr: ErrNotificationFailed,
		},
		{
			name: "files mode mails the report files",
			seed: seedThreeReports,
			configure: func(c *Config, _ *fakeDrive, _ *recordingSender) {
				c.Delivery.Mode = DeliveryFiles
			},
			wantMails:  1,
			wantUpload: 2,
			check: func(t *testing.T, r *RunReport, s *recordingSender) {
				assert.Empty(t, r.ArchivePath)
				require.Len(t, s.attachments, 1)
				assert.Len(t, s.attachments[0], 2)
				for _, name := range s.attachments[0] {
					assert.True(t, strings.HasSuffix(name, ".xlsx"), name)
				}
			},
		},
		{
			name: "only empty reports sends nothing",
			seed: func(t *testing.T, db *sql.DB) {
				testutil.AddDefinition(t, db, "Puste", `<query value="SELECT Shop FROM visits"/>`, 0, 30)
			},
			check: func(t *testing.T, r *RunReport, _ *recordingSender) {
				assert.Equal(t, 1, r.Empty)
				for _, s := range r.Stages[3:7] {
					assert.True(t, s.Skipped, "stage %s should be skipped", s.State)
					assert.Equal(t, skipNoArtifacts, s.Reason)
				}
			},
		},
		{
			name: "error report is sent when enabled",
			seed: func(t *testing.T, db *sql.DB) {
				seedThreeReports(t, db)
				testutil.AddDefinition(t, db, "Zly", `<query value="SELECT * FROM missing_table"/>`, 0, 30)
			},
			configure: func(c *Config, _ *fakeDrive, _ *recordingSender) {
				c.Mail.ErrorReport = true
			},
			wantMails:  2,
			wantUpload: 2,
			check: func(t *testing.T, _ *RunReport, s *recordingSender) {
				assert.Contains(t, s.messages[1].Subject, "Raport błędów")
				assert.Contains(t, s.messages[1].HTMLBody, "Zly")
			},
		},
		{
			name: "csv output",
			seed: seedThreeReports,
			configure: func(c *Config, _ *fakeDrive, _ *recordingSender) {
				c.OutputFormat = "csv"
				c.Delivery.Mode = DeliveryFiles
			},
			wantMails:  1,
			wantUpload: 2,
			check: func(t *testing.T, _ *RunReport, s *recordingSender) {
				for _, name := range s.attachments[0] {
					assert.True(t, strings.HasSuffix(name, ".csv"), name)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.NewDefinitionsDB(t)
			tt.seed(t, db)
			config := testConfig(t)
			drive := newFakeDrive()
			sender := &recordingSender{}
			if tt.configure != nil {
				tt.configure(config, drive, sender)
			}

			report, err := newTestPipeline(config, db, drive, sender).Run(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, sender.messages, tt.wantMails)
			assert.Len(t, drive.uploads, tt.wantUpload)
			if tt.check != nil {
				tt.check(t, report, sender)
			}
			assertScratchEmpty(t, config.ScratchDir)
		})
	}
}

func TestPipelineDryRun(t *testing.T) {
	db := testutil.NewDefinitionsDB(t)
	seedThreeReports(t, db)
	config := testConfig(t)
	config.DryRun = true

	report, err := newTestPipeline(config, db, nil, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Produced)
	assert.NotEmpty(t, report.ArchivePath)
	assert.False(t, report.MailSent)
	assert.Empty(t, report.Uploaded)
	assert.Equal(t, StateDone, report.FinalState)
	assertScratchEmpty(t, config.ScratchDir)
}

func TestPipelineCleansUpOnPanic(t *testing.T) {
	db := testutil.NewDefinitionsDB(t)
	seedThreeReports(t, db)
	config := testConfig(t)
	sender := &recordingSender{panicWith: "mail client exploded"}

	p := newTestPipeline(config, db, newFakeDrive(), sender)
	assert.Panics(t, func() {
		_, _ = p.Run(context.Background())
	})
	assertScratchEmpty(t, config.ScratchDir)
}

func TestPipelineCancelledContext(t *testing.T) {
	db := testutil.NewDefinitionsDB(t)
	seedThreeReports(t, db)
	config := testConfig(t)
	sender := &recordingSender{}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline(config, testutil.NewTestLogger(), testutil.FixedClock(), func(context.Context) (*sql.DB, error) {
		return db, nil
	}, newFakeDrive(), sender, WithObserver(cancelOnFirstReport{cancel: cancel}))

	report, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Produced+report.Empty)
	assert.Empty(t, sender.messages)
	for _, s := range report.Stages[3:7] {
		assert.Equal(t, skipCancelled, s.Reason)
	}
	assert.Equal(t, StateDone, report.FinalState)
	assertScratchEmpty(t, config.ScratchDir)
}

// cancelOnFirstReport cancels the run as soon as the first report finishes
type cancelOnFirstReport struct {
	nopObserver
	cancel context.CancelFunc
}

func (c cancelOnFirstReport) ReportFinished(int, int, reports.Result) {
	c.cancel()
}

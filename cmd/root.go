package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/efektum/mystery-hours/cmd/clock"
	"github.com/efektum/mystery-hours/cmd/compressors"
	"github.com/efektum/mystery-hours/cmd/notify"
	"github.com/efektum/mystery-hours/cmd/remote"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/efektum/mystery-hours/cmd.Version=1.2.3"
	Version = "dev"

	cfgFile       string
	envFile       string
	debug         bool
	logFormat     string
	logLevel      string
	dryRun        bool
	showProgress  bool
	outputFormat  string
	deliveryMode  string
	dbDriver      string
	scratchDir    string
	storageKind   string
	pathTemplate  string
	errorReport   bool
	createFolders bool
	createMissing bool

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger
)

// legacyEnv maps config keys to the environment variable names the
// deployment already sets. MYSTERY_* names take precedence.
var legacyEnv = map[string]string{
	"db.url":                 "sql_link",
	"graph.client_id":        "APP_ID",
	"graph.client_secret":    "SECRET_APP_ID",
	"graph.tenant_id":        "TENANT_ID",
	"graph.username":         "_USER",
	"graph.password":         "PASSWORD",
	"storage.root_folder_id": "RAPORTY_AUTOMATYCZNE",
	"mail.recipients":        "EMAIL_RECIPIENTS",
	"log.level":              "LOG_LEVEL",
}

var rootCmd = &cobra.Command{
	Use:     "mystery-hours",
	Version: Version,
	Short:   "📊 Monthly MS_Godziny report delivery",
	Long: titleStyle.Render("Mystery Hours") + `

Runs the active report definitions against the reporting database, writes one
spreadsheet per non-empty result, uploads them to the monthly delivery folder,
packs them into a password-protected zip and mails the outcome.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reports and deliver them",
	Long:  `Run every active report definition for the current period, upload the results, archive them and notify the recipients.`,
	Args:  cobra.NoArgs,
	RunE:  runReports,
}

var resolveFolderCmd = &cobra.Command{
	Use:   "resolve-folder",
	Short: "Print the id of this period's delivery folder",
	Long:  `Walk the path template from the root folder and print the id of the deepest folder. With --create, missing folders are created.`,
	Args:  cobra.NoArgs,
	RunE:  runResolveFolder,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runShowConfig,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the run in progress, if any",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// Execute runs the root command with ctx as the base context
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveFolderCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mystery-hours.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storageKind, "storage", BackendGraph, "storage backend: graph, s3")
	rootCmd.PersistentFlags().StringVar(&pathTemplate, "path-template", DefaultPathTemplate, "delivery folder template with placeholders: {YYYY}, {MM}, {DD}")

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "produce the reports and archive without uploading or mailing")
	runCmd.Flags().BoolVar(&showProgress, "progress", false, "show an interactive progress view")
	runCmd.Flags().StringVar(&outputFormat, "output-format", "xlsx", "report file format: xlsx, csv")
	runCmd.Flags().StringVar(&deliveryMode, "delivery-mode", DeliveryArchive, "mail attachments: archive, files")
	runCmd.Flags().StringVar(&dbDriver, "db-driver", "postgres", "database driver: postgres, pgx, mysql, sqlite3")
	runCmd.Flags().StringVar(&scratchDir, "scratch-dir", "temp", "working directory for report files")
	runCmd.Flags().BoolVar(&errorReport, "error-report", false, "mail an HTML error report when definitions fail")
	runCmd.Flags().BoolVar(&createFolders, "create-folders", true, "create missing delivery folders")

	resolveFolderCmd.Flags().BoolVar(&createMissing, "create", false, "create missing folders")

	// Validation happens in Config.Validate once every source is loaded

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("storage.backend", rootCmd.PersistentFlags().Lookup("storage"))
	_ = viper.BindPFlag("storage.path_template", rootCmd.PersistentFlags().Lookup("path-template"))

	_ = viper.BindPFlag("dry_run", runCmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("progress", runCmd.Flags().Lookup("progress"))
	_ = viper.BindPFlag("output_format", runCmd.Flags().Lookup("output-format"))
	_ = viper.BindPFlag("delivery.mode", runCmd.Flags().Lookup("delivery-mode"))
	_ = viper.BindPFlag("db.driver", runCmd.Flags().Lookup("db-driver"))
	_ = viper.BindPFlag("scratch_dir", runCmd.Flags().Lookup("scratch-dir"))
	_ = viper.BindPFlag("mail.error_report", runCmd.Flags().Lookup("error-report"))
	_ = viper.BindPFlag("storage.create_folders", runCmd.Flags().Lookup("create-folders"))
}

// setDefaults registers the value of every key that has one
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.compression_level", compressors.DefaultLevel)
	v.SetDefault("scratch_dir", "temp")
	v.SetDefault("output_format", "xlsx")
	v.SetDefault("campaign", "MS_Godziny")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.state", 0)
	v.SetDefault("db.assign_id", 30)

	v.SetDefault("graph.base_url", remote.DefaultGraphBaseURL)
	v.SetDefault("graph.timeout", 60*time.Second)

	v.SetDefault("storage.backend", BackendGraph)
	v.SetDefault("storage.path_template", DefaultPathTemplate)
	v.SetDefault("storage.create_folders", true)
	v.SetDefault("s3.region", regionAuto)

	v.SetDefault("delivery.mode", DeliveryArchive)
	v.SetDefault("delivery.archive_prefix", compressors.DefaultArchivePrefix)
	v.SetDefault("delivery.password_prefix", compressors.DefaultPasswordPrefix)
}

// bindEnv lets every key be set through MYSTERY_<KEY> and, where one
// exists, through its legacy variable name
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MYSTERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := "MYSTERY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}
}

func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to load %s: %v\n", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mystery-hours")
	}

	setDefaults(viper.GetViper())
	bindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to read config file: %v\n", err)
		}
	}
}

// loadConfig assembles a Config from every viper source
func loadConfig(v *viper.Viper) *Config {
	return &Config{
		Debug:        v.GetBool("debug"),
		LogFormat:    v.GetString("log_format"),
		DryRun:       v.GetBool("dry_run"),
		Progress:     v.GetBool("progress"),
		ScratchDir:   v.GetString("scratch_dir"),
		OutputFormat: v.GetString("output_format"),
		Campaign:     v.GetString("campaign"),
		Log: LogConfig{
			Level:            v.GetString("log.level"),
			Dir:              v.GetString("log.dir"),
			MaxSizeMB:        v.GetInt("log.max_size_mb"),
			CompressionLevel: v.GetInt("log.compression_level"),
		},
		Database: DatabaseConfig{
			Driver:   v.GetString("db.driver"),
			URL:      v.GetString("db.url"),
			State:    v.GetInt("db.state"),
			AssignID: v.GetInt("db.assign_id"),
		},
		Graph: GraphConfig{
			TenantID:     v.GetString("graph.tenant_id"),
			ClientID:     v.GetString("graph.client_id"),
			ClientSecret: v.GetString("graph.client_secret"),
			Username:     v.GetString("graph.username"),
			Password:     v.GetString("graph.password"),
			BaseURL:      v.GetString("graph.base_url"),
			Timeout:      v.GetDuration("graph.timeout"),
		},
		Storage: StorageConfig{
			Backend:       v.GetString("storage.backend"),
			RootFolderID:  v.GetString("storage.root_folder_id"),
			PathTemplate:  v.GetString("storage.path_template"),
			CreateFolders: v.GetBool("storage.create_folders"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("s3.endpoint"),
			Bucket:    v.GetString("s3.bucket"),
			AccessKey: v.GetString("s3.access_key"),
			SecretKey: v.GetString("s3.secret_key"),
			Region:    v.GetString("s3.region"),
		},
		Delivery: DeliveryConfig{
			Mode:           v.GetString("delivery.mode"),
			ArchivePrefix:  v.GetString("delivery.archive_prefix"),
			PasswordPrefix: v.GetString("delivery.password_prefix"),
		},
		Mail: MailConfig{
			Recipients:  splitRecipients(v.GetStringSlice("mail.recipients")),
			ErrorReport: v.GetBool("mail.error_report"),
		},
	}
}

// connectGraph authenticates once and returns a client for both the drive
// and the mailbox
func connectGraph(ctx context.Context, config *Config, c clock.Clock, log *slog.Logger) (*remote.GraphClient, error) {
	creds := remote.Credentials{
		TenantID:     config.Graph.TenantID,
		ClientID:     config.Graph.ClientID,
		ClientSecret: config.Graph.ClientSecret,
		Username:     config.Graph.Username,
		Password:     config.Graph.Password,
	}

	auth := remote.NewAuthenticator(creds, remote.AzureEndpoint(creds.TenantID), c, log)
	tok, err := auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	httpClient := remote.NewAuthorizedClient(ctx, tok, config.Graph.Timeout)
	return remote.NewGraphClient(httpClient, config.Graph.BaseURL, log), nil
}

// newDrive returns the storage backend. graph may be nil for the s3 backend.
func newDrive(config *Config, graph *remote.GraphClient, log *slog.Logger) (remote.Drive, error) {
	switch config.Storage.Backend {
	case BackendS3:
		return remote.NewS3DriveFromConfig(remote.S3Config{
			Endpoint:  config.S3.Endpoint,
			Bucket:    config.S3.Bucket,
			AccessKey: config.S3.AccessKey,
			SecretKey: config.S3.SecretKey,
			Region:    config.S3.Region,
		}, log)
	default:
		if graph == nil {
			return nil, fmt.Errorf("%w: graph client not connected", ErrStorageBackendInvalid)
		}
		return graph, nil
	}
}

func banner(log *slog.Logger, mode string) {
	log.Info("")
	log.Info(fmt.Sprintf("🚀 Mystery Hours v%s%s", Version, mode))
	log.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func runReports(cmd *cobra.Command, _ []string) error {
	config := loadConfig(viper.GetViper())
	interactive := config.Progress && isInteractive()

	var console io.Writer = os.Stdout
	if interactive {
		// app.log only; the progress view owns the terminal
		console = nil
	}
	closer, err := initLogger(config, console)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closer.Close()

	runID := uuid.NewString()
	core := componentLogger(logger.With(slog.String("run_id", runID)), "core")

	mode := ""
	if config.DryRun {
		mode = " - dry run"
	}
	banner(core, mode)

	core.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		core.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		return fmt.Errorf("configuration error: %w", err)
	}
	core.Debug("Configuration validated successfully")

	release, err := acquireRunLock()
	if err != nil {
		core.Error(fmt.Sprintf("❌ %s", err.Error()))
		return err
	}
	defer release()

	ctx := cmd.Context()
	clk := clock.Real{}

	var drive remote.Drive
	var sender notify.Sender
	if !config.DryRun {
		core.Debug("Connecting to Microsoft Graph...")
		graph, err := connectGraph(ctx, config, clk, componentLogger(logger, "mail"))
		if err != nil {
			core.Error(fmt.Sprintf("❌ Microsoft Graph connection failed: %s", err.Error()))
			return err
		}
		sender = graph
		drive, err = newDrive(config, graph, componentLogger(logger, "storage"))
		if err != nil {
			core.Error(fmt.Sprintf("❌ Storage setup failed: %s", err.Error()))
			return err
		}
	}

	taskObserver := newTaskFileObserver(runID)
	newPipeline := func(o Observer) *Pipeline {
		return NewPipeline(config, logger, clk, sqlOpener(&config.Database), drive, sender,
			WithRunID(runID),
			WithObserver(multiObserver{taskObserver, o}),
		)
	}

	var report *RunReport
	var runErr error
	if interactive {
		report, runErr = runWithProgress(ctx, newPipeline)
		fmt.Println(renderSummary(report, runErr))
	} else {
		report, runErr = newPipeline(nopObserver{}).Run(ctx)
	}
	printSummary(core, report)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			core.Info("")
			core.Info("⚠️  Run cancelled by user")
			return runErr
		}
		core.Error(fmt.Sprintf("❌ Run failed: %s", runErr.Error()))
		return runErr
	}

	core.Info("")
	core.Info("✅ Run completed successfully!")
	return nil
}

func runResolveFolder(cmd *cobra.Command, _ []string) error {
	config := loadConfig(viper.GetViper())
	config.DryRun = false

	// stdout carries only the folder id
	closer, err := initLogger(config, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closer.Close()

	storage := componentLogger(logger, "storage")
	if err := config.Validate(); err != nil {
		storage.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx := cmd.Context()
	clk := clock.Real{}

	var graph *remote.GraphClient
	if config.Storage.Backend == BackendGraph {
		graph, err = connectGraph(ctx, config, clk, storage)
		if err != nil {
			storage.Error(fmt.Sprintf("❌ Microsoft Graph connection failed: %s", err.Error()))
			return err
		}
	}
	drive, err := newDrive(config, graph, storage)
	if err != nil {
		return err
	}

	resolver := remote.NewResolver(drive, storage)
	resolve := resolver.ResolveExisting
	if createMissing {
		resolve = resolver.Resolve
	}

	segments := NewPathTemplate(config.Storage.PathTemplate).Segments(clk.Now())
	folder, err := resolve(ctx, config.Storage.RootFolderID, segments)
	if err != nil {
		storage.Error(fmt.Sprintf("❌ %s", err.Error()))
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), folder.TargetID())
	return nil
}

func runShowConfig(cmd *cobra.Command, _ []string) error {
	out, err := yaml.Marshal(loadConfig(viper.GetViper()).Masked())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(cmd.OutOrStdout(), infoStyle.Render("# "+used))
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	pid, err := ReadPIDFile()
	if err != nil || !IsProcessRunning(pid) {
		fmt.Fprintln(out, infoStyle.Render("💤 No run in progress"))
		return nil
	}

	fmt.Fprintln(out, titleStyle.Render("Run in progress"))
	fmt.Fprintf(out, "PID: %d\n", pid)

	info, err := ReadTaskInfo()
	if err != nil {
		return nil
	}
	fmt.Fprintf(out, "Run: %s\n", info.RunID)
	fmt.Fprintf(out, "Started: %s (%s ago)\n", info.StartTime.Format(time.DateTime), time.Since(info.StartTime).Round(time.Second))
	fmt.Fprintf(out, "Stage: %s\n", info.CurrentStage)
	if info.TotalItems > 0 {
		fmt.Fprintf(out, "Reports: %d/%d (%.0f%%)\n", info.CompletedItems, info.TotalItems, info.Progress*100)
	}
	if info.CurrentReport != "" {
		fmt.Fprintf(out, "Current: %s\n", info.CurrentReport)
	}
	fmt.Fprintf(out, "Updated: %s\n", info.LastUpdate.Format(time.DateTime))
	return nil
}

package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/efektum/mystery-hours/cmd/compressors"
	"github.com/efektum/mystery-hours/cmd/formatters"
)

// Static errors for configuration validation
var (
	ErrDatabaseURLRequired     = errors.New("database URL is required")
	ErrDatabaseDriverInvalid   = errors.New("database driver must be one of: postgres, pgx, mysql, sqlite3")
	ErrAssignIDInvalid         = errors.New("report assign id must be >= 0")
	ErrScratchDirRequired      = errors.New("scratch directory is required")
	ErrLogFormatInvalid        = errors.New("log format must be one of: text, logfmt, json")
	ErrLogLevelInvalid         = errors.New("log level must be one of: debug, info, warn, error")
	ErrLogMaxSizeInvalid       = errors.New("log max size must be >= 0")
	ErrGraphTenantRequired     = errors.New("graph tenant id is required")
	ErrGraphClientIDRequired   = errors.New("graph client id is required")
	ErrGraphSecretRequired     = errors.New("graph client secret is required")
	ErrGraphUsernameRequired   = errors.New("graph username is required")
	ErrGraphPasswordRequired   = errors.New("graph password is required")
	ErrGraphTimeoutInvalid     = errors.New("graph timeout must be >= 0")
	ErrStorageBackendInvalid   = errors.New("storage backend must be one of: graph, s3")
	ErrRootFolderRequired      = errors.New("storage root folder id is required for the graph backend")
	ErrS3EndpointRequired      = errors.New("S3 endpoint is required")
	ErrS3EndpointInvalid       = errors.New("S3 endpoint must be a valid URL")
	ErrS3BucketRequired        = errors.New("S3 bucket is required")
	ErrS3AccessKeyRequired     = errors.New("S3 access key is required")
	ErrS3SecretKeyRequired     = errors.New("S3 secret key is required")
	ErrS3RegionInvalid         = errors.New("S3 region contains invalid characters or is too long")
	ErrPathTemplateRequired    = errors.New("path template is required")
	ErrPathTemplateInvalid     = errors.New("path template must not contain empty segments")
	ErrOutputFormatInvalid     = errors.New("output format must be one of: xlsx, csv")
	ErrDeliveryModeInvalid     = errors.New("delivery mode must be one of: archive, files")
	ErrCompressionLevelInvalid = errors.New("compression level must be between -2 and 9")
	ErrArchivePrefixRequired   = errors.New("archive prefix is required")
	ErrRecipientsRequired      = errors.New("at least one email recipient is required")
	ErrRecipientInvalid        = errors.New("email recipient is not a valid address")
)

const (
	regionAuto = "auto"

	BackendGraph = "graph"
	BackendS3    = "s3"

	DeliveryArchive = "archive"
	DeliveryFiles   = "files"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Debug        bool           `yaml:"debug"`
	LogFormat    string         `yaml:"log_format"`
	DryRun       bool           `yaml:"dry_run"`
	Progress     bool           `yaml:"progress"`
	ScratchDir   string         `yaml:"scratch_dir"`
	OutputFormat string         `yaml:"output_format"`
	Campaign     string         `yaml:"campaign"`
	Log          LogConfig      `yaml:"log"`
	Database     DatabaseConfig `yaml:"db"`
	Graph        GraphConfig    `yaml:"graph"`
	Storage      StorageConfig  `yaml:"storage"`
	S3           S3Config       `yaml:"s3"`
	Delivery     DeliveryConfig `yaml:"delivery"`
	Mail         MailConfig     `yaml:"mail"`
}

type LogConfig struct {
	Level            string `yaml:"level"`
	Dir              string `yaml:"dir"`
	MaxSizeMB        int    `yaml:"max_size_mb"`       // app.log and err.log are rotated at startup once they grow past this (0 = never)
	CompressionLevel int    `yaml:"compression_level"` // gzip level for rotated logs
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	State    int    `yaml:"state"`
	AssignID int    `yaml:"assign_id"`
}

type GraphConfig struct {
	TenantID     string        `yaml:"tenant_id"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"`
	RootFolderID  string `yaml:"root_folder_id"`
	PathTemplate  string `yaml:"path_template"`
	CreateFolders bool   `yaml:"create_folders"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

type DeliveryConfig struct {
	Mode           string `yaml:"mode"`
	ArchivePrefix  string `yaml:"archive_prefix"`
	PasswordPrefix string `yaml:"password_prefix"`
}

type MailConfig struct {
	Recipients  []string `yaml:"recipients"`
	ErrorReport bool     `yaml:"error_report"`
}

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}

	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, region)
	return matched
}

func isValidDriver(driver string) bool {
	validDrivers := map[string]bool{
		"postgres": true,
		"pgx":      true,
		"mysql":    true,
		"sqlite3":  true,
	}
	return validDrivers[driver]
}

func isValidLogFormat(format string) bool {
	return format == "text" || format == "logfmt" || format == "json"
}

// isValidOutputFormat validates the output format
func isValidOutputFormat(format string) bool {
	_, err := formatters.GetFormatter(format)
	return err == nil
}

func isValidDeliveryMode(mode string) bool {
	return mode == DeliveryArchive || mode == DeliveryFiles
}

// splitRecipients accepts both list values and the comma or semicolon
// separated form used by EMAIL_RECIPIENTS
func splitRecipients(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ';'
		}) {
			if addr := strings.TrimSpace(part); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// needsGraph reports whether the run talks to Microsoft Graph at all.
// Mail always goes through Graph; a dry run sends nothing.
func (c *Config) needsGraph() bool {
	return !c.DryRun
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return ErrDatabaseURLRequired
	}
	if !isValidDriver(c.Database.Driver) {
		return fmt.Errorf("%w: '%s'", ErrDatabaseDriverInvalid, c.Database.Driver)
	}
	if c.Database.AssignID < 0 {
		return fmt.Errorf("%w, got %d", ErrAssignIDInvalid, c.Database.AssignID)
	}

	if c.ScratchDir == "" {
		return ErrScratchDirRequired
	}

	if !isValidLogFormat(c.LogFormat) {
		return fmt.Errorf("%w: '%s'", ErrLogFormatInvalid, c.LogFormat)
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: '%s'", ErrLogLevelInvalid, c.Log.Level)
	}
	if c.Log.MaxSizeMB < 0 {
		return fmt.Errorf("%w, got %d", ErrLogMaxSizeInvalid, c.Log.MaxSizeMB)
	}
	if err := compressors.ValidateLevel(c.Log.CompressionLevel); err != nil {
		return fmt.Errorf("%w, got %d", ErrCompressionLevelInvalid, c.Log.CompressionLevel)
	}

	if c.needsGraph() {
		if err := c.Graph.validate(); err != nil {
			return err
		}
	}

	if err := validate.Var(c.Storage.Backend, "required,oneof=graph s3"); err != nil {
		return fmt.Errorf("%w: '%s'", ErrStorageBackendInvalid, c.Storage.Backend)
	}
	switch c.Storage.Backend {
	case BackendGraph:
		if c.Storage.RootFolderID == "" {
			return ErrRootFolderRequired
		}
	case BackendS3:
		if err := c.S3.validate(); err != nil {
			return err
		}
	}

	if c.Storage.PathTemplate == "" {
		return ErrPathTemplateRequired
	}
	if !isValidPathTemplate(c.Storage.PathTemplate) {
		return fmt.Errorf("%w: '%s'", ErrPathTemplateInvalid, c.Storage.PathTemplate)
	}

	if !isValidOutputFormat(c.OutputFormat) {
		return fmt.Errorf("%w: '%s'", ErrOutputFormatInvalid, c.OutputFormat)
	}

	if !isValidDeliveryMode(c.Delivery.Mode) {
		return fmt.Errorf("%w: '%s'", ErrDeliveryModeInvalid, c.Delivery.Mode)
	}
	if c.Delivery.Mode == DeliveryArchive {
		if c.Delivery.ArchivePrefix == "" {
			return ErrArchivePrefixRequired
		}
	}

	if len(c.Mail.Recipients) == 0 {
		return ErrRecipientsRequired
	}
	for _, r := range c.Mail.Recipients {
		if err := validate.Var(r, "required,email"); err != nil {
			return fmt.Errorf("%w: '%s'", ErrRecipientInvalid, r)
		}
	}

	return nil
}

func (g GraphConfig) validate() error {
	if g.TenantID == "" {
		return ErrGraphTenantRequired
	}
	if g.ClientID == "" {
		return ErrGraphClientIDRequired
	}
	if g.ClientSecret == "" {
		return ErrGraphSecretRequired
	}
	if g.Username == "" {
		return ErrGraphUsernameRequired
	}
	if g.Password == "" {
		return ErrGraphPasswordRequired
	}
	if g.Timeout < 0 {
		return fmt.Errorf("%w, got %s", ErrGraphTimeoutInvalid, g.Timeout)
	}
	return nil
}

func (s S3Config) validate() error {
	if s.Endpoint == "" {
		return ErrS3EndpointRequired
	}
	if err := validate.Var(s.Endpoint, "url"); err != nil {
		return fmt.Errorf("%w: '%s'", ErrS3EndpointInvalid, s.Endpoint)
	}
	if s.Bucket == "" {
		return ErrS3BucketRequired
	}
	if s.AccessKey == "" {
		return ErrS3AccessKeyRequired
	}
	if s.SecretKey == "" {
		return ErrS3SecretKeyRequired
	}
	if s.Region != "" && s.Region != regionAuto && !isValidRegion(s.Region) {
		return fmt.Errorf("%w: %s", ErrS3RegionInvalid, s.Region)
	}
	return nil
}

const secretMask = "********"

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return secretMask
}

// Masked returns a copy of the config that is safe to print
func (c *Config) Masked() Config {
	m := *c
	m.Database.URL = maskDSN(c.Database.URL)
	m.Graph.ClientSecret = mask(c.Graph.ClientSecret)
	m.Graph.Password = mask(c.Graph.Password)
	m.S3.AccessKey = mask(c.S3.AccessKey)
	m.S3.SecretKey = mask(c.S3.SecretKey)
	m.Delivery.PasswordPrefix = mask(c.Delivery.PasswordPrefix)
	m.Mail.Recipients = append([]string(nil), c.Mail.Recipients...)
	return m
}

var (
	urlPassword   = regexp.MustCompile(`(://[^:/@]+:)[^@]*@`)
	mysqlPassword = regexp.MustCompile(`^([^:/@]+:)[^@]*@`)
	kvPassword    = regexp.MustCompile(`(?i)(password=)[^\s&;]+`)
)

// maskDSN hides the password in URL, go-sql-driver/mysql and key=value DSNs
func maskDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		dsn = urlPassword.ReplaceAllString(dsn, "${1}"+secretMask+"@")
	} else {
		dsn = mysqlPassword.ReplaceAllString(dsn, "${1}"+secretMask+"@")
	}
	return kvPassword.ReplaceAllString(dsn, "${1}"+secretMask)
}

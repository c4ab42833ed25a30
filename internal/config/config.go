package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Database engines understood by the dump adapter
const (
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
)

// Object store providers understood by the mirror
const (
	ProviderS3    = "s3"
	ProviderGCS   = "gcs"
	ProviderAzure = "azure"
	ProviderLocal = "local"
)

// Compression codecs for artifacts
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// DefaultMaxAgeDays is the retention window when none is configured
const DefaultMaxAgeDays = 30

// Config is the complete, immutable configuration of one backup or restore invocation.
// It is built once at the command layer and passed into every component.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	Backup      BackupConfig      `mapstructure:"backup" yaml:"backup"`
	Mirror      MirrorConfig      `mapstructure:"mirror" yaml:"mirror"`
	Restore     RestoreConfig     `mapstructure:"restore" yaml:"restore"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// DatabaseConfig holds the connection parameters of the relational store
// ConnectTimeout bounds establishing a connection and the short metadata
// queries; OperationTimeout bounds a whole dump, load, drop or create.
// Zero means no limit.
type DatabaseConfig struct {
	Engine           string        `mapstructure:"engine" yaml:"engine"`
	URL              string        `mapstructure:"url" yaml:"url,omitempty"`
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port,omitempty"`
	Username         string        `mapstructure:"username" yaml:"username"`
	Password         string        `mapstructure:"password" yaml:"password"`
	Database         string        `mapstructure:"database" yaml:"database"`
	SSLMode          string        `mapstructure:"sslmode" yaml:"sslmode,omitempty"`
	ToolsDir         string        `mapstructure:"tools_dir" yaml:"tools_dir,omitempty"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// ObjectStoreConfig holds the connection parameters of the object store
type ObjectStoreConfig struct {
	Provider  string        `mapstructure:"provider" yaml:"provider"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string        `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string        `mapstructure:"secret_key" yaml:"secret_key"`
	Secure    bool          `mapstructure:"secure" yaml:"secure"`
	Region    string        `mapstructure:"region" yaml:"region"`
	Buckets   []string      `mapstructure:"buckets" yaml:"buckets"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	GCS       GCSConfig     `mapstructure:"gcs" yaml:"gcs,omitempty"`
	Azure     AzureConfig   `mapstructure:"azure" yaml:"azure,omitempty"`
	Local     LocalConfig   `mapstructure:"local" yaml:"local,omitempty"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey  string `mapstructure:"account_key" yaml:"account_key"`
	ServiceURL  string `mapstructure:"service_url" yaml:"service_url,omitempty"`
}

// LocalConfig for a directory that holds one sub-directory per bucket
type LocalConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// BackupConfig controls where and how artifacts are produced
type BackupConfig struct {
	Root             string          `mapstructure:"root" yaml:"root"`
	Prefix           string          `mapstructure:"prefix" yaml:"prefix"`
	Compression      string          `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int             `mapstructure:"compression_level" yaml:"compression_level"`
	Retention        RetentionConfig `mapstructure:"retention" yaml:"retention"`
	DisableManifest  bool            `mapstructure:"disable_manifest" yaml:"disable_manifest"`
	Strict           bool            `mapstructure:"strict" yaml:"strict"`
}

// RetentionConfig is the retention policy: the maximum artifact age in days
type RetentionConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// MirrorConfig controls bucket mirroring
type MirrorConfig struct {
	Parallelism   int    `mapstructure:"parallelism" yaml:"parallelism"`
	Compression   string `mapstructure:"compression" yaml:"compression"`
	RetryAttempts int    `mapstructure:"retry_attempts" yaml:"retry_attempts"`
}

// RestoreConfig controls the restore pipeline
type RestoreConfig struct {
	TargetDatabase string        `mapstructure:"target_database" yaml:"target_database,omitempty"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	StagingDir     string        `mapstructure:"staging_dir" yaml:"staging_dir,omitempty"`
	SkipChecksum   bool          `mapstructure:"skip_checksum" yaml:"skip_checksum"`
}

// LoggingConfig controls the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// MetricsConfig controls the node_exporter textfile output
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path,omitempty"`
}

// SetDefaults fills in every optional field
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.ObjectStore.SetDefaults()
	c.Backup.SetDefaults()
	c.Mirror.SetDefaults(c.Backup.Compression)
	c.Restore.SetDefaults(c.Database.Database)
	c.Logging.SetDefaults()
}

// Validate validates the whole configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors.Merge("database", c.Database.Validate())
	errors.Merge("object_store", c.ObjectStore.Validate())
	errors.Merge("backup", c.Backup.Validate())
	errors.Merge("mirror", c.Mirror.Validate())
	errors.Merge("restore", c.Restore.Validate())
	errors.Merge("logging", c.Logging.Validate())

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// ValidateForRestore validates only what a restore needs
func (c *Config) ValidateForRestore() error {
	var errors ValidationErrors

	errors.Merge("database", c.Database.Validate())
	errors.Merge("restore", c.Restore.Validate())
	errors.Merge("logging", c.Logging.Validate())

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for the database configuration
func (dc *DatabaseConfig) SetDefaults() {
	if dc.URL != "" {
		// A malformed URL is reported by Validate.
		_ = dc.ApplyURL()
	}
	if dc.Engine == "" {
		dc.Engine = EnginePostgres
	}
	dc.Engine = strings.ToLower(dc.Engine)
}

// ApplyURL fills empty connection fields from a DATABASE_URL style connection string
func (dc *DatabaseConfig) ApplyURL() error {
	u, err := url.Parse(dc.URL)
	if err != nil {
		return fmt.Errorf("invalid database url: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		if dc.Engine == "" {
			dc.Engine = EnginePostgres
		}
	case "mysql":
		if dc.Engine == "" {
			dc.Engine = EngineMySQL
		}
	default:
		return fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}

	if dc.Host == "" {
		dc.Host = u.Hostname()
	}
	if dc.Port == 0 && u.Port() != "" {
		if port, err := strconv.Atoi(u.Port()); err == nil {
			dc.Port = port
		}
	}
	if u.User != nil {
		if dc.Username == "" {
			dc.Username = u.User.Username()
		}
		if pw, ok := u.User.Password(); ok && dc.Password == "" {
			dc.Password = pw
		}
	}
	if dc.Database == "" {
		dc.Database = strings.TrimPrefix(u.Path, "/")
	}
	if dc.SSLMode == "" {
		dc.SSLMode = u.Query().Get("sslmode")
	}
	return nil
}

// Validate checks the database configuration
func (dc *DatabaseConfig) Validate() error {
	var errors ValidationErrors

	if dc.URL != "" {
		probe := DatabaseConfig{URL: dc.URL}
		if err := probe.ApplyURL(); err != nil {
			errors.Add("url", err.Error(), dc.URL)
		}
	}

	switch dc.Engine {
	case EnginePostgres, EngineMySQL:
	default:
		errors.Add("engine", "engine must be 'postgres' or 'mysql'", dc.Engine)
	}

	if dc.Host == "" {
		errors.Add("host", "database host is required", dc.Host)
	}
	if dc.Port < 0 || dc.Port > 65535 {
		errors.Add("port", "port must be between 1 and 65535", dc.Port)
	}
	if dc.Username == "" {
		errors.Add("username", "database username is required", dc.Username)
	}
	if dc.Database == "" {
		errors.Add("database", "database name is required", dc.Database)
	}
	if dc.ConnectTimeout < 0 {
		errors.Add("connect_timeout", "connect timeout cannot be negative", dc.ConnectTimeout)
	}
	if dc.OperationTimeout < 0 {
		errors.Add("operation_timeout", "operation timeout cannot be negative", dc.OperationTimeout)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// ConnectTimeoutSeconds returns the connect timeout in whole seconds for the
// command line tools, rounded up so that a sub-second value never becomes
// zero, which the tools read as "wait forever". It returns 0 when unset.
func (dc DatabaseConfig) ConnectTimeoutSeconds() int {
	if dc.ConnectTimeout <= 0 {
		return 0
	}
	secs := int((dc.ConnectTimeout + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Address returns host[:port] for display
func (dc DatabaseConfig) Address() string {
	if dc.Port == 0 {
		return dc.Host
	}
	return fmt.Sprintf("%s:%d", dc.Host, dc.Port)
}

// SetDefaults sets default values for the object store configuration
func (oc *ObjectStoreConfig) SetDefaults() {
	if oc.Provider == "" {
		oc.Provider = ProviderS3
	}
	oc.Provider = strings.ToLower(oc.Provider)
	if oc.Region == "" && oc.Provider == ProviderS3 {
		oc.Region = "us-east-1"
	}
	if len(oc.Buckets) == 0 {
		oc.Buckets = []string{"documents", "photos"}
	}
}

// Validate checks the object store configuration
func (oc *ObjectStoreConfig) Validate() error {
	var errors ValidationErrors

	switch oc.Provider {
	case ProviderS3:
		if oc.AccessKey == "" && oc.SecretKey != "" {
			errors.Add("access_key", "access key is required when a secret key is set", nil)
		}
	case ProviderGCS:
		if oc.GCS.ProjectID == "" {
			errors.Add("gcs.project_id", "GCS project id is required to list buckets", oc.GCS.ProjectID)
		}
	case ProviderAzure:
		if oc.Azure.AccountName == "" {
			errors.Add("azure.account_name", "Azure account name is required", oc.Azure.AccountName)
		}
		if oc.Azure.AccountKey == "" {
			errors.Add("azure.account_key", "Azure account key is required", nil)
		}
	case ProviderLocal:
		if oc.Local.BasePath == "" {
			errors.Add("local.base_path", "base path is required for local object store", oc.Local.BasePath)
		}
	default:
		errors.Add("provider", "provider must be one of s3, gcs, azure, local", oc.Provider)
	}

	if len(oc.Buckets) == 0 {
		errors.Add("buckets", "at least one bucket is required", nil)
	}
	seen := make(map[string]bool, len(oc.Buckets))
	for _, b := range oc.Buckets {
		if b == "" || strings.ContainsAny(b, `/\`) || b == "." || b == ".." {
			errors.Add("buckets", "invalid bucket name", b)
			continue
		}
		if seen[b] {
			errors.Add("buckets", "duplicate bucket name", b)
		}
		seen[b] = true
	}

	if oc.Timeout < 0 {
		errors.Add("timeout", "timeout cannot be negative", oc.Timeout)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for backup configuration
func (bc *BackupConfig) SetDefaults() {
	if bc.Root == "" {
		bc.Root = "./backups"
	}
	if bc.Prefix == "" {
		bc.Prefix = "kyc_backup"
	}
	if bc.Compression == "" {
		bc.Compression = CompressionGzip
	}
	bc.Compression = strings.ToLower(bc.Compression)
	// an explicit zero day retention is valid; the loader supplies the default
}

// Validate checks backup configuration
func (bc *BackupConfig) Validate() error {
	var errors ValidationErrors

	if bc.Root == "" {
		errors.Add("root", "backup root directory is required", bc.Root)
	} else if filepath.Clean(bc.Root) == "/" {
		errors.Add("root", "backup root cannot be the filesystem root", bc.Root)
	}

	if !isValidPrefix(bc.Prefix) {
		errors.Add("prefix", "prefix must be non-empty and contain only letters, digits, '-' or '_'", bc.Prefix)
	}

	if !IsValidCompression(bc.Compression) {
		errors.Add("compression", "compression must be one of none, gzip, lz4, zstd", bc.Compression)
	}
	if bc.CompressionLevel < 0 || bc.CompressionLevel > 22 {
		errors.Add("compression_level", "compression level must be between 0 and 22", bc.CompressionLevel)
	}

	if bc.Retention.MaxAgeDays < 0 {
		errors.Add("retention.max_age_days", "max age days cannot be negative", bc.Retention.MaxAgeDays)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for mirror configuration
func (mc *MirrorConfig) SetDefaults(backupCompression string) {
	if mc.Parallelism == 0 {
		mc.Parallelism = 2
	}
	if mc.Compression == "" {
		mc.Compression = backupCompression
	}
	mc.Compression = strings.ToLower(mc.Compression)
	if mc.RetryAttempts == 0 {
		mc.RetryAttempts = 3
	}
}

// Validate checks mirror configuration
func (mc *MirrorConfig) Validate() error {
	var errors ValidationErrors

	if mc.Parallelism < 1 {
		errors.Add("parallelism", "parallelism must be at least 1", mc.Parallelism)
	}
	if !IsValidCompression(mc.Compression) {
		errors.Add("compression", "compression must be one of none, gzip, lz4, zstd", mc.Compression)
	}
	if mc.RetryAttempts < 1 {
		errors.Add("retry_attempts", "retry attempts must be at least 1", mc.RetryAttempts)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for restore configuration
func (rc *RestoreConfig) SetDefaults(database string) {
	if rc.TargetDatabase == "" {
		rc.TargetDatabase = database
	}
	if rc.LockTimeout == 0 {
		rc.LockTimeout = 30 * time.Second
	}
}

// Validate checks restore configuration
func (rc *RestoreConfig) Validate() error {
	var errors ValidationErrors

	if rc.TargetDatabase == "" {
		errors.Add("target_database", "target database is required", rc.TargetDatabase)
	}
	if rc.LockTimeout < 0 {
		errors.Add("lock_timeout", "lock timeout cannot be negative", rc.LockTimeout)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for logging configuration
func (lc *LoggingConfig) SetDefaults() {
	if lc.Level == "" {
		lc.Level = "normal"
	}
	if lc.Format == "" {
		lc.Format = "text"
	}
}

// Validate checks logging configuration
func (lc *LoggingConfig) Validate() error {
	var errors ValidationErrors

	switch lc.Level {
	case "quiet", "normal", "verbose", "debug":
	default:
		errors.Add("level", "level must be one of quiet, normal, verbose, debug", lc.Level)
	}
	switch lc.Format {
	case "text", "json":
	default:
		errors.Add("format", "format must be 'text' or 'json'", lc.Format)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// IsValidCompression reports whether name is a supported codec
func IsValidCompression(name string) bool {
	switch name {
	case CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd:
		return true
	}
	return false
}

func isValidPrefix(prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

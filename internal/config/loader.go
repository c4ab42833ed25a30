package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable the loader recognizes
const EnvPrefix = "KYC_BACKUP"

// legacyEnv maps configuration keys to the environment variable names used by
// the application's deployment files, accepted as fallbacks.
var legacyEnv = map[string][]string{
	"database.url":                  {"DATABASE_URL"},
	"object_store.endpoint":         {"STORAGE_ENDPOINT"},
	"object_store.access_key":       {"ACCESS_KEY", "MINIO_ROOT_USER"},
	"object_store.secret_key":       {"SECRET_KEY", "MINIO_ROOT_PASSWORD"},
	"object_store.secure":           {"SECURE"},
	"backup.root":                   {"BACKUP_DIR"},
	"backup.retention.max_age_days": {"RETENTION_DAYS"},
}

// RegisterDefaults declares every key on v so that environment variables and
// flags can be unmarshalled even when the config file omits them.
func RegisterDefaults(v *viper.Viper) {
	v.SetDefault("database.engine", EnginePostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.sslmode", "")
	v.SetDefault("database.tools_dir", "")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.operation_timeout", "0s")

	v.SetDefault("object_store.provider", ProviderS3)
	v.SetDefault("object_store.endpoint", "")
	v.SetDefault("object_store.access_key", "")
	v.SetDefault("object_store.secret_key", "")
	v.SetDefault("object_store.secure", false)
	v.SetDefault("object_store.region", "")
	v.SetDefault("object_store.buckets", []string{"documents", "photos"})
	v.SetDefault("object_store.timeout", "0s")
	v.SetDefault("object_store.gcs.project_id", "")
	v.SetDefault("object_store.gcs.credentials_path", "")
	v.SetDefault("object_store.azure.account_name", "")
	v.SetDefault("object_store.azure.account_key", "")
	v.SetDefault("object_store.azure.service_url", "")
	v.SetDefault("object_store.local.base_path", "")

	v.SetDefault("backup.root", "./backups")
	v.SetDefault("backup.prefix", "kyc_backup")
	v.SetDefault("backup.compression", CompressionGzip)
	v.SetDefault("backup.compression_level", 0)
	v.SetDefault("backup.retention.max_age_days", DefaultMaxAgeDays)
	v.SetDefault("backup.disable_manifest", false)
	v.SetDefault("backup.strict", false)

	v.SetDefault("mirror.parallelism", 2)
	v.SetDefault("mirror.compression", "")
	v.SetDefault("mirror.retry_attempts", 3)

	v.SetDefault("restore.target_database", "")
	v.SetDefault("restore.lock_timeout", "30s")
	v.SetDefault("restore.staging_dir", "")
	v.SetDefault("restore.skip_checksum", false)

	v.SetDefault("logging.level", "normal")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.textfile_path", "")
}

// BindEnv wires the prefixed and legacy environment variables into v
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}
	return nil
}

// Load unmarshals the configuration held by v and applies defaults; callers validate.
// Environment lookup happens here and nowhere else.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// env values arrive comma separated with arbitrary spacing
	cfg.ObjectStore.Buckets = splitList(strings.Join(cfg.ObjectStore.Buckets, ","))

	cfg.SetDefaults()
	return cfg, nil
}

// ReadFile reads a YAML configuration file into v. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kyc-backup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Sample returns a YAML rendering of the registered defaults, with
// placeholder connection values filled in
func Sample() (string, error) {
	v := viper.New()
	RegisterDefaults(v)
	v.Set("database.host", "localhost")
	v.Set("database.port", 5432)
	v.Set("database.username", "kyc")
	v.Set("database.database", "kyc")
	v.Set("object_store.endpoint", "localhost:9000")

	cfg, err := Load(v)
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to render sample configuration: %w", err)
	}
	return string(data), nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

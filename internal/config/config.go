// Package config loads imgdedup settings. Values are layered:
// built-in defaults, then the TOML file, then IMGDEDUP_* environment variables.
// Command-line flags are applied on top by the cli package.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFile is read from the working directory when no file is named.
const DefaultFile = "imgdedup.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IMGDEDUP_"

// Snapshot backends.
const (
	BackendJSON = "json"
	BackendBolt = "bolt"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Upload  UploadConfig  `toml:"upload"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Listen            string   `toml:"listen"`
	PublicURL         string   `toml:"public_url"`
	PublicDir         string   `toml:"public_dir"`
	APIKey            string   `toml:"api_key"`
	ProtectListing    bool     `toml:"protect_listing"`
	CORSOrigins       []string `toml:"cors_origins"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	WebhookURLs       []string `toml:"webhook_urls"`
	TLSCert           string   `toml:"tls_cert"`
	TLSKey            string   `toml:"tls_key"`
}

// StorageConfig locates blobs and the index snapshot.
type StorageConfig struct {
	BlobDir          string   `toml:"blob_dir"`
	SnapshotPath     string   `toml:"snapshot_path"`
	SnapshotBackend  string   `toml:"snapshot_backend"`
	FlushInterval    Duration `toml:"flush_interval"`
	ReconcileWorkers int      `toml:"reconcile_workers"`
}

// UploadConfig bounds what uploads are accepted.
type UploadConfig struct {
	MaxSize      int64    `toml:"max_size"`
	AllowedTypes []string `toml:"allowed_types"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Duration is a time.Duration written as a Go duration string ("5m").
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "0.0.0.0:3000",
		},
		Storage: StorageConfig{
			BlobDir:          "public/images",
			SnapshotPath:     "file-hash-map.json",
			SnapshotBackend:  BackendJSON,
			FlushInterval:    Duration{5 * time.Minute},
			ReconcileWorkers: 4,
		},
		Upload: UploadConfig{
			MaxSize:      5 << 20,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the file at path and the
// environment. An empty path falls back to DefaultFile if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from IMGDEDUP_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = SplitList(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	// PORT is set by hosting platforms; an explicit listen address wins.
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		} else {
			c.Server.Listen = "0.0.0.0:" + v
		}
	}
	str("LISTEN", &c.Server.Listen)
	str("PUBLIC_URL", &c.Server.PublicURL)
	str("PUBLIC_DIR", &c.Server.PublicDir)
	str("API_KEY", &c.Server.APIKey)
	list("CORS_ORIGINS", &c.Server.CORSOrigins)
	integer("REQUESTS_PER_MINUTE", &c.Server.RequestsPerMinute)
	list("WEBHOOK_URLS", &c.Server.WebhookURLs)
	str("TLS_CERT", &c.Server.TLSCert)
	str("TLS_KEY", &c.Server.TLSKey)
	if v, ok := lookup(EnvPrefix + "PROTECT_LISTING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sPROTECT_LISTING: %w", EnvPrefix, err))
		} else {
			c.Server.ProtectListing = b
		}
	}

	str("BLOB_DIR", &c.Storage.BlobDir)
	str("SNAPSHOT_PATH", &c.Storage.SnapshotPath)
	str("SNAPSHOT_BACKEND", &c.Storage.SnapshotBackend)
	if v, ok := lookup(EnvPrefix + "FLUSH_INTERVAL"); ok && v != "" {
		if err := c.Storage.FlushInterval.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("%sFLUSH_INTERVAL: %w", EnvPrefix, err))
		}
	}
	integer("RECONCILE_WORKERS", &c.Storage.ReconcileWorkers)

	if v, ok := lookup(EnvPrefix + "MAX_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_SIZE: %w", EnvPrefix, err))
		} else {
			c.Upload.MaxSize = n
		}
	}
	list("ALLOWED_TYPES", &c.Upload.AllowedTypes)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("server.requests_per_minute must not be negative"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if c.Storage.BlobDir == "" {
		errs = append(errs, errors.New("storage.blob_dir is required"))
	}
	if c.Storage.SnapshotPath == "" {
		errs = append(errs, errors.New("storage.snapshot_path is required"))
	}
	switch c.Storage.SnapshotBackend {
	case BackendJSON, BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("storage.snapshot_backend must be %q or %q, got %q", BackendJSON, BackendBolt, c.Storage.SnapshotBackend))
	}
	if c.Storage.FlushInterval.Duration <= 0 {
		errs = append(errs, errors.New("storage.flush_interval must be positive"))
	}
	if c.Storage.ReconcileWorkers <= 0 {
		errs = append(errs, errors.New("storage.reconcile_workers must be positive"))
	}
	if c.Upload.MaxSize <= 0 {
		errs = append(errs, errors.New("upload.max_size must be positive"))
	}
	if len(c.Upload.AllowedTypes) == 0 {
		errs = append(errs, errors.New("upload.allowed_types must not be empty"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

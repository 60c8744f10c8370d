// Package config loads the YAML configuration of the whbridge binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ruslano69/whbridge/pkg/artifact"
	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/engine"
	"github.com/ruslano69/whbridge/pkg/events"
	"github.com/ruslano69/whbridge/pkg/resultlog"
	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/transfer"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Warehouse connection.Profile `yaml:"warehouse"` // default profile; secrets via env
	Engine    EngineConfig       `yaml:"engine"`
	Retry     retry.Config       `yaml:"retry"`
	Rejects   RejectsConfig      `yaml:"rejects"`
	ResultLog resultlog.Config   `yaml:"resultlog"`
	Events    events.Config      `yaml:"events"`
	S3        artifact.S3Config  `yaml:"s3"`
	Log       LogConfig          `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`          // default ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // 0: no limit, SSE streams stay open
	UploadDir    string        `yaml:"upload_dir"`    // default os.TempDir()/whbridge-uploads
	MaxUpload    int64         `yaml:"max_upload"`    // bytes, default 1 GiB
}

// EngineConfig tunes preview, inference and transfers.
type EngineConfig struct {
	PreviewCap             int           `yaml:"preview_cap"`
	SampleRows             int           `yaml:"sample_rows"`
	BatchSize              int           `yaml:"batch_size"`
	MaxErrors              int           `yaml:"max_errors"`
	ChannelBuffer          int           `yaml:"channel_buffer"`
	MaxConcurrentTransfers int           `yaml:"max_concurrent_transfers"`
	ProgressInterval       time.Duration `yaml:"progress_interval"`
	ArtifactDir            string        `yaml:"artifact_dir"`
	ArtifactFormat         string        `yaml:"artifact_format"` // csv | xlsx
	Compression            string        `yaml:"compression"`     // none | zstd
	Retain                 int           `yaml:"retain"`
}

// RejectsConfig enables the per-import dead-letter file of rejected rows.
type RejectsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console | json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.MaxUpload = 1 << 30

	cfg.Warehouse.Driver = connection.DefaultDriver
	cfg.Warehouse.Host = "localhost"
	cfg.Warehouse.Port = "8123"
	cfg.Warehouse.Database = "default"
	cfg.Warehouse.Username = "default"

	cfg.Engine.PreviewCap = 3
	cfg.Engine.SampleRows = 3
	cfg.Engine.BatchSize = transfer.DefaultBatchSize
	cfg.Engine.MaxErrors = transfer.DefaultMaxErrors
	cfg.Engine.ChannelBuffer = transfer.DefaultChannelBuffer
	cfg.Engine.MaxConcurrentTransfers = transfer.DefaultMaxConcurrent
	cfg.Engine.ProgressInterval = 250 * time.Millisecond
	cfg.Engine.ArtifactDir = "artifacts"
	cfg.Engine.ArtifactFormat = string(artifact.FormatCSV)
	cfg.Engine.Compression = string(artifact.CompressionNone)
	cfg.Engine.Retain = transfer.DefaultRetain

	cfg.Retry = retry.DefaultConfig()
	cfg.Rejects.Dir = "rejects"

	cfg.ResultLog.Address = "localhost:6379"
	cfg.ResultLog.Name = "whbridge"
	cfg.ResultLog.TTL = 24 * time.Hour

	cfg.Events.Type = "none"

	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

// Load reads the YAML file at path over the defaults and applies the
// environment overrides. An empty path means defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	// secrets stay out of the file when set in the environment
	if s := os.Getenv("WHBRIDGE_WAREHOUSE_PASSWORD"); s != "" {
		cfg.Warehouse.Password = s
	}
	if s := os.Getenv("WHBRIDGE_WAREHOUSE_TOKEN"); s != "" {
		cfg.Warehouse.Token = s
	}
	if s := os.Getenv("WHBRIDGE_ADDR"); s != "" {
		cfg.Server.Addr = s
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the components cannot default themselves.
func (c *Config) Validate() error {
	if _, err := artifact.ParseFormat(c.Engine.ArtifactFormat); err != nil {
		return fmt.Errorf("config: engine.artifact_format: %w", err)
	}
	if _, err := artifact.ParseCompression(c.Engine.Compression); err != nil {
		return fmt.Errorf("config: engine.compression: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("config: retry: %w", err)
	}
	switch c.Events.Type {
	case "", "none", "kafka", "rabbitmq":
	default:
		return fmt.Errorf("config: events.type: unsupported %q", c.Events.Type)
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3.bucket is required when s3 is enabled")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("config: log.format must be console or json, got %q", c.Log.Format)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// EngineOptions translates the configuration into engine options. store
// may be nil for local artifacts.
func (c *Config) EngineOptions(log zerolog.Logger, store artifact.Store) engine.Options {
	format, _ := artifact.ParseFormat(c.Engine.ArtifactFormat)
	compression, _ := artifact.ParseCompression(c.Engine.Compression)

	topts := transfer.Options{
		MaxConcurrent:    c.Engine.MaxConcurrentTransfers,
		BatchSize:        c.Engine.BatchSize,
		MaxErrors:        c.Engine.MaxErrors,
		ChannelBuffer:    c.Engine.ChannelBuffer,
		ProgressInterval: c.Engine.ProgressInterval,
		ArtifactDir:      c.Engine.ArtifactDir,
		Artifact:         artifact.Options{Format: format, Compression: compression},
		Store:            store,
		Retry:            c.Retry,
		Retain:           c.Engine.Retain,
	}
	if c.Rejects.Enabled {
		topts.RejectsDir = c.Rejects.Dir
	}
	return engine.Options{
		Logger:       log,
		ConnectRetry: c.Retry,
		PreviewCap:   c.Engine.PreviewCap,
		SampleRows:   c.Engine.SampleRows,
		Transfer:     topts,
	}
}

// Logger builds the root logger from the log section.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if c.Log.Format == "json" {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return l.Level(level).With().Timestamp().Logger()
}

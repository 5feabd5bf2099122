package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	SourceBucket    string `yaml:"source_bucket" env:"SOURCE_BUCKET" env-required:"true"`
	ThumbnailBucket string `yaml:"thumbnail_bucket" env:"THUMBNAIL_BUCKET" env-required:"true"`
	ProcessedBucket string `yaml:"processed_bucket" env:"PROCESSED_BUCKET" env-required:"true"`

	RecordStore string `yaml:"record_store" env:"RECORD_STORE" env-default:"dynamodb"`
	TableName   string `yaml:"table_name" env:"TABLE_NAME" env-default:"ImageProcessingLog"`
	KeyIndex    string `yaml:"key_index" env:"KEY_INDEX" env-default:"key-index"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	Extractor    string `yaml:"metadata_extractor" env:"METADATA_EXTRACTOR" env-default:"exiftool"`
	ExiftoolPath string `yaml:"exiftool_path" env:"EXIFTOOL_PATH"`

	ThumbnailMaxWidth  int    `yaml:"thumbnail_max_width" env:"THUMBNAIL_MAX_WIDTH" env-default:"200"`
	ThumbnailMaxHeight int    `yaml:"thumbnail_max_height" env:"THUMBNAIL_MAX_HEIGHT" env-default:"200"`
	ProcessedFormat    string `yaml:"processed_format" env:"PROCESSED_FORMAT" env-default:"jpeg"`
	JPEGQuality        int    `yaml:"jpeg_quality" env:"JPEG_QUALITY" env-default:"85"`
	ScratchDir         string `yaml:"scratch_dir" env:"SCRATCH_DIR"`

	StrictIdempotency bool   `yaml:"strict_idempotency" env:"STRICT_IDEMPOTENCY" env-default:"false"`
	Trigger           string `yaml:"trigger" env:"TRIGGER" env-default:"s3"`
	Port              int    `yaml:"port" env:"PORT" env-default:"8080"`
	LogLevel          string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Region       string `yaml:"region" env:"AWS_REGION"`
	Endpoint     string `yaml:"endpoint" env:"AWS_S3_ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
}

// Load reads the environment, or path (YAML) first when it is non-empty,
// and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.RecordStore {
	case "dynamodb":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RECORD_STORE=postgres")
		}
	default:
		return fmt.Errorf("unsupported RECORD_STORE %q (use dynamodb or postgres)", c.RecordStore)
	}

	switch c.Extractor {
	case "exiftool", "exif":
	default:
		return fmt.Errorf("unsupported METADATA_EXTRACTOR %q (use exiftool or exif)", c.Extractor)
	}

	switch c.Trigger {
	case "s3", "sqs":
	default:
		return fmt.Errorf("unsupported TRIGGER %q (use s3 or sqs)", c.Trigger)
	}

	if c.ThumbnailMaxWidth <= 0 || c.ThumbnailMaxHeight <= 0 {
		return fmt.Errorf("thumbnail bounds must be positive, got %dx%d", c.ThumbnailMaxWidth, c.ThumbnailMaxHeight)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be 1-100, got %d", c.JPEGQuality)
	}
	return nil
}

// Logger builds the JSON logger every entry point writes to stdout.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

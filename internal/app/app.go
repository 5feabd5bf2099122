// Package app builds the transform and its collaborators from configuration.
// Every entry point under cmd/ goes through New.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/catdevman/image-transform/internal/blob"
	"github.com/catdevman/image-transform/internal/config"
	"github.com/catdevman/image-transform/internal/derive"
	"github.com/catdevman/image-transform/internal/extract"
	"github.com/catdevman/image-transform/internal/model"
	"github.com/catdevman/image-transform/internal/processor"
	"github.com/catdevman/image-transform/internal/record"
)

// Store is a record store that can also list what it holds.
type Store interface {
	processor.RecordStore
	List(ctx context.Context, limit int32) ([]model.ProcessingRecord, error)
}

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	S3        *s3.Client
	Records   Store
	Transform *processor.Transform

	closers []func()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Logger: cfg.Logger()}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	a.S3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})

	if err := a.openRecords(ctx, awsCfg); err != nil {
		a.Close()
		return nil, err
	}

	format, err := derive.ParseFormat(cfg.ProcessedFormat)
	if err != nil {
		a.Close()
		return nil, err
	}

	var extractor processor.MetadataExtractor = extract.Exif{}
	if cfg.Extractor == "exiftool" {
		extractor = extract.NewExifTool(cfg.ExiftoolPath)
	}

	a.Transform = &processor.Transform{
		Blobs:     blob.NewS3Store(a.S3),
		Records:   a.Records,
		Extractor: extractor,
		Deriver:   derive.New(cfg.JPEGQuality),
		Buckets: processor.Buckets{
			Source:    cfg.SourceBucket,
			Thumbnail: cfg.ThumbnailBucket,
			Processed: cfg.ProcessedBucket,
		},
		ThumbnailWidth:  cfg.ThumbnailMaxWidth,
		ThumbnailHeight: cfg.ThumbnailMaxHeight,
		ProcessedFormat: format,
		ScratchDir:      cfg.ScratchDir,
		Logger:          a.Logger,
	}
	return a, nil
}

func (a *App) openRecords(ctx context.Context, awsCfg aws.Config) error {
	cfg := a.Config
	switch cfg.RecordStore {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("create pgx pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		store := record.NewPostgresStore(pool, cfg.TableName, cfg.StrictIdempotency)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		a.Records = store
	default:
		a.Records = &record.DynamoStore{
			DB:        dynamodb.NewFromConfig(awsCfg),
			TableName: cfg.TableName,
			KeyIndex:  cfg.KeyIndex,
			Strict:    cfg.StrictIdempotency,
		}
	}
	return nil
}

// Close releases connections opened by New.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/catdevman/image-transform/internal/blob"
	"github.com/catdevman/image-transform/internal/derive"
	"github.com/catdevman/image-transform/internal/model"
	"github.com/catdevman/image-transform/internal/normalize"
	"github.com/catdevman/image-transform/internal/record"
	"github.com/catdevman/image-transform/internal/scratch"
)

// --- Interfaces ---

type BlobStore interface {
	Download(ctx context.Context, bucket, key, path string) error
	Upload(ctx context.Context, bucket, path, key string) error
}

type RecordStore interface {
	FindByKey(ctx context.Context, key string) (*model.ProcessingRecord, error)
	Insert(ctx context.Context, rec *model.ProcessingRecord) (string, error)
}

// MetadataExtractor may hold an external process between Read and Shutdown.
type MetadataExtractor interface {
	Read(ctx context.Context, path string) (map[string]any, error)
	Shutdown() error
}

type ImageDeriver interface {
	Probe(path string) (model.BasicAttributes, error)
	ResizeBounded(src, dst string, maxW, maxH int) error
	Reformat(src, dst string, format imaging.Format) error
}

// --- Errors ---

var (
	ErrInvalidEvent     = errors.New("invalid event")
	ErrDownloadFailed   = errors.New("download failed")
	ErrDerivationFailed = errors.New("derivation failed")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrUploadFailed     = errors.New("upload failed")
	ErrPersistFailed    = errors.New("persist failed")
)

const (
	PurposeThumbnail = "thumbnail"
	PurposeProcessed = "processed"

	DefaultThumbnailSize = 200
)

var acceptedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// Accepted reports whether key names an image type the transform handles.
func Accepted(key string) bool {
	return acceptedExtensions[strings.ToLower(path.Ext(key))]
}

type Buckets struct {
	Source    string
	Thumbnail string
	Processed string
}

// --- Transform ---

// Transform turns one uploaded image into a thumbnail, a re-encoded copy and
// a ProcessingRecord. The existence check before processing is best-effort:
// two concurrent invocations for the same key can both pass it. Records
// stores built in strict mode close that window by failing the second
// insert, which Handle reports as Skipped.
type Transform struct {
	Blobs     BlobStore
	Records   RecordStore
	Extractor MetadataExtractor
	Deriver   ImageDeriver

	Buckets         Buckets
	ThumbnailWidth  int
	ThumbnailHeight int
	ProcessedFormat imaging.Format
	Normalizer      normalize.Normalizer

	// ScratchDir is the parent of each invocation's temp directory.
	ScratchDir string
	Logger     *slog.Logger
	Now        func() time.Time
}

func (t *Transform) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

func (t *Transform) thumbnailBounds() (int, int) {
	w, h := t.ThumbnailWidth, t.ThumbnailHeight
	if w <= 0 {
		w = DefaultThumbnailSize
	}
	if h <= 0 {
		h = DefaultThumbnailSize
	}
	return w, h
}

func (t *Transform) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Handle processes ev. Skipped and Rejected are returned as outcomes with a
// nil error; every failure wraps one of the Err*Failed sentinels together
// with the collaborator's error. Local files and the extractor process are
// released before Handle returns, including on panic.
func (t *Transform) Handle(ctx context.Context, ev model.Event) (model.Outcome, error) {
	key := strings.TrimLeft(strings.TrimSpace(ev.Key), "/")
	if key == "" {
		t.logger().Warn("rejecting event without object key", "bucket", ev.Bucket)
		return model.Outcome{}, fmt.Errorf("%w: object key is empty", ErrInvalidEvent)
	}
	log := t.logger().With("key", key)

	existing, err := t.Records.FindByKey(ctx, key)
	if err != nil {
		return model.Outcome{}, t.fail(log, "lookup", ErrPersistFailed, key, err)
	}
	if existing != nil {
		log.Info("already processed", "recordId", existing.RecordID)
		return model.Outcome{Status: model.StatusSkipped, Key: key}, nil
	}

	if !Accepted(key) {
		log.Info("unsupported file type", "ext", path.Ext(key))
		return model.Outcome{Status: model.StatusRejected, Key: key}, nil
	}

	scope, err := scratch.New(t.ScratchDir)
	if err != nil {
		return model.Outcome{}, t.fail(log, "download", ErrDownloadFailed, key, err)
	}
	defer t.release(log, scope)

	rec, err := t.process(ctx, log, scope, key)
	if errors.Is(err, record.ErrConflict) {
		log.Info("record written concurrently", "error", err)
		return model.Outcome{Status: model.StatusSkipped, Key: key}, nil
	}
	if err != nil {
		return model.Outcome{}, err
	}

	log.Info("image processed",
		"recordId", rec.RecordID,
		"width", rec.BasicAttributes.Width,
		"height", rec.BasicAttributes.Height,
	)
	return model.Outcome{Status: model.StatusProcessed, Key: key, Record: rec}, nil
}

func (t *Transform) process(ctx context.Context, log *slog.Logger, scope *scratch.Scope, key string) (*model.ProcessingRecord, error) {
	base := path.Base(key)

	src, err := scope.Path("source-" + base)
	if err == nil {
		err = t.Blobs.Download(ctx, t.Buckets.Source, key, src)
	}
	if err != nil {
		return nil, t.fail(log, "download", ErrDownloadFailed, key, err)
	}

	attrs, err := t.Deriver.Probe(src)
	if err != nil {
		return nil, t.fail(log, "probe", ErrDerivationFailed, key, err)
	}

	thumb, err := scope.Path("thumbnail-" + base)
	if err == nil {
		maxW, maxH := t.thumbnailBounds()
		err = t.Deriver.ResizeBounded(src, thumb, maxW, maxH)
	}
	if err != nil {
		return nil, t.fail(log, "thumbnail", ErrDerivationFailed, key, err)
	}

	processed, err := scope.Path("processed-" + strings.TrimSuffix(base, path.Ext(base)) + derive.Extension(t.ProcessedFormat))
	if err == nil {
		err = t.Deriver.Reformat(src, processed, t.ProcessedFormat)
	}
	if err != nil {
		return nil, t.fail(log, "reformat", ErrDerivationFailed, key, err)
	}

	raw, err := t.Extractor.Read(ctx, src)
	if err != nil {
		return nil, t.fail(log, "extract", ErrExtractionFailed, key, err)
	}
	extended, err := t.Normalizer.Map(raw)
	if err != nil {
		return nil, t.fail(log, "normalize", ErrExtractionFailed, key, err)
	}

	thumbKey := "thumbnail-" + base
	processedKey := "processed-" + base
	if err := t.Blobs.Upload(ctx, t.Buckets.Thumbnail, thumb, thumbKey); err != nil {
		return nil, t.fail(log, "upload thumbnail", ErrUploadFailed, key, err)
	}
	if err := t.Blobs.Upload(ctx, t.Buckets.Processed, processed, processedKey); err != nil {
		return nil, t.fail(log, "upload processed", ErrUploadFailed, key, err)
	}

	rec := &model.ProcessingRecord{
		Key:            key,
		SourceLocation: blob.URI(t.Buckets.Source, key),
		DerivedLocations: []model.Location{
			{Purpose: PurposeThumbnail, Location: blob.URI(t.Buckets.Thumbnail, thumbKey)},
			{Purpose: PurposeProcessed, Location: blob.URI(t.Buckets.Processed, processedKey)},
		},
		BasicAttributes:    attrs,
		ExtendedAttributes: extended,
	}
	rec.Stamp(t.now())

	if _, err := t.Records.Insert(ctx, rec); err != nil {
		if errors.Is(err, record.ErrConflict) {
			return nil, err
		}
		return nil, t.fail(log, "persist", ErrPersistFailed, key, err)
	}
	return rec, nil
}

// release runs on every exit path once local files may exist.
func (t *Transform) release(log *slog.Logger, scope *scratch.Scope) {
	if err := scope.Release(); err != nil {
		log.Error("failed to remove scratch files", "dir", scope.Dir(), "error", err)
	} else {
		log.Debug("scratch files removed", "dir", scope.Dir(), "files", scope.Files())
	}
	if err := t.Extractor.Shutdown(); err != nil {
		log.Error("failed to shut down metadata extractor", "error", err)
	}
}

func (t *Transform) fail(log *slog.Logger, stage string, kind error, key string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %w", kind, key, err)
	log.Error("image transform failed", "stage", stage, "error", err)
	return wrapped
}

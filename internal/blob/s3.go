// Package blob moves objects between S3 buckets and local files.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("access denied")
	ErrTransport    = errors.New("transport error")
)

// S3API is the subset of *s3.Client used for downloads and uploads.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	manager.UploadAPIClient
}

type S3Store struct {
	client   S3API
	uploader *manager.Uploader
}

func NewS3Store(client S3API) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// URI renders the canonical location string for an object.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// Download copies bucket/key into the file at path, creating or truncating it.
func (s *S3Store) Download(ctx context.Context, bucket, key, path string) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("get", bucket, key, err)
	}
	defer resp.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("%w: read %s: %w", ErrTransport, URI(bucket, key), err)
	}
	return f.Close()
}

// Upload stores the file at path as bucket/key.
func (s *S3Store) Upload(ctx context.Context, bucket, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	// The local file's extension names the encoded format; the destination
	// key may keep the source name.
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return classify("put", bucket, key, err)
	}
	return nil
}

func classify(op, bucket, key string, err error) error {
	kind := ErrTransport

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var apiErr smithy.APIError
	var status interface{ HTTPStatusCode() int }
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		kind = ErrNotFound
	case errors.As(err, &apiErr) && isDenied(apiErr.ErrorCode()):
		kind = ErrAccessDenied
	case errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket":
		kind = ErrNotFound
	case errors.As(err, &status) && status.HTTPStatusCode() == 403:
		kind = ErrAccessDenied
	case errors.As(err, &status) && status.HTTPStatusCode() == 404:
		kind = ErrNotFound
	}
	return fmt.Errorf("%w: %s %s: %w", kind, op, URI(bucket, key), err)
}

func isDenied(code string) bool {
	switch code {
	case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return true
	}
	return false
}

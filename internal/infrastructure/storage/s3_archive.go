// Package storage archives landed raw batches to object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/crmsync/internal/domain/integration"
	infraconfig "github.com/erp/crmsync/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// s3API is the subset of the S3 client the archive needs
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Archive writes each raw batch as one NDJSON object:
//
//	<prefix>/<source>/<entity_type>/<yyyy-mm-dd>/<batch_id>.ndjson
//
// It works with any S3-compatible store (AWS S3, MinIO, RustFS).
type S3Archive struct {
	client s3API
	bucket string
	prefix string
	logger *zap.Logger
}

// S3ArchiveOption configures an S3Archive
type S3ArchiveOption func(*S3Archive)

// WithLogger sets the archive logger
func WithLogger(logger *zap.Logger) S3ArchiveOption {
	return func(a *S3Archive) {
		a.logger = logger
	}
}

// NewS3Archive creates an archive from configuration
func NewS3Archive(cfg *infraconfig.ArchiveConfig, opts ...S3ArchiveOption) (*S3Archive, error) {
	if cfg == nil {
		return nil, errors.New("archive configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Archive(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

func newS3Archive(client s3API, bucket, prefix string, opts ...S3ArchiveOption) *S3Archive {
	a := &S3Archive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EnsureBucket creates the bucket if it doesn't exist
func (a *S3Archive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// archiveLine is one NDJSON line
type archiveLine struct {
	ID         uuid.UUID           `json:"id"`
	SourceID   string              `json:"source_id"`
	Payload    integration.Payload `json:"payload"`
	IngestedAt string              `json:"ingested_at"`
}

// ArchiveBatch uploads the batch. Empty batches are skipped.
func (a *S3Archive) ArchiveBatch(ctx context.Context, entityType string, batchID uuid.UUID, records []integration.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(archiveLine{
			ID:         r.ID,
			SourceID:   r.SourceID,
			Payload:    r.Payload,
			IngestedAt: r.IngestedAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
		}); err != nil {
			return fmt.Errorf("encode raw record %s: %w", r.SourceID, err)
		}
	}

	key := a.objectKey(records[0], entityType, batchID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"entity-type":  entityType,
			"batch-id":     batchID.String(),
			"record-count": fmt.Sprint(len(records)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	a.logger.Debug("Archived raw batch",
		zap.String("key", key),
		zap.Int("records", len(records)),
	)
	return nil
}

func (a *S3Archive) objectKey(first integration.RawRecord, entityType string, batchID uuid.UUID) string {
	return path.Join(
		a.prefix,
		first.Source,
		entityType,
		first.IngestedAt.UTC().Format("2006-01-02"),
		batchID.String()+".ndjson",
	)
}

// Bucket returns the bucket name
func (a *S3Archive) Bucket() string {
	return a.bucket
}

var _ integration.RawArchive = (*S3Archive)(nil)

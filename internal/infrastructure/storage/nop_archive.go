package storage

import (
	"context"

	"github.com/erp/crmsync/internal/domain/integration"
	infraconfig "github.com/erp/crmsync/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NopArchive discards batches. Used when archiving is disabled.
type NopArchive struct{}

// ArchiveBatch does nothing
func (NopArchive) ArchiveBatch(context.Context, string, uuid.UUID, []integration.RawRecord) error {
	return nil
}

// NewArchive returns an S3 archive when enabled and a NopArchive otherwise
func NewArchive(ctx context.Context, cfg *infraconfig.ArchiveConfig, logger *zap.Logger) (integration.RawArchive, error) {
	if cfg == nil || !cfg.Enabled {
		return NopArchive{}, nil
	}
	a, err := NewS3Archive(cfg, WithLogger(logger.Named("archive")))
	if err != nil {
		return nil, err
	}
	if err := a.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

var _ integration.RawArchive = NopArchive{}

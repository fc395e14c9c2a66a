package archive

import (
	"context"
	"fmt"

	"todoapp/internal/config"
)

// Store is blob storage holding one text blob per archived task.
type Store interface {
	// EnsureContainer creates the container or bucket if it does not exist yet.
	EnsureContainer(ctx context.Context) error
	// PutBlob writes data under name, replacing any existing blob.
	PutBlob(ctx context.Context, name string, data []byte) error
}

const contentType = "text/plain; charset=utf-8"

// Open builds the archive store selected by cfg.ArchiveDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ArchiveDriver {
	case config.ArchiveAzure:
		s, err := NewBlobStore(cfg.StorageConnectionString, cfg.ArchiveContainer)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.ArchiveGCS:
		s, err := NewGCSStore(ctx, cfg.ArchiveContainer, cfg.GCSProjectID)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.ArchiveDriver)
	}
}

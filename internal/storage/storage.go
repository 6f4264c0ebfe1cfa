package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/domain"
)

// ObjectInfo represents metadata for an archived object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage captures the minimal S3-compatible operations the archive needs.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	UploadObject(ctx context.Context, key string, data []byte) error
}

// Archive writes finished run summaries as JSON documents under a key prefix.
type Archive struct {
	store  ObjectStorage
	prefix string
}

func NewArchive(store ObjectStorage, prefix string) *Archive {
	return &Archive{store: store, prefix: strings.Trim(prefix, "/")}
}

// NewArchiveFromConfig returns nil when archiving is disabled.
func NewArchiveFromConfig(cfg config.ArchiveConfig) (*Archive, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		store ObjectStorage
		err   error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "minio":
		store, err = NewMinioClient(cfg)
	case "s3":
		store, err = NewS3Client(cfg)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewArchive(store, cfg.Prefix), nil
}

func (a *Archive) Key(runID string) string {
	name := runID + ".json"
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

func (a *Archive) Put(ctx context.Context, summary *domain.RunSummary) (string, error) {
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run summary: %w", err)
	}
	key := a.Key(summary.ID)
	if err := a.store.UploadObject(ctx, key, payload); err != nil {
		return "", fmt.Errorf("archive run %s: %w", summary.ID, err)
	}
	return key, nil
}

func (a *Archive) Get(ctx context.Context, runID string) (*domain.RunSummary, error) {
	payload, err := a.store.GetObject(ctx, a.Key(runID))
	if err != nil {
		return nil, fmt.Errorf("fetch archived run %s: %w", runID, err)
	}
	var summary domain.RunSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, fmt.Errorf("decode archived run %s: %w", runID, err)
	}
	return &summary, nil
}

// List returns the run IDs present in the archive.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	prefix := a.prefix
	if prefix != "" {
		prefix += "/"
	}
	objects, err := a.store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(objects))
	for _, o := range objects {
		name := path.Base(o.Key)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

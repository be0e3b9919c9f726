package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/contract-assistant/ingestion"
	"github.com/fabfab/contract-assistant/storage"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ErrInvalidDocument wraps payloads that cannot be stored as a contract.
var ErrInvalidDocument = errors.New("invalid contract document")

type Service struct {
	repo   Repository
	blobs  storage.BlobStore
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, blobs storage.BlobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, blobs: blobs, logger: logger, now: time.Now}
}

// Upload stores a base64 payload and its metadata. The blob is removed again
// if the metadata cannot be written.
func (s *Service) Upload(ctx context.Context, filename, encoded string) (Record, error) {
	data, err := ingestion.DecodeBase64(encoded)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	format := ingestion.SniffFormat(data)
	if format == ingestion.FormatUnknown {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidDocument, ingestion.ErrUnsupportedFormat)
	}

	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "contract." + string(format)
	}

	now := s.now().UTC()
	id := uuid.New()
	rec := Record{
		ID:          id,
		Filename:    filename,
		StorageKey:  storageKey(id, filename, format, now),
		ContentType: format.ContentType(),
		SizeBytes:   int64(len(data)),
		UploadedAt:  now,
	}

	if err := s.blobs.Put(ctx, rec.StorageKey, data, rec.ContentType); err != nil {
		return Record{}, fmt.Errorf("store contract blob: %w", err)
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		if delErr := s.blobs.Delete(ctx, rec.StorageKey); delErr != nil {
			s.logger.Warn("remove orphaned contract blob", "storage_key", rec.StorageKey, "err", delErr)
		}
		return Record{}, err
	}

	s.logger.Info("contract stored", "contract_id", rec.ID, "filename", rec.Filename, "size_bytes", rec.SizeBytes)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.repo.Get(ctx, id)
}

// Content returns the stored bytes of a record.
func (s *Service) Content(ctx context.Context, rec Record) ([]byte, error) {
	data, err := s.blobs.Get(ctx, rec.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	return s.repo.List(ctx, limit)
}

func storageKey(id uuid.UUID, filename string, format ingestion.DocumentFormat, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.Trim(unsafeFilename.ReplaceAllString(base, "_"), "_.")
	if base == "" {
		base = "contract"
	}
	return fmt.Sprintf("contracts/%s/%s_%s.%s", at.Format("2006/01/02"), base, id, format)
}

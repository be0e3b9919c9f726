package contracts

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/contract-assistant/database"
	"github.com/fabfab/contract-assistant/storage"
)

type memoryRepository struct {
	mu        sync.Mutex
	records   []Record
	insertErr error
}

func (m *memoryRepository) Insert(_ context.Context, rec Record) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRepository) Get(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *memoryRepository) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.records)
	slices.Reverse(out)
	return out[:min(limit, len(out))], nil
}

func newTestService(t *testing.T, repo Repository) (*Service, *storage.LocalStore) {
	t.Helper()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := NewService(repo, blobs, nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC) }
	return svc, blobs
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestUploadStoresBlobAndRecord(t *testing.T) {
	repo := &memoryRepository{}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	rec, err := svc.Upload(ctx, "Master Services Agreement.pdf", encode("%PDF-1.4 fake body"))
	require.NoError(t, err)
	require.Equal(t, "Master Services Agreement.pdf", rec.Filename)
	require.Equal(t, "application/pdf", rec.ContentType)
	require.EqualValues(t, len("%PDF-1.4 fake body"), rec.SizeBytes)
	require.True(t, strings.HasPrefix(rec.StorageKey, "contracts/2024/05/15/Master_Services_Agreement_"))
	require.True(t, strings.HasSuffix(rec.StorageKey, ".pdf"))

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	data, err := svc.Content(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 fake body", string(data))
}

func TestUploadRejectsInvalidPayload(t *testing.T) {
	svc, _ := newTestService(t, &memoryRepository{})

	_, err := svc.Upload(context.Background(), "x.pdf", "%%%")
	require.ErrorIs(t, err, ErrInvalidDocument)

	_, err = svc.Upload(context.Background(), "x.bin", base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00}))
	require.ErrorIs(t, err, ErrInvalidDocument)
}

type trackingStore struct {
	storage.BlobStore
	puts    []string
	deletes []string
}

func (s *trackingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.puts = append(s.puts, key)
	return s.BlobStore.Put(ctx, key, data, contentType)
}

func (s *trackingStore) Delete(ctx context.Context, key string) error {
	s.deletes = append(s.deletes, key)
	return s.BlobStore.Delete(ctx, key)
}

func TestUploadRemovesBlobWhenRecordFails(t *testing.T) {
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	blobs := &trackingStore{BlobStore: local}
	repo := &memoryRepository{insertErr: errors.New("db down")}
	svc := NewService(repo, blobs, nil)

	_, err = svc.Upload(context.Background(), "notes.txt", encode("plain contract text"))
	require.ErrorContains(t, err, "db down")
	require.Empty(t, repo.records)
	require.Len(t, blobs.puts, 1)
	require.Equal(t, blobs.puts, blobs.deletes)

	_, err = local.Get(context.Background(), blobs.puts[0])
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListClampsLimit(t *testing.T) {
	repo := &memoryRepository{}
	svc, _ := newTestService(t, repo)
	for i := 0; i < 3; i++ {
		_, err := svc.Upload(context.Background(), "c.txt", encode("text"))
		require.NoError(t, err)
	}

	recs, err := svc.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	recs, err = svc.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestStorageKeySanitizesFilename(t *testing.T) {
	id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	at := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "contracts/2024/05/15/c_7d444840-9dc0-11d1-b245-5ffdce74fad2.pdf", storageKey(id, "../a b/c.pdf", "pdf", at))
	require.Equal(t, "contracts/2024/05/15/Lease_2024_7d444840-9dc0-11d1-b245-5ffdce74fad2.pdf", storageKey(id, "Lease (2024).pdf", "pdf", at))
	require.Equal(t, "contracts/2024/05/15/contract_7d444840-9dc0-11d1-b245-5ffdce74fad2.txt", storageKey(id, "///", "txt", at))
}

func TestPostgresRepository(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database checks")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, os.Getenv("POSTGRES_DSN"))
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, database.EnsureSchema(ctx, pool))

	repo := NewPostgresRepository(pool)
	rec := Record{
		ID:          uuid.New(),
		Filename:    "integration.pdf",
		StorageKey:  "contracts/it/" + uuid.NewString() + ".pdf",
		ContentType: "application/pdf",
		SizeBytes:   42,
		UploadedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Insert(ctx, rec))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM contract_records WHERE id = $1", rec.ID)
	})

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.StorageKey, got.StorageKey)
	require.True(t, rec.UploadedAt.Equal(got.UploadedAt))

	_, err = repo.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	list, err := repo.List(ctx, 100)
	require.NoError(t, err)
	require.NotEmpty(t, list)
}

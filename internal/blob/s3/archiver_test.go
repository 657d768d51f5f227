package s3blob_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/copybot/internal/blob/s3"
	"github.com/alanyoungcy/copybot/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	putErr  error
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = raw
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	raw, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

type memStore struct {
	state *domain.LedgerState
}

func (s *memStore) Load(context.Context) (domain.LedgerState, error) {
	if s.state == nil {
		return domain.LedgerState{}, domain.ErrNotFound
	}
	return s.state.Clone(), nil
}

func (s *memStore) Save(_ context.Context, st domain.LedgerState) error {
	cp := st.Clone()
	s.state = &cp
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiveOnceKeyLayout(t *testing.T) {
	store := &memStore{state: &domain.LedgerState{Balance: 950, Positions: map[string]*domain.Position{}}}
	blobs := newMemBlobs()
	a := s3blob.NewLedgerArchiver(store, blobs, blobs, "/ledger/", quiet())
	a.SetClock(func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) })

	key, err := a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ledger/2026/03/04/20260304T050607Z.json", key)
	assert.Contains(t, string(blobs.objects[key]), `"balance": 950`)
}

func TestArchiveOnceEmptyStore(t *testing.T) {
	blobs := newMemBlobs()
	a := s3blob.NewLedgerArchiver(&memStore{}, blobs, blobs, "ledger", quiet())

	key, err := a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, blobs.objects)
}

func TestArchiveOncePutError(t *testing.T) {
	store := &memStore{state: &domain.LedgerState{Positions: map[string]*domain.Position{}}}
	blobs := newMemBlobs()
	blobs.putErr = errors.New("503")
	a := s3blob.NewLedgerArchiver(store, blobs, blobs, "ledger", quiet())

	_, err := a.ArchiveOnce(context.Background())
	assert.ErrorContains(t, err, "503")
}

func TestRestoreLatestPicksNewest(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["ledger/2026/03/03/20260303T000000Z.json"] = []byte(`{"balance": 10}`)
	blobs.objects["ledger/2026/03/04/20260304T120000Z.json"] = []byte(`{"balance": 20, "positions": {"tok": {"shares": 5}}}`)
	blobs.objects["ledger/2026/03/04/notes.txt"] = []byte(`ignored`)
	store := &memStore{}

	a := s3blob.NewLedgerArchiver(store, blobs, blobs, "ledger", quiet())
	ok, err := a.RestoreLatest(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, store.state)
	assert.Equal(t, 20.0, store.state.Balance)
	assert.Contains(t, store.state.Positions, "tok")
}

func TestRestoreLatestSkipsPopulatedStore(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["ledger/2026/03/04/20260304T120000Z.json"] = []byte(`{"balance": 20}`)
	store := &memStore{state: &domain.LedgerState{Balance: 99, Positions: map[string]*domain.Position{}}}

	a := s3blob.NewLedgerArchiver(store, blobs, blobs, "ledger", quiet())
	ok, err := a.RestoreLatest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 99.0, store.state.Balance)
}

func TestRestoreLatestNoSnapshots(t *testing.T) {
	blobs := newMemBlobs()
	a := s3blob.NewLedgerArchiver(&memStore{}, blobs, blobs, "ledger", quiet())
	ok, err := a.RestoreLatest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	store := &memStore{state: &domain.LedgerState{Balance: 1, Positions: map[string]*domain.Position{}}}
	blobs := newMemBlobs()
	a := s3blob.NewLedgerArchiver(store, blobs, blobs, "ledger", quiet())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx, time.Hour))
	assert.Len(t, blobs.objects, 1)
}

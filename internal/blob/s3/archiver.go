package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// LedgerArchiver uploads point-in-time copies of the paper ledger and can
// restore the newest one into an empty store.
//
// Objects are written to <prefix>/YYYY/MM/DD/<YYYYMMDDTHHMMSSZ>.json so that
// lexical order of keys is also chronological order.
type LedgerArchiver struct {
	store  domain.LedgerStore
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerArchiver creates a LedgerArchiver. reader may be nil when restore
// is not needed.
func NewLedgerArchiver(store domain.LedgerStore, writer domain.BlobWriter, reader domain.BlobReader, prefix string, logger *slog.Logger) *LedgerArchiver {
	return &LedgerArchiver{
		store:  store,
		writer: writer,
		reader: reader,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(slog.String("component", "ledger_archiver")),
		now:    time.Now,
	}
}

// SetClock overrides the time source used for object keys.
func (a *LedgerArchiver) SetClock(now func() time.Time) { a.now = now }

// ArchiveOnce uploads the current ledger and returns the object key. An
// empty store is not an error; nothing is uploaded and the key is "".
func (a *LedgerArchiver) ArchiveOnce(ctx context.Context) (string, error) {
	state, err := a.store.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive: load ledger: %w", err)
	}

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive: encode ledger: %w", err)
	}

	key := snapshotKey(a.prefix, a.now())
	if err := a.writer.Put(ctx, key, bytes.NewReader(raw), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive: %w", err)
	}
	return key, nil
}

// Run archives on every tick until ctx is cancelled. Upload failures are
// logged and retried on the next tick.
func (a *LedgerArchiver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// One last copy so the newest state survives shutdown.
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			a.archive(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			a.archive(ctx)
		}
	}
}

func (a *LedgerArchiver) archive(ctx context.Context) {
	key, err := a.ArchiveOnce(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "ledger archive failed", slog.String("error", err.Error()))
		return
	}
	if key != "" {
		a.logger.InfoContext(ctx, "ledger archived", slog.String("key", key))
	}
}

// RestoreLatest copies the newest snapshot into the store when the store is
// empty. It reports whether a snapshot was restored.
func (a *LedgerArchiver) RestoreLatest(ctx context.Context) (bool, error) {
	if a.reader == nil {
		return false, nil
	}
	_, err := a.store.Load(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("s3blob: restore: load ledger: %w", err)
	}

	infos, err := a.reader.List(ctx, a.prefix+"/")
	if err != nil {
		return false, fmt.Errorf("s3blob: restore: %w", err)
	}
	key := latestSnapshot(infos)
	if key == "" {
		return false, nil
	}

	body, err := a.reader.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("s3blob: restore: %w", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return false, fmt.Errorf("s3blob: restore: read %s: %w", key, err)
	}
	var state domain.LedgerState
	if err := json.Unmarshal(raw, &state); err != nil {
		return false, fmt.Errorf("s3blob: restore: decode %s: %w", key, err)
	}
	if state.Positions == nil {
		state.Positions = map[string]*domain.Position{}
	}
	if err := a.store.Save(ctx, state); err != nil {
		return false, fmt.Errorf("s3blob: restore: save ledger: %w", err)
	}

	a.logger.InfoContext(ctx, "ledger restored",
		slog.String("key", key),
		slog.Float64("balance", state.Balance),
		slog.Int("positions", len(state.Positions)),
	)
	return true, nil
}

func snapshotKey(prefix string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, t.Format("2006/01/02"), t.Format("20060102T150405Z")+".json")
}

// latestSnapshot picks the lexically greatest .json key.
func latestSnapshot(infos []domain.BlobInfo) string {
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".json") {
			keys = append(keys, info.Path)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[len(keys)-1]
}

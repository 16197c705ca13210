package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const (
	archiveLockKey      = "archive"
	contentTypeJSONL    = "application/x-ndjson"
	contentTypeJSON     = "application/json"
	defaultArchiveBatch = 100
	defaultArchiveLock  = 10 * time.Minute
)

// ArchiverConfig tunes which markets are archived and how they are uploaded.
type ArchiverConfig struct {
	// Prefix is prepended to every object key.
	Prefix string
	// MinAge is how long after its deadline a resolved market waits.
	MinAge time.Duration
	// BatchSize caps the markets handled per pass.
	BatchSize int
	// MultipartThreshold switches event logs at least this large to
	// multipart upload. Zero disables multipart.
	MultipartThreshold int
	PartSize           int64
	LockTTL            time.Duration
}

// ArchiveImpl implements domain.Archiver. It copies the event log and final
// summary of each resolved market to object storage and marks the
// projection row archived. Events stay in the primary store.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	events  domain.EventStore
	markets domain.MarketStore
	locks   domain.LockManager
	clock   domain.Clock
	cfg     ArchiverConfig
	logger  *slog.Logger
}

// NewArchiver creates an ArchiveImpl. reader and locks may be nil: without a
// reader every object is uploaded, without locks every replica archives.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events domain.EventStore,
	markets domain.MarketStore,
	locks domain.LockManager,
	clock domain.Clock,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *ArchiveImpl {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultArchiveBatch
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultArchiveLock
	}
	return &ArchiveImpl{
		writer:  writer,
		reader:  reader,
		events:  events,
		markets: markets,
		locks:   locks,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveResolved runs one pass and returns the number of markets archived.
// A pass that finds the archive lock held elsewhere archives nothing.
func (a *ArchiveImpl) ArchiveResolved(ctx context.Context) (int, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "archive lock held by another replica")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive lock: %w", err)
		}
		defer unlock()
	}

	now := a.clock.Now()
	due, err := a.markets.ListResolvedUnarchived(ctx, now.Add(-a.cfg.MinAge), a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list resolved markets: %w", err)
	}

	archived := 0
	for _, m := range due {
		if err := a.archiveMarket(ctx, m); err != nil {
			return archived, err
		}
		if err := a.markets.MarkArchived(ctx, m.ID, now); err != nil {
			return archived, fmt.Errorf("s3blob: mark market %d archived: %w", m.ID, err)
		}
		archived++
		a.logger.InfoContext(ctx, "market archived",
			slog.Uint64("market_id", uint64(m.ID)),
			slog.String("path", eventsPath(a.cfg.Prefix, m.ID)),
		)
	}
	return archived, nil
}

func (a *ArchiveImpl) archiveMarket(ctx context.Context, m domain.MarketSummary) error {
	path := eventsPath(a.cfg.Prefix, m.ID)
	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return err
		}
		if ok {
			// Uploaded by an earlier pass that failed before marking.
			return nil
		}
	}

	log, err := a.events.ListByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("s3blob: list events for market %d: %w", m.ID, err)
	}
	buf, err := marshalJSONL(log)
	if err != nil {
		return fmt.Errorf("s3blob: marshal events for market %d: %w", m.ID, err)
	}
	summary, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("s3blob: marshal summary for market %d: %w", m.ID, err)
	}

	if err := a.writer.Put(ctx, summaryPath(a.cfg.Prefix, m.ID), bytes.NewReader(summary), contentTypeJSON); err != nil {
		return err
	}
	// The event log goes last so its presence means the market is complete.
	if a.cfg.MultipartThreshold > 0 && len(buf) >= a.cfg.MultipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.cfg.PartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
}

// eventsPath builds the object key of a market's event log:
//
//	markets/000042/events.jsonl
func eventsPath(prefix string, id domain.MarketID) string {
	return marketPath(prefix, id) + "/events.jsonl"
}

func summaryPath(prefix string, id domain.MarketID) string {
	return marketPath(prefix, id) + "/summary.json"
}

func marketPath(prefix string, id domain.MarketID) string {
	if prefix == "" {
		prefix = "markets"
	}
	return fmt.Sprintf("%s/%06d", prefix, id)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

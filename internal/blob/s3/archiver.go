package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// DefaultMultipartThreshold is the payload size above which archives are
// uploaded in parts.
const DefaultMultipartThreshold = 32 << 20

// OrderArchiveStore is the slice of domain.OrderStore the archiver needs.
type OrderArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

var _ domain.Archiver = (*Archiver)(nil)

// Archiver moves filled, cancelled and rejected orders older than a cutoff
// into a JSONL object under archive/orders/, then deletes them from the
// database. Rows are only deleted after the upload and the audit entry
// succeed.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	orders    OrderArchiveStore
	audit     domain.AuditStore
	logger    *slog.Logger
	threshold int
	now       func() time.Time
}

// NewArchiver creates an Archiver. reader may be nil, in which case the
// monthly path is always suffixed with the run time.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, orders OrderArchiveStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		orders:    orders,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
		threshold: DefaultMultipartThreshold,
		now:       time.Now,
	}
}

// WithMultipartThreshold overrides the size above which uploads are split.
func (a *Archiver) WithMultipartThreshold(n int) *Archiver {
	if n > 0 {
		a.threshold = n
	}
	return a
}

// ArchiveOrders returns the number of rows removed from the database.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list orders to archive: %w", err)
	}
	if len(orders) == 0 {
		a.logger.DebugContext(ctx, "archiver: nothing to archive", slog.Time("before", before))
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: encode orders: %w", err)
	}

	path, err := a.freePath(ctx, before)
	if err != nil {
		return 0, err
	}
	if len(buf) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: upload %s: %w", path, err)
	}

	if err := a.audit.Log(ctx, "archive.orders", map[string]any{
		"path":   path,
		"count":  len(orders),
		"bytes":  len(buf),
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return 0, fmt.Errorf("s3blob: audit archive %s: %w", path, err)
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	deleted, err := a.orders.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("s3blob: delete archived orders: %w", err)
	}
	if deleted != int64(len(ids)) {
		a.logger.WarnContext(ctx, "archiver: deleted count differs from archived count",
			slog.Int64("deleted", deleted),
			slog.Int("archived", len(ids)),
		)
	}

	a.logger.InfoContext(ctx, "archiver: orders archived",
		slog.String("path", path),
		slog.Int64("count", deleted),
	)
	return deleted, nil
}

// freePath returns the monthly archive path, suffixed with the run time if
// an object already exists there.
func (a *Archiver) freePath(ctx context.Context, before time.Time) (string, error) {
	path := archivePath(before, time.Time{})
	if a.reader == nil {
		return archivePath(before, a.now()), nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if exists {
		return archivePath(before, a.now()), nil
	}
	return path, nil
}

// archivePath partitions by the cutoff's month:
//
//	archive/orders/2025-01.jsonl
//	archive/orders/2025-01-20250203T040506Z.jsonl
func archivePath(before, run time.Time) string {
	month := before.UTC().Format("2006-01")
	if run.IsZero() {
		return fmt.Sprintf("archive/orders/%s.jsonl", month)
	}
	return fmt.Sprintf("archive/orders/%s-%s.jsonl", month, run.UTC().Format("20060102T150405Z"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// Snapshotter builds the settlement report of a pool.
type Snapshotter interface {
	Snapshot(ctx context.Context, pool string) (domain.Report, error)
}

// ReportSigner attaches the operator signature to a report.
type ReportSigner interface {
	SignReport(r domain.Report) (domain.Report, error)
}

// ReportArchiver writes a signed settlement report to object storage when a
// pool completes scoring. It is registered as an event sink.
type ReportArchiver struct {
	pool   string
	source Snapshotter
	signer ReportSigner
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewReportArchiver creates an archiver for pool. signer and audit may be
// nil, in which case reports are stored unsigned and archival is not
// audited.
func NewReportArchiver(
	pool string,
	source Snapshotter,
	signer ReportSigner,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ReportArchiver {
	return &ReportArchiver{
		pool:   pool,
		source: source,
		signer: signer,
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "report_archiver")),
	}
}

// Name implements domain.EventSink.
func (a *ReportArchiver) Name() string { return "reports" }

// Handle implements domain.EventSink. Only scoring_completed is archived,
// and a redelivered event whose report already exists is skipped.
func (a *ReportArchiver) Handle(ctx context.Context, ev domain.Event) error {
	if ev.Kind != domain.EventScoringCompleted {
		return nil
	}
	key := reportPath(a.pool, ev.At)
	exists, err := a.reader.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("s3blob: check report %s: %w", key, err)
	}
	if exists {
		a.logger.DebugContext(ctx, "report already archived", slog.String("path", key))
		return nil
	}
	_, err = a.Archive(ctx, ev.At)
	return err
}

// Archive snapshots the pool, signs the report and uploads it. It returns
// the object path.
func (a *ReportArchiver) Archive(ctx context.Context, at time.Time) (string, error) {
	report, err := a.source.Snapshot(ctx, a.pool)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot %s: %w", a.pool, err)
	}
	if a.signer != nil {
		if report, err = a.signer.SignReport(report); err != nil {
			return "", fmt.Errorf("s3blob: sign report: %w", err)
		}
	}

	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report: %w", err)
	}

	key := reportPath(a.pool, at)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload report: %w", err)
	}
	a.logger.InfoContext(ctx, "settlement report archived",
		slog.String("path", key),
		slog.Int("winners", len(report.Winners)),
	)

	if a.audit != nil {
		if err := a.audit.Record(ctx, domain.AuditRecord{
			Action: "report.archived",
			Actor:  common.HexToAddress(report.Signer),
			Detail: map[string]any{"path": key, "winners": len(report.Winners)},
		}); err != nil {
			return key, fmt.Errorf("s3blob: audit report: %w", err)
		}
	}
	return key, nil
}

// List returns the archived reports of the pool, newest first.
func (a *ReportArchiver) List(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, reportPrefix(a.pool))
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
	return infos, nil
}

// Load fetches and decodes one archived report. name is the file name
// under the pool prefix, as returned in List paths.
func (a *ReportArchiver) Load(ctx context.Context, name string) (domain.Report, error) {
	name = path.Base(name)
	if !strings.HasSuffix(name, ".json") {
		return domain.Report{}, domain.ErrNotFound
	}
	body, err := a.reader.Get(ctx, reportPrefix(a.pool)+name)
	if err != nil {
		return domain.Report{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return domain.Report{}, fmt.Errorf("s3blob: read report %s: %w", name, err)
	}
	var r domain.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Report{}, fmt.Errorf("s3blob: decode report %s: %w", name, err)
	}
	return r, nil
}

func reportPrefix(pool string) string {
	return "reports/" + pool + "/"
}

// reportPath names a report by its scoring time, so lexical order is
// chronological.
//
//	reports/worldcup/20260720T000000Z.json
func reportPath(pool string, at time.Time) string {
	return reportPrefix(pool) + at.UTC().Format("20060102T150405Z") + ".json"
}

var _ domain.EventSink = (*ReportArchiver)(nil)

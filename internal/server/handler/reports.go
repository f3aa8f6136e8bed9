package handler

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// ReportStore lists and loads archived settlement reports.
type ReportStore interface {
	List(ctx context.Context) ([]domain.BlobInfo, error)
	Load(ctx context.Context, name string) (domain.Report, error)
}

// ReportHandler serves archived settlement reports. reports may be nil when
// no object store is configured.
type ReportHandler struct {
	reports ReportStore
	logger  *slog.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports ReportStore, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logHandler(logger, "reports")}
}

// ListReports returns archived report names, newest first.
// GET /api/reports
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive is not configured")
		return
	}
	infos, err := h.reports.List(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	type item struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	out := make([]item, 0, len(infos))
	for _, info := range infos {
		out = append(out, item{Name: path.Base(info.Path), Size: info.Size})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}

// GetReport returns one archived report.
// GET /api/reports/{name}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive is not configured")
		return
	}
	report, err := h.reports.Load(r.Context(), r.PathValue("name"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

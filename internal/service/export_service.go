package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/export"
	"github.com/noah-isme/transport-admin-api/pkg/storage"
)

const exportMaxRows = 5000

type grievanceLister interface {
	List(ctx context.Context, filter models.GrievanceFilter) ([]models.GrievanceDetail, *models.Pagination, error)
}

type fileStorage interface {
	Put(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Sweep(maxAge time.Duration, now time.Time) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService renders grievance reports and hands out signed download links.
type ExportService struct {
	grievances grievanceLister
	storage    fileStorage
	csv        csvRenderer
	pdf        pdfRenderer
	signer     *storage.DownloadSigner
	audit      auditRecorder
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        ExportConfig
	now        func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(grievances grievanceLister, store fileStorage, signer *storage.DownloadSigner, audit auditRecorder, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		grievances: grievances,
		storage:    store,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		signer:     signer,
		audit:      audit,
		validator:  validator.New(),
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Generate renders the filtered grievance list and stores it.
func (s *ExportService) Generate(ctx context.Context, req dto.ExportGrievancesRequest, actor *models.JWTClaims) (*dto.ExportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err)
	}
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "export storage is not configured")
	}

	rows, err := s.collect(ctx, req)
	if err != nil {
		return nil, err
	}
	dataset := grievanceDataset(rows)

	var payload []byte
	switch req.Format {
	case "csv":
		payload, err = s.csv.Render(dataset)
	case "pdf":
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("Grievance Report %s", s.now().UTC().Format("2006-01-02")))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	exportID := uuid.NewString()
	filename := fmt.Sprintf("grievances_%s_%s.%s", s.now().UTC().Format("20060102_150405"), exportID[:8], req.Format)
	relPath, err := s.storage.Put(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Issue(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditEntry{
			UserID:     claimsUserID(actor),
			Action:     models.AuditActionExport,
			Resource:   "grievance_report",
			ResourceID: exportID,
			NewValues:  map[string]interface{}{"format": req.Format, "rows": len(rows)},
		})
	}

	return &dto.ExportResponse{
		Token:     token,
		URL:       fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:    req.Format,
		Rows:      len(rows),
		ExpiresAt: expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string) (exportID, relPath string, expiresAt time.Time, err error) {
	if s.signer == nil {
		return "", "", time.Time{}, appErrors.Clone(appErrors.ErrConfiguration, "export storage is not configured")
	}
	grant, err := s.signer.Verify(token)
	if err != nil {
		return "", "", time.Time{}, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "download link is invalid or expired")
	}
	return grant.ExportID, grant.Path, grant.ExpiresAt, nil
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	if s.storage == nil {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "export storage is not configured")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export file not found")
	}
	return file, nil
}

// Cleanup removes files older than ttl, defaulting to the configured retention.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if s.storage == nil {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.Sweep(ttl, s.now())
}

func (s *ExportService) collect(ctx context.Context, req dto.ExportGrievancesRequest) ([]models.GrievanceDetail, error) {
	filter := models.GrievanceFilter{
		Category:  req.Category,
		Priority:  req.Priority,
		Search:    req.Search,
		DateRange: req.DateRange,
		Limit:     100,
	}
	for _, status := range req.Status {
		filter.Statuses = append(filter.Statuses, models.GrievanceStatus(status))
	}
	if req.AssignedTo == "unassigned" {
		filter.Unassigned = true
	} else {
		filter.AssignedTo = req.AssignedTo
	}

	var rows []models.GrievanceDetail
	for page := 1; ; page++ {
		filter.Page = page
		batch, pagination, err := s.grievances.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
		if len(batch) == 0 || len(rows) >= pagination.TotalCount || len(rows) >= exportMaxRows {
			break
		}
	}
	if len(rows) > exportMaxRows {
		rows = rows[:exportMaxRows]
	}
	return rows, nil
}

func grievanceDataset(rows []models.GrievanceDetail) export.Dataset {
	headers := []string{"ID", "Student", "Category", "Priority", "Status", "Subject", "Assignee", "Created At", "Expected", "Resolved At", "Resolution Hours"}
	data := make([]map[string]string, 0, len(rows))
	for _, g := range rows {
		row := map[string]string{
			"ID":          g.ID,
			"Student":     firstNonEmpty(g.StudentName, &g.StudentID),
			"Category":    g.Category,
			"Priority":    string(g.Priority),
			"Status":      string(g.Status),
			"Subject":     g.Subject,
			"Assignee":    firstNonEmpty(g.AssigneeName, g.AssignedTo),
			"Created At":  g.CreatedAt.UTC().Format(time.RFC3339),
			"Expected":    formatReportTime(g.ExpectedResolutionDate),
			"Resolved At": formatReportTime(g.ResolvedAt),
		}
		if g.ActualResolutionTime != nil {
			row["Resolution Hours"] = fmt.Sprintf("%.2f", *g.ActualResolutionTime)
		}
		data = append(data, row)
	}
	return export.Dataset{Headers: headers, Rows: data}
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

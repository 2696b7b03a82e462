package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/models"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

type exportService interface {
	Generate(ctx context.Context, req dto.ExportGrievancesRequest, actor *models.JWTClaims) (*dto.ExportResponse, error)
	ParseToken(token string) (exportID, relPath string, expiresAt time.Time, err error)
	Open(relPath string) (*os.File, error)
}

// ExportHandler serves grievance report generation and downloads.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc exportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Generate godoc
// @Summary Export grievances
// @Description Renders the filtered grievance list as CSV or PDF and returns a signed download link
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body dto.ExportGrievancesRequest true "Export filter"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /admin/grievances/export [post]
func (h *ExportHandler) Generate(c *gin.Context) {
	var req dto.ExportGrievancesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid export payload"))
		return
	}

	result, err := h.service.Generate(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download export
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	_, relPath, _, err := h.service.ParseToken(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.Open(relPath)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	headers := map[string]string{
		"Content-Disposition": `attachment; filename="` + filepath.Base(relPath) + `"`,
		"Cache-Control":       "no-store",
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentTypeFor(relPath), file, headers)
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}

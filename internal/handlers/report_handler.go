package handlers

import (
	"context"
	"net/http"
	"time"

	"referral-service/internal/models"
	"referral-service/internal/utils"

	"github.com/gofiber/fiber/v3"
)

const snapshotURLExpiry = 15 * time.Minute

type ReportReader interface {
	GetByID(ctx context.Context, id int64) (*models.ClinicReport, error)
	ListByStatus(ctx context.Context, status models.ClinicReportStatus, limit, offset int) ([]models.ClinicReport, error)
}

type ReportReviewer interface {
	Approve(ctx context.Context, reportID int64, req models.ApproveReportRequest) (models.ApproveReportResponse, error)
	Reject(ctx context.Context, reportID int64, req models.RejectReportRequest) (*models.ClinicReport, error)
}

type SnapshotLinker interface {
	SnapshotURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type ReportHandler struct {
	reports  ReportReader
	reviewer ReportReviewer
	linker   SnapshotLinker
}

func NewReportHandler(reports ReportReader, reviewer ReportReviewer, linker SnapshotLinker) *ReportHandler {
	return &ReportHandler{
		reports:  reports,
		reviewer: reviewer,
		linker:   linker,
	}
}

func (h *ReportHandler) Register(app *fiber.App) {
	reports := app.Group(apiPrefix + "/reports")
	reports.Get("/", h.ListReports)                    // GET /reports?status=pending_review
	reports.Get("/:id", h.GetReport)                   // GET /reports/:id
	reports.Get("/:id/snapshot-url", h.GetSnapshotURL) // GET /reports/:id/snapshot-url
	reports.Post("/:id/approve", h.ApproveReport)      // POST /reports/:id/approve
	reports.Post("/:id/reject", h.RejectReport)        // POST /reports/:id/reject
}

// ListReports is the review queue. It defaults to reports waiting for a human.
func (h *ReportHandler) ListReports(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	status := models.ClinicReportStatus(c.Query("status", string(models.ReportPendingReview)))
	switch status {
	case models.ReportPendingReview, models.ReportAutoMatched, models.ReportApproved, models.ReportRejected:
	default:
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_STATUS", "Unknown report status"))
	}
	limit := utils.ParseIntOrDefault(c.Query("limit"), 50, 1, 200)
	offset := utils.ParseIntOrDefault(c.Query("offset"), 0, 0, 1<<30)

	reports, err := h.reports.ListByStatus(c.Context(), status, limit, offset)
	if err != nil {
		return respondError(c, err, "list reports")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(reports))
}

func (h *ReportHandler) GetReport(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	report, err := h.reports.GetByID(c.Context(), id)
	if err != nil {
		return respondError(c, err, "get report")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(report))
}

// GetSnapshotURL returns a short-lived link to the raw message the report was extracted from.
func (h *ReportHandler) GetSnapshotURL(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	report, err := h.reports.GetByID(c.Context(), id)
	if err != nil {
		return respondError(c, err, "get report")
	}
	if report.RawSnapshotKey == nil || h.linker == nil {
		return c.Status(http.StatusNotFound).JSON(
			utils.CreateErrorResponse("SNAPSHOT_NOT_FOUND", "Report has no stored snapshot"))
	}

	url, err := h.linker.SnapshotURL(c.Context(), *report.RawSnapshotKey, snapshotURLExpiry)
	if err != nil {
		return respondError(c, err, "sign snapshot url")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(fiber.Map{
		"url":        url,
		"expires_at": time.Now().Add(snapshotURLExpiry),
	}))
}

func (h *ReportHandler) ApproveReport(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req models.ApproveReportRequest
	if !bindBody(c, &req) {
		return nil
	}
	req.ReviewedBy = userID

	resp, err := h.reviewer.Approve(c.Context(), id, req)
	if err != nil {
		return respondError(c, err, "approve report")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(resp))
}

func (h *ReportHandler) RejectReport(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req models.RejectReportRequest
	if !bindBody(c, &req) {
		return nil
	}
	req.ReviewedBy = userID

	report, err := h.reviewer.Reject(c.Context(), id, req)
	if err != nil {
		return respondError(c, err, "reject report")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(models.RejectReportResponse{Report: *report}))
}

package handlers

import (
	"context"
	"net/http"

	"referral-service/internal/models"
	"referral-service/internal/utils"

	"github.com/gofiber/fiber/v3"
)

// Ingester runs the clinic report pipeline.
type Ingester interface {
	IngestMessages(ctx context.Context, messages []models.SourceMessage) models.IngestionSummary
	IngestUpload(ctx context.Context, batch models.UploadBatch) (models.IngestionSummary, error)
}

type IngestionHandler struct {
	ingester Ingester
}

func NewIngestionHandler(ingester Ingester) *IngestionHandler {
	return &IngestionHandler{ingester: ingester}
}

func (h *IngestionHandler) Register(app *fiber.App) {
	ingestion := app.Group(apiPrefix + "/ingestion")
	ingestion.Post("/messages", h.IngestMessages) // POST /ingestion/messages
	ingestion.Post("/uploads", h.IngestUpload)    // POST /ingestion/uploads
}

// IngestMessages runs a batch of clinic emails through the pipeline synchronously.
func (h *IngestionHandler) IngestMessages(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	var req models.IngestMessagesRequest
	if !bindBody(c, &req) {
		return nil
	}

	summary := h.ingester.IngestMessages(c.Context(), req.Messages)
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(summary))
}

func (h *IngestionHandler) IngestUpload(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return nil
	}
	var batch models.UploadBatch
	if !bindBody(c, &batch) {
		return nil
	}
	if batch.UploadedBy == "" {
		batch.UploadedBy = userID
	}

	summary, err := h.ingester.IngestUpload(c.Context(), batch)
	if err != nil {
		return respondError(c, err, "ingest upload")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(summary))
}

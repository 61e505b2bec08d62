package handlers

import (
	"context"
	"net/http"

	"referral-service/internal/models"
	"referral-service/internal/utils"

	"github.com/gofiber/fiber/v3"
)

// ClinicRegistry manages which mailboxes report on behalf of a clinic.
type ClinicRegistry interface {
	GetClinic(ctx context.Context, clinicID int64) (*models.Clinic, error)
	AddSenderEmail(ctx context.Context, clinicID int64, address string) error
}

type ClinicHandler struct {
	clinics ClinicRegistry
}

func NewClinicHandler(clinics ClinicRegistry) *ClinicHandler {
	return &ClinicHandler{clinics: clinics}
}

func (h *ClinicHandler) Register(app *fiber.App) {
	clinics := app.Group(apiPrefix + "/clinics")
	clinics.Get("/:id", h.GetClinic)               // GET /clinics/:id
	clinics.Post("/:id/senders", h.AddSenderEmail) // POST /clinics/:id/senders
}

func (h *ClinicHandler) GetClinic(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	clinic, err := h.clinics.GetClinic(c.Context(), id)
	if err != nil {
		return respondError(c, err, "get clinic")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(clinic))
}

// AddSenderEmail registers a mailbox so that its reports resolve to the clinic with certainty.
func (h *ClinicHandler) AddSenderEmail(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req models.AddClinicSenderRequest
	if !bindBody(c, &req) {
		return nil
	}

	clinic, err := h.clinics.GetClinic(c.Context(), id)
	if err != nil {
		return respondError(c, err, "get clinic")
	}
	if err := h.clinics.AddSenderEmail(c.Context(), clinic.ID, req.Email); err != nil {
		return respondError(c, err, "add clinic sender")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(fiber.Map{
		"clinic_id": clinic.ID,
		"email":     req.Email,
	}))
}

package handlers

import (
	"context"
	"net/http"

	"referral-service/internal/models"
	"referral-service/internal/services"
	"referral-service/internal/utils"

	"github.com/gofiber/fiber/v3"
)

type ReferralReader interface {
	GetByID(ctx context.Context, id int64) (*models.Referral, error)
}

type ReferralTransitioner interface {
	Transition(ctx context.Context, referralID int64, to models.ReferralStatus) (services.ReferralTransition, error)
}

type CommissionSetter interface {
	ApplyCommissionDelta(ctx context.Context, referralID int64, newCommissionKopecks int64) (models.CommissionChange, error)
}

type ReferralHandler struct {
	referrals  ReferralReader
	status     ReferralTransitioner
	commission CommissionSetter
}

func NewReferralHandler(referrals ReferralReader, status ReferralTransitioner, commission CommissionSetter) *ReferralHandler {
	return &ReferralHandler{
		referrals:  referrals,
		status:     status,
		commission: commission,
	}
}

func (h *ReferralHandler) Register(app *fiber.App) {
	referrals := app.Group(apiPrefix + "/referrals")
	referrals.Get("/:id", h.GetReferral)                 // GET /referrals/:id
	referrals.Post("/:id/status", h.TransitionReferral)  // POST /referrals/:id/status
	referrals.Put("/:id/commission", h.UpdateCommission) // PUT /referrals/:id/commission
}

func (h *ReferralHandler) GetReferral(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	referral, err := h.referrals.GetByID(c.Context(), id)
	if err != nil {
		return respondError(c, err, "get referral")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(referral))
}

func (h *ReferralHandler) TransitionReferral(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req models.TransitionReferralRequest
	if !bindBody(c, &req) {
		return nil
	}

	result, err := h.status.Transition(c.Context(), id, req.Status)
	if err != nil {
		return respondError(c, err, "transition referral")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(result))
}

// UpdateCommission overrides a referral's commission; the agent's earnings move by the difference.
func (h *ReferralHandler) UpdateCommission(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req models.UpdateCommissionRequest
	if !bindBody(c, &req) {
		return nil
	}

	change, err := h.commission.ApplyCommissionDelta(c.Context(), id, req.CommissionAmountKopecks)
	if err != nil {
		return respondError(c, err, "update commission")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(change))
}

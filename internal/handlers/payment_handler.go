package handlers

import (
	"context"
	"net/http"

	"referral-service/internal/models"
	"referral-service/internal/utils"

	"github.com/gofiber/fiber/v3"
)

type PaymentAdvancer interface {
	AdvancePayment(ctx context.Context, paymentID int64, to models.PaymentStatus, reason string) (*models.Payment, error)
}

type PaymentHandler struct {
	payments PaymentAdvancer
}

func NewPaymentHandler(payments PaymentAdvancer) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) Register(app *fiber.App) {
	payments := app.Group(apiPrefix + "/payments")
	payments.Post("/:id/advance", h.AdvancePayment) // POST /payments/:id/advance
}

func (h *PaymentHandler) AdvancePayment(c fiber.Ctx) error {
	if _, ok := requireUser(c); !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req models.AdvancePaymentRequest
	if !bindBody(c, &req) {
		return nil
	}

	payment, err := h.payments.AdvancePayment(c.Context(), id, req.Status, req.Reason)
	if err != nil {
		return respondError(c, err, "advance payment")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(payment))
}

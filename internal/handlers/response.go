package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"referral-service/internal/repository"
	"referral-service/internal/services"
	"referral-service/internal/utils"

	"github.com/gofiber/fiber/v3"
)

const apiPrefix = "referral/protected/api/v1"

// conflictCodes are ledger rules that depend on the current state rather than on the request.
var conflictCodes = map[string]bool{
	services.ErrInsufficientFunds.Code:   true,
	services.ErrPaymentInFlight.Code:     true,
	services.ErrBonusLocked.Code:         true,
	services.ErrReportNotReviewable.Code: true,
	services.ErrInvalidTransition.Code:   true,
}

// respondError maps service errors to HTTP responses. Unknown errors are logged and hidden.
func respondError(c fiber.Ctx, err error, action string) error {
	var ledgerErr *services.LedgerError
	if errors.As(err, &ledgerErr) {
		status := http.StatusUnprocessableEntity
		if conflictCodes[ledgerErr.Code] {
			status = http.StatusConflict
		}
		return c.Status(status).JSON(
			utils.CreateErrorResponse(strings.ToUpper(ledgerErr.Code), ledgerErr.Message))
	}
	if errors.Is(err, repository.ErrNotFound) {
		return c.Status(http.StatusNotFound).JSON(
			utils.CreateErrorResponse("NOT_FOUND", "Resource not found"))
	}

	slog.Error("Request failed", "action", action, "path", c.Path(), "error", err)
	return c.Status(http.StatusInternalServerError).JSON(
		utils.CreateErrorResponse("INTERNAL_ERROR", "Service temporarily unavailable, try later"))
}

// requireUser returns the caller id set by the gateway, or writes a 401.
func requireUser(c fiber.Ctx) (string, bool) {
	userID := c.Get("X-User-ID")
	if userID == "" {
		_ = c.Status(http.StatusUnauthorized).JSON(
			utils.CreateErrorResponse("UNAUTHORIZED", "User ID is required"))
		return "", false
	}
	return userID, true
}

func pathID(c fiber.Ctx, name string) (int64, bool) {
	id, err := utils.ParseID(c.Params(name))
	if err != nil {
		_ = c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_ID", "Invalid "+name))
		return 0, false
	}
	return id, true
}

// bindBody decodes and validates the JSON body into req, writing a 400 on failure.
// An empty body leaves req zero-valued for validation.
func bindBody(c fiber.Ctx, req any) bool {
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(req); err != nil {
			_ = c.Status(http.StatusBadRequest).JSON(
				utils.CreateErrorResponse("INVALID_REQUEST", "Invalid request body"))
			return false
		}
	}
	if fieldErrs := utils.ValidateStruct(req); fieldErrs != nil {
		_ = c.Status(http.StatusBadRequest).JSON(utils.CreateValidationErrorResponse(fieldErrs))
		return false
	}
	return true
}

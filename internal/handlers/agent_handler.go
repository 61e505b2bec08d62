package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"referral-service/internal/models"
	"referral-service/internal/repository"
	"referral-service/internal/utils"

	"github.com/gofiber/fiber/v3"
)

type AgentReader interface {
	GetAgent(ctx context.Context, agentID int64) (*models.Agent, error)
	UpdateRequisites(ctx context.Context, agentID int64, update models.AgentRequisitesUpdate) (*models.Agent, error)
}

type Ledger interface {
	Balance(ctx context.Context, agentID int64) (models.BalanceSnapshot, error)
	UnlockBonus(ctx context.Context, agentID int64) (models.BonusUnlockResult, error)
	RecalculateMonthlyTier(ctx context.Context, agentID int64, month string) (models.MonthlyTierRun, error)
}

type PaymentRequester interface {
	CreatePaymentRequest(ctx context.Context, agentID int64, amountKopecks int64) (models.CreatePaymentResponse, error)
}

type AgentListings interface {
	ListReferrals(ctx context.Context, agentID int64) ([]models.Referral, error)
	ListPayments(ctx context.Context, agentID int64) ([]models.Payment, error)
}

type AgentHandler struct {
	agents   AgentReader
	ledger   Ledger
	payments PaymentRequester
	listings AgentListings
	staff    map[string]struct{}
}

// NewAgentHandler serves agent routes. Staff users may act on any agent, everyone else only on
// the agent account linked to their gateway user id.
func NewAgentHandler(agents AgentReader, ledger Ledger, payments PaymentRequester, listings AgentListings, staffUserIDs []string) *AgentHandler {
	staff := make(map[string]struct{}, len(staffUserIDs))
	for _, id := range staffUserIDs {
		staff[id] = struct{}{}
	}
	return &AgentHandler{
		agents:   agents,
		ledger:   ledger,
		payments: payments,
		listings: listings,
		staff:    staff,
	}
}

func (h *AgentHandler) Register(app *fiber.App) {
	agents := app.Group(apiPrefix + "/agents")
	agents.Get("/:id", h.GetAgent)                                  // GET /agents/:id
	agents.Put("/:id/requisites", h.UpdateRequisites)               // PUT /agents/:id/requisites
	agents.Get("/:id/balance", h.GetBalance)                        // GET /agents/:id/balance
	agents.Post("/:id/bonus/unlock", h.UnlockBonus)                 // POST /agents/:id/bonus/unlock
	agents.Post("/:id/tiers/:month/recalculate", h.RecalculateTier) // POST /agents/:id/tiers/2025-01/recalculate
	agents.Get("/:id/referrals", h.ListReferrals)                   // GET /agents/:id/referrals
	agents.Get("/:id/payments", h.ListPayments)                     // GET /agents/:id/payments
	agents.Post("/:id/payments", h.CreatePaymentRequest)            // POST /agents/:id/payments
}

func (h *AgentHandler) isStaff(userID string) bool {
	_, ok := h.staff[userID]
	return ok
}

// agentAccess resolves the :id agent and checks the caller may act on it. It writes the error
// response itself. Unknown agents look forbidden to non-staff callers.
func (h *AgentHandler) agentAccess(c fiber.Ctx) (int64, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return 0, false
	}
	id, ok := pathID(c, "id")
	if !ok {
		return 0, false
	}
	if h.isStaff(userID) {
		return id, true
	}

	agent, err := h.agents.GetAgent(c.Context(), id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		_ = respondError(c, err, "check agent owner")
		return 0, false
	}
	if agent == nil || agent.UserID == nil || *agent.UserID != userID {
		slog.Warn("Agent access denied", "agent_id", id, "user_id", userID, "path", c.Path())
		_ = forbidden(c)
		return 0, false
	}
	return id, true
}

func forbidden(c fiber.Ctx) error {
	return c.Status(http.StatusForbidden).JSON(
		utils.CreateErrorResponse("FORBIDDEN", "Not allowed to access this agent"))
}

// ============================================================================
// PROFILE
// ============================================================================

func (h *AgentHandler) GetAgent(c fiber.Ctx) error {
	id, ok := h.agentAccess(c)
	if !ok {
		return nil
	}

	agent, err := h.agents.GetAgent(c.Context(), id)
	if err != nil {
		return respondError(c, err, "get agent")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(agent))
}

func (h *AgentHandler) UpdateRequisites(c fiber.Ctx) error {
	id, ok := h.agentAccess(c)
	if !ok {
		return nil
	}
	var req models.AgentRequisitesUpdate
	if !bindBody(c, &req) {
		return nil
	}

	agent, err := h.agents.UpdateRequisites(c.Context(), id, req)
	if err != nil {
		return respondError(c, err, "update requisites")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(agent))
}

// ============================================================================
// LEDGER
// ============================================================================

func (h *AgentHandler) GetBalance(c fiber.Ctx) error {
	id, ok := h.agentAccess(c)
	if !ok {
		return nil
	}

	balance, err := h.ledger.Balance(c.Context(), id)
	if err != nil {
		return respondError(c, err, "get balance")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(balance))
}

func (h *AgentHandler) UnlockBonus(c fiber.Ctx) error {
	id, ok := h.agentAccess(c)
	if !ok {
		return nil
	}

	result, err := h.ledger.UnlockBonus(c.Context(), id)
	if err != nil {
		return respondError(c, err, "unlock bonus")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(result))
}

// RecalculateTier is a staff operation.
func (h *AgentHandler) RecalculateTier(c fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return nil
	}
	if !h.isStaff(userID) {
		return forbidden(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	run, err := h.ledger.RecalculateMonthlyTier(c.Context(), id, c.Params("month"))
	if err != nil {
		return respondError(c, err, "recalculate tier")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(run))
}

// ============================================================================
// LISTINGS AND PAYMENTS
// ============================================================================

func (h *AgentHandler) ListReferrals(c fiber.Ctx) error {
	id, ok := h.agentAccess(c)
	if !ok {
		return nil
	}

	referrals, err := h.listings.ListReferrals(c.Context(), id)
	if err != nil {
		return respondError(c, err, "list referrals")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(referrals))
}

func (h *AgentHandler) ListPayments(c fiber.Ctx) error {
	id, ok := h.agentAccess(c)
	if !ok {
		return nil
	}

	payments, err := h.listings.ListPayments(c.Context(), id)
	if err != nil {
		return respondError(c, err, "list payments")
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(payments))
}

// CreatePaymentRequest reserves part of the available balance for a payout.
func (h *AgentHandler) CreatePaymentRequest(c fiber.Ctx) error {
	id, ok := h.agentAccess(c)
	if !ok {
		return nil
	}
	var req models.CreatePaymentRequest
	if !bindBody(c, &req) {
		return nil
	}

	resp, err := h.payments.CreatePaymentRequest(c.Context(), id, req.AmountKopecks)
	if err != nil {
		return respondError(c, err, "create payment request")
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(resp))
}

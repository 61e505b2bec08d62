package services

import (
	"context"
	"errors"
	"log/slog"

	"referral-service/internal/models"
	"referral-service/internal/repository"
)

type PaymentRequestService struct {
	ledger *CommissionLedger
	notify NotificationSink
}

func NewPaymentRequestService(ledger *CommissionLedger, notify NotificationSink) *PaymentRequestService {
	return &PaymentRequestService{
		ledger: ledger,
		notify: notify,
	}
}

// CreatePaymentRequest reserves amount from the agent's available balance as a new pending payment.
// Checks run under the agent lock in this order: funds, minimum payout, in-flight payment.
func (s *PaymentRequestService) CreatePaymentRequest(ctx context.Context, agentID int64, amountKopecks int64) (models.CreatePaymentResponse, error) {
	if amountKopecks <= 0 {
		return models.CreatePaymentResponse{}, belowMinimumPayout(s.ledger.cfg.MinPayoutKopecks, amountKopecks)
	}

	var resp models.CreatePaymentResponse
	err := s.ledger.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		agent, err := tx.LockAgent(ctx, agentID)
		if err != nil {
			return err
		}

		before, err := s.ledger.snapshotTx(ctx, tx, agent)
		if err != nil {
			return err
		}
		if amountKopecks > before.AvailableKopecks {
			return insufficientFunds(before.AvailableKopecks, amountKopecks)
		}
		if amountKopecks < s.ledger.cfg.MinPayoutKopecks {
			return belowMinimumPayout(s.ledger.cfg.MinPayoutKopecks, amountKopecks)
		}
		inFlight, err := tx.CountInFlightPayments(ctx, agentID, 0)
		if err != nil {
			return err
		}
		if inFlight > 0 {
			return ErrPaymentInFlight
		}

		payment := s.newPayment(agent, amountKopecks)
		if err := tx.InsertPayment(ctx, payment); err != nil {
			if errors.Is(err, repository.ErrInFlightConflict) {
				return ErrPaymentInFlight
			}
			return err
		}

		after, err := s.ledger.snapshotTx(ctx, tx, agent)
		if err != nil {
			return err
		}
		resp = models.CreatePaymentResponse{Payment: *payment, Balance: after}
		return nil
	})
	if err != nil {
		return models.CreatePaymentResponse{}, err
	}

	s.ledger.invalidate(ctx, agentID)
	slog.Info("Payment requested",
		"agent_id", agentID,
		"payment_id", resp.Payment.ID,
		"amount", amountKopecks,
		"available_after", resp.Balance.AvailableKopecks)
	publish(ctx, s.notify, NotificationEvent{
		Type:      EventPaymentRequested,
		AgentID:   agentID,
		PaymentID: &resp.Payment.ID,
		Amount:    amountKopecks,
	})
	return resp, nil
}

// newPayment splits the amount for taxes. Self-employed agents pay their own tax;
// for everyone else personal income tax is withheld and social contributions are recorded on top.
func (s *PaymentRequestService) newPayment(agent *models.Agent, amountKopecks int64) *models.Payment {
	payment := &models.Payment{
		AgentID:                agent.ID,
		AmountKopecks:          amountKopecks,
		GrossAmountKopecks:     amountKopecks,
		NetAmountKopecks:       amountKopecks,
		Status:                 models.PaymentPending,
		IsSelfEmployedSnapshot: agent.IsSelfEmployed,
	}
	if agent.IsSelfEmployed {
		return payment
	}
	payment.TaxAmountKopecks = ApplyRate(amountKopecks, s.ledger.cfg.TaxRateBps)
	payment.NetAmountKopecks = amountKopecks - payment.TaxAmountKopecks
	payment.SocialContributionsKopecks = ApplyRate(amountKopecks, s.ledger.cfg.SocialContributionsRateBps)
	return payment
}

// AdvancePayment moves a payment one step along its lifecycle.
// Entering processing re-checks that no other payment of the agent is in flight.
func (s *PaymentRequestService) AdvancePayment(ctx context.Context, paymentID int64, to models.PaymentStatus, reason string) (*models.Payment, error) {
	var payment *models.Payment
	err := s.ledger.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		current, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if _, err := tx.LockAgent(ctx, current.AgentID); err != nil {
			return err
		}
		payment, err = tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}

		if !payment.Status.CanTransitionTo(to) {
			return invalidTransition("payment", payment.Status, to)
		}
		if to == models.PaymentProcessing {
			inFlight, err := tx.CountInFlightPayments(ctx, payment.AgentID, payment.ID)
			if err != nil {
				return err
			}
			if inFlight > 0 {
				return ErrPaymentInFlight
			}
		}

		payment.Status = to
		switch to {
		case models.PaymentCompleted:
			completedAt := s.ledger.now()
			payment.CompletedAt = &completedAt
		case models.PaymentFailed:
			if reason != "" {
				payment.FailureReason = &reason
			}
		}

		if err := tx.UpdatePaymentStatus(ctx, payment); err != nil {
			if errors.Is(err, repository.ErrInFlightConflict) {
				return ErrPaymentInFlight
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ledger.invalidate(ctx, payment.AgentID)
	slog.Info("Payment advanced", "payment_id", paymentID, "agent_id", payment.AgentID, "status", to)
	if to.IsTerminal() {
		publish(ctx, s.notify, NotificationEvent{
			Type:      EventPaymentFinished,
			AgentID:   payment.AgentID,
			PaymentID: &payment.ID,
			Amount:    payment.AmountKopecks,
			Status:    string(to),
		})
	}
	return payment, nil
}

package services

import (
	"context"
	"log/slog"
	"time"

	"referral-service/internal/models"
	"referral-service/internal/repository"
)

// ReportReviewService applies an admin's decision on a clinic report.
type ReportReviewService struct {
	ledger *CommissionLedger
	notify NotificationSink
}

func NewReportReviewService(ledger *CommissionLedger, notify NotificationSink) *ReportReviewService {
	return &ReportReviewService{
		ledger: ledger,
		notify: notify,
	}
}

// Approve confirms the visit: the referral gets the treatment amount and becomes visited, the
// treatment month is re-tiered and the report is marked approved, all in one transaction.
func (s *ReportReviewService) Approve(ctx context.Context, reportID int64, req models.ApproveReportRequest) (models.ApproveReportResponse, error) {
	var (
		resp    models.ApproveReportResponse
		agentID int64
	)
	err := s.ledger.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		report, err := tx.GetReportForUpdate(ctx, reportID)
		if err != nil {
			return err
		}
		if !report.Status.IsReviewable() {
			return ErrReportNotReviewable
		}

		referralID := report.ReferralID
		if req.ReferralID != nil {
			referralID = req.ReferralID
		}
		if referralID == nil {
			return ErrReportUnlinked
		}
		amount := report.TreatmentAmountKopecks
		if req.TreatmentAmountKopecks != nil {
			amount = req.TreatmentAmountKopecks
		}
		if amount == nil {
			return ErrReportNoAmount
		}

		unlocked, err := tx.GetReferral(ctx, *referralID)
		if err != nil {
			return err
		}
		agent, err := tx.LockAgent(ctx, unlocked.AgentID)
		if err != nil {
			return err
		}
		agentID = agent.ID
		referral, err := tx.LockReferral(ctx, *referralID)
		if err != nil {
			return err
		}

		if referral.Status != models.ReferralVisited && referral.Status != models.ReferralPaid {
			if !referral.Status.CanTransitionTo(models.ReferralVisited) {
				return invalidTransition("referral", referral.Status, models.ReferralVisited)
			}
			if err := tx.ApplyReferralMutation(ctx, referral.ID, models.ReferralStatusUpdate{Status: models.ReferralVisited}); err != nil {
				return err
			}
		}

		month := treatmentMonth(report)
		if err := tx.ApplyReferralMutation(ctx, referral.ID, models.ReferralAmountUpdate{
			TreatmentAmountKopecks: *amount,
			TreatmentMonth:         month,
		}); err != nil {
			return err
		}

		// the referral left its previous month, which has to be re-tiered without it
		if referral.TreatmentMonth != nil && *referral.TreatmentMonth != month {
			if _, err := s.ledger.recalculateTierTx(ctx, tx, agent, *referral.TreatmentMonth); err != nil {
				return err
			}
		}
		run, err := s.ledger.recalculateTierTx(ctx, tx, agent, month)
		if err != nil {
			return err
		}

		report.ReferralID = referralID
		report.TreatmentAmountKopecks = amount
		report.Status = models.ReportApproved
		report.ReviewedBy = optionalString(req.ReviewedBy)
		report.ReviewNotes = optionalString(req.Notes)
		if err := tx.UpdateReportReview(ctx, report); err != nil {
			return err
		}

		resp = models.ApproveReportResponse{Report: *report, Tier: run}
		return nil
	})
	if err != nil {
		return models.ApproveReportResponse{}, err
	}

	s.ledger.invalidate(ctx, agentID)
	slog.Info("Clinic report approved",
		"report_id", reportID,
		"referral_id", resp.Report.ReferralID,
		"agent_id", agentID,
		"reviewed_by", req.ReviewedBy,
		"total_delta", resp.Tier.TotalDeltaKopecks)
	publish(ctx, s.notify, NotificationEvent{
		Type:       EventReportApproved,
		AgentID:    agentID,
		ReferralID: resp.Report.ReferralID,
		ReportID:   &resp.Report.ID,
		Amount:     resp.Tier.TotalDeltaKopecks,
		Status:     string(models.ReportApproved),
	})
	return resp, nil
}

// Reject closes the report without touching any referral or earnings.
func (s *ReportReviewService) Reject(ctx context.Context, reportID int64, req models.RejectReportRequest) (*models.ClinicReport, error) {
	var report *models.ClinicReport
	err := s.ledger.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		report, err = tx.GetReportForUpdate(ctx, reportID)
		if err != nil {
			return err
		}
		if !report.Status.IsReviewable() {
			return ErrReportNotReviewable
		}
		report.Status = models.ReportRejected
		report.ReviewedBy = optionalString(req.ReviewedBy)
		report.ReviewNotes = optionalString(req.Notes)
		return tx.UpdateReportReview(ctx, report)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Clinic report rejected", "report_id", reportID, "reviewed_by", req.ReviewedBy)
	publish(ctx, s.notify, NotificationEvent{
		Type:       EventReportRejected,
		ReferralID: report.ReferralID,
		ReportID:   &report.ID,
		Status:     string(models.ReportRejected),
	})
	return report, nil
}

// treatmentMonth is the month of the visit, or of the report when the visit date is unknown.
func treatmentMonth(report *models.ClinicReport) string {
	if report.VisitDate != nil {
		if visit, err := time.Parse("2006-01-02", *report.VisitDate); err == nil {
			return visit.Format("2006-01")
		}
	}
	return report.CreatedAt.UTC().Format("2006-01")
}

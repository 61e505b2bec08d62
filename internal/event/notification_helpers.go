package event

import (
	"fmt"
	"strconv"

	"referral-service/internal/services"

	"github.com/shopspring/decimal"
)

const adminAudience = "admin"

// pushModelFor renders a ledger or review event as a push notification.
// Events without an agent go to the admin audience.
func pushModelFor(event services.NotificationEvent) NotificationEventPushModel {
	model := NotificationEventPushModel{
		Data: map[string]any{
			"type":        string(event.Type),
			"occurred_at": event.OccurredAt,
		},
	}
	if event.AgentID > 0 {
		model.LstUserIds = []string{strconv.FormatInt(event.AgentID, 10)}
	} else {
		model.Data["audience"] = adminAudience
	}
	if event.ReferralID != nil {
		model.Data["referral_id"] = *event.ReferralID
	}
	if event.ReportID != nil {
		model.Data["report_id"] = *event.ReportID
	}
	if event.PaymentID != nil {
		model.Data["payment_id"] = *event.PaymentID
	}
	if event.Amount != 0 {
		model.Data["amount_kopecks"] = event.Amount
	}
	if event.Status != "" {
		model.Data["status"] = event.Status
	}

	switch event.Type {
	case services.EventReportAutoMatched:
		model.Title = "Clinic report matched"
		model.Body = fmt.Sprintf("A clinic report was matched to referral #%d and waits for confirmation.", deref(event.ReferralID))
	case services.EventReportNeedsReview:
		model.Title = "Clinic report needs review"
		model.Body = fmt.Sprintf("Clinic report #%d could not be matched automatically.", deref(event.ReportID))
	case services.EventReportApproved:
		model.Title = "Visit confirmed"
		model.Body = fmt.Sprintf("The clinic confirmed the visit of referral #%d. Earnings changed by %s.",
			deref(event.ReferralID), rubles(event.Amount))
	case services.EventReportRejected:
		model.Title = "Clinic report rejected"
		model.Body = fmt.Sprintf("Clinic report #%d was rejected by a reviewer.", deref(event.ReportID))
	case services.EventPaymentRequested:
		model.Title = "Payment requested"
		model.Body = fmt.Sprintf("Your payment request for %s was accepted.", rubles(event.Amount))
	case services.EventPaymentFinished:
		if event.Status == "completed" {
			model.Title = "Payment completed"
			model.Body = fmt.Sprintf("%s was paid out.", rubles(event.Amount))
		} else {
			model.Title = "Payment failed"
			model.Body = fmt.Sprintf("The payout of %s failed, the amount is available again.", rubles(event.Amount))
		}
	case services.EventBonusUnlocked:
		model.Title = "Bonus unlocked"
		model.Body = fmt.Sprintf("%s of bonus were added to your earnings.", rubles(event.Amount))
	default:
		model.Title = "Referral service update"
		model.Body = string(event.Type)
	}
	return model
}

func rubles(kopecks int64) string {
	return decimal.New(kopecks, -2).StringFixed(2) + " RUB"
}

func deref(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

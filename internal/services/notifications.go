package services

import (
	"context"
	"log/slog"
	"time"
)

type NotificationEventType string

const (
	EventReportAutoMatched NotificationEventType = "clinic_report.auto_matched"
	EventReportNeedsReview NotificationEventType = "clinic_report.needs_review"
	EventReportApproved    NotificationEventType = "clinic_report.approved"
	EventReportRejected    NotificationEventType = "clinic_report.rejected"
	EventPaymentRequested  NotificationEventType = "payment.requested"
	EventPaymentFinished   NotificationEventType = "payment.finished"
	EventBonusUnlocked     NotificationEventType = "bonus.unlocked"
)

// NotificationEvent tells agents and admins that something changed.
// AgentID is zero when the event is addressed to admins only.
type NotificationEvent struct {
	Type       NotificationEventType `json:"type"`
	AgentID    int64                 `json:"agent_id,omitempty"`
	ReferralID *int64                `json:"referral_id,omitempty"`
	ReportID   *int64                `json:"report_id,omitempty"`
	PaymentID  *int64                `json:"payment_id,omitempty"`
	Amount     int64                 `json:"amount_kopecks,omitempty"`
	Status     string                `json:"status,omitempty"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// NotificationSink delivers events after the transaction that caused them committed.
// Callers log failures and carry on.
type NotificationSink interface {
	Notify(ctx context.Context, event NotificationEvent) error
}

func publish(ctx context.Context, sink NotificationSink, event NotificationEvent) {
	if sink == nil {
		return
	}
	event.OccurredAt = time.Now()
	if err := sink.Notify(ctx, event); err != nil {
		slog.Warn("Failed to publish notification", "type", event.Type, "agent_id", event.AgentID, "error", err)
	}
}

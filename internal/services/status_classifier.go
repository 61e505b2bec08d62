package services

import "referral-service/internal/models"

type StatusClassifier struct {
	threshold int
}

func NewStatusClassifier(threshold int) *StatusClassifier {
	return &StatusClassifier{threshold: threshold}
}

// Classify decides the initial status of a freshly ingested report.
// Approval and rejection only happen through review.
func (c *StatusClassifier) Classify(result models.MatchResult) models.ClinicReportStatus {
	if result.ReferralID == nil || result.Ambiguous {
		return models.ReportPendingReview
	}
	if result.MatchConfidence >= c.threshold {
		return models.ReportAutoMatched
	}
	return models.ReportPendingReview
}

package models

type ReferralStatus string

const (
	ReferralNew        ReferralStatus = "new"
	ReferralInProgress ReferralStatus = "in_progress"
	ReferralContacted  ReferralStatus = "contacted"
	ReferralScheduled  ReferralStatus = "scheduled"
	ReferralVisited    ReferralStatus = "visited"
	ReferralPaid       ReferralStatus = "paid"
	ReferralDuplicate  ReferralStatus = "duplicate"
	ReferralNoAnswer   ReferralStatus = "no_answer"
	ReferralCancelled  ReferralStatus = "cancelled"
)

// referralForward is the main path of the referral lifecycle.
var referralForward = map[ReferralStatus]ReferralStatus{
	ReferralNew:        ReferralInProgress,
	ReferralInProgress: ReferralContacted,
	ReferralContacted:  ReferralScheduled,
	ReferralScheduled:  ReferralVisited,
	ReferralVisited:    ReferralPaid,
}

// IsPreVisit reports whether the referral has not reached a visit yet.
func (s ReferralStatus) IsPreVisit() bool {
	switch s {
	case ReferralNew, ReferralInProgress, ReferralContacted, ReferralScheduled, ReferralNoAnswer:
		return true
	}
	return false
}

// IsOpenForMatching reports whether clinic reports may still be matched to the referral.
func (s ReferralStatus) IsOpenForMatching() bool {
	switch s {
	case ReferralVisited, ReferralPaid, ReferralCancelled, ReferralDuplicate:
		return false
	}
	return true
}

// CanTransitionTo validates a referral status change.
// Side exits (duplicate, no_answer, cancelled) are allowed from any pre-visit state.
// A no_answer referral may be picked up again.
func (s ReferralStatus) CanTransitionTo(next ReferralStatus) bool {
	if s == next {
		return false
	}
	switch next {
	case ReferralDuplicate, ReferralNoAnswer, ReferralCancelled:
		return s.IsPreVisit()
	}
	if s == ReferralNoAnswer {
		return next == ReferralInProgress || next == ReferralContacted || next == ReferralScheduled
	}
	// reports can confirm a visit before the agent moved the referral all the way to scheduled
	if next == ReferralVisited {
		return s.IsPreVisit()
	}
	return referralForward[s] == next
}

type ClinicReportStatus string

const (
	ReportPendingReview ClinicReportStatus = "pending_review"
	ReportAutoMatched   ClinicReportStatus = "auto_matched"
	ReportApproved      ClinicReportStatus = "approved"
	ReportRejected      ClinicReportStatus = "rejected"
)

// IsReviewable reports whether a human can still approve or reject the report.
func (s ClinicReportStatus) IsReviewable() bool {
	return s == ReportPendingReview || s == ReportAutoMatched
}

type ReportSourceKind string

const (
	SourceEmail  ReportSourceKind = "email"
	SourceUpload ReportSourceKind = "upload"
)

type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "pending"
	PaymentActGenerated    PaymentStatus = "act_generated"
	PaymentSentForSigning  PaymentStatus = "sent_for_signing"
	PaymentSigned          PaymentStatus = "signed"
	PaymentReadyForPayment PaymentStatus = "ready_for_payment"
	PaymentProcessing      PaymentStatus = "processing"
	PaymentCompleted       PaymentStatus = "completed"
	PaymentFailed          PaymentStatus = "failed"
)

var paymentNext = map[PaymentStatus][]PaymentStatus{
	PaymentPending:         {PaymentActGenerated},
	PaymentActGenerated:    {PaymentSentForSigning},
	PaymentSentForSigning:  {PaymentSigned},
	PaymentSigned:          {PaymentReadyForPayment},
	PaymentReadyForPayment: {PaymentProcessing},
	PaymentProcessing:      {PaymentCompleted, PaymentFailed},
}

// NonTerminalPaymentStatuses are counted as reserved money in the balance.
var NonTerminalPaymentStatuses = []PaymentStatus{
	PaymentPending,
	PaymentActGenerated,
	PaymentSentForSigning,
	PaymentSigned,
	PaymentReadyForPayment,
	PaymentProcessing,
}

// InFlightPaymentStatuses may hold at most one payment per agent.
var InFlightPaymentStatuses = []PaymentStatus{PaymentPending, PaymentProcessing}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

func (s PaymentStatus) IsInFlight() bool {
	return s == PaymentPending || s == PaymentProcessing
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, candidate := range paymentNext[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

package models

type CreatePaymentRequest struct {
	AmountKopecks int64 `json:"amount_kopecks" validate:"required,gt=0"`
}

type CreatePaymentResponse struct {
	Payment Payment         `json:"payment"`
	Balance BalanceSnapshot `json:"balance"`
}

type AdvancePaymentRequest struct {
	Status PaymentStatus `json:"status" validate:"required,oneof=act_generated sent_for_signing signed ready_for_payment processing completed failed"`
	Reason string        `json:"reason" validate:"max=500"`
}

type UpdateCommissionRequest struct {
	CommissionAmountKopecks int64 `json:"commission_amount_kopecks" validate:"gte=0"`
}

type CommissionChange struct {
	ReferralID    int64 `json:"referral_id"`
	AgentID       int64 `json:"agent_id"`
	OldCommission int64 `json:"old_commission_kopecks"`
	NewCommission int64 `json:"new_commission_kopecks"`
	DeltaKopecks  int64 `json:"delta_kopecks"`
}

type TransitionReferralRequest struct {
	Status ReferralStatus `json:"status" validate:"required,oneof=new in_progress contacted scheduled visited paid duplicate no_answer cancelled"`
}

type ApproveReportRequest struct {
	// ReferralID overrides the matcher's suggestion when the reviewer linked another referral.
	ReferralID *int64 `json:"referral_id" validate:"omitempty,gt=0"`
	// TreatmentAmountKopecks overrides the extracted amount.
	TreatmentAmountKopecks *int64 `json:"treatment_amount_kopecks" validate:"omitempty,gte=0"`
	ReviewedBy             string `json:"-"`
	Notes                  string `json:"notes" validate:"max=1000"`
}

type RejectReportRequest struct {
	ReviewedBy string `json:"-"`
	Notes      string `json:"notes" validate:"max=1000"`
}

type ApproveReportResponse struct {
	Report ClinicReport   `json:"report"`
	Tier   MonthlyTierRun `json:"tier"`
}

// MonthlyTierRun is the outcome of a tier recalculation for one agent and month.
type MonthlyTierRun struct {
	AgentID           int64              `json:"agent_id"`
	TreatmentMonth    string             `json:"treatment_month"`
	RevenueKopecks    int64              `json:"revenue_kopecks"`
	RateBps           int64              `json:"rate_bps"`
	Premium           bool               `json:"premium"`
	Changes           []CommissionChange `json:"changes"`
	TotalDeltaKopecks int64              `json:"total_delta_kopecks"`
}

type BonusUnlockResult struct {
	AgentID              int64 `json:"agent_id"`
	TransferredKopecks   int64 `json:"transferred_kopecks"`
	PaidReferrals        int   `json:"paid_referrals"`
	TotalEarningsKopecks int64 `json:"total_earnings_kopecks"`
}

type IngestMessagesRequest struct {
	Messages []SourceMessage `json:"messages" validate:"required,min=1,dive"`
}

type RejectReportResponse struct {
	Report ClinicReport `json:"report"`
}

// AddClinicSenderRequest maps a reporting mailbox to a clinic.
type AddClinicSenderRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

package models

// ReferralMutation is one kind of change to a stored referral.
// Each implementation carries exactly the columns it may touch.
type ReferralMutation interface {
	isReferralMutation()
}

type ReferralStatusUpdate struct {
	Status ReferralStatus
}

// ReferralAmountUpdate records the treatment confirmed by a clinic report.
// Commission is never part of it; the ledger derives and applies it.
type ReferralAmountUpdate struct {
	TreatmentAmountKopecks int64
	TreatmentMonth         string
}

func (ReferralStatusUpdate) isReferralMutation() {}
func (ReferralAmountUpdate) isReferralMutation() {}

// AgentRequisitesUpdate changes the payout details of an agent.
type AgentRequisitesUpdate struct {
	BankName       string `json:"bank_name" validate:"required,max=255"`
	BankAccount    string `json:"bank_account" validate:"required,numeric,len=20"`
	BankBIC        string `json:"bank_bic" validate:"required,numeric,len=9"`
	IsSelfEmployed bool   `json:"is_self_employed"`
}

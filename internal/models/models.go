package models

import (
	"time"

	"github.com/lib/pq"
)

type Agent struct {
	ID                   int64         `json:"id" db:"id"`
	UserID               *string       `json:"user_id,omitempty" db:"user_id"`
	FullName             string        `json:"full_name" db:"full_name"`
	Phone                *string       `json:"phone,omitempty" db:"phone"`
	Email                *string       `json:"email,omitempty" db:"email"`
	TotalEarningsKopecks int64         `json:"total_earnings_kopecks" db:"total_earnings_kopecks"`
	BonusPointsKopecks   int64         `json:"bonus_points_kopecks" db:"bonus_points_kopecks"`
	ExcludedClinicIDs    pq.Int64Array `json:"excluded_clinic_ids" db:"excluded_clinic_ids"`
	IsSelfEmployed       bool          `json:"is_self_employed" db:"is_self_employed"`
	BankName             *string       `json:"bank_name,omitempty" db:"bank_name"`
	BankAccount          *string       `json:"bank_account,omitempty" db:"bank_account"`
	BankBIC              *string       `json:"bank_bic,omitempty" db:"bank_bic"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`
}

// ExcludesClinic reports whether referrals to the clinic earn the agent nothing.
func (a *Agent) ExcludesClinic(clinicID *int64) bool {
	if clinicID == nil {
		return false
	}
	for _, id := range a.ExcludedClinicIDs {
		if id == *clinicID {
			return true
		}
	}
	return false
}

type Referral struct {
	ID                      int64          `json:"id" db:"id"`
	AgentID                 int64          `json:"agent_id" db:"agent_id"`
	PatientFullName         string         `json:"patient_full_name" db:"patient_full_name"`
	PatientBirthDate        *string        `json:"patient_birth_date,omitempty" db:"patient_birth_date"`
	ClinicID                *int64         `json:"clinic_id,omitempty" db:"clinic_id"`
	ClinicName              *string        `json:"clinic_name,omitempty" db:"clinic_name"`
	ScheduledVisitDate      *string        `json:"scheduled_visit_date,omitempty" db:"scheduled_visit_date"`
	Status                  ReferralStatus `json:"status" db:"status"`
	TreatmentAmountKopecks  int64          `json:"treatment_amount_kopecks" db:"treatment_amount_kopecks"`
	CommissionAmountKopecks int64          `json:"commission_amount_kopecks" db:"commission_amount_kopecks"`
	TreatmentMonth          *string        `json:"treatment_month,omitempty" db:"treatment_month"`
	CreatedAt               time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at" db:"updated_at"`
}

type Clinic struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type ClinicReport struct {
	ID                     int64              `json:"id" db:"id"`
	ReferralID             *int64             `json:"referral_id,omitempty" db:"referral_id"`
	ClinicID               *int64             `json:"clinic_id,omitempty" db:"clinic_id"`
	EmailMessageID         string             `json:"email_message_id" db:"email_message_id"`
	SourceKind             ReportSourceKind   `json:"source_kind" db:"source_kind"`
	SenderEmail            *string            `json:"sender_email,omitempty" db:"sender_email"`
	Subject                *string            `json:"subject,omitempty" db:"subject"`
	PatientName            *string            `json:"patient_name,omitempty" db:"patient_name"`
	PatientBirthDate       *string            `json:"patient_birth_date,omitempty" db:"patient_birth_date"`
	VisitDate              *string            `json:"visit_date,omitempty" db:"visit_date"`
	TreatmentAmountKopecks *int64             `json:"treatment_amount_kopecks,omitempty" db:"treatment_amount_kopecks"`
	Services               pq.StringArray     `json:"services" db:"services"`
	ClinicNameHint         *string            `json:"clinic_name_hint,omitempty" db:"clinic_name_hint"`
	AIConfidence           int                `json:"ai_confidence" db:"ai_confidence"`
	MatchConfidence        int                `json:"match_confidence" db:"match_confidence"`
	Status                 ClinicReportStatus `json:"status" db:"status"`
	RawSnapshotKey         *string            `json:"raw_snapshot_key,omitempty" db:"raw_snapshot_key"`
	SourceReportCount      int                `json:"source_report_count" db:"source_report_count"`
	ReviewedBy             *string            `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewNotes            *string            `json:"review_notes,omitempty" db:"review_notes"`
	CreatedAt              time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at" db:"updated_at"`
}

type Payment struct {
	ID                         int64         `json:"id" db:"id"`
	AgentID                    int64         `json:"agent_id" db:"agent_id"`
	AmountKopecks              int64         `json:"amount_kopecks" db:"amount_kopecks"`
	GrossAmountKopecks         int64         `json:"gross_amount_kopecks" db:"gross_amount_kopecks"`
	NetAmountKopecks           int64         `json:"net_amount_kopecks" db:"net_amount_kopecks"`
	TaxAmountKopecks           int64         `json:"tax_amount_kopecks" db:"tax_amount_kopecks"`
	SocialContributionsKopecks int64         `json:"social_contributions_kopecks" db:"social_contributions_kopecks"`
	Status                     PaymentStatus `json:"status" db:"status"`
	IsSelfEmployedSnapshot     bool          `json:"is_self_employed_snapshot" db:"is_self_employed_snapshot"`
	FailureReason              *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt                  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt                  time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt                *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// PaymentSums aggregates an agent's payments for balance computation.
type PaymentSums struct {
	CompletedKopecks int64 `json:"completed_kopecks" db:"completed_kopecks"`
	PendingKopecks   int64 `json:"pending_kopecks" db:"pending_kopecks"`
}

// BalanceSnapshot is the derived view of an agent's money at one point in time.
type BalanceSnapshot struct {
	AgentID              int64     `json:"agent_id"`
	TotalEarningsKopecks int64     `json:"total_earnings_kopecks"`
	CompletedKopecks     int64     `json:"completed_kopecks"`
	PendingKopecks       int64     `json:"pending_kopecks"`
	AvailableKopecks     int64     `json:"available_kopecks"`
	BonusPointsKopecks   int64     `json:"bonus_points_kopecks"`
	ComputedAt           time.Time `json:"computed_at"`
}

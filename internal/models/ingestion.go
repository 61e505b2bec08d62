package models

// RawCandidate is one patient entry as returned by an extractor, before any validation.
type RawCandidate map[string]any

// VisitCandidate is the normalized output of the extraction step.
type VisitCandidate struct {
	PatientName            *string  `json:"patient_name"`
	PatientBirthDate       *string  `json:"patient_birth_date"`
	VisitDate              *string  `json:"visit_date"`
	TreatmentAmountKopecks *int64   `json:"treatment_amount_kopecks"`
	Services               []string `json:"services"`
	ClinicNameHint         *string  `json:"clinic_name_hint"`
	Confidence             int      `json:"confidence"`
}

// Attachment is a file delivered together with a clinic message.
type Attachment struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// SourceMessage is one clinic email as handed over by the mailbox poller.
type SourceMessage struct {
	MessageID   string       `json:"message_id" validate:"required"`
	SenderEmail string       `json:"sender_email" validate:"max=320"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// UploadBatch is a spreadsheet already parsed into rows by the uploader.
type UploadBatch struct {
	UploadID   string         `json:"upload_id"`
	UploadedBy string         `json:"uploaded_by"`
	ClinicID   *int64         `json:"clinic_id,omitempty"`
	Rows       []RawCandidate `json:"rows" validate:"required,min=1"`
}

// MatchResult is what the referral matcher decided for one candidate.
type MatchResult struct {
	ReferralID      *int64 `json:"referral_id"`
	ClinicID        *int64 `json:"clinic_id"`
	ClinicName      string `json:"clinic_name,omitempty"`
	MatchConfidence int    `json:"match_confidence"`
	ClinicCertain   bool   `json:"clinic_certain"`
	Ambiguous       bool   `json:"ambiguous"`
}

// IngestionSummary counts what happened to every item of one ingestion run.
type IngestionSummary struct {
	Processed   int `json:"processed"`
	Created     int `json:"created"`
	Skipped     int `json:"skipped"`
	AutoMatched int `json:"auto_matched"`
	Errors      int `json:"errors"`
}

func (s *IngestionSummary) Add(other IngestionSummary) {
	s.Processed += other.Processed
	s.Created += other.Created
	s.Skipped += other.Skipped
	s.AutoMatched += other.AutoMatched
	s.Errors += other.Errors
}

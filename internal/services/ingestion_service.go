package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"referral-service/internal/models"
	"referral-service/internal/repository"

	"github.com/google/uuid"
)

// Extractor turns one clinic message into raw patient entries. Its output is untrusted.
type Extractor interface {
	Extract(ctx context.Context, message models.SourceMessage) ([]models.RawCandidate, error)
}

// ReportStore persists clinic reports. Create returns repository.ErrDuplicateReport when the key is taken.
type ReportStore interface {
	ReportKeyStore
	Create(ctx context.Context, report *models.ClinicReport) error
}

// SnapshotStore keeps the raw source of a report. It returns the object key.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, key string, contentType string, body []byte) (string, error)
}

// ClinicLookup resolves the clinic an upload was declared for.
type ClinicLookup interface {
	GetClinic(ctx context.Context, clinicID int64) (*models.Clinic, error)
}

type IngestionService struct {
	extractor  Extractor
	reports    ReportStore
	dedup      *Deduplicator
	matcher    *ReferralMatcher
	classifier *StatusClassifier
	inspector  *AttachmentInspector
	snapshots  SnapshotStore
	clinics    ClinicLookup
	notify     NotificationSink
}

// NewIngestionService wires the pipeline. inspector, snapshots and notify may be nil.
func NewIngestionService(
	extractor Extractor,
	reports ReportStore,
	matcher *ReferralMatcher,
	classifier *StatusClassifier,
	inspector *AttachmentInspector,
	snapshots SnapshotStore,
	clinics ClinicLookup,
	notify NotificationSink,
) *IngestionService {
	return &IngestionService{
		extractor:  extractor,
		reports:    reports,
		dedup:      NewDeduplicator(reports),
		matcher:    matcher,
		classifier: classifier,
		inspector:  inspector,
		snapshots:  snapshots,
		clinics:    clinics,
		notify:     notify,
	}
}

// reportSource is what every report of one message or upload shares.
type reportSource struct {
	id          string
	kind        models.ReportSourceKind
	senderEmail string
	subject     string
	snapshotKey *string
	// resuming is set when an earlier run stored only part of the source's reports.
	resuming bool
}

// IngestMessages processes the messages one after another; a failing message never stops the batch.
func (s *IngestionService) IngestMessages(ctx context.Context, messages []models.SourceMessage) models.IngestionSummary {
	var summary models.IngestionSummary
	for _, message := range messages {
		summary.Add(s.IngestMessage(ctx, message))
	}
	slog.Info("Clinic message batch ingested",
		"messages", len(messages),
		"processed", summary.Processed,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"auto_matched", summary.AutoMatched,
		"errors", summary.Errors)
	return summary
}

// IngestMessage extracts, matches and persists every patient of one clinic message.
// Re-ingesting a message that already produced reports is a no-op.
func (s *IngestionService) IngestMessage(ctx context.Context, message models.SourceMessage) models.IngestionSummary {
	var summary models.IngestionSummary
	if strings.TrimSpace(message.MessageID) == "" {
		slog.Error("Clinic message without id rejected", "sender", message.SenderEmail)
		summary.Processed++
		summary.Errors++
		return summary
	}

	state, err := s.dedup.Source(ctx, message.MessageID)
	if err != nil {
		slog.Error("Failed to check clinic message", "message_id", message.MessageID, "error", err)
		summary.Processed++
		summary.Errors++
		return summary
	}
	if state.Complete() {
		slog.Info("Clinic message already ingested", "message_id", message.MessageID)
		summary.Processed++
		summary.Skipped++
		return summary
	}

	source := reportSource{
		id:          message.MessageID,
		kind:        models.SourceEmail,
		senderEmail: senderAddress(message.SenderEmail),
		subject:     message.Subject,
		resuming:    state.Partial(),
	}
	if source.resuming {
		slog.Info("Resuming partially ingested clinic message",
			"message_id", message.MessageID,
			"stored", state.Stored,
			"expected", state.Expected)
	}
	source.snapshotKey = s.snapshot(ctx, source, map[string]any{
		"message_id":   message.MessageID,
		"sender_email": message.SenderEmail,
		"subject":      message.Subject,
		"body":         message.Body,
		"attachments":  attachmentNames(message.Attachments),
	})

	if s.inspector != nil {
		message.Attachments = s.inspector.Filter(message.MessageID, message.Attachments)
	}

	raws, err := s.extractor.Extract(ctx, message)
	if err != nil {
		slog.Warn("Extraction failed, keeping the message for manual review",
			"message_id", message.MessageID,
			"error", err)
		raws = nil
	}

	return s.ingestCandidates(ctx, source, NormalizeExtraction(raws))
}

// IngestUpload persists the rows of an already parsed spreadsheet.
func (s *IngestionService) IngestUpload(ctx context.Context, batch models.UploadBatch) (models.IngestionSummary, error) {
	if batch.UploadID == "" {
		batch.UploadID = "upload-" + uuid.NewString()
	}

	state, err := s.dedup.Source(ctx, batch.UploadID)
	if err != nil {
		return models.IngestionSummary{}, err
	}
	if state.Complete() {
		slog.Info("Upload already ingested", "upload_id", batch.UploadID)
		return models.IngestionSummary{Processed: len(batch.Rows), Skipped: len(batch.Rows)}, nil
	}

	var clinicName *string
	if batch.ClinicID != nil && s.clinics != nil {
		clinic, err := s.clinics.GetClinic(ctx, *batch.ClinicID)
		if err != nil {
			return models.IngestionSummary{}, fmt.Errorf("failed to resolve upload clinic: %w", err)
		}
		clinicName = &clinic.Name
	}

	source := reportSource{
		id:       batch.UploadID,
		kind:     models.SourceUpload,
		subject:  "upload by " + batch.UploadedBy,
		resuming: state.Partial(),
	}
	source.snapshotKey = s.snapshot(ctx, source, batch)

	candidates := NormalizeExtraction(batch.Rows)
	if clinicName != nil {
		for i := range candidates {
			candidates[i].ClinicNameHint = clinicName
		}
	}

	summary := s.ingestCandidates(ctx, source, candidates)
	slog.Info("Upload ingested",
		"upload_id", batch.UploadID,
		"uploaded_by", batch.UploadedBy,
		"rows", len(batch.Rows),
		"created", summary.Created,
		"skipped", summary.Skipped,
		"errors", summary.Errors)
	return summary, nil
}

// ingestCandidates stores one report per candidate. A source without candidates still leaves
// a shell report behind so a human can look at it.
func (s *IngestionService) ingestCandidates(ctx context.Context, source reportSource, candidates []models.VisitCandidate) models.IngestionSummary {
	var summary models.IngestionSummary
	if len(candidates) == 0 {
		if source.resuming {
			// the stored reports are already there for review; the source stays incomplete
			slog.Warn("Nothing extracted while resuming a source", "source_id", source.id)
			summary.Processed++
			summary.Errors++
			return summary
		}
		s.ingestCandidate(ctx, source, source.id, models.VisitCandidate{Services: []string{}}, true, 1, &summary)
		return summary
	}
	for i, candidate := range candidates {
		key := IdempotencyKey(source.id, i, len(candidates))
		s.ingestCandidate(ctx, source, key, candidate, false, len(candidates), &summary)
	}
	return summary
}

func (s *IngestionService) ingestCandidate(ctx context.Context, source reportSource, key string, candidate models.VisitCandidate, shell bool, total int, summary *models.IngestionSummary) {
	summary.Processed++

	duplicate, err := s.dedup.IsDuplicate(ctx, key)
	if err != nil {
		slog.Error("Failed to check report key", "key", key, "error", err)
		summary.Errors++
		return
	}
	if duplicate {
		summary.Skipped++
		return
	}

	report := &models.ClinicReport{
		EmailMessageID:         key,
		SourceKind:             source.kind,
		SenderEmail:            optionalString(source.senderEmail),
		Subject:                optionalString(source.subject),
		PatientName:            candidate.PatientName,
		PatientBirthDate:       candidate.PatientBirthDate,
		VisitDate:              candidate.VisitDate,
		TreatmentAmountKopecks: candidate.TreatmentAmountKopecks,
		Services:               candidate.Services,
		ClinicNameHint:         candidate.ClinicNameHint,
		AIConfidence:           candidate.Confidence,
		Status:                 models.ReportPendingReview,
		RawSnapshotKey:         source.snapshotKey,
		SourceReportCount:      total,
	}

	if !shell {
		match, err := s.matcher.Match(ctx, candidate, source.senderEmail)
		if err != nil {
			slog.Error("Failed to match clinic report", "key", key, "error", err)
			summary.Errors++
			return
		}
		report.ReferralID = match.ReferralID
		report.ClinicID = match.ClinicID
		report.MatchConfidence = match.MatchConfidence
		report.Status = s.classifier.Classify(match)
	}

	if err := s.reports.Create(ctx, report); err != nil {
		if errors.Is(err, repository.ErrDuplicateReport) {
			summary.Skipped++
			return
		}
		slog.Error("Failed to persist clinic report", "key", key, "error", err)
		summary.Errors++
		return
	}

	summary.Created++
	eventType := EventReportNeedsReview
	if report.Status == models.ReportAutoMatched {
		summary.AutoMatched++
		eventType = EventReportAutoMatched
	}
	publish(ctx, s.notify, NotificationEvent{
		Type:       eventType,
		ReferralID: report.ReferralID,
		ReportID:   &report.ID,
		Status:     string(report.Status),
	})
}

// senderAddress reduces a From header such as "МЕДСИ <reports@medsi.ru>" to the bare mailbox.
// Anything unparsable is kept as typed and simply resolves to no clinic.
func senderAddress(from string) string {
	from = strings.TrimSpace(from)
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}
	return strings.ToLower(from)
}

func (s *IngestionService) snapshot(ctx context.Context, source reportSource, payload any) *string {
	if s.snapshots == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to encode raw snapshot", "source_id", source.id, "error", err)
		return nil
	}
	name := fmt.Sprintf("%s/%s/%s.json", source.kind, time.Now().UTC().Format("2006/01/02"), uuid.NewString())
	key, err := s.snapshots.PutSnapshot(ctx, name, "application/json", body)
	if err != nil {
		slog.Warn("Failed to store raw snapshot", "source_id", source.id, "error", err)
		return nil
	}
	return &key
}

func attachmentNames(attachments []models.Attachment) []string {
	names := make([]string, 0, len(attachments))
	for _, a := range attachments {
		names = append(names, a.FileName)
	}
	return names
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

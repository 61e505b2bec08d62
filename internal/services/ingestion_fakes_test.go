package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"referral-service/internal/models"
	"referral-service/internal/repository"
)

// ============================================================================
// INGESTION FAKES
// ============================================================================

type stubExtractor struct {
	candidates []models.RawCandidate
	err        error
	calls      int
	lastSeen   models.SourceMessage
}

func (e *stubExtractor) Extract(ctx context.Context, message models.SourceMessage) ([]models.RawCandidate, error) {
	e.calls++
	e.lastSeen = message
	return e.candidates, e.err
}

type memReportStore struct {
	mu      sync.Mutex
	reports []models.ClinicReport
	failKey string
}

func (s *memReportStore) ExistsByMessageID(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.EmailMessageID == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *memReportStore) SourceProgress(ctx context.Context, sourceID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, expected := 0, 0
	for _, r := range s.reports {
		if SourceIDFromKey(r.EmailMessageID) == sourceID {
			stored++
			expected = max(expected, r.SourceReportCount)
		}
	}
	return stored, expected, nil
}

func (s *memReportStore) Create(ctx context.Context, report *models.ClinicReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if report.EmailMessageID == s.failKey {
		return errors.New("connection reset")
	}
	for _, r := range s.reports {
		if r.EmailMessageID == report.EmailMessageID {
			return repository.ErrDuplicateReport
		}
	}
	report.ID = int64(len(s.reports) + 1)
	report.CreatedAt = time.Now()
	s.reports = append(s.reports, *report)
	return nil
}

func (s *memReportStore) byKey(key string) *models.ClinicReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reports {
		if s.reports[i].EmailMessageID == key {
			r := s.reports[i]
			return &r
		}
	}
	return nil
}

// racingReportStore sees no earlier report, but another run inserts the key first.
type racingReportStore struct{}

func (racingReportStore) ExistsByMessageID(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (racingReportStore) SourceProgress(ctx context.Context, sourceID string) (int, int, error) {
	return 0, 0, nil
}

func (racingReportStore) Create(ctx context.Context, report *models.ClinicReport) error {
	return repository.ErrDuplicateReport
}

type memClinicDirectory struct {
	clinics []models.Clinic
	senders map[string]int64
}

func (d *memClinicDirectory) find(id int64) *models.Clinic {
	for i := range d.clinics {
		if d.clinics[i].ID == id {
			c := d.clinics[i]
			return &c
		}
	}
	return nil
}

func (d *memClinicDirectory) ResolveBySenderEmail(ctx context.Context, address string) (*models.Clinic, error) {
	id, ok := d.senders[address]
	if !ok {
		return nil, nil
	}
	return d.find(id), nil
}

func (d *memClinicDirectory) ResolveByName(ctx context.Context, name string) (*models.Clinic, error) {
	for i := range d.clinics {
		if NormalizeName(d.clinics[i].Name) == NormalizeName(name) {
			c := d.clinics[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (d *memClinicDirectory) GetClinic(ctx context.Context, clinicID int64) (*models.Clinic, error) {
	if c := d.find(clinicID); c != nil {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

type memReferralPool struct {
	referrals []models.Referral
}

func (p *memReferralPool) OpenReferralsForClinic(ctx context.Context, clinicID *int64, clinicNameFallback string) ([]models.Referral, error) {
	var out []models.Referral
	for _, r := range p.referrals {
		if !r.Status.IsOpenForMatching() {
			continue
		}
		switch {
		case clinicID != nil && r.ClinicID != nil && *r.ClinicID == *clinicID:
			out = append(out, r)
		case r.ClinicName != nil && NormalizeName(*r.ClinicName) == NormalizeName(clinicNameFallback):
			out = append(out, r)
		}
	}
	return out, nil
}

type memSnapshots struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (s *memSnapshots) PutSnapshot(ctx context.Context, key string, contentType string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return key, nil
}

// medsiDirectory knows МЕДСИ by its reporting mailbox and a second clinic by name only.
func medsiDirectory() *memClinicDirectory {
	return &memClinicDirectory{
		clinics: []models.Clinic{
			{ID: 7, Name: "МЕДСИ"},
			{ID: 8, Name: "Клиника Доктор рядом"},
		},
		senders: map[string]int64{"reports@medsi.ru": 7},
	}
}

func ivanovReferral() models.Referral {
	return models.Referral{
		ID:                 10,
		AgentID:            1,
		PatientFullName:    "Иванов Иван Иванович",
		ClinicID:           int64Ptr(7),
		ScheduledVisitDate: strPtr("2025-03-10"),
		Status:             models.ReferralScheduled,
		CreatedAt:          time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestMatcher(pool *memReferralPool) *ReferralMatcher {
	return NewReferralMatcher(medsiDirectory(), pool, MatchConfigFrom(testBusinessConfig()))
}

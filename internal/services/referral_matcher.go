package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"referral-service/internal/config"
	"referral-service/internal/models"

	"golang.org/x/text/unicode/norm"
)

// ClinicDirectory resolves a clinic from what a report tells about its origin.
// Both methods return nil without error when nothing is known.
type ClinicDirectory interface {
	ResolveBySenderEmail(ctx context.Context, address string) (*models.Clinic, error)
	ResolveByName(ctx context.Context, name string) (*models.Clinic, error)
}

// ReferralStore lists referrals that may still receive a clinic report.
type ReferralStore interface {
	OpenReferralsForClinic(ctx context.Context, clinicID *int64, clinicNameFallback string) ([]models.Referral, error)
}

type MatchConfig struct {
	BaseConfidence      int
	VisitDateConfidence int
	VisitWindowDays     int
	ClinicIdentityBonus int
}

func MatchConfigFrom(cfg config.BusinessConfig) MatchConfig {
	return MatchConfig{
		BaseConfidence:      cfg.MatchBaseConfidence,
		VisitDateConfidence: cfg.MatchVisitDateConfidence,
		VisitWindowDays:     cfg.MatchVisitWindowDays,
		ClinicIdentityBonus: cfg.ClinicIdentityBonus,
	}
}

type ReferralMatcher struct {
	directory ClinicDirectory
	referrals ReferralStore
	cfg       MatchConfig
}

func NewReferralMatcher(directory ClinicDirectory, referrals ReferralStore, cfg MatchConfig) *ReferralMatcher {
	return &ReferralMatcher{
		directory: directory,
		referrals: referrals,
		cfg:       cfg,
	}
}

type clinicResolution struct {
	id      *int64
	name    string
	certain bool
}

// Match scores a candidate against the open referrals of the clinic the report came from.
func (m *ReferralMatcher) Match(ctx context.Context, candidate models.VisitCandidate, senderEmail string) (models.MatchResult, error) {
	clinic, err := m.resolveClinic(ctx, candidate.ClinicNameHint, senderEmail)
	if err != nil {
		return models.MatchResult{}, err
	}

	result := models.MatchResult{
		ClinicID:      clinic.id,
		ClinicName:    clinic.name,
		ClinicCertain: clinic.certain,
	}
	if candidate.PatientName == nil || (clinic.id == nil && clinic.name == "") {
		return result, nil
	}

	pool, err := m.referrals.OpenReferralsForClinic(ctx, clinic.id, clinic.name)
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("failed to load open referrals: %w", err)
	}

	best, score, ambiguous := m.pickBest(candidate, pool)
	if best == nil {
		return result, nil
	}

	if clinic.certain {
		score += m.cfg.ClinicIdentityBonus
	}
	result.ReferralID = &best.ID
	result.MatchConfidence = clampPercent(score)
	result.Ambiguous = ambiguous
	if result.ClinicID == nil {
		result.ClinicID = best.ClinicID
	}

	slog.Info("Clinic report matched to referral",
		"referral_id", best.ID,
		"clinic_id", result.ClinicID,
		"confidence", result.MatchConfidence,
		"clinic_certain", clinic.certain,
		"ambiguous", ambiguous)

	return result, nil
}

// resolveClinic prefers the sender mapping. An AI-extracted name that disagrees with it is
// re-resolved against the directory and wins only when it names a known clinic.
func (m *ReferralMatcher) resolveClinic(ctx context.Context, hint *string, senderEmail string) (clinicResolution, error) {
	var bySender *models.Clinic
	if senderEmail != "" {
		clinic, err := m.directory.ResolveBySenderEmail(ctx, senderEmail)
		if err != nil {
			return clinicResolution{}, fmt.Errorf("failed to resolve clinic by sender: %w", err)
		}
		bySender = clinic
	}

	if bySender != nil {
		if hint == nil || NormalizeName(*hint) == NormalizeName(bySender.Name) {
			return clinicResolution{id: &bySender.ID, name: bySender.Name, certain: true}, nil
		}
		byName, err := m.directory.ResolveByName(ctx, *hint)
		if err != nil {
			return clinicResolution{}, fmt.Errorf("failed to resolve clinic by name: %w", err)
		}
		if byName != nil && byName.ID != bySender.ID {
			slog.Warn("Sender clinic and extracted clinic name disagree",
				"sender_clinic_id", bySender.ID,
				"extracted_clinic_id", byName.ID)
			return clinicResolution{id: &byName.ID, name: byName.Name}, nil
		}
		return clinicResolution{id: &bySender.ID, name: bySender.Name, certain: true}, nil
	}

	if hint == nil {
		return clinicResolution{}, nil
	}
	byName, err := m.directory.ResolveByName(ctx, *hint)
	if err != nil {
		return clinicResolution{}, fmt.Errorf("failed to resolve clinic by name: %w", err)
	}
	if byName != nil {
		return clinicResolution{id: &byName.ID, name: byName.Name}, nil
	}
	// legacy referrals only carry a free-text clinic name
	return clinicResolution{name: *hint}, nil
}

func (m *ReferralMatcher) pickBest(candidate models.VisitCandidate, pool []models.Referral) (*models.Referral, int, bool) {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].CreatedAt.Equal(pool[j].CreatedAt) {
			return pool[i].ID < pool[j].ID
		}
		return pool[i].CreatedAt.Before(pool[j].CreatedAt)
	})

	var best *models.Referral
	bestScore, ties := 0, 0
	for i := range pool {
		score := m.Score(candidate, pool[i])
		switch {
		case score == 0:
			continue
		case score > bestScore:
			best, bestScore, ties = &pool[i], score, 1
		case score == bestScore:
			ties++
		}
	}
	return best, bestScore, ties > 1
}

// Score returns the confidence that the candidate reports a visit of the referred patient.
// An exact normalized name is mandatory. Birthdates settle the match when both sides have one;
// otherwise the visit date must equal the scheduled visit. A visit that merely falls within the
// window opened by the referral scores VisitDateConfidence, which is 0 unless configured.
func (m *ReferralMatcher) Score(candidate models.VisitCandidate, referral models.Referral) int {
	if candidate.PatientName == nil {
		return 0
	}
	if NormalizeName(*candidate.PatientName) != NormalizeName(referral.PatientFullName) {
		return 0
	}

	candidateBirth := candidate.PatientBirthDate
	referralBirth := normalizeDate(derefString(referral.PatientBirthDate))
	if candidateBirth != nil && referralBirth != nil {
		if *candidateBirth == *referralBirth {
			return m.cfg.BaseConfidence
		}
		return 0
	}

	if candidate.VisitDate == nil {
		return 0
	}
	if scheduled := normalizeDate(derefString(referral.ScheduledVisitDate)); scheduled != nil && *scheduled == *candidate.VisitDate {
		return m.cfg.BaseConfidence
	}
	if m.cfg.VisitDateConfidence <= 0 {
		return 0
	}
	visit, err := time.Parse("2006-01-02", *candidate.VisitDate)
	if err != nil {
		return 0
	}
	y, mo, d := referral.CreatedAt.UTC().Date()
	created := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	if visit.Before(created) {
		return 0
	}
	if visit.Sub(created) > time.Duration(m.cfg.VisitWindowDays)*24*time.Hour {
		return 0
	}
	return m.cfg.VisitDateConfidence
}

// NormalizeName lower-cases, collapses whitespace and folds ё into е.
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	name = strings.ToLower(strings.Join(strings.Fields(name), " "))
	return strings.ReplaceAll(name, "ё", "е")
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

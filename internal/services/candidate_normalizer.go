package services

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"referral-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	patientNameKeys = []string{"patient_name", "patientName", "full_name", "fullName"}
	birthDateKeys   = []string{"birth_date", "birthDate", "patient_birth_date", "patientBirthDate"}
	visitDateKeys   = []string{"visit_date", "visitDate", "date"}
	amountKeys      = []string{"treatment_amount", "treatmentAmount", "treatment_amount_rub", "amount"}
	servicesKeys    = []string{"services", "treatments"}
	clinicNameKeys  = []string{"clinic_name", "clinicName", "clinic"}
	confidenceKeys  = []string{"confidence", "ai_confidence"}
)

// dateLayouts are tried in order; the first layout that parses wins.
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"2006/01/02",
	"2.1.2006",
	time.RFC3339,
}

var kopecksPerRuble = decimal.NewFromInt(100)

// NormalizeExtraction normalizes every raw candidate of one source.
func NormalizeExtraction(raws []models.RawCandidate) []models.VisitCandidate {
	candidates := make([]models.VisitCandidate, 0, len(raws))
	for _, raw := range raws {
		candidates = append(candidates, NormalizeCandidate(raw))
	}
	return candidates
}

// NormalizeCandidate coerces a raw extractor entry into a VisitCandidate.
// Fields of an unexpected type become nil or empty, the call never fails.
func NormalizeCandidate(raw models.RawCandidate) models.VisitCandidate {
	return models.VisitCandidate{
		PatientName:            normalizeText(lookup(raw, patientNameKeys)),
		PatientBirthDate:       normalizeDate(lookup(raw, birthDateKeys)),
		VisitDate:              normalizeDate(lookup(raw, visitDateKeys)),
		TreatmentAmountKopecks: rublesToKopecks(lookup(raw, amountKeys)),
		Services:               normalizeServices(lookup(raw, servicesKeys)),
		ClinicNameHint:         normalizeText(lookup(raw, clinicNameKeys)),
		Confidence:             clampConfidence(lookup(raw, confidenceKeys)),
	}
}

func lookup(raw models.RawCandidate, keys []string) any {
	for _, key := range keys {
		if value, ok := raw[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

func normalizeText(value any) *string {
	text, ok := value.(string)
	if !ok {
		return nil
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	return &text
}

// normalizeDate converts known layouts to ISO and keeps anything else verbatim.
func normalizeDate(value any) *string {
	text := normalizeText(value)
	if text == nil {
		return nil
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, *text); err == nil {
			iso := parsed.Format("2006-01-02")
			return &iso
		}
	}
	return text
}

func rublesToKopecks(value any) *int64 {
	var amount decimal.Decimal
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		amount = decimal.NewFromFloat(v)
	case float32:
		return rublesToKopecks(float64(v))
	case int:
		amount = decimal.NewFromInt(int64(v))
	case int64:
		amount = decimal.NewFromInt(v)
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return nil
		}
		amount = parsed
	default:
		return nil
	}
	if amount.IsNegative() {
		return nil
	}
	kopecks := amount.Mul(kopecksPerRuble).Round(0).IntPart()
	return &kopecks
}

func normalizeServices(value any) []string {
	items, ok := value.([]any)
	if !ok {
		if typed, ok := value.([]string); ok {
			items = make([]any, len(typed))
			for i, s := range typed {
				items[i] = s
			}
		} else {
			return []string{}
		}
	}
	services := make([]string, 0, len(items))
	for _, item := range items {
		if text := normalizeText(item); text != nil {
			services = append(services, *text)
		}
	}
	return services
}

func clampConfidence(value any) int {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	return clampPercent(int(math.Round(math.Max(math.Min(f, 100), 0))))
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

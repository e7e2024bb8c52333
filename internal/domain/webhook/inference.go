package webhook

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/domain/intake"
)

// Treatment families dispensed by the clinics. Payload product strings,
// intake answers and brand names all map onto these canonical names.
const (
	TreatmentSemaglutide = "Semaglutide"
	TreatmentTirzepatide = "Tirzepatide"
	TreatmentSermorelin  = "Sermorelin"
)

// treatmentPatterns maps recognizable substrings (generic and brand names)
// to the canonical treatment family.
var treatmentPatterns = []struct {
	pattern   *regexp.Regexp
	treatment string
}{
	{regexp.MustCompile(`(?i)semaglutide|ozempic|wegovy|rybelsus`), TreatmentSemaglutide},
	{regexp.MustCompile(`(?i)tirzepatide|mounjaro|zepbound`), TreatmentTirzepatide},
	{regexp.MustCompile(`(?i)sermorelin`), TreatmentSermorelin},
}

// DetectTreatment returns the canonical treatment family named anywhere in
// the string, or "" when none is recognizable.
func DetectTreatment(s string) string {
	for _, tp := range treatmentPatterns {
		if tp.pattern.MatchString(s) {
			return tp.treatment
		}
	}
	return ""
}

// Intake answer keys that historically carried the medication choice.
var intakeMedicationKeys = []string{
	"medication_preference",
	"preferred_medication",
	"medication",
	"which_medication",
	"treatment",
	"treatment_preference",
}

// Price thresholds per plan duration (months). At or below the threshold the
// plan is priced as semaglutide; above it, tirzepatide.
var durationPriceThresholds = map[int]int64{
	1: 39900,
	3: 99900,
	6: 179900,
}

// Known price points for exact matching when the plan duration cannot be
// parsed. Matched within ±10%.
var knownPricePoints = []struct {
	cents     int64
	treatment string
}{
	{29700, TreatmentSemaglutide},
	{34900, TreatmentSemaglutide},
	{79900, TreatmentSemaglutide},
	{44900, TreatmentTirzepatide},
	{54900, TreatmentTirzepatide},
	{129900, TreatmentTirzepatide},
	{19900, TreatmentSermorelin},
}

const pricePointTolerance = 0.10

var planMonthsPattern = regexp.MustCompile(`(?i)(\d+)\s*[- ]?\s*(month|months|mo)\b`)

// TreatmentInferrer recovers the real treatment when the payload's declared
// product is ambiguous. Best-effort enrichment: every path can fail and the
// invoice is created regardless.
type TreatmentInferrer struct {
	intake intake.Repository
	logger zerolog.Logger
}

func NewTreatmentInferrer(intakeRepo intake.Repository, logger zerolog.Logger) *TreatmentInferrer {
	return &TreatmentInferrer{intake: intakeRepo, logger: logger}
}

// Infer tries, in order: the patient's most recent intake document, the
// price-threshold table keyed by plan duration, and known price points with
// a tolerance band. Returns "" when every strategy comes up empty.
func (t *TreatmentInferrer) Infer(ctx context.Context, patientID uuid.UUID, ev *NormalizedEvent) string {
	if treatment := t.fromIntake(ctx, patientID); treatment != "" {
		t.logger.Info().Str("patient_id", patientID.String()).Str("treatment", treatment).
			Msg("treatment inferred from intake document")
		return treatment
	}

	if treatment := t.fromDurationPrice(ev); treatment != "" {
		t.logger.Info().Str("treatment", treatment).Int64("amount_cents", ev.AmountCents).
			Msg("treatment inferred from plan duration price table")
		return treatment
	}

	if treatment := t.fromPricePoint(ev.AmountCents); treatment != "" {
		t.logger.Info().Str("treatment", treatment).Int64("amount_cents", ev.AmountCents).
			Msg("treatment inferred from known price point")
		return treatment
	}

	t.logger.Warn().Str("patient_id", patientID.String()).
		Str("declared", ev.DeclaredTreatment()).Int64("amount_cents", ev.AmountCents).
		Msg("could not infer treatment; leaving unset")
	return ""
}

func (t *TreatmentInferrer) fromIntake(ctx context.Context, patientID uuid.UUID) string {
	if t.intake == nil || patientID == uuid.Nil {
		return ""
	}
	sub, err := t.intake.LatestByPatient(ctx, patientID)
	if err != nil {
		if !errors.Is(err, intake.ErrNotFound) {
			t.logger.Warn().Err(err).Msg("intake lookup failed during treatment inference")
		}
		return ""
	}

	for _, key := range intakeMedicationKeys {
		if v, ok := sub.Answers[key]; ok {
			if treatment := DetectTreatment(stringValue(v)); treatment != "" {
				return treatment
			}
		}
	}

	// Free-text answers sometimes name the medication directly.
	for _, v := range sub.Answers {
		if s, ok := v.(string); ok {
			if treatment := DetectTreatment(s); treatment != "" {
				return treatment
			}
		}
	}
	return ""
}

func (t *TreatmentInferrer) fromDurationPrice(ev *NormalizedEvent) string {
	months := PlanMonths(ev.Plan)
	if months == 0 {
		months = PlanMonths(ev.Product)
	}
	threshold, ok := durationPriceThresholds[months]
	if !ok || ev.AmountCents <= 0 {
		return ""
	}
	if ev.AmountCents <= threshold {
		return TreatmentSemaglutide
	}
	return TreatmentTirzepatide
}

func (t *TreatmentInferrer) fromPricePoint(cents int64) string {
	if cents <= 0 {
		return ""
	}
	for _, pp := range knownPricePoints {
		lo := float64(pp.cents) * (1 - pricePointTolerance)
		hi := float64(pp.cents) * (1 + pricePointTolerance)
		if float64(cents) >= lo && float64(cents) <= hi {
			return pp.treatment
		}
	}
	return ""
}

// PlanMonths parses the month count out of a plan or product string
// ("3 Month Plan", "6-mo supply"). Returns 0 when unrecognized.
func PlanMonths(s string) int {
	m := planMonthsPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	months, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return months
}

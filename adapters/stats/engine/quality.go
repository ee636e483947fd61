package engine

import (
	"fmt"

	"ablab/domain/core"
	"ablab/domain/experiment"
	"ablab/internal/errors"
)

// QualityValidator checks sample ratio mismatch and sample adequacy
// before a test result is trusted. The SRM threshold is independent of
// (and conventionally stricter than) the experiment's own alpha.
type QualityValidator struct {
	// SRMThreshold is the goodness-of-fit p-value below which the
	// observed allocation is flagged as mismatched.
	SRMThreshold float64
	// AdequacyTolerance is the allowed fractional shortfall against the
	// design's required sample size before the adequacy flag trips.
	// Zero means strictly below required size triggers the flag.
	AdequacyTolerance float64
}

// DefaultSRMThreshold follows the convention of flagging SRM well below
// the experiment alpha.
const DefaultSRMThreshold = 0.01

// NewQualityValidator creates a validator with the given SRM threshold
// and adequacy tolerance; non-positive threshold uses the default.
func NewQualityValidator(srmThreshold, adequacyTolerance float64) *QualityValidator {
	if srmThreshold <= 0 {
		srmThreshold = DefaultSRMThreshold
	}
	if adequacyTolerance < 0 {
		adequacyTolerance = 0
	}
	return &QualityValidator{SRMThreshold: srmThreshold, AdequacyTolerance: adequacyTolerance}
}

// Validate runs all quality checks against the observed summaries.
func (v *QualityValidator) Validate(summaries map[core.VariantID]experiment.VariantSummary, design experiment.DesignConfig) (experiment.QualityReport, error) {
	report := experiment.QualityReport{
		SampleSizeAdequate: true,
		Warnings:           []string{},
	}

	counts := make([]int, 0, len(design.Variants))
	ratios := make([]float64, 0, len(design.Variants))
	for i, variantID := range design.Variants {
		summary, ok := summaries[variantID]
		if !ok {
			return report, errors.Data("no summary for declared variant %s", variantID)
		}
		counts = append(counts, summary.UnitCount)
		ratios = append(ratios, design.Allocation(i))
	}

	srmP, err := v.srmPValue(counts, ratios)
	if err != nil {
		return report, err
	}
	report.SRMPValue = srmP
	if srmP < v.SRMThreshold {
		report.SRMDetected = true
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"sample ratio mismatch: observed allocation deviates from the intended split (p=%.6f < %.4f); randomization or logging may be broken",
			srmP, v.SRMThreshold))
	}

	// Adequacy is advisory, not blocking
	if design.RequiredSampleSizePerVariant > 0 {
		floor := float64(design.RequiredSampleSizePerVariant) * (1 - v.AdequacyTolerance)
		for i, variantID := range design.Variants {
			if float64(counts[i]) < floor {
				report.SampleSizeAdequate = false
				report.Warnings = append(report.Warnings, fmt.Sprintf(
					"variant %s has %d units, below the designed %d per variant; the experiment is underpowered",
					variantID, counts[i], design.RequiredSampleSizePerVariant))
			}
		}
	}

	return report, nil
}

// srmPValue runs a chi-square goodness-of-fit test of the observed unit
// counts against the intended allocation ratio.
func (v *QualityValidator) srmPValue(observed []int, ratios []float64) (float64, error) {
	if len(observed) != len(ratios) || len(observed) < 2 {
		return 0, errors.Parameter("SRM check needs matching counts and ratios for at least 2 variants")
	}
	total := 0
	for _, n := range observed {
		total += n
	}
	if total == 0 {
		return 1, nil
	}

	chi2 := 0.0
	for i, n := range observed {
		expected := float64(total) * ratios[i]
		if expected <= 0 {
			return 0, errors.Parameter("intended allocation ratio for variant %d must be positive", i)
		}
		delta := float64(n) - expected
		chi2 += delta * delta / expected
	}
	df := float64(len(observed) - 1)
	return clampProbability(chiSquaredSurvival(chi2, df)), nil
}

package engine

import (
	"math"

	"ablab/domain/experiment"
	"ablab/internal/errors"
)

// EffectSizeEngine computes standardized effect sizes and confidence
// intervals for the observed difference between two variants.
type EffectSizeEngine struct{}

// NewEffectSizeEngine creates an effect size engine
func NewEffectSizeEngine() *EffectSizeEngine {
	return &EffectSizeEngine{}
}

// Wilson-based intervals take over from Wald when samples are small or
// rates sit near the domain edges.
const (
	wilsonSampleCutoff = 100
	wilsonRateEdge     = 0.05
)

// Compute dispatches on metric type.
func (e *EffectSizeEngine) Compute(metric experiment.MetricDefinition, control, treatment experiment.MetricAggregate, level float64) (experiment.EffectSize, error) {
	if level <= 0 || level >= 1 {
		return experiment.EffectSize{}, errors.Parameter("confidence level must be in (0,1), got %g", level)
	}
	if metric.Type == experiment.MetricProportion {
		return e.Proportion(control, treatment, level)
	}
	return e.Continuous(control, treatment, level)
}

// RelativeLift computes (treatment - control) / control. It fails with
// a ParameterError at control == 0, where the lift is undefined; the
// caller falls back to the absolute difference instead of reporting an
// infinity.
func (e *EffectSizeEngine) RelativeLift(control, treatment float64) (float64, error) {
	if control == 0 {
		return 0, errors.Parameter("relative lift is undefined when the control value is zero")
	}
	return (treatment - control) / control, nil
}

// Proportion computes relative lift, Cohen's h, and an interval for the
// rate difference.
func (e *EffectSizeEngine) Proportion(control, treatment experiment.MetricAggregate, level float64) (experiment.EffectSize, error) {
	if control.Count == 0 || treatment.Count == 0 {
		return experiment.EffectSize{}, errors.InsufficientData("effect size needs observations in both variants")
	}
	p1, p2 := control.Rate(), treatment.Rate()
	diff := p2 - p1

	result := experiment.EffectSize{
		AbsoluteDifference: diff,
		Standardized:       cohensH(p1, p2),
		StandardizedName:   "cohens_h",
	}
	result.Interpretation = interpretStandardized(math.Abs(result.Standardized))

	if lift, err := e.RelativeLift(p1, p2); err == nil {
		result.RelativeLift = lift
		result.RelativeLiftDefined = true
	}

	if useWilson(control, treatment) {
		result.CI = newcombeDiffCI(control, treatment, level)
	} else {
		result.CI = waldDiffCI(p1, p2, control.Count, treatment.Count, level)
	}
	return result, nil
}

// Continuous computes Cohen's d (pooled standard deviation) and a
// t-interval for the mean difference with Welch-Satterthwaite degrees
// of freedom.
func (e *EffectSizeEngine) Continuous(control, treatment experiment.MetricAggregate, level float64) (experiment.EffectSize, error) {
	if control.Count < 2 || treatment.Count < 2 {
		return experiment.EffectSize{}, errors.InsufficientData(
			"effect size needs at least 2 observations per variant, got %d and %d", control.Count, treatment.Count)
	}
	n1, n2 := float64(control.Count), float64(treatment.Count)
	m1, m2 := control.Mean(), treatment.Mean()
	v1, v2 := control.Variance(), treatment.Variance()
	diff := m2 - m1

	pooledVar := ((n1-1)*v1 + (n2-1)*v2) / (n1 + n2 - 2)
	d := 0.0
	if pooledVar > 0 {
		d = diff / math.Sqrt(pooledVar)
	}

	result := experiment.EffectSize{
		AbsoluteDifference: diff,
		Standardized:       d,
		StandardizedName:   "cohens_d",
		Interpretation:     interpretStandardized(math.Abs(d)),
	}
	if lift, err := e.RelativeLift(m1, m2); err == nil {
		result.RelativeLift = lift
		result.RelativeLiftDefined = true
	}

	se := math.Sqrt(v1/n1 + v2/n2)
	if se > 0 {
		df := welchSatterthwaiteDF(v1, n1, v2, n2)
		tCrit := tQuantile(1-(1-level)/2, df)
		result.CI = experiment.ConfidenceInterval{
			Lower: diff - tCrit*se,
			Upper: diff + tCrit*se,
			Level: level,
		}
	} else {
		result.CI = experiment.ConfidenceInterval{Lower: diff, Upper: diff, Level: level}
	}
	return result, nil
}

// cohensH is the arcsine-transformed difference between two proportions.
func cohensH(p1, p2 float64) float64 {
	return 2*math.Asin(math.Sqrt(p2)) - 2*math.Asin(math.Sqrt(p1))
}

// interpretStandardized applies the conventional Cohen bands.
func interpretStandardized(magnitude float64) string {
	switch {
	case magnitude < 0.2:
		return "negligible"
	case magnitude < 0.5:
		return "small"
	case magnitude < 0.8:
		return "medium"
	default:
		return "large"
	}
}

// useWilson prefers the score interval for small samples or edge rates.
func useWilson(control, treatment experiment.MetricAggregate) bool {
	if control.Count < wilsonSampleCutoff || treatment.Count < wilsonSampleCutoff {
		return true
	}
	for _, rate := range []float64{control.Rate(), treatment.Rate()} {
		if rate < wilsonRateEdge || rate > 1-wilsonRateEdge {
			return true
		}
	}
	return false
}

// waldDiffCI is the normal-approximation interval for a rate difference.
func waldDiffCI(p1, p2 float64, n1, n2 int, level float64) experiment.ConfidenceInterval {
	diff := p2 - p1
	se := math.Sqrt(p1*(1-p1)/float64(n1) + p2*(1-p2)/float64(n2))
	z := normalQuantile(1 - (1-level)/2)
	return experiment.ConfidenceInterval{
		Lower: diff - z*se,
		Upper: diff + z*se,
		Level: level,
	}
}

// wilsonBounds computes the Wilson score interval for a single rate.
func wilsonBounds(successes, total int, z float64) (float64, float64) {
	n := float64(total)
	p := float64(successes) / n
	z2 := z * z
	center := (p + z2/(2*n)) / (1 + z2/n)
	margin := z / (1 + z2/n) * math.Sqrt(p*(1-p)/n+z2/(4*n*n))
	return center - margin, center + margin
}

// newcombeDiffCI combines per-rate Wilson bounds into an interval for
// the difference (Newcombe's score method).
func newcombeDiffCI(control, treatment experiment.MetricAggregate, level float64) experiment.ConfidenceInterval {
	z := normalQuantile(1 - (1-level)/2)
	l1, u1 := wilsonBounds(control.SuccessCount, control.Count, z)
	l2, u2 := wilsonBounds(treatment.SuccessCount, treatment.Count, z)
	p1, p2 := control.Rate(), treatment.Rate()
	diff := p2 - p1
	return experiment.ConfidenceInterval{
		Lower: diff - math.Sqrt(math.Pow(p1-l1, 2)+math.Pow(u2-p2, 2)),
		Upper: diff + math.Sqrt(math.Pow(u1-p1, 2)+math.Pow(p2-l2, 2)),
		Level: level,
	}
}

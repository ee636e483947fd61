package engine

import (
	"math"

	"ablab/domain/experiment"
	"ablab/internal/errors"
)

// PowerCalculator computes sample size, power, and minimum detectable
// effect for a proposed design. All methods are pure numeric functions:
// same inputs always yield the same outputs.
type PowerCalculator struct{}

// NewPowerCalculator creates a power calculator
func NewPowerCalculator() *PowerCalculator {
	return &PowerCalculator{}
}

// PowerParams are the design-time inputs shared by the power routines.
type PowerParams struct {
	MetricType experiment.MetricType
	// Baseline is the control rate for proportion metrics or the
	// control mean for continuous metrics.
	Baseline float64
	// BaselineStdDev is required for continuous metrics.
	BaselineStdDev float64
	MDE            float64
	Alpha          float64
	Power          float64
	OneSided       bool
}

// PowerPoint is one (sample size, achieved power) pair on a power curve.
type PowerPoint struct {
	SampleSize int     `json:"sample_size"`
	Power      float64 `json:"power"`
}

// validate checks the common numeric domain constraints.
func (p PowerParams) validate(needPower bool) error {
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return errors.Parameter("alpha must be in (0,1), got %g", p.Alpha)
	}
	if needPower && (p.Power <= 0 || p.Power >= 1) {
		return errors.Parameter("power must be in (0,1), got %g", p.Power)
	}
	switch p.MetricType {
	case experiment.MetricProportion:
		if p.Baseline <= 0 || p.Baseline >= 1 {
			return errors.Parameter("baseline rate must be in (0,1) for proportion metrics, got %g", p.Baseline)
		}
	case experiment.MetricContinuous:
		if p.BaselineStdDev <= 0 {
			return errors.Parameter("baseline standard deviation must be positive for continuous metrics, got %g", p.BaselineStdDev)
		}
	default:
		return errors.Parameter("unknown metric type %q", p.MetricType)
	}
	return nil
}

// effectSize converts the MDE into a standardized effect: the arcsine
// variance-stabilizing transform for proportions (which also absorbs
// the continuity consideration of the normal approximation), and
// mde/sd for means.
func (p PowerParams) effectSize() (float64, error) {
	if p.MDE == 0 {
		return 0, errors.Parameter("minimum detectable effect must be non-zero")
	}
	switch p.MetricType {
	case experiment.MetricProportion:
		target := p.Baseline + p.MDE
		if target <= 0 || target >= 1 {
			return 0, errors.Parameter("baseline + mde must stay in (0,1), got %g", target)
		}
		h := 2 * (math.Asin(math.Sqrt(target)) - math.Asin(math.Sqrt(p.Baseline)))
		return math.Abs(h), nil
	default:
		return math.Abs(p.MDE / p.BaselineStdDev), nil
	}
}

// criticalZ returns the alpha critical value for the declared sidedness.
func criticalZ(alpha float64, oneSided bool) float64 {
	if oneSided {
		return normalQuantile(1 - alpha)
	}
	return normalQuantile(1 - alpha/2)
}

// RequiredSampleSize computes the per-variant sample size (rounded up)
// needed to detect the MDE at the requested alpha and power, using the
// standard two-sample normal power formula.
func (c *PowerCalculator) RequiredSampleSize(p PowerParams) (int, error) {
	if err := p.validate(true); err != nil {
		return 0, err
	}
	es, err := p.effectSize()
	if err != nil {
		return 0, err
	}
	zAlpha := criticalZ(p.Alpha, p.OneSided)
	zBeta := normalQuantile(p.Power)
	n := 2 * math.Pow((zAlpha+zBeta)/es, 2)
	return int(math.Ceil(n)), nil
}

// AchievedPower computes the retrospective power at an observed
// per-variant sample size.
func (c *PowerCalculator) AchievedPower(n int, p PowerParams) (float64, error) {
	if n <= 0 {
		return 0, errors.Parameter("sample size must be positive, got %d", n)
	}
	if err := p.validate(false); err != nil {
		return 0, err
	}
	es, err := p.effectSize()
	if err != nil {
		return 0, err
	}
	zAlpha := criticalZ(p.Alpha, p.OneSided)
	zPower := es*math.Sqrt(float64(n)/2) - zAlpha
	return clampProbability(normalCDF(zPower)), nil
}

// MinimumDetectableEffect is the inverse computation: the smallest
// true effect a design with n units per variant is powered to detect.
// The returned effect is expressed in the metric's own unit.
func (c *PowerCalculator) MinimumDetectableEffect(n int, p PowerParams) (float64, error) {
	if n <= 0 {
		return 0, errors.Parameter("sample size must be positive, got %d", n)
	}
	if err := p.validate(true); err != nil {
		return 0, err
	}
	zAlpha := criticalZ(p.Alpha, p.OneSided)
	zBeta := normalQuantile(p.Power)
	es := (zAlpha + zBeta) / math.Sqrt(float64(n)/2)

	if p.MetricType == experiment.MetricContinuous {
		return es * p.BaselineStdDev, nil
	}

	// Invert the arcsine transform, clamping at the domain edges the
	// way the design-time computation clamps.
	arcsinTarget := es/2 + math.Asin(math.Sqrt(p.Baseline))
	if arcsinTarget > math.Pi/2 {
		arcsinTarget = math.Pi/2 - 0.001
	}
	if arcsinTarget < 0 {
		arcsinTarget = 0.001
	}
	target := math.Pow(math.Sin(arcsinTarget), 2)
	return math.Abs(target - p.Baseline), nil
}

// EstimateDuration estimates experiment runtime in days (rounded up)
// given expected daily traffic and the fraction of it allocated to the
// experiment.
func (c *PowerCalculator) EstimateDuration(samplePerVariant, dailyTraffic, variantCount int, trafficAllocation float64) (int, error) {
	if samplePerVariant <= 0 {
		return 0, errors.Parameter("sample size per variant must be positive, got %d", samplePerVariant)
	}
	if dailyTraffic <= 0 {
		return 0, errors.Parameter("expected daily traffic must be positive, got %d", dailyTraffic)
	}
	if variantCount < 2 {
		return 0, errors.Parameter("variant count must be at least 2, got %d", variantCount)
	}
	if trafficAllocation <= 0 || trafficAllocation > 1 {
		return 0, errors.Parameter("traffic allocation must be in (0,1], got %g", trafficAllocation)
	}
	totalNeeded := float64(samplePerVariant * variantCount)
	effectiveTraffic := float64(dailyTraffic) * trafficAllocation
	return int(math.Ceil(totalNeeded / effectiveTraffic)), nil
}

// PowerCurve generates (sample size, power) pairs for design
// retrospectives. When sizes is nil it spans the 50%-to-99% power range
// in eleven steps.
func (c *PowerCalculator) PowerCurve(p PowerParams, sizes []int) ([]PowerPoint, error) {
	if sizes == nil {
		low := p
		low.Power = 0.5
		minN, err := c.RequiredSampleSize(low)
		if err != nil {
			return nil, err
		}
		high := p
		high.Power = 0.99
		maxN, err := c.RequiredSampleSize(high)
		if err != nil {
			return nil, err
		}
		for i := 0; i <= 10; i++ {
			sizes = append(sizes, minN+(maxN-minN)*i/10)
		}
	}
	curve := make([]PowerPoint, 0, len(sizes))
	for _, n := range sizes {
		power, err := c.AchievedPower(n, p)
		if err != nil {
			return nil, err
		}
		curve = append(curve, PowerPoint{SampleSize: n, Power: power})
	}
	return curve, nil
}

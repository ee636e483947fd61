package engine

import (
	"math"

	"github.com/montanaflynn/stats"

	"ablab/domain/experiment"
	"ablab/internal/errors"
)

// Selector chooses the hypothesis test for a metric. Selection is a
// capability dispatch over (metric type, requested override); the
// default picks the z-test for proportions, Welch's t for near-normal
// continuous data, and Mann-Whitney U otherwise.
type Selector struct{}

// NewSelector creates a test selector
func NewSelector() *Selector {
	return &Selector{}
}

// minParametricN is the sample size below which continuous data falls
// back to the rank test regardless of shape.
const minParametricN = 30

// Select returns the test to run for the metric. A non-empty override
// is honored when it is compatible with the metric type.
func (s *Selector) Select(metric experiment.MetricDefinition, override TestName, control, treatment experiment.VariantSummary) (TestName, error) {
	if override != "" {
		if err := validateOverride(metric.Type, override); err != nil {
			return "", err
		}
		return override, nil
	}

	if metric.Type == experiment.MetricProportion {
		return TestTwoProportionZ, nil
	}

	x := control.Values[metric.Name]
	y := treatment.Values[metric.Name]
	if len(x) >= minParametricN && len(y) >= minParametricN && looksNormal(x) && looksNormal(y) {
		return TestWelchT, nil
	}
	return TestMannWhitney, nil
}

// validateOverride rejects overrides that cannot run for the metric type.
func validateOverride(metricType experiment.MetricType, override TestName) error {
	proportionTests := map[TestName]bool{TestTwoProportionZ: true, TestChiSquare: true}
	continuousTests := map[TestName]bool{TestWelchT: true, TestMannWhitney: true, TestBootstrap: true}

	switch metricType {
	case experiment.MetricProportion:
		if !proportionTests[override] {
			return errors.Parameter("test %q is not applicable to proportion metrics", override)
		}
	case experiment.MetricContinuous:
		if !continuousTests[override] {
			return errors.Parameter("test %q is not applicable to continuous metrics", override)
		}
	default:
		return errors.Parameter("unknown metric type %q", metricType)
	}
	return nil
}

// looksNormal is a coarse moment-based normality screen: samples with
// extreme skewness or kurtosis route to the rank test.
func looksNormal(data []float64) bool {
	mean, _ := stats.Mean(data)
	sd, _ := stats.StandardDeviationSample(data)
	if sd == 0 {
		return false
	}

	n := float64(len(data))
	skew, kurt := 0.0, 0.0
	for _, v := range data {
		z := (v - mean) / sd
		skew += z * z * z
		kurt += z * z * z * z
	}
	skew /= n
	kurt = kurt/n - 3

	return math.Abs(skew) < 2 && math.Abs(kurt) < 7
}

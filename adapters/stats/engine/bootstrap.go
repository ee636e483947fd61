package engine

import (
	"fmt"
	"math/rand"

	"github.com/montanaflynn/stats"

	"ablab/domain/experiment"
	"ablab/internal/errors"
	"ablab/ports"
)

// bootstrapMean tests the difference of means by resampling with
// replacement. The resampling count is fixed and explicitly seeded for
// reproducibility; the empirical p-value is the proportion of resampled
// differences at least as extreme as the observed one, doubled for a
// two-sided test and clipped to [0,1].
type bootstrapMean struct {
	rng ports.RNGPort
	cap int
}

func (*bootstrapMean) Name() TestName { return TestBootstrap }

func (b *bootstrapMean) Run(control, treatment experiment.VariantSummary, opts TestOptions) (experiment.TestResult, error) {
	x := control.Values[opts.Metric]
	y := treatment.Values[opts.Metric]
	if len(x) < 2 {
		return experiment.TestResult{}, errors.InsufficientData(
			"variant %s has %d raw observations for metric %s, need at least 2", control.VariantID, len(x), opts.Metric)
	}
	if len(y) < 2 {
		return experiment.TestResult{}, errors.InsufficientData(
			"variant %s has %d raw observations for metric %s, need at least 2", treatment.VariantID, len(y), opts.Metric)
	}

	iterations := opts.BootstrapIterations
	if iterations <= 0 {
		iterations = DefaultBootstrapIterations
	}
	if iterations > b.cap {
		iterations = b.cap
	}

	rng := b.rng.SeededStream(fmt.Sprintf("bootstrap/%s", opts.Metric), opts.Seed)

	meanX, _ := stats.Mean(x)
	meanY, _ := stats.Mean(y)
	observed := meanY - meanX

	pooled := make([]float64, 0, len(x)+len(y))
	pooled = append(pooled, x...)
	pooled = append(pooled, y...)

	// Null distribution: resample both groups from the pooled sample
	countGeq, countLeq := 0, 0
	for i := 0; i < iterations; i++ {
		nullDiff := resampleMean(rng, pooled, len(y)) - resampleMean(rng, pooled, len(x))
		if nullDiff >= observed {
			countGeq++
		}
		if nullDiff <= observed {
			countLeq++
		}
	}
	total := float64(iterations)
	var pValue float64
	switch {
	case opts.OneSided && opts.HigherIsBetter:
		pValue = float64(countGeq) / total
	case opts.OneSided:
		pValue = float64(countLeq) / total
	case observed >= 0:
		pValue = 2 * float64(countGeq) / total
	default:
		pValue = 2 * float64(countLeq) / total
	}
	pValue = clampProbability(pValue)

	// Percentile CI: resample each group from itself
	diffs := make([]float64, iterations)
	for i := 0; i < iterations; i++ {
		diffs[i] = resampleMean(rng, y, len(y)) - resampleMean(rng, x, len(x))
	}
	level := opts.confidenceLevel()
	lower, _ := stats.Percentile(diffs, 100*(1-level)/2)
	upper, _ := stats.Percentile(diffs, 100*(1+level)/2)
	if lower > upper {
		lower, upper = upper, lower
	}

	return experiment.TestResult{
		TestName:      string(TestBootstrap),
		Statistic:     observed,
		PValue:        pValue,
		EffectSize:    observed,
		CI:            experiment.ConfidenceInterval{Lower: lower, Upper: upper, Level: level},
		ControlMean:   meanX,
		TreatmentMean: meanY,
		ControlN:      len(x),
		TreatmentN:    len(y),
	}, nil
}

// resampleMean draws size observations with replacement and returns
// their mean.
func resampleMean(rng *rand.Rand, data []float64, size int) float64 {
	sum := 0.0
	for i := 0; i < size; i++ {
		sum += data[rng.Intn(len(data))]
	}
	return sum / float64(size)
}

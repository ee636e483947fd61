package engine

import (
	"ablab/domain/core"
	"ablab/domain/experiment"
)

// proportionSummary builds a variant summary for a binary metric from
// its totals.
func proportionSummary(id core.VariantID, metric string, n, successes int) experiment.VariantSummary {
	return experiment.VariantSummary{
		VariantID: id,
		UnitCount: n,
		Metrics: map[string]experiment.MetricAggregate{
			metric: {
				Count:        n,
				Sum:          float64(successes),
				SumOfSquares: float64(successes),
				SuccessCount: successes,
			},
		},
	}
}

// continuousSummary builds a variant summary for a continuous metric
// from raw per-unit values.
func continuousSummary(id core.VariantID, metric string, values []float64) experiment.VariantSummary {
	agg := experiment.MetricAggregate{}
	for _, v := range values {
		agg.Count++
		agg.Sum += v
		agg.SumOfSquares += v * v
	}
	return experiment.VariantSummary{
		VariantID: id,
		UnitCount: len(values),
		Metrics:   map[string]experiment.MetricAggregate{metric: agg},
		Values:    map[string][]float64{metric: values},
	}
}

func seq(base float64, deltas ...float64) []float64 {
	out := make([]float64, len(deltas))
	for i, d := range deltas {
		out[i] = base + d
	}
	return out
}

func approx(got, want, tol float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff <= tol
}

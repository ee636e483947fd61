package experiment

import (
	"math"
	"testing"

	"ablab/domain/core"
)

func TestMetricAggregateMoments(t *testing.T) {
	agg := MetricAggregate{Count: 4, Sum: 10, SumOfSquares: 30}
	if agg.Mean() != 2.5 {
		t.Errorf("mean = %g, want 2.5", agg.Mean())
	}
	// Sample variance of {1,2,3,4}
	if math.Abs(agg.Variance()-5.0/3.0) > 1e-9 {
		t.Errorf("variance = %g, want %g", agg.Variance(), 5.0/3.0)
	}

	// Catastrophic cancellation must not yield a negative variance
	degenerate := MetricAggregate{Count: 3, Sum: 3e8, SumOfSquares: 3e16}
	if degenerate.Variance() < 0 {
		t.Errorf("variance = %g, want non-negative", degenerate.Variance())
	}

	empty := MetricAggregate{}
	if empty.Mean() != 0 || empty.Variance() != 0 {
		t.Errorf("empty aggregate moments = %g/%g, want 0/0", empty.Mean(), empty.Variance())
	}
}

func TestMetricAggregateRate(t *testing.T) {
	agg := MetricAggregate{Count: 200, SuccessCount: 50}
	if agg.Rate() != 0.25 {
		t.Errorf("rate = %g, want 0.25", agg.Rate())
	}
	if (MetricAggregate{}).Rate() != 0 {
		t.Errorf("empty rate should be 0")
	}
}

func TestDesignAllocationNormalization(t *testing.T) {
	design := DesignConfig{
		Variants:         []core.VariantID{"control", "treatment"},
		VariantCount:     2,
		AllocationRatios: []float64{3, 1},
	}
	if design.Allocation(0) != 0.75 || design.Allocation(1) != 0.25 {
		t.Errorf("allocations = %g/%g, want 0.75/0.25", design.Allocation(0), design.Allocation(1))
	}

	// Missing or mismatched ratios fall back to an equal split
	design.AllocationRatios = nil
	if design.Allocation(0) != 0.5 {
		t.Errorf("equal-split allocation = %g, want 0.5", design.Allocation(0))
	}
}

func TestTestResultFavorable(t *testing.T) {
	up := TestResult{ControlMean: 0.05, TreatmentMean: 0.06}
	if !up.Favorable(true) || up.Favorable(false) {
		t.Error("an increase favors higher-is-better only")
	}
	down := TestResult{ControlMean: 120, TreatmentMean: 100}
	if down.Favorable(true) || !down.Favorable(false) {
		t.Error("a decrease favors lower-is-better only")
	}
}

func TestDecisionValidate(t *testing.T) {
	valid := Decision{
		Recommendation: RecommendShip,
		Confidence:     0.9,
		Rationale:      []string{"because"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid decision rejected: %v", err)
	}

	for name, d := range map[string]Decision{
		"unknown recommendation":  {Recommendation: "maybe", Confidence: 0.5, Rationale: []string{"x"}},
		"confidence out of range": {Recommendation: RecommendShip, Confidence: 1.5, Rationale: []string{"x"}},
		"empty rationale":         {Recommendation: RecommendIterate, Confidence: 0.5},
	} {
		if err := d.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

package experiment

import (
	"fmt"
	"math"

	"ablab/domain/core"
)

// MetricType defines how a metric's observations are measured
type MetricType string

const (
	MetricProportion MetricType = "proportion" // binary success flag per unit
	MetricContinuous MetricType = "continuous" // numeric value per unit
)

// MetricDefinition describes a metric tracked by an experiment.
// Immutable once the experiment is designed.
type MetricDefinition struct {
	Name           string     `json:"name"`
	Type           MetricType `json:"type"`
	HigherIsBetter bool       `json:"higher_is_better"`
	IsGuardrail    bool       `json:"is_guardrail"`
}

// Event is one per-unit observation: a variant assignment plus a metric
// value. For proportion metrics Value is the success flag (0 or 1).
// An event with an empty Metric records exposure only.
type Event struct {
	UnitID    string         `json:"unit_id"`
	VariantID core.VariantID `json:"variant_id"`
	Metric    string         `json:"metric,omitempty"`
	Value     float64        `json:"value"`
}

// MetricAggregate holds the per-variant reduction of one metric.
// Count is the number of units with at least one observation for the
// metric; units without an observation are excluded, not zero-filled.
type MetricAggregate struct {
	Count        int     `json:"count"`
	Sum          float64 `json:"sum"`
	SumOfSquares float64 `json:"sum_of_squares"`
	SuccessCount int     `json:"success_count"`
}

// Mean returns the sample mean (proportion rate for binary metrics).
func (a MetricAggregate) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Rate returns the success rate for a proportion metric.
func (a MetricAggregate) Rate() float64 {
	if a.Count == 0 {
		return 0
	}
	return float64(a.SuccessCount) / float64(a.Count)
}

// Variance returns the unbiased sample variance.
func (a MetricAggregate) Variance() float64 {
	if a.Count < 2 {
		return 0
	}
	n := float64(a.Count)
	v := (a.SumOfSquares - a.Sum*a.Sum/n) / (n - 1)
	if v < 0 {
		// Guard against catastrophic cancellation on constant samples
		return 0
	}
	return v
}

// StdDev returns the unbiased sample standard deviation.
func (a MetricAggregate) StdDev() float64 {
	return math.Sqrt(a.Variance())
}

// VariantSummary is the per-variant aggregate produced by one analysis
// run. Values retains raw per-unit observations for continuous metrics
// so rank and resampling tests can run from the same summary. Never
// mutated after creation.
type VariantSummary struct {
	VariantID core.VariantID             `json:"variant_id"`
	UnitCount int                        `json:"unit_count"`
	Metrics   map[string]MetricAggregate `json:"metrics"`
	Values    map[string][]float64       `json:"-"`
}

// Aggregate returns the aggregate for a metric, if present.
func (s VariantSummary) Aggregate(metric string) (MetricAggregate, bool) {
	agg, ok := s.Metrics[metric]
	return agg, ok
}

// DesignConfig captures the sized design of an experiment.
// RequiredSampleSizePerVariant is always recomputed from the other
// fields, never hand-edited.
type DesignConfig struct {
	PrimaryMetric  MetricDefinition   `json:"primary_metric"`
	Guardrails     []MetricDefinition `json:"guardrails,omitempty"`
	Variants       []core.VariantID   `json:"variants"` // control first
	Baseline       float64            `json:"baseline_rate_or_mean"`
	BaselineStdDev float64            `json:"baseline_std_dev,omitempty"` // continuous metrics only
	MDE            float64            `json:"minimum_detectable_effect"`
	Alpha          float64            `json:"alpha"`
	Power          float64            `json:"power"`
	VariantCount   int                `json:"variant_count"`
	OneSided       bool               `json:"one_sided"`
	// AllocationRatios is the intended traffic split, control first.
	// Empty means equal allocation.
	AllocationRatios             []float64 `json:"allocation_ratios,omitempty"`
	RequiredSampleSizePerVariant int       `json:"required_sample_size_per_variant"`
	EstimatedDurationDays        int       `json:"estimated_duration_days"`
}

// ControlVariant returns the designated control variant ID.
func (d DesignConfig) ControlVariant() core.VariantID {
	if len(d.Variants) == 0 {
		return ""
	}
	return d.Variants[0]
}

// Allocation returns the intended allocation ratio for variant index i,
// normalized so the ratios sum to one.
func (d DesignConfig) Allocation(i int) float64 {
	if len(d.AllocationRatios) != d.VariantCount {
		return 1.0 / float64(d.VariantCount)
	}
	total := 0.0
	for _, r := range d.AllocationRatios {
		total += r
	}
	if total <= 0 {
		return 1.0 / float64(d.VariantCount)
	}
	return d.AllocationRatios[i] / total
}

// ConfidenceInterval is an ordered interval in the metric's own unit.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// Validate checks the ordering invariant.
func (ci ConfidenceInterval) Validate() error {
	if ci.Lower > ci.Upper {
		return fmt.Errorf("confidence interval bounds out of order: [%f, %f]", ci.Lower, ci.Upper)
	}
	return nil
}

// TestResult is the outcome of one hypothesis test.
type TestResult struct {
	TestName         string             `json:"test_name"`
	Statistic        float64            `json:"statistic"`
	PValue           float64            `json:"p_value"`
	DegreesOfFreedom float64            `json:"degrees_of_freedom,omitempty"`
	EffectSize       float64            `json:"effect_size"`
	CI               ConfidenceInterval `json:"confidence_interval"`
	ControlMean      float64            `json:"control_mean"`
	TreatmentMean    float64            `json:"treatment_mean"`
	ControlN         int                `json:"control_n"`
	TreatmentN       int                `json:"treatment_n"`
}

// Validate checks the p-value and interval invariants.
func (r TestResult) Validate() error {
	if r.PValue < 0 || r.PValue > 1 {
		return fmt.Errorf("test %s: p-value must be in [0,1], got %f", r.TestName, r.PValue)
	}
	return r.CI.Validate()
}

// Favorable reports whether the observed effect direction favors the
// metric's preferred direction.
func (r TestResult) Favorable(higherIsBetter bool) bool {
	if higherIsBetter {
		return r.TreatmentMean > r.ControlMean
	}
	return r.TreatmentMean < r.ControlMean
}

// EffectSize bundles the standardized and unstandardized views of the
// observed difference. RelativeLift is undefined (not infinite) when
// the control rate is zero; AbsoluteDifference is always present.
type EffectSize struct {
	AbsoluteDifference  float64            `json:"absolute_difference"`
	RelativeLift        float64            `json:"relative_lift,omitempty"`
	RelativeLiftDefined bool               `json:"relative_lift_defined"`
	Standardized        float64            `json:"standardized"`
	StandardizedName    string             `json:"standardized_name"` // "cohens_h" or "cohens_d"
	Interpretation      string             `json:"interpretation"`
	CI                  ConfidenceInterval `json:"confidence_interval"`
}

// QualityReport flags data-quality problems found before trusting a
// test result.
type QualityReport struct {
	SRMDetected        bool     `json:"srm_detected"`
	SRMPValue          float64  `json:"srm_p_value"`
	SampleSizeAdequate bool     `json:"sample_size_adequate"`
	Warnings           []string `json:"warnings"`
}

// AnalysisResult is everything the decision policy consumes.
type AnalysisResult struct {
	AnalysisID       core.AnalysisID       `json:"analysis_id"`
	PrimaryMetric    string                `json:"primary_metric"`
	PrimaryResult    TestResult            `json:"primary_result"`
	PrimaryEffect    EffectSize            `json:"primary_effect"`
	GuardrailResults map[string]TestResult `json:"guardrail_results,omitempty"`
	Quality          QualityReport         `json:"quality"`
	// PowerAchieved is the retrospective power estimate at the observed
	// sample size, or zero when not computable.
	PowerAchieved float64        `json:"power_achieved,omitempty"`
	ComputedAt    core.Timestamp `json:"computed_at"`
}

// Recommendation is a terminal decision state.
type Recommendation string

const (
	RecommendShip    Recommendation = "ship"
	RecommendNoShip  Recommendation = "no_ship"
	RecommendIterate Recommendation = "iterate"
)

// Decision is the final, explainable output of an analysis run.
// Rationale is always non-empty; every rule that fired appends at
// least one line.
type Decision struct {
	Recommendation   Recommendation        `json:"recommendation"`
	Confidence       float64               `json:"confidence"`
	Rationale        []string              `json:"rationale"`
	PrimaryResult    TestResult            `json:"primary_result"`
	GuardrailResults map[string]TestResult `json:"guardrail_results,omitempty"`
	Quality          QualityReport         `json:"quality"`
}

// Validate checks the decision invariants.
func (d Decision) Validate() error {
	switch d.Recommendation {
	case RecommendShip, RecommendNoShip, RecommendIterate:
	default:
		return fmt.Errorf("unknown recommendation %q", d.Recommendation)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %f", d.Confidence)
	}
	if len(d.Rationale) == 0 {
		return fmt.Errorf("rationale must not be empty")
	}
	return nil
}

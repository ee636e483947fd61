package app

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"ablab/adapters/stats/engine"
	"ablab/domain/core"
	"ablab/domain/experiment"
	"ablab/internal/config"
	"ablab/internal/errors"
	"ablab/internal/policy"
	"ablab/ports"
)

// AnalysisService is the library facade over the experiment engine:
// design sizing, event aggregation, statistical analysis, and the
// final decision. Every operation is a pure function over its inputs;
// concurrent analyses on independent inputs need no coordination.
type AnalysisService struct {
	cfg        config.AnalysisConfig
	aggregator *engine.Aggregator
	power      *engine.PowerCalculator
	selector   *engine.Selector
	tests      *engine.TestEngine
	effects    *engine.EffectSizeEngine
	quality    *engine.QualityValidator
	policy     *policy.DecisionEngine
}

// NewAnalysisService wires the engine components with the configured
// thresholds.
func NewAnalysisService(cfg config.AnalysisConfig, rng ports.RNGPort) *AnalysisService {
	return &AnalysisService{
		cfg:        cfg,
		aggregator: engine.NewAggregator(),
		power:      engine.NewPowerCalculator(),
		selector:   engine.NewSelector(),
		tests:      engine.NewTestEngine(rng, cfg.BootstrapIterationCap),
		effects:    engine.NewEffectSizeEngine(),
		quality:    engine.NewQualityValidator(cfg.SRMThreshold, cfg.AdequacyTolerance),
		policy:     policy.NewDecisionEngine(),
	}
}

// DesignRequest carries the design-time inputs for an experiment.
// Alpha and Power at zero mean "use the configured default"; negative
// or otherwise out-of-range values are rejected. The same zero-as-unset
// convention applies to VariantCount and TrafficAllocation.
type DesignRequest struct {
	PrimaryMetric        experiment.MetricDefinition   `json:"primary_metric"`
	Guardrails           []experiment.MetricDefinition `json:"guardrails,omitempty"`
	Baseline             float64                       `json:"baseline_rate_or_mean"`
	BaselineStdDev       float64                       `json:"baseline_std_dev,omitempty"`
	MDE                  float64                       `json:"minimum_detectable_effect"`
	Alpha                float64                       `json:"alpha,omitempty"`
	Power                float64                       `json:"power,omitempty"`
	VariantCount         int                           `json:"variant_count,omitempty"`
	OneSided             bool                          `json:"one_sided,omitempty"`
	Variants             []core.VariantID              `json:"variants,omitempty"`
	AllocationRatios     []float64                     `json:"allocation_ratios,omitempty"`
	ExpectedDailyTraffic int                           `json:"expected_daily_traffic"`
	TrafficAllocation    float64                       `json:"traffic_allocation,omitempty"`
}

// ComputeDesign sizes an experiment: required per-variant sample size
// and estimated duration, both always recomputed from the request.
func (s *AnalysisService) ComputeDesign(req DesignRequest) (experiment.DesignConfig, error) {
	alpha := req.Alpha
	if alpha == 0 {
		alpha = s.cfg.DefaultAlpha
	}
	power := req.Power
	if power == 0 {
		power = s.cfg.DefaultPower
	}
	variantCount := req.VariantCount
	if variantCount == 0 {
		variantCount = 2
	}
	if variantCount < 2 {
		return experiment.DesignConfig{}, errors.Parameter("variant count must be at least 2, got %d", variantCount)
	}
	trafficAllocation := req.TrafficAllocation
	if trafficAllocation == 0 {
		trafficAllocation = 1.0
	}

	params := engine.PowerParams{
		MetricType:     req.PrimaryMetric.Type,
		Baseline:       req.Baseline,
		BaselineStdDev: req.BaselineStdDev,
		MDE:            req.MDE,
		Alpha:          alpha,
		Power:          power,
		OneSided:       req.OneSided,
	}
	sampleSize, err := s.power.RequiredSampleSize(params)
	if err != nil {
		return experiment.DesignConfig{}, err
	}
	duration, err := s.power.EstimateDuration(sampleSize, req.ExpectedDailyTraffic, variantCount, trafficAllocation)
	if err != nil {
		return experiment.DesignConfig{}, err
	}

	variants := req.Variants
	if len(variants) == 0 {
		variants = defaultVariants(variantCount)
	}
	if len(variants) != variantCount {
		return experiment.DesignConfig{}, errors.Parameter(
			"declared %d variant IDs for a %d-variant design", len(variants), variantCount)
	}

	return experiment.DesignConfig{
		PrimaryMetric:                req.PrimaryMetric,
		Guardrails:                   req.Guardrails,
		Variants:                     variants,
		Baseline:                     req.Baseline,
		BaselineStdDev:               req.BaselineStdDev,
		MDE:                          req.MDE,
		Alpha:                        alpha,
		Power:                        power,
		VariantCount:                 variantCount,
		OneSided:                     req.OneSided,
		AllocationRatios:             req.AllocationRatios,
		RequiredSampleSizePerVariant: sampleSize,
		EstimatedDurationDays:        duration,
	}, nil
}

// defaultVariants names the variants when the caller declares none.
func defaultVariants(count int) []core.VariantID {
	variants := []core.VariantID{"control", "treatment"}
	for i := 2; i < count; i++ {
		variants = append(variants, core.VariantID(fmt.Sprintf("treatment_%d", i)))
	}
	return variants[:count]
}

// Aggregate reduces raw events into per-variant summaries.
func (s *AnalysisService) Aggregate(events []experiment.Event, design experiment.DesignConfig) (map[core.VariantID]experiment.VariantSummary, error) {
	return s.aggregator.Aggregate(events, design)
}

// AnalyzeOptions tune one analysis run.
type AnalyzeOptions struct {
	// RequestedTest overrides the default test selection when non-empty.
	RequestedTest engine.TestName
	// Seed drives bootstrap resampling; zero uses the configured default.
	Seed int64
}

// Analyze runs quality checks, the primary hypothesis test, guardrail
// tests, and effect sizing over the aggregated summaries. Guardrail
// analyses run in parallel; inputs are immutable so no locks are
// needed.
func (s *AnalysisService) Analyze(summaries map[core.VariantID]experiment.VariantSummary, design experiment.DesignConfig, opts AnalyzeOptions) (experiment.AnalysisResult, error) {
	control, treatment, err := controlTreatment(summaries, design)
	if err != nil {
		return experiment.AnalysisResult{}, err
	}

	quality, err := s.quality.Validate(summaries, design)
	if err != nil {
		return experiment.AnalysisResult{}, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = s.cfg.BootstrapSeed
	}

	testName, err := s.selector.Select(design.PrimaryMetric, opts.RequestedTest, control, treatment)
	if err != nil {
		return experiment.AnalysisResult{}, err
	}
	primaryOpts := engine.TestOptions{
		Metric:              design.PrimaryMetric.Name,
		Alpha:               design.Alpha,
		OneSided:            design.OneSided,
		HigherIsBetter:      design.PrimaryMetric.HigherIsBetter,
		BootstrapIterations: s.cfg.BootstrapIterations,
		Seed:                seed,
	}
	primary, err := s.tests.Run(testName, control, treatment, primaryOpts)
	if err != nil {
		return experiment.AnalysisResult{}, err
	}

	controlAgg, _ := control.Aggregate(design.PrimaryMetric.Name)
	treatmentAgg, _ := treatment.Aggregate(design.PrimaryMetric.Name)
	effect, err := s.effects.Compute(design.PrimaryMetric, controlAgg, treatmentAgg, 1-design.Alpha)
	if err != nil {
		return experiment.AnalysisResult{}, err
	}

	guardrailResults, guardrailWarnings, err := s.analyzeGuardrails(control, treatment, design, seed)
	if err != nil {
		return experiment.AnalysisResult{}, err
	}
	quality.Warnings = append(quality.Warnings, guardrailWarnings...)

	result := experiment.AnalysisResult{
		AnalysisID:       core.AnalysisID(core.NewID()),
		PrimaryMetric:    design.PrimaryMetric.Name,
		PrimaryResult:    primary,
		PrimaryEffect:    effect,
		GuardrailResults: guardrailResults,
		Quality:          quality,
		PowerAchieved:    s.achievedPower(primary, design),
		ComputedAt:       core.Now(),
	}
	return result, nil
}

// analyzeGuardrails runs each guardrail's test concurrently. A
// guardrail with statistically degenerate data becomes a warning, not
// a failed analysis.
func (s *AnalysisService) analyzeGuardrails(control, treatment experiment.VariantSummary, design experiment.DesignConfig, seed int64) (map[string]experiment.TestResult, []string, error) {
	if len(design.Guardrails) == 0 {
		return nil, nil, nil
	}

	type slot struct {
		result  experiment.TestResult
		warning string
		ok      bool
	}
	slots := make([]slot, len(design.Guardrails))

	var g errgroup.Group
	for i, guardrail := range design.Guardrails {
		i, guardrail := i, guardrail
		g.Go(func() error {
			testName, err := s.selector.Select(guardrail, "", control, treatment)
			if err != nil {
				return err
			}
			result, err := s.tests.Run(testName, control, treatment, engine.TestOptions{
				Metric:              guardrail.Name,
				Alpha:               design.Alpha,
				HigherIsBetter:      guardrail.HigherIsBetter,
				BootstrapIterations: s.cfg.BootstrapIterations,
				Seed:                seed,
			})
			if err != nil {
				if errors.IsInsufficientData(err) {
					slots[i] = slot{warning: fmt.Sprintf("guardrail %s skipped: %v", guardrail.Name, err)}
					return nil
				}
				return err
			}
			slots[i] = slot{result: result, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	results := make(map[string]experiment.TestResult)
	var warnings []string
	for i, guardrail := range design.Guardrails {
		if slots[i].ok {
			results[guardrail.Name] = slots[i].result
		} else if slots[i].warning != "" {
			warnings = append(warnings, slots[i].warning)
		}
	}
	sort.Strings(warnings)
	return results, warnings, nil
}

// achievedPower estimates retrospective power at the observed sample
// size; zero when not computable.
func (s *AnalysisService) achievedPower(primary experiment.TestResult, design experiment.DesignConfig) float64 {
	n := primary.ControlN
	if primary.TreatmentN < n {
		n = primary.TreatmentN
	}
	power, err := s.power.AchievedPower(n, engine.PowerParams{
		MetricType:     design.PrimaryMetric.Type,
		Baseline:       design.Baseline,
		BaselineStdDev: design.BaselineStdDev,
		MDE:            design.MDE,
		Alpha:          design.Alpha,
		OneSided:       design.OneSided,
	})
	if err != nil {
		return 0
	}
	return power
}

// Decide applies the decision policy to an analysis result.
func (s *AnalysisService) Decide(analysis experiment.AnalysisResult, design experiment.DesignConfig) experiment.Decision {
	return s.policy.Decide(analysis, design)
}

// Run is the end-to-end convenience: aggregate, analyze, decide.
func (s *AnalysisService) Run(events []experiment.Event, design experiment.DesignConfig, opts AnalyzeOptions) (experiment.AnalysisResult, experiment.Decision, error) {
	summaries, err := s.Aggregate(events, design)
	if err != nil {
		return experiment.AnalysisResult{}, experiment.Decision{}, err
	}
	analysis, err := s.Analyze(summaries, design, opts)
	if err != nil {
		return experiment.AnalysisResult{}, experiment.Decision{}, err
	}
	return analysis, s.Decide(analysis, design), nil
}

// controlTreatment picks the control and first treatment summaries.
// Analysis is pairwise; additional variants participate in the SRM
// check but not the primary comparison.
func controlTreatment(summaries map[core.VariantID]experiment.VariantSummary, design experiment.DesignConfig) (experiment.VariantSummary, experiment.VariantSummary, error) {
	if len(design.Variants) < 2 {
		return experiment.VariantSummary{}, experiment.VariantSummary{},
			errors.Data("design must declare at least 2 variants")
	}
	control, ok := summaries[design.Variants[0]]
	if !ok {
		return experiment.VariantSummary{}, experiment.VariantSummary{},
			errors.Data("missing summary for control variant %s", design.Variants[0])
	}
	treatment, ok := summaries[design.Variants[1]]
	if !ok {
		return experiment.VariantSummary{}, experiment.VariantSummary{},
			errors.Data("missing summary for treatment variant %s", design.Variants[1])
	}
	return control, treatment, nil
}

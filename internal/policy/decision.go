package policy

import (
	"fmt"
	"math"
	"sort"

	"ablab/domain/experiment"
)

// DecisionEngine turns an analysis result into a ship/no-ship/iterate
// recommendation. The policy is a prioritized rule chain evaluated
// top-down with early exit: guardrail protection always outranks
// primary-metric success, and a detected randomization imbalance
// invalidates inference entirely. Pure function of its inputs.
type DecisionEngine struct {
	rules []rule
	// underpoweredDiscount scales ship confidence down when the sample
	// never reached the designed size.
	underpoweredDiscount float64
	// defaultIterateConfidence is used when no retrospective power
	// estimate is available.
	defaultIterateConfidence float64
}

// input bundles everything a rule may inspect.
type input struct {
	analysis experiment.AnalysisResult
	design   experiment.DesignConfig
}

// outcome is a rule's verdict when it fires.
type outcome struct {
	recommendation experiment.Recommendation
	confidence     float64
	rationale      []string
}

// rule is one predicate/outcome pair in the chain.
type rule struct {
	name  string
	apply func(in input) (outcome, bool)
}

// NewDecisionEngine creates the policy with its fixed rule ordering.
func NewDecisionEngine() *DecisionEngine {
	e := &DecisionEngine{
		underpoweredDiscount:     0.75,
		defaultIterateConfidence: 0.5,
	}
	e.rules = []rule{
		{name: "srm_invalidates_inference", apply: e.srmRule},
		{name: "guardrail_breach", apply: e.guardrailRule},
		{name: "significant_favorable", apply: e.shipRule},
		{name: "significant_unfavorable", apply: e.noShipRule},
		{name: "inconclusive", apply: e.iterateRule},
	}
	return e
}

// Decide evaluates the rule chain; the first matching rule wins.
func (e *DecisionEngine) Decide(analysis experiment.AnalysisResult, design experiment.DesignConfig) experiment.Decision {
	in := input{analysis: analysis, design: design}
	for _, r := range e.rules {
		if out, fired := r.apply(in); fired {
			return experiment.Decision{
				Recommendation:   out.recommendation,
				Confidence:       clamp01(out.confidence),
				Rationale:        out.rationale,
				PrimaryResult:    analysis.PrimaryResult,
				GuardrailResults: analysis.GuardrailResults,
				Quality:          analysis.Quality,
			}
		}
	}
	// The iterate rule always fires; this is unreachable.
	return experiment.Decision{
		Recommendation: experiment.RecommendIterate,
		Confidence:     e.defaultIterateConfidence,
		Rationale:      []string{"no decision rule matched"},
		PrimaryResult:  analysis.PrimaryResult,
		Quality:        analysis.Quality,
	}
}

// srmRule: a sample ratio mismatch downgrades any outcome to iterate.
func (e *DecisionEngine) srmRule(in input) (outcome, bool) {
	q := in.analysis.Quality
	if !q.SRMDetected {
		return outcome{}, false
	}
	confidence := math.Min(0.99, 1-q.SRMPValue)
	return outcome{
		recommendation: experiment.RecommendIterate,
		confidence:     confidence,
		rationale: []string{
			fmt.Sprintf("SRM detected (p=%.6f): observed allocation deviates from the designed split", q.SRMPValue),
			"randomization imbalance invalidates inference; fix assignment or logging and rerun the experiment",
		},
	}, true
}

// guardrailRule: any guardrail harmed at significance vetoes a ship.
func (e *DecisionEngine) guardrailRule(in input) (outcome, bool) {
	if len(in.analysis.GuardrailResults) == 0 {
		return outcome{}, false
	}

	directions := make(map[string]bool, len(in.design.Guardrails))
	for _, g := range in.design.Guardrails {
		directions[g.Name] = g.HigherIsBetter
	}

	names := make([]string, 0, len(in.analysis.GuardrailResults))
	for name := range in.analysis.GuardrailResults {
		names = append(names, name)
	}
	sort.Strings(names)

	var breached []string
	worstP := 1.0
	for _, name := range names {
		result := in.analysis.GuardrailResults[name]
		higherIsBetter, known := directions[name]
		if !known {
			continue
		}
		if result.PValue < in.design.Alpha && !result.Favorable(higherIsBetter) {
			breached = append(breached, name)
			if result.PValue < worstP {
				worstP = result.PValue
			}
		}
	}
	if len(breached) == 0 {
		return outcome{}, false
	}

	rationale := make([]string, 0, len(breached)+1)
	for _, name := range breached {
		result := in.analysis.GuardrailResults[name]
		rationale = append(rationale, fmt.Sprintf(
			"guardrail %s degraded significantly (p=%.4f < alpha=%.2f)", name, result.PValue, in.design.Alpha))
	}
	rationale = append(rationale, "guardrail protection outranks primary-metric results")

	return outcome{
		recommendation: experiment.RecommendNoShip,
		confidence:     math.Min(0.99, 1-worstP),
		rationale:      rationale,
	}, true
}

// shipRule: primary metric significant in the favored direction.
func (e *DecisionEngine) shipRule(in input) (outcome, bool) {
	primary := in.analysis.PrimaryResult
	if primary.PValue >= in.design.Alpha || !primary.Favorable(in.design.PrimaryMetric.HigherIsBetter) {
		return outcome{}, false
	}

	confidence := math.Min(0.99, 1-primary.PValue)
	rationale := []string{fmt.Sprintf(
		"primary metric %s improved significantly (p=%.4f < alpha=%.2f, %+.4f)",
		in.analysis.PrimaryMetric, primary.PValue, in.design.Alpha, primary.TreatmentMean-primary.ControlMean)}
	if in.analysis.PrimaryEffect.RelativeLiftDefined {
		rationale = append(rationale, fmt.Sprintf("relative lift %+.1f%% (%s effect)",
			100*in.analysis.PrimaryEffect.RelativeLift, in.analysis.PrimaryEffect.Interpretation))
	}
	if !in.analysis.Quality.SampleSizeAdequate {
		confidence *= e.underpoweredDiscount
		rationale = append(rationale, "observed sample is below the designed size; confidence discounted")
	}

	return outcome{
		recommendation: experiment.RecommendShip,
		confidence:     confidence,
		rationale:      rationale,
	}, true
}

// noShipRule: primary metric significant against the favored direction.
func (e *DecisionEngine) noShipRule(in input) (outcome, bool) {
	primary := in.analysis.PrimaryResult
	if primary.PValue >= in.design.Alpha {
		return outcome{}, false
	}
	return outcome{
		recommendation: experiment.RecommendNoShip,
		confidence:     math.Min(0.99, 1-primary.PValue),
		rationale: []string{fmt.Sprintf(
			"primary metric %s moved significantly in the unfavorable direction (p=%.4f, %+.4f)",
			in.analysis.PrimaryMetric, primary.PValue, primary.TreatmentMean-primary.ControlMean)},
	}, true
}

// iterateRule: no significance; always fires as the chain terminator.
func (e *DecisionEngine) iterateRule(in input) (outcome, bool) {
	confidence := e.defaultIterateConfidence
	rationale := []string{fmt.Sprintf(
		"no significant difference on primary metric %s (p=%.4f >= alpha=%.2f)",
		in.analysis.PrimaryMetric, in.analysis.PrimaryResult.PValue, in.design.Alpha)}

	if power := in.analysis.PowerAchieved; power > 0 && power < 1 {
		confidence = 1 - power
		rationale = append(rationale, fmt.Sprintf("achieved power %.2f at the observed sample size", power))
	}
	if !in.analysis.Quality.SampleSizeAdequate {
		rationale = append(rationale, "sample has not reached the designed size; keep collecting")
	}

	return outcome{
		recommendation: experiment.RecommendIterate,
		confidence:     confidence,
		rationale:      rationale,
	}, true
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

package policy

import (
	"strings"
	"testing"

	"ablab/domain/core"
	"ablab/domain/experiment"
)

func policyDesign(guardrails ...experiment.MetricDefinition) experiment.DesignConfig {
	return experiment.DesignConfig{
		PrimaryMetric: experiment.MetricDefinition{
			Name:           "conversion",
			Type:           experiment.MetricProportion,
			HigherIsBetter: true,
		},
		Guardrails:   guardrails,
		Variants:     []core.VariantID{"control", "treatment"},
		VariantCount: 2,
		Alpha:        0.05,
	}
}

func result(p, controlMean, treatmentMean float64) experiment.TestResult {
	return experiment.TestResult{
		TestName:      "two_proportion_ztest",
		PValue:        p,
		ControlMean:   controlMean,
		TreatmentMean: treatmentMean,
		ControlN:      10000,
		TreatmentN:    10000,
	}
}

func analysis(primary experiment.TestResult) experiment.AnalysisResult {
	return experiment.AnalysisResult{
		PrimaryMetric: "conversion",
		PrimaryResult: primary,
		Quality:       experiment.QualityReport{SampleSizeAdequate: true},
	}
}

func TestDecideShipsSignificantImprovement(t *testing.T) {
	engine := NewDecisionEngine()
	a := analysis(result(0.003, 0.050, 0.055))

	decision := engine.Decide(a, policyDesign())
	if err := decision.Validate(); err != nil {
		t.Fatalf("invalid decision: %v", err)
	}
	if decision.Recommendation != experiment.RecommendShip {
		t.Fatalf("recommendation = %q, want ship", decision.Recommendation)
	}
	if decision.Confidence < 0.9 {
		t.Errorf("confidence = %.3f, want > 0.9 for p=0.003", decision.Confidence)
	}
	if len(decision.Rationale) == 0 || !strings.Contains(decision.Rationale[0], "conversion") {
		t.Errorf("rationale should name the metric, got %v", decision.Rationale)
	}
}

func TestDecideIteratesOnNoSignal(t *testing.T) {
	engine := NewDecisionEngine()
	a := analysis(result(0.62, 0.0300, 0.0305))
	a.PowerAchieved = 0.15
	a.Quality.SampleSizeAdequate = false

	decision := engine.Decide(a, policyDesign())
	if decision.Recommendation != experiment.RecommendIterate {
		t.Fatalf("recommendation = %q, want iterate", decision.Recommendation)
	}
	// Confidence reflects how little the data could have shown
	if !approxEq(decision.Confidence, 0.85, 1e-9) {
		t.Errorf("confidence = %.3f, want 1 - achieved power = 0.85", decision.Confidence)
	}
	joined := strings.Join(decision.Rationale, " ")
	if !strings.Contains(joined, "power") || !strings.Contains(joined, "keep collecting") {
		t.Errorf("rationale should mention power and continued collection, got %v", decision.Rationale)
	}
}

func TestDecideNoShipOnSignificantRegression(t *testing.T) {
	engine := NewDecisionEngine()
	a := analysis(result(0.001, 0.60, 0.55))

	decision := engine.Decide(a, policyDesign())
	if decision.Recommendation != experiment.RecommendNoShip {
		t.Fatalf("recommendation = %q, want no_ship", decision.Recommendation)
	}
	if decision.Confidence < 0.99-1e-9 {
		t.Errorf("confidence = %.3f, want 0.99 for p=0.001", decision.Confidence)
	}
}

func TestDecideGuardrailVetoesShip(t *testing.T) {
	engine := NewDecisionEngine()
	design := policyDesign(experiment.MetricDefinition{
		Name:           "retention",
		Type:           experiment.MetricProportion,
		HigherIsBetter: true,
		IsGuardrail:    true,
	})

	// Primary metric clearly wins, but retention degrades significantly
	a := analysis(result(0.001, 0.050, 0.062))
	a.GuardrailResults = map[string]experiment.TestResult{
		"retention": result(0.002, 0.60, 0.55),
	}

	decision := engine.Decide(a, design)
	if decision.Recommendation != experiment.RecommendNoShip {
		t.Fatalf("recommendation = %q, want no_ship despite the primary win", decision.Recommendation)
	}
	joined := strings.Join(decision.Rationale, " ")
	if !strings.Contains(joined, "retention") {
		t.Errorf("rationale should name the breached guardrail, got %v", decision.Rationale)
	}
	if !strings.Contains(joined, "outranks") {
		t.Errorf("rationale should state the guardrail priority, got %v", decision.Rationale)
	}
}

func TestDecideGuardrailMovingFavorablyDoesNotVeto(t *testing.T) {
	engine := NewDecisionEngine()
	design := policyDesign(experiment.MetricDefinition{
		Name:           "retention",
		Type:           experiment.MetricProportion,
		HigherIsBetter: true,
		IsGuardrail:    true,
	})

	a := analysis(result(0.001, 0.050, 0.062))
	a.GuardrailResults = map[string]experiment.TestResult{
		// Significant but in the good direction
		"retention": result(0.002, 0.55, 0.60),
	}

	decision := engine.Decide(a, design)
	if decision.Recommendation != experiment.RecommendShip {
		t.Fatalf("recommendation = %q, want ship when guardrails improve", decision.Recommendation)
	}
}

func TestDecideSRMOutranksEverything(t *testing.T) {
	engine := NewDecisionEngine()
	design := policyDesign(experiment.MetricDefinition{
		Name:           "retention",
		Type:           experiment.MetricProportion,
		HigherIsBetter: true,
	})

	a := analysis(result(0.0001, 0.050, 0.062))
	a.GuardrailResults = map[string]experiment.TestResult{
		"retention": result(0.002, 0.60, 0.55),
	}
	a.Quality = experiment.QualityReport{
		SRMDetected:        true,
		SRMPValue:          0.0001,
		SampleSizeAdequate: true,
	}

	decision := engine.Decide(a, design)
	if decision.Recommendation != experiment.RecommendIterate {
		t.Fatalf("recommendation = %q, want iterate under SRM", decision.Recommendation)
	}
	if !strings.Contains(strings.Join(decision.Rationale, " "), "SRM") {
		t.Errorf("rationale should mention the mismatch, got %v", decision.Rationale)
	}
}

func TestDecideUnderpoweredShipDiscountsConfidence(t *testing.T) {
	engine := NewDecisionEngine()

	adequate := analysis(result(0.003, 0.050, 0.055))
	underpowered := analysis(result(0.003, 0.050, 0.055))
	underpowered.Quality.SampleSizeAdequate = false

	full := engine.Decide(adequate, policyDesign())
	discounted := engine.Decide(underpowered, policyDesign())

	if full.Recommendation != experiment.RecommendShip || discounted.Recommendation != experiment.RecommendShip {
		t.Fatal("both analyses should still ship")
	}
	if discounted.Confidence >= full.Confidence {
		t.Errorf("underpowered confidence %.3f should be below %.3f", discounted.Confidence, full.Confidence)
	}
	if !approxEq(discounted.Confidence, full.Confidence*0.75, 1e-9) {
		t.Errorf("discount should be 25%%: %.4f vs %.4f", discounted.Confidence, full.Confidence*0.75)
	}
}

func approxEq(got, want, tol float64) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= tol
}

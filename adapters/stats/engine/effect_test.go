package engine

import (
	"testing"

	"ablab/domain/experiment"
)

func propAggregate(n, successes int) experiment.MetricAggregate {
	return experiment.MetricAggregate{
		Count:        n,
		Sum:          float64(successes),
		SumOfSquares: float64(successes),
		SuccessCount: successes,
	}
}

func contAggregate(values []float64) experiment.MetricAggregate {
	agg := experiment.MetricAggregate{}
	for _, v := range values {
		agg.Count++
		agg.Sum += v
		agg.SumOfSquares += v * v
	}
	return agg
}

func TestEffectSizeProportion(t *testing.T) {
	engine := NewEffectSizeEngine()
	metric := experiment.MetricDefinition{Name: "conversion", Type: experiment.MetricProportion}

	effect, err := engine.Compute(metric, propAggregate(1000, 50), propAggregate(1000, 70), 0.95)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if !approx(effect.AbsoluteDifference, 0.02, 1e-9) {
		t.Errorf("absolute difference = %.4f, want 0.02", effect.AbsoluteDifference)
	}
	if !effect.RelativeLiftDefined || !approx(effect.RelativeLift, 0.4, 1e-9) {
		t.Errorf("relative lift = %.4f (defined=%v), want 0.40", effect.RelativeLift, effect.RelativeLiftDefined)
	}
	if effect.StandardizedName != "cohens_h" {
		t.Errorf("standardized name = %q, want cohens_h", effect.StandardizedName)
	}
	if !approx(effect.Standardized, 0.0847, 1e-3) {
		t.Errorf("cohens h = %.4f, want ~0.0847", effect.Standardized)
	}
	if effect.Interpretation != "negligible" {
		t.Errorf("interpretation = %q, want negligible", effect.Interpretation)
	}
	if effect.CI.Lower > effect.AbsoluteDifference || effect.CI.Upper < effect.AbsoluteDifference {
		t.Errorf("CI [%f, %f] should contain the observed difference", effect.CI.Lower, effect.CI.Upper)
	}
	if effect.CI.Level != 0.95 {
		t.Errorf("CI level = %.2f, want 0.95", effect.CI.Level)
	}
}

func TestEffectSizeInterpretationBands(t *testing.T) {
	tests := []struct {
		magnitude float64
		want      string
	}{
		{0.1, "negligible"},
		{0.2, "small"},
		{0.49, "small"},
		{0.5, "medium"},
		{0.79, "medium"},
		{0.8, "large"},
		{1.5, "large"},
	}
	for _, tt := range tests {
		if got := interpretStandardized(tt.magnitude); got != tt.want {
			t.Errorf("interpretStandardized(%.2f) = %q, want %q", tt.magnitude, got, tt.want)
		}
	}
}

func TestEffectSizeZeroBaseline(t *testing.T) {
	engine := NewEffectSizeEngine()
	metric := experiment.MetricDefinition{Name: "conversion", Type: experiment.MetricProportion}

	effect, err := engine.Compute(metric, propAggregate(200, 0), propAggregate(200, 10), 0.95)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if effect.RelativeLiftDefined {
		t.Error("relative lift must be undefined at a zero control rate")
	}
	if !approx(effect.AbsoluteDifference, 0.05, 1e-9) {
		t.Errorf("absolute difference = %.4f, want 0.05", effect.AbsoluteDifference)
	}
}

func TestEffectSizeSmallSampleUsesWilson(t *testing.T) {
	engine := NewEffectSizeEngine()
	metric := experiment.MetricDefinition{Name: "conversion", Type: experiment.MetricProportion}

	// 0 of 20 vs 5 of 20: a Wald interval would collapse to a point on
	// the control side; the score interval stays proper.
	effect, err := engine.Compute(metric, propAggregate(20, 0), propAggregate(20, 5), 0.95)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if effect.CI.Lower >= effect.CI.Upper {
		t.Errorf("CI [%f, %f] degenerate for an edge rate", effect.CI.Lower, effect.CI.Upper)
	}
	if effect.CI.Upper <= effect.AbsoluteDifference {
		t.Errorf("score interval upper bound %.4f should exceed the observed difference %.4f",
			effect.CI.Upper, effect.AbsoluteDifference)
	}
}

func TestEffectSizeContinuous(t *testing.T) {
	engine := NewEffectSizeEngine()
	metric := experiment.MetricDefinition{Name: "revenue", Type: experiment.MetricContinuous}

	base := []float64{10, 12, 11, 13, 9, 14, 10, 12, 11, 13}
	shifted := seq(3, base...)
	effect, err := engine.Compute(metric, contAggregate(base), contAggregate(shifted), 0.95)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if !approx(effect.AbsoluteDifference, 3, 1e-9) {
		t.Errorf("absolute difference = %.4f, want 3", effect.AbsoluteDifference)
	}
	if effect.StandardizedName != "cohens_d" {
		t.Errorf("standardized name = %q, want cohens_d", effect.StandardizedName)
	}
	// d = 3 / sqrt(2.5) with a pooled variance of 2.5
	if !approx(effect.Standardized, 1.897, 1e-2) {
		t.Errorf("cohens d = %.4f, want ~1.897", effect.Standardized)
	}
	if effect.Interpretation != "large" {
		t.Errorf("interpretation = %q, want large", effect.Interpretation)
	}
	if effect.CI.Lower > 3 || effect.CI.Upper < 3 {
		t.Errorf("CI [%f, %f] should contain the true shift 3", effect.CI.Lower, effect.CI.Upper)
	}
}

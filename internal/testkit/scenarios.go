package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"ablab/domain/core"
	"ablab/domain/experiment"
)

// Scenario bundles a design with a deterministic synthetic event
// stream. The same seed always yields the same events, so analyses
// over a scenario are reproducible end to end.
type Scenario struct {
	Name   string
	Design experiment.DesignConfig
	Events []experiment.Event
}

// ClearWinner simulates a conversion experiment where the treatment
// genuinely lifts the rate well past the detectable threshold.
func ClearWinner(seed int64) Scenario {
	design := proportionDesign(0.05, 0.01, nil)
	rng := rand.New(rand.NewSource(seed))
	events := conversionEvents(rng, "control", 20000, 0.05, design.PrimaryMetric.Name)
	events = append(events, conversionEvents(rng, "treatment", 20000, 0.062, design.PrimaryMetric.Name)...)
	return Scenario{Name: "clear_winner", Design: design, Events: events}
}

// NoEffect simulates an experiment where both variants convert at the
// same underlying rate and the sample is too small to say otherwise.
func NoEffect(seed int64) Scenario {
	design := proportionDesign(0.05, 0.01, nil)
	rng := rand.New(rand.NewSource(seed))
	events := conversionEvents(rng, "control", 2000, 0.05, design.PrimaryMetric.Name)
	events = append(events, conversionEvents(rng, "treatment", 2000, 0.05, design.PrimaryMetric.Name)...)
	return Scenario{Name: "no_effect", Design: design, Events: events}
}

// GuardrailBreach simulates a treatment that lifts conversion but
// significantly degrades a retention guardrail.
func GuardrailBreach(seed int64) Scenario {
	guardrails := []experiment.MetricDefinition{{
		Name:           "retention",
		Type:           experiment.MetricProportion,
		HigherIsBetter: true,
		IsGuardrail:    true,
	}}
	design := proportionDesign(0.05, 0.01, guardrails)
	rng := rand.New(rand.NewSource(seed))
	events := conversionEvents(rng, "control", 20000, 0.05, design.PrimaryMetric.Name)
	events = append(events, conversionEvents(rng, "treatment", 20000, 0.062, design.PrimaryMetric.Name)...)
	events = append(events, conversionEvents(rng, "control", 20000, 0.60, "retention")...)
	events = append(events, conversionEvents(rng, "treatment", 20000, 0.55, "retention")...)
	return Scenario{Name: "guardrail_breach", Design: design, Events: events}
}

// RevenueShift simulates a continuous revenue-per-user experiment with
// a modest treatment lift, exercising the parametric test path.
func RevenueShift(seed int64) Scenario {
	design := experiment.DesignConfig{
		PrimaryMetric: experiment.MetricDefinition{
			Name:           "revenue_per_user",
			Type:           experiment.MetricContinuous,
			HigherIsBetter: true,
		},
		Variants:                     []core.VariantID{"control", "treatment"},
		Baseline:                     25.0,
		BaselineStdDev:               10.0,
		MDE:                          1.0,
		Alpha:                        0.05,
		Power:                        0.8,
		VariantCount:                 2,
		RequiredSampleSizePerVariant: 1571,
	}
	rng := rand.New(rand.NewSource(seed))
	events := revenueEvents(rng, "control", 2000, 25.0, 10.0, design.PrimaryMetric.Name)
	events = append(events, revenueEvents(rng, "treatment", 2000, 26.5, 10.0, design.PrimaryMetric.Name)...)
	return Scenario{Name: "revenue_shift", Design: design, Events: events}
}

// SampleRatioMismatch simulates a broken assignment pipeline: a 50/50
// split that actually lands 60/40.
func SampleRatioMismatch(seed int64) Scenario {
	design := proportionDesign(0.05, 0.01, nil)
	rng := rand.New(rand.NewSource(seed))
	events := conversionEvents(rng, "control", 12000, 0.05, design.PrimaryMetric.Name)
	events = append(events, conversionEvents(rng, "treatment", 8000, 0.05, design.PrimaryMetric.Name)...)
	return Scenario{Name: "sample_ratio_mismatch", Design: design, Events: events}
}

// ByName returns the named scenario, or false when unknown.
func ByName(name string, seed int64) (Scenario, bool) {
	switch name {
	case "clear_winner":
		return ClearWinner(seed), true
	case "no_effect":
		return NoEffect(seed), true
	case "guardrail_breach":
		return GuardrailBreach(seed), true
	case "revenue_shift":
		return RevenueShift(seed), true
	case "sample_ratio_mismatch":
		return SampleRatioMismatch(seed), true
	}
	return Scenario{}, false
}

// Names lists the available scenarios.
func Names() []string {
	return []string{"clear_winner", "no_effect", "guardrail_breach", "revenue_shift", "sample_ratio_mismatch"}
}

func proportionDesign(baseline, mde float64, guardrails []experiment.MetricDefinition) experiment.DesignConfig {
	return experiment.DesignConfig{
		PrimaryMetric: experiment.MetricDefinition{
			Name:           "conversion",
			Type:           experiment.MetricProportion,
			HigherIsBetter: true,
		},
		Guardrails:                   guardrails,
		Variants:                     []core.VariantID{"control", "treatment"},
		Baseline:                     baseline,
		MDE:                          mde,
		Alpha:                        0.05,
		Power:                        0.8,
		VariantCount:                 2,
		RequiredSampleSizePerVariant: 7663,
	}
}

// conversionEvents emits one binary observation per unit with the
// success count pinned exactly to rate*n, so the realized rates of a
// scenario match its intent regardless of seed. The seed only shuffles
// which units convert.
func conversionEvents(rng *rand.Rand, variant core.VariantID, n int, rate float64, metric string) []experiment.Event {
	successes := int(math.Round(rate * float64(n)))
	perm := rng.Perm(n)

	events := make([]experiment.Event, 0, n)
	for i := 0; i < n; i++ {
		var value float64
		if perm[i] < successes {
			value = 1
		}
		events = append(events, experiment.Event{
			UnitID:    fmt.Sprintf("%s-%06d", variant, i),
			VariantID: variant,
			Metric:    metric,
			Value:     value,
		})
	}
	return events
}

// revenueEvents emits one normally distributed observation per unit,
// floored at zero.
func revenueEvents(rng *rand.Rand, variant core.VariantID, n int, mean, stddev float64, metric string) []experiment.Event {
	events := make([]experiment.Event, 0, n)
	for i := 0; i < n; i++ {
		value := rng.NormFloat64()*stddev + mean
		if value < 0 {
			value = 0
		}
		events = append(events, experiment.Event{
			UnitID:    fmt.Sprintf("%s-%06d", variant, i),
			VariantID: variant,
			Metric:    metric,
			Value:     value,
		})
	}
	return events
}

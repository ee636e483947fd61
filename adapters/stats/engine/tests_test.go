package engine

import (
	"math/rand"
	"testing"

	"ablab/internal/errors"
)

func TestTwoProportionZTest(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	control := proportionSummary("control", "conversion", 1000, 50)
	treatment := proportionSummary("treatment", "conversion", 1000, 70)
	opts := TestOptions{Metric: "conversion", Alpha: 0.05, HigherIsBetter: true}

	result, err := engine.Run(TestTwoProportionZ, control, treatment, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !approx(result.Statistic, 1.8831, 1e-3) {
		t.Errorf("z = %.4f, want ~1.8831", result.Statistic)
	}
	if !approx(result.PValue, 0.0597, 1e-3) {
		t.Errorf("p = %.4f, want ~0.0597", result.PValue)
	}
	if !approx(result.EffectSize, 0.02, 1e-9) {
		t.Errorf("effect = %.4f, want 0.02", result.EffectSize)
	}
	if result.ControlMean != 0.05 || result.TreatmentMean != 0.07 {
		t.Errorf("means = %.3f/%.3f, want 0.050/0.070", result.ControlMean, result.TreatmentMean)
	}
	if result.ControlN != 1000 || result.TreatmentN != 1000 {
		t.Errorf("sample sizes = %d/%d, want 1000/1000", result.ControlN, result.TreatmentN)
	}
	if result.CI.Lower >= result.CI.Upper {
		t.Errorf("CI [%f, %f] is not a valid interval", result.CI.Lower, result.CI.Upper)
	}
}

func TestTwoProportionZTestOneSided(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	control := proportionSummary("control", "conversion", 1000, 50)
	treatment := proportionSummary("treatment", "conversion", 1000, 70)

	favored, err := engine.Run(TestTwoProportionZ, control, treatment, TestOptions{
		Metric: "conversion", Alpha: 0.05, OneSided: true, HigherIsBetter: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !approx(favored.PValue, 0.0298, 1e-3) {
		t.Errorf("one-sided favored p = %.4f, want ~0.0298", favored.PValue)
	}

	// Same movement tested against the opposite preferred direction
	// lands in the far tail.
	against, err := engine.Run(TestTwoProportionZ, control, treatment, TestOptions{
		Metric: "conversion", Alpha: 0.05, OneSided: true, HigherIsBetter: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if against.PValue < 0.9 {
		t.Errorf("one-sided opposing p = %.4f, want > 0.9", against.PValue)
	}
}

func TestTwoProportionZTestDegenerate(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	opts := TestOptions{Metric: "conversion", Alpha: 0.05}

	// No successes anywhere: the pooled rate is zero, z undefined
	control := proportionSummary("control", "conversion", 100, 0)
	treatment := proportionSummary("treatment", "conversion", 100, 0)
	if _, err := engine.Run(TestTwoProportionZ, control, treatment, opts); !errors.IsInsufficientData(err) {
		t.Errorf("expected InsufficientData for zero pooled rate, got %v", err)
	}

	// A single observation is never enough
	control = proportionSummary("control", "conversion", 1, 1)
	treatment = proportionSummary("treatment", "conversion", 100, 50)
	if _, err := engine.Run(TestTwoProportionZ, control, treatment, opts); !errors.IsInsufficientData(err) {
		t.Errorf("expected InsufficientData for n=1, got %v", err)
	}
}

func TestChiSquareYates(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	control := proportionSummary("control", "conversion", 1000, 50)
	treatment := proportionSummary("treatment", "conversion", 1000, 70)

	result, err := engine.Run(TestChiSquare, control, treatment, TestOptions{Metric: "conversion", Alpha: 0.05})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !approx(result.Statistic, 3.2004, 1e-3) {
		t.Errorf("chi2 = %.4f, want ~3.2004", result.Statistic)
	}
	if !approx(result.PValue, 0.0736, 1e-3) {
		t.Errorf("p = %.4f, want ~0.0736", result.PValue)
	}
	if result.DegreesOfFreedom != 1 {
		t.Errorf("df = %.1f, want 1", result.DegreesOfFreedom)
	}

	// Yates makes chi-square more conservative than the z-test on the
	// same table.
	z, err := engine.Run(TestTwoProportionZ, control, treatment, TestOptions{Metric: "conversion", Alpha: 0.05})
	if err != nil {
		t.Fatal(err)
	}
	if result.PValue <= z.PValue {
		t.Errorf("Yates-corrected p %.4f should exceed z-test p %.4f", result.PValue, z.PValue)
	}
}

func TestChiSquareEmptyColumn(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	control := proportionSummary("control", "conversion", 100, 100)
	treatment := proportionSummary("treatment", "conversion", 100, 100)

	_, err := engine.Run(TestChiSquare, control, treatment, TestOptions{Metric: "conversion", Alpha: 0.05})
	if !errors.IsInsufficientData(err) {
		t.Errorf("expected InsufficientData for an empty contingency column, got %v", err)
	}
}

func TestWelchTTest(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	base := []float64{10, 12, 11, 13, 9, 14, 10, 12, 11, 13}
	shifted := seq(3, base...)
	control := continuousSummary("control", "latency", base)
	treatment := continuousSummary("treatment", "latency", shifted)

	result, err := engine.Run(TestWelchT, control, treatment, TestOptions{Metric: "latency", Alpha: 0.05, HigherIsBetter: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !approx(result.Statistic, 4.2426, 1e-3) {
		t.Errorf("t = %.4f, want ~4.2426", result.Statistic)
	}
	if !approx(result.DegreesOfFreedom, 18, 1e-6) {
		t.Errorf("df = %.2f, want 18", result.DegreesOfFreedom)
	}
	if !approx(result.PValue, 0.00049, 2e-4) {
		t.Errorf("p = %.5f, want ~0.00049", result.PValue)
	}
	if !approx(result.ControlMean, 11.5, 1e-9) || !approx(result.TreatmentMean, 14.5, 1e-9) {
		t.Errorf("means = %.2f/%.2f, want 11.50/14.50", result.ControlMean, result.TreatmentMean)
	}
	if result.CI.Lower > 3 || result.CI.Upper < 3 {
		t.Errorf("CI [%f, %f] should contain the true shift 3", result.CI.Lower, result.CI.Upper)
	}
}

func TestWelchTTestZeroVariance(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	control := continuousSummary("control", "latency", []float64{5, 5, 5, 5})
	treatment := continuousSummary("treatment", "latency", []float64{7, 7, 7, 7})

	_, err := engine.Run(TestWelchT, control, treatment, TestOptions{Metric: "latency", Alpha: 0.05})
	if !errors.IsInsufficientData(err) {
		t.Errorf("expected InsufficientData for zero variance, got %v", err)
	}
}

func TestMannWhitneyU(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	base := []float64{10, 12, 11, 13, 9, 14, 10, 12, 11, 13}
	control := continuousSummary("control", "latency", base)
	treatment := continuousSummary("treatment", "latency", seq(3, base...))

	result, err := engine.Run(TestMannWhitney, control, treatment, TestOptions{Metric: "latency", Alpha: 0.05, HigherIsBetter: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !approx(result.Statistic, 91, 1e-9) {
		t.Errorf("U = %.1f, want 91", result.Statistic)
	}
	if !approx(result.PValue, 0.00202, 5e-4) {
		t.Errorf("p = %.5f, want ~0.00202", result.PValue)
	}
	// Location estimates are medians for the rank test
	if !approx(result.ControlMean, 11.5, 1e-9) || !approx(result.TreatmentMean, 14.5, 1e-9) {
		t.Errorf("medians = %.2f/%.2f, want 11.50/14.50", result.ControlMean, result.TreatmentMean)
	}
}

func TestMannWhitneyAllTied(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	control := continuousSummary("control", "latency", []float64{4, 4, 4})
	treatment := continuousSummary("treatment", "latency", []float64{4, 4, 4})

	_, err := engine.Run(TestMannWhitney, control, treatment, TestOptions{Metric: "latency", Alpha: 0.05})
	if !errors.IsInsufficientData(err) {
		t.Errorf("expected InsufficientData when every observation is tied, got %v", err)
	}
}

func TestEngineRejectsBadInputs(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	control := proportionSummary("control", "conversion", 100, 10)
	treatment := proportionSummary("treatment", "conversion", 100, 20)

	if _, err := engine.Run("anova", control, treatment, TestOptions{Metric: "conversion", Alpha: 0.05}); !errors.IsParameter(err) {
		t.Errorf("expected ParameterError for unknown test, got %v", err)
	}
	if _, err := engine.Run(TestTwoProportionZ, control, treatment, TestOptions{Metric: "conversion", Alpha: 0}); !errors.IsParameter(err) {
		t.Errorf("expected ParameterError for alpha=0, got %v", err)
	}
	if _, err := engine.Run(TestTwoProportionZ, control, treatment, TestOptions{Metric: "missing", Alpha: 0.05}); !errors.IsInsufficientData(err) {
		t.Errorf("expected InsufficientData for unknown metric, got %v", err)
	}
}

func TestTwoProportionZTestPValuesUniformUnderNull(t *testing.T) {
	engine := NewTestEngine(nil, 0)
	rng := rand.New(rand.NewSource(7))
	const (
		trials = 500
		n      = 2000
		rate   = 0.3
	)
	draw := func() int {
		successes := 0
		for i := 0; i < n; i++ {
			if rng.Float64() < rate {
				successes++
			}
		}
		return successes
	}
	opts := TestOptions{Metric: "conversion", Alpha: 0.05, HigherIsBetter: true}

	rejected := 0
	quartiles := [4]int{}
	for i := 0; i < trials; i++ {
		control := proportionSummary("control", "conversion", n, draw())
		treatment := proportionSummary("treatment", "conversion", n, draw())
		result, err := engine.Run(TestTwoProportionZ, control, treatment, opts)
		if err != nil {
			t.Fatalf("trial %d: %v", i, err)
		}
		if result.PValue < 0.05 {
			rejected++
		}
		q := int(result.PValue * 4)
		if q > 3 {
			q = 3
		}
		quartiles[q]++
	}

	// Both arms share the same rate, so p-values should be roughly
	// uniform: ~5% of trials reject at alpha=0.05 and every quartile
	// of [0,1] gets a substantial share.
	falsePositiveRate := float64(rejected) / trials
	if falsePositiveRate < 0.015 || falsePositiveRate > 0.095 {
		t.Errorf("false positive rate %.3f, want ~0.05", falsePositiveRate)
	}
	for q, count := range quartiles {
		if share := float64(count) / trials; share < 0.15 {
			t.Errorf("p-value quartile %d holds %.3f of trials, want ~0.25", q, share)
		}
	}
}

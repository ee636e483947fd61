package engine

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"ablab/domain/experiment"
	"ablab/internal/errors"
	"ablab/ports"
)

// TestName identifies a hypothesis test strategy.
type TestName string

const (
	TestTwoProportionZ TestName = "two_proportion_ztest"
	TestChiSquare      TestName = "chi_square"
	TestWelchT         TestName = "welch_ttest"
	TestMannWhitney    TestName = "mann_whitney_u"
	TestBootstrap      TestName = "bootstrap_mean"
)

// TestOptions parameterize one test execution. Seed only matters for
// the bootstrap strategy; it is threaded explicitly so repeated runs
// on identical inputs are byte-identical.
type TestOptions struct {
	Metric         string
	Alpha          float64
	OneSided       bool
	HigherIsBetter bool
	// BootstrapIterations defaults to DefaultBootstrapIterations when
	// zero and is clamped to the engine's iteration cap.
	BootstrapIterations int
	Seed                int64
}

// confidenceLevel derives the CI level from alpha.
func (o TestOptions) confidenceLevel() float64 {
	return 1 - o.Alpha
}

// testStrategy is the common contract every test satisfies: statistic,
// p-value, effect size, and confidence interval from two summaries.
type testStrategy interface {
	Name() TestName
	Run(control, treatment experiment.VariantSummary, opts TestOptions) (experiment.TestResult, error)
}

// TestEngine executes hypothesis tests. Dispatch is a mapping from test
// name to strategy rather than branching at call sites.
type TestEngine struct {
	strategies   map[TestName]testStrategy
	iterationCap int
	rng          ports.RNGPort
}

// DefaultBootstrapIterations is the documented default resampling count.
const DefaultBootstrapIterations = 10000

// NewTestEngine creates a test engine. iterationCap bounds bootstrap
// work so a single analysis cannot run unboundedly; zero means the
// default cap of 100000.
func NewTestEngine(rng ports.RNGPort, iterationCap int) *TestEngine {
	if rng == nil {
		rng = ports.FixedSeedRNG{}
	}
	if iterationCap <= 0 {
		iterationCap = 100000
	}
	e := &TestEngine{
		strategies:   make(map[TestName]testStrategy),
		iterationCap: iterationCap,
		rng:          rng,
	}
	for _, s := range []testStrategy{
		&twoProportionZ{},
		&chiSquare{},
		&welchT{},
		&mannWhitney{},
		&bootstrapMean{rng: rng, cap: iterationCap},
	} {
		e.strategies[s.Name()] = s
	}
	return e
}

// Run executes the named test and validates the result invariants.
func (e *TestEngine) Run(name TestName, control, treatment experiment.VariantSummary, opts TestOptions) (experiment.TestResult, error) {
	strategy, ok := e.strategies[name]
	if !ok {
		return experiment.TestResult{}, errors.Parameter("unknown test %q", name)
	}
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		return experiment.TestResult{}, errors.Parameter("alpha must be in (0,1), got %g", opts.Alpha)
	}
	result, err := strategy.Run(control, treatment, opts)
	if err != nil {
		return experiment.TestResult{}, err
	}
	if err := result.Validate(); err != nil {
		return experiment.TestResult{}, errors.Wrap(err, "test produced invalid result")
	}
	return result, nil
}

// aggregatesFor pulls both variants' aggregates for the metric under
// test, surfacing degenerate samples as InsufficientDataError rather
// than coercing them into a meaningless p-value.
func aggregatesFor(control, treatment experiment.VariantSummary, metric string) (experiment.MetricAggregate, experiment.MetricAggregate, error) {
	ca, ok := control.Aggregate(metric)
	if !ok || ca.Count < 2 {
		return experiment.MetricAggregate{}, experiment.MetricAggregate{},
			errors.InsufficientData("variant %s has %d observations for metric %s, need at least 2", control.VariantID, ca.Count, metric)
	}
	ta, ok := treatment.Aggregate(metric)
	if !ok || ta.Count < 2 {
		return experiment.MetricAggregate{}, experiment.MetricAggregate{},
			errors.InsufficientData("variant %s has %d observations for metric %s, need at least 2", treatment.VariantID, ta.Count, metric)
	}
	return ca, ta, nil
}

// orientedNormalP converts a treatment-minus-control z statistic into a
// p-value honoring the declared sidedness. One-sided p is oriented
// toward the metric's preferred direction.
func orientedNormalP(z float64, opts TestOptions) float64 {
	if !opts.OneSided {
		return clampProbability(2 * (1 - normalCDF(math.Abs(z))))
	}
	if opts.HigherIsBetter {
		return clampProbability(1 - normalCDF(z))
	}
	return clampProbability(normalCDF(z))
}

// orientedTP is orientedNormalP for the t distribution.
func orientedTP(t, df float64, opts TestOptions) float64 {
	if !opts.OneSided {
		return clampProbability(2 * (1 - tCDF(math.Abs(t), df)))
	}
	if opts.HigherIsBetter {
		return clampProbability(1 - tCDF(t, df))
	}
	return clampProbability(tCDF(t, df))
}

// ---------------------------------------------------------------------------
// Two-proportion z-test

type twoProportionZ struct{}

func (*twoProportionZ) Name() TestName { return TestTwoProportionZ }

func (*twoProportionZ) Run(control, treatment experiment.VariantSummary, opts TestOptions) (experiment.TestResult, error) {
	ca, ta, err := aggregatesFor(control, treatment, opts.Metric)
	if err != nil {
		return experiment.TestResult{}, err
	}

	n1, n2 := float64(ca.Count), float64(ta.Count)
	p1, p2 := ca.Rate(), ta.Rate()

	pooled := float64(ca.SuccessCount+ta.SuccessCount) / (n1 + n2)
	pooledSE := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if pooledSE == 0 {
		return experiment.TestResult{}, errors.InsufficientData(
			"metric %s: pooled rate is %g across variants %s and %s, z statistic undefined",
			opts.Metric, pooled, control.VariantID, treatment.VariantID)
	}

	z := (p2 - p1) / pooledSE
	pValue := orientedNormalP(z, opts)

	diff := p2 - p1
	se := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	zCrit := normalQuantile(1 - opts.Alpha/2)
	ci := experiment.ConfidenceInterval{
		Lower: diff - zCrit*se,
		Upper: diff + zCrit*se,
		Level: opts.confidenceLevel(),
	}

	return experiment.TestResult{
		TestName:      string(TestTwoProportionZ),
		Statistic:     z,
		PValue:        pValue,
		EffectSize:    diff,
		CI:            ci,
		ControlMean:   p1,
		TreatmentMean: p2,
		ControlN:      ca.Count,
		TreatmentN:    ta.Count,
	}, nil
}

// ---------------------------------------------------------------------------
// Chi-square test of independence (2x2, Yates continuity correction)

type chiSquare struct{}

func (*chiSquare) Name() TestName { return TestChiSquare }

func (*chiSquare) Run(control, treatment experiment.VariantSummary, opts TestOptions) (experiment.TestResult, error) {
	ca, ta, err := aggregatesFor(control, treatment, opts.Metric)
	if err != nil {
		return experiment.TestResult{}, err
	}

	observed := [2][2]float64{
		{float64(ca.Count - ca.SuccessCount), float64(ca.SuccessCount)},
		{float64(ta.Count - ta.SuccessCount), float64(ta.SuccessCount)},
	}
	rowTotals := [2]float64{float64(ca.Count), float64(ta.Count)}
	colTotals := [2]float64{observed[0][0] + observed[1][0], observed[0][1] + observed[1][1]}
	grand := rowTotals[0] + rowTotals[1]

	if colTotals[0] == 0 || colTotals[1] == 0 {
		return experiment.TestResult{}, errors.InsufficientData(
			"metric %s: a contingency column is empty, chi-square statistic undefined", opts.Metric)
	}

	chi2 := 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			expected := rowTotals[i] * colTotals[j] / grand
			delta := math.Abs(observed[i][j]-expected) - 0.5 // Yates
			if delta < 0 {
				delta = 0
			}
			chi2 += delta * delta / expected
		}
	}
	pValue := clampProbability(chiSquaredSurvival(chi2, 1))

	p1, p2 := ca.Rate(), ta.Rate()
	diff := p2 - p1
	se := math.Sqrt(p1*(1-p1)/float64(ca.Count) + p2*(1-p2)/float64(ta.Count))
	zCrit := normalQuantile(1 - opts.Alpha/2)
	ci := experiment.ConfidenceInterval{
		Lower: diff - zCrit*se,
		Upper: diff + zCrit*se,
		Level: opts.confidenceLevel(),
	}

	return experiment.TestResult{
		TestName:         string(TestChiSquare),
		Statistic:        chi2,
		PValue:           pValue,
		DegreesOfFreedom: 1,
		EffectSize:       diff,
		CI:               ci,
		ControlMean:      p1,
		TreatmentMean:    p2,
		ControlN:         ca.Count,
		TreatmentN:       ta.Count,
	}, nil
}

// ---------------------------------------------------------------------------
// Welch's two-sample t-test (unequal variances assumed)

type welchT struct{}

func (*welchT) Name() TestName { return TestWelchT }

func (*welchT) Run(control, treatment experiment.VariantSummary, opts TestOptions) (experiment.TestResult, error) {
	ca, ta, err := aggregatesFor(control, treatment, opts.Metric)
	if err != nil {
		return experiment.TestResult{}, err
	}

	n1, n2 := float64(ca.Count), float64(ta.Count)
	m1, m2 := ca.Mean(), ta.Mean()
	v1, v2 := ca.Variance(), ta.Variance()

	se := math.Sqrt(v1/n1 + v2/n2)
	if se == 0 {
		return experiment.TestResult{}, errors.InsufficientData(
			"metric %s: zero variance in both variants %s and %s, t statistic undefined",
			opts.Metric, control.VariantID, treatment.VariantID)
	}

	t := (m2 - m1) / se
	df := welchSatterthwaiteDF(v1, n1, v2, n2)
	pValue := orientedTP(t, df, opts)

	diff := m2 - m1
	tCrit := tQuantile(1-opts.Alpha/2, df)
	ci := experiment.ConfidenceInterval{
		Lower: diff - tCrit*se,
		Upper: diff + tCrit*se,
		Level: opts.confidenceLevel(),
	}

	return experiment.TestResult{
		TestName:         string(TestWelchT),
		Statistic:        t,
		PValue:           pValue,
		DegreesOfFreedom: df,
		EffectSize:       diff,
		CI:               ci,
		ControlMean:      m1,
		TreatmentMean:    m2,
		ControlN:         ca.Count,
		TreatmentN:       ta.Count,
	}, nil
}

// welchSatterthwaiteDF computes the Welch-Satterthwaite degrees of
// freedom for unequal variances.
func welchSatterthwaiteDF(v1, n1, v2, n2 float64) float64 {
	num := math.Pow(v1/n1+v2/n2, 2)
	den := math.Pow(v1/n1, 2)/(n1-1) + math.Pow(v2/n2, 2)/(n2-1)
	if den == 0 {
		return n1 + n2 - 2
	}
	return num / den
}

// ---------------------------------------------------------------------------
// Mann-Whitney U (normal approximation with tie and continuity correction)

type mannWhitney struct{}

func (*mannWhitney) Name() TestName { return TestMannWhitney }

func (*mannWhitney) Run(control, treatment experiment.VariantSummary, opts TestOptions) (experiment.TestResult, error) {
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

	n1, n2 := float64(len(x)), float64(len(y))
	ranks, tieTerm := rankCombined(x, y)

	// Rank sum of the treatment sample
	rTreatment := 0.0
	for i := len(x); i < len(ranks); i++ {
		rTreatment += ranks[i]
	}
	u := rTreatment - n2*(n2+1)/2

	total := n1 + n2
	mu := n1 * n2 / 2
	variance := n1 * n2 / 12 * ((total + 1) - tieTerm/(total*(total-1)))
	if variance <= 0 {
		return experiment.TestResult{}, errors.InsufficientData(
			"metric %s: all observations tied across variants, U statistic degenerate", opts.Metric)
	}

	// Continuity correction toward the null
	num := u - mu
	switch {
	case num > 0:
		num -= 0.5
	case num < 0:
		num += 0.5
	}
	z := num / math.Sqrt(variance)
	pValue := orientedNormalP(z, opts)

	// Report medians as the location estimates; CI on the mean
	// difference via Welch for interpretability.
	medianX, _ := stats.Median(x)
	medianY, _ := stats.Median(y)
	meanX, _ := stats.Mean(x)
	meanY, _ := stats.Mean(y)
	v1, _ := stats.SampleVariance(x)
	v2, _ := stats.SampleVariance(y)

	diff := meanY - meanX
	se := math.Sqrt(v1/n1 + v2/n2)
	ci := experiment.ConfidenceInterval{Lower: diff, Upper: diff, Level: opts.confidenceLevel()}
	if se > 0 {
		df := welchSatterthwaiteDF(v1, n1, v2, n2)
		tCrit := tQuantile(1-opts.Alpha/2, df)
		ci.Lower = diff - tCrit*se
		ci.Upper = diff + tCrit*se
	}

	return experiment.TestResult{
		TestName:      string(TestMannWhitney),
		Statistic:     u,
		PValue:        pValue,
		EffectSize:    diff,
		CI:            ci,
		ControlMean:   medianX,
		TreatmentMean: medianY,
		ControlN:      len(x),
		TreatmentN:    len(y),
	}, nil
}

// rankCombined assigns average ranks to the concatenation of x then y
// and returns the tie correction term sum(t^3 - t).
func rankCombined(x, y []float64) ([]float64, float64) {
	n := len(x) + len(y)
	combined := make([]float64, 0, n)
	combined = append(combined, x...)
	combined = append(combined, y...)

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return combined[idx[a]] < combined[idx[b]] })

	ranks := make([]float64, n)
	tieTerm := 0.0
	for i := 0; i < n; {
		j := i
		for j+1 < n && combined[idx[j+1]] == combined[idx[i]] {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avgRank
		}
		ties := float64(j - i + 1)
		tieTerm += ties*ties*ties - ties
		i = j + 1
	}
	return ranks, tieTerm
}

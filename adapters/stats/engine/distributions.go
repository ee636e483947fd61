package engine

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Thin wrappers over gonum distributions so test code reads like the
// formulas it implements.

// normalCDF computes P(Z <= x) for the standard normal distribution
func normalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normalQuantile computes the inverse CDF of the standard normal distribution
func normalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// tCDF computes P(T <= x) for Student's t with df degrees of freedom
func tCDF(x, df float64) float64 {
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return tDist.CDF(x)
}

// tQuantile computes the inverse CDF of Student's t with df degrees of freedom
func tQuantile(p, df float64) float64 {
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return tDist.Quantile(p)
}

// chiSquaredSurvival computes P(X >= x) for a chi-squared distribution
func chiSquaredSurvival(x, df float64) float64 {
	if x <= 0 {
		return 1.0
	}
	chiDist := distuv.ChiSquared{K: df}
	return 1.0 - chiDist.CDF(x)
}

// clampProbability keeps accumulated floating-point error inside [0,1]
func clampProbability(p float64) float64 {
	return math.Min(1.0, math.Max(0.0, p))
}

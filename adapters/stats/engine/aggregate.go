package engine

import (
	"sort"

	"ablab/domain/core"
	"ablab/domain/experiment"
	"ablab/internal/errors"
)

// Aggregator reduces raw per-unit event records into per-variant
// summary statistics. A unit with no recorded event for a metric is
// excluded from that metric's aggregate, not treated as zero.
type Aggregator struct{}

// NewAggregator creates a metric aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// unitObservation collects one unit's events for one metric before the
// per-unit reduction (any-success for proportions, mean for continuous).
type unitObservation struct {
	sum   float64
	count int
	hit   bool
}

// Aggregate produces one VariantSummary per declared variant. It fails
// with a DataError when an event references an undeclared variant or
// when any declared variant has zero units.
func (a *Aggregator) Aggregate(events []experiment.Event, design experiment.DesignConfig) (map[core.VariantID]experiment.VariantSummary, error) {
	if len(design.Variants) < 2 {
		return nil, errors.Data("design must declare at least 2 variants, got %d", len(design.Variants))
	}

	declared := make(map[core.VariantID]bool, len(design.Variants))
	for _, v := range design.Variants {
		declared[v] = true
	}

	metricTypes := map[string]experiment.MetricType{
		design.PrimaryMetric.Name: design.PrimaryMetric.Type,
	}
	for _, g := range design.Guardrails {
		metricTypes[g.Name] = g.Type
	}

	// variant -> metric -> unit -> accumulated observation
	obs := make(map[core.VariantID]map[string]map[string]*unitObservation)
	units := make(map[core.VariantID]map[string]bool)
	for _, v := range design.Variants {
		obs[v] = make(map[string]map[string]*unitObservation)
		units[v] = make(map[string]bool)
	}

	for _, ev := range events {
		if !declared[ev.VariantID] {
			return nil, errors.Data("event for unit %s references undeclared variant %s", ev.UnitID, ev.VariantID)
		}
		units[ev.VariantID][ev.UnitID] = true
		if ev.Metric == "" {
			continue // exposure-only event
		}
		if _, known := metricTypes[ev.Metric]; !known {
			// Metrics outside the design are carried through untyped as
			// continuous; the selector never picks them up unless asked.
			metricTypes[ev.Metric] = experiment.MetricContinuous
		}
		byUnit := obs[ev.VariantID][ev.Metric]
		if byUnit == nil {
			byUnit = make(map[string]*unitObservation)
			obs[ev.VariantID][ev.Metric] = byUnit
		}
		u := byUnit[ev.UnitID]
		if u == nil {
			u = &unitObservation{}
			byUnit[ev.UnitID] = u
		}
		u.sum += ev.Value
		u.count++
		if ev.Value > 0 {
			u.hit = true
		}
	}

	summaries := make(map[core.VariantID]experiment.VariantSummary, len(design.Variants))
	for _, v := range design.Variants {
		if len(units[v]) == 0 {
			return nil, errors.Data("variant %s has zero units", v)
		}
		summary := experiment.VariantSummary{
			VariantID: v,
			UnitCount: len(units[v]),
			Metrics:   make(map[string]experiment.MetricAggregate),
			Values:    make(map[string][]float64),
		}
		for metric, byUnit := range obs[v] {
			agg, values := reduceMetric(byUnit, metricTypes[metric])
			summary.Metrics[metric] = agg
			if metricTypes[metric] == experiment.MetricContinuous {
				summary.Values[metric] = values
			}
		}
		summaries[v] = summary
	}
	return summaries, nil
}

// reduceMetric folds per-unit observations into a MetricAggregate. For
// proportion metrics a unit counts as one success when any of its
// events carried a positive flag; for continuous metrics the unit's
// value is the mean of its events.
func reduceMetric(byUnit map[string]*unitObservation, metricType experiment.MetricType) (experiment.MetricAggregate, []float64) {
	unitIDs := make([]string, 0, len(byUnit))
	for id := range byUnit {
		unitIDs = append(unitIDs, id)
	}
	// Deterministic ordering regardless of map iteration
	sort.Strings(unitIDs)

	agg := experiment.MetricAggregate{}
	values := make([]float64, 0, len(unitIDs))
	for _, id := range unitIDs {
		u := byUnit[id]
		var value float64
		if metricType == experiment.MetricProportion {
			if u.hit {
				value = 1
				agg.SuccessCount++
			}
		} else {
			value = u.sum / float64(u.count)
		}
		agg.Count++
		agg.Sum += value
		agg.SumOfSquares += value * value
		values = append(values, value)
	}
	return agg, values
}

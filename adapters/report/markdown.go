package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"ablab/domain/experiment"
)

// Renderer turns an analysis and its decision into a human-readable
// report, as markdown or rendered HTML.
type Renderer struct{}

// NewRenderer creates a report renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Markdown renders the full decision report.
func (r *Renderer) Markdown(design experiment.DesignConfig, analysis experiment.AnalysisResult, decision experiment.Decision) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Experiment Decision: %s\n\n", strings.ToUpper(string(decision.Recommendation)))
	fmt.Fprintf(&b, "**Confidence:** %.0f%%  \n", decision.Confidence*100)
	fmt.Fprintf(&b, "**Computed:** %s\n\n", analysis.ComputedAt.Time().Format("2006-01-02 15:04 UTC"))

	b.WriteString("## Experiment\n\n")
	fmt.Fprintf(&b, "- Primary metric: %s (%s)\n", design.PrimaryMetric.Name, design.PrimaryMetric.Type)
	variants := make([]string, len(design.Variants))
	for i, v := range design.Variants {
		variants[i] = string(v)
	}
	fmt.Fprintf(&b, "- Variants: %s\n", strings.Join(variants, ", "))
	if design.RequiredSampleSizePerVariant > 0 {
		fmt.Fprintf(&b, "- Required sample size per variant: %d\n", design.RequiredSampleSizePerVariant)
	}
	if design.EstimatedDurationDays > 0 {
		fmt.Fprintf(&b, "- Estimated duration: %d days\n", design.EstimatedDurationDays)
	}
	b.WriteString("\n")

	b.WriteString("## Rationale\n\n")
	for _, line := range decision.Rationale {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("\n")

	b.WriteString("## Primary Metric\n\n")
	writeResultTable(&b, analysis.PrimaryMetric, analysis.PrimaryResult)

	e := analysis.PrimaryEffect
	b.WriteString("## Effect Size\n\n")
	fmt.Fprintf(&b, "- Absolute difference: %+.4f\n", e.AbsoluteDifference)
	if e.RelativeLiftDefined {
		fmt.Fprintf(&b, "- Relative lift: %+.2f%%\n", e.RelativeLift*100)
	} else {
		b.WriteString("- Relative lift: undefined (zero baseline)\n")
	}
	fmt.Fprintf(&b, "- %s: %.3f (%s)\n", e.StandardizedName, e.Standardized, e.Interpretation)
	fmt.Fprintf(&b, "- %.0f%% CI for difference: [%.4f, %.4f]\n\n", e.CI.Level*100, e.CI.Lower, e.CI.Upper)

	if len(analysis.GuardrailResults) > 0 {
		b.WriteString("## Guardrails\n\n")
		names := make([]string, 0, len(analysis.GuardrailResults))
		for name := range analysis.GuardrailResults {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			writeResultTable(&b, name, analysis.GuardrailResults[name])
		}
	}

	b.WriteString("## Data Quality\n\n")
	q := analysis.Quality
	fmt.Fprintf(&b, "- Sample ratio mismatch: %s (p=%.4f)\n", yesNo(q.SRMDetected), q.SRMPValue)
	fmt.Fprintf(&b, "- Sample size adequate: %s\n", yesNo(q.SampleSizeAdequate))
	fmt.Fprintf(&b, "- Achieved power: %.1f%%\n", analysis.PowerAchieved*100)
	for _, w := range q.Warnings {
		fmt.Fprintf(&b, "- Warning: %s\n", w)
	}

	return b.String()
}

// HTML renders the markdown report to an HTML fragment.
func (r *Renderer) HTML(design experiment.DesignConfig, analysis experiment.AnalysisResult, decision experiment.Decision) []byte {
	md := r.Markdown(design, analysis, decision)
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.Tables)
	doc := p.Parse([]byte(md))
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return markdown.Render(doc, renderer)
}

func writeResultTable(b *strings.Builder, metric string, r experiment.TestResult) {
	fmt.Fprintf(b, "**%s** (%s)\n\n", metric, r.TestName)
	b.WriteString("| | Control | Treatment |\n|---|---|---|\n")
	fmt.Fprintf(b, "| n | %d | %d |\n", r.ControlN, r.TreatmentN)
	fmt.Fprintf(b, "| estimate | %.4f | %.4f |\n\n", r.ControlMean, r.TreatmentMean)
	fmt.Fprintf(b, "Statistic %.4f, p-value %.4g", r.Statistic, r.PValue)
	if r.DegreesOfFreedom > 0 {
		fmt.Fprintf(b, ", df %.1f", r.DegreesOfFreedom)
	}
	b.WriteString("\n\n")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

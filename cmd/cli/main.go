package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"ablab/adapters/excel"
	"ablab/adapters/report"
	"ablab/app"
	"ablab/domain/core"
	"ablab/domain/experiment"
	"ablab/internal/config"
	"ablab/internal/testkit"
	"ablab/ports"
)

func main() {
	events := flag.String("events", "", "event file (.xlsx or .csv) with user_id, variant, metric, value columns")
	scenario := flag.String("scenario", "", "synthetic scenario instead of an event file: "+strings.Join(testkit.Names(), ", "))
	metric := flag.String("metric", "conversion", "primary metric name")
	metricType := flag.String("type", "proportion", "primary metric type: proportion or continuous")
	baseline := flag.Float64("baseline", 0, "baseline rate or mean")
	stddev := flag.Float64("stddev", 0, "baseline standard deviation (continuous metrics)")
	mde := flag.Float64("mde", 0, "minimum detectable effect, absolute")
	variants := flag.String("variants", "control,treatment", "comma-separated variant IDs, control first")
	seed := flag.Int64("seed", 42, "RNG seed (deterministic)")
	format := flag.String("format", "markdown", "report format: markdown or html")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	service := app.NewAnalysisService(cfg.Analysis, ports.FixedSeedRNG{})
	renderer := report.NewRenderer()

	var design experiment.DesignConfig
	var stream []experiment.Event

	switch {
	case *scenario != "":
		sc, ok := testkit.ByName(*scenario, *seed)
		if !ok {
			fmt.Fprintln(os.Stderr, "unknown scenario:", *scenario)
			os.Exit(2)
		}
		design, stream = sc.Design, sc.Events
	case *events != "":
		design, err = service.ComputeDesign(app.DesignRequest{
			PrimaryMetric: experiment.MetricDefinition{
				Name:           *metric,
				Type:           experiment.MetricType(*metricType),
				HigherIsBetter: true,
			},
			Baseline:             *baseline,
			BaselineStdDev:       *stddev,
			MDE:                  *mde,
			Variants:             parseVariants(*variants),
			VariantCount:         len(parseVariants(*variants)),
			ExpectedDailyTraffic: 1, // sizing only; duration is not reported here
		})
		if err != nil {
			fatal(err)
		}
		stream, err = excel.NewEventReader().ReadEvents(*events)
		if err != nil {
			fatal(err)
		}
	default:
		fmt.Fprintln(os.Stderr, "either -events or -scenario is required")
		flag.Usage()
		os.Exit(2)
	}

	analysis, decision, err := service.Run(stream, design, app.AnalyzeOptions{Seed: *seed})
	if err != nil {
		fatal(err)
	}

	switch *format {
	case "html":
		os.Stdout.Write(renderer.HTML(design, analysis, decision))
	default:
		fmt.Print(renderer.Markdown(design, analysis, decision))
	}
}

func parseVariants(s string) []core.VariantID {
	parts := strings.Split(s, ",")
	out := make([]core.VariantID, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, core.VariantID(v))
		}
	}
	return out
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

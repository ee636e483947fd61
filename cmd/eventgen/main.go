package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"ablab/adapters/excel"
	"ablab/internal/testkit"
)

func main() {
	out := flag.String("out", "events.xlsx", "output file path (.xlsx or .csv)")
	scenario := flag.String("scenario", "clear_winner", "scenario to generate: "+strings.Join(testkit.Names(), ", "))
	seed := flag.Int64("seed", 42, "RNG seed (deterministic)")
	flag.Parse()

	sc, ok := testkit.ByName(*scenario, *seed)
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown scenario:", *scenario)
		os.Exit(2)
	}

	if err := excel.WriteEvents(*out, sc.Events); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d events for %s to %s\n", len(sc.Events), sc.Name, *out)
}

// Command merge runs the knowledge-graph merge/dedup engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kgmerge/internal/app"
)

func main() {
	var (
		configFile  string
		only        string
		resume      bool
		forceResume bool
	)
	flag.StringVar(&configFile, "config", "", "Path to the merge run's YAML configuration")
	flag.StringVar(&only, "only", "", `Narrow the run to "stats" or "chain=<name>"; empty runs the full merge`)
	flag.BoolVar(&resume, "resume", false, "Continue a prior run from its spill manifest")
	flag.BoolVar(&forceResume, "force-resume", false, "Discard a prior run's spill manifest and start over")
	flag.Parse()

	if configFile == "" {
		if env := os.Getenv("KGMERGE_CONFIG_FILE"); env != "" {
			configFile = env
		} else {
			configFile = "./config.yaml"
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize engine: %v\n", err)
		os.Exit(1)
	}

	runErr := a.Run(ctx, app.Options{Only: only, Resume: resume, ForceResume: forceResume})
	code := app.ExitCode(runErr)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "merge run failed: %v\n", runErr)
	}
	os.Exit(code)
}

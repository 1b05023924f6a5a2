package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/nbodyvk/internal/config"
	"github.com/san-kum/nbodyvk/internal/metrics"
	"github.com/san-kum/nbodyvk/internal/report"
	"github.com/san-kum/nbodyvk/internal/scenario"
	"github.com/san-kum/nbodyvk/internal/sim"
	"github.com/san-kum/nbodyvk/internal/telemetry"
	"github.com/san-kum/nbodyvk/internal/tui"
)

var (
	plot          bool
	jsonOut       bool
	progress      bool
	telemetryAddr string
	ensemble      int
	savePath      string
	csvPath       string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run simulation",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	cmd.Flags().BoolVar(&plot, "plot", false, "plot the energy trace")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print a JSON report")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress line")
	cmd.Flags().StringVar(&telemetryAddr, "telemetry", "", "stream samples over websocket at addr")
	cmd.Flags().IntVar(&ensemble, "ensemble", 1, "independent runs with consecutive seeds")
	cmd.Flags().StringVar(&savePath, "save", "", "write the JSON report to a file")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write the energy trace as CSV")
	return cmd
}

func traceEvery(steps int) int {
	return max(1, steps/200)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("telemetry") {
		cfg.TelemetryAddr = telemetryAddr
	}
	if ensemble > 1 {
		return runEnsemble(cmd.Context(), cfg)
	}

	g := cfg.Gravity()
	ps, err := scenario.Generate(cfg.Scenario, cfg.Capacity, cfg.Seed, g)
	if err != nil {
		return err
	}
	stepper, err := newStepper(cfg, log)
	if err != nil {
		return err
	}
	defer stepper.Close()

	s := sim.New(stepper, log)
	for _, m := range metrics.Standard(g, traceEvery(cfg.Steps)) {
		s.AddMetric(m)
	}
	if progress && !jsonOut {
		r := tui.NewLiveRenderer(os.Stderr, stepper.Name(), g, cfg.Steps, 10)
		r.Start()
		defer r.Stop()
		s.AddObserver(r)
	}

	simCfg := sim.Config{Steps: cfg.Steps, DT: cfg.Dt, ValidateState: true}
	var res *sim.Result

	eg, ctx := errgroup.WithContext(cmd.Context())
	runCtx, done := context.WithCancel(ctx)
	defer done()
	if cfg.TelemetryAddr != "" {
		hub := telemetry.NewHub(log)
		s.AddObserver(hub.Observer(g, cfg.Dt, stepper.Name(), traceEvery(cfg.Steps)))
		eg.Go(func() error { return telemetry.Serve(runCtx, cfg.TelemetryAddr, hub) })
	}
	eg.Go(func() error {
		defer done()
		r, err := s.Run(ctx, ps, simCfg)
		res = r
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	rep := report.New(report.Run{
		Scenario:   cfg.Scenario,
		DT:         cfg.Dt,
		Seed:       cfg.Seed,
		TraceEvery: traceEvery(cfg.Steps),
	}, res)
	if savePath != "" {
		if err := rep.Save(savePath); err != nil {
			return err
		}
		log.Info("report saved", "path", savePath, "run_id", rep.RunID)
	}
	if csvPath != "" {
		if err := rep.SaveEnergyCSV(csvPath); err != nil {
			return err
		}
	}
	if jsonOut {
		return rep.WriteJSON(os.Stdout)
	}
	printResult(cfg, res)
	if plot && len(res.Energy) > 1 {
		caption := fmt.Sprintf("total energy, %s, %d steps", res.Backend, res.StepsTaken)
		fmt.Println()
		fmt.Println(asciigraph.Plot(res.Energy, asciigraph.Height(10), asciigraph.Width(80), asciigraph.Caption(caption)))
	}
	return nil
}

func sortedMetrics(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func printResult(cfg *config.Config, res *sim.Result) {
	fmt.Printf("backend: %s\n", res.Backend)
	fmt.Printf("scenario: %s (%d particles)\n", cfg.Scenario, len(res.Final))
	fmt.Printf("completed %d steps in %v (%.0f steps/s)\n", res.StepsTaken, res.Elapsed, res.StepsPerSecond())
	fmt.Println("\nmetrics:")
	for _, name := range sortedMetrics(res.Metrics) {
		fmt.Printf("  %s: %.6g\n", name, res.Metrics[name])
	}
}

func runEnsemble(ctx context.Context, cfg *config.Config) error {
	g := cfg.Gravity()
	// Members log nothing; the table below is the output.
	quiet := *cfg
	quiet.LogLevel = "error"
	log := newLogger(&quiet)

	factory := func(idx int) (sim.Member, error) {
		ps, err := scenario.Generate(cfg.Scenario, cfg.Capacity, cfg.Seed+int64(idx), g)
		if err != nil {
			return sim.Member{}, err
		}
		stepper, err := newStepper(cfg, log)
		if err != nil {
			return sim.Member{}, err
		}
		return sim.Member{
			Stepper:   stepper,
			Particles: ps,
			Metrics:   metrics.Standard(g, traceEvery(cfg.Steps)),
		}, nil
	}

	start := time.Now()
	results, err := sim.NewEnsemble(factory, ensemble).
		WithLimit(runtime.NumCPU()).
		Run(ctx, sim.Config{Steps: cfg.Steps, DT: cfg.Dt, ValidateState: true})
	if err != nil {
		return err
	}

	fmt.Printf("ensemble of %d %s runs in %v\n\n", ensemble, cfg.Scenario, time.Since(start))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEED\tBACKEND\tSTEPS/SEC\tENERGY_DRIFT\tMOMENTUM_DRIFT\tBOUND")
	for i, res := range results {
		fmt.Fprintf(w, "%d\t%s\t%.0f\t%.3e\t%.3e\t%.2f\n",
			cfg.Seed+int64(i), res.Backend, res.StepsPerSecond(),
			res.Metrics["energy_drift"], res.Metrics["momentum_drift"], res.Metrics["bound"])
	}
	return w.Flush()
}

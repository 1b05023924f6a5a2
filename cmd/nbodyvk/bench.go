package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/config"
	"github.com/san-kum/nbodyvk/internal/physics"
	"github.com/san-kum/nbodyvk/internal/scenario"
	"github.com/san-kum/nbodyvk/internal/sim"
)

var (
	benchSteps int
	tolerance  float64
)

var benchSizes = []int{64, 256, compute.MaxParticleCount}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "compare gpu and cpu steps per second",
		Args:  cobra.NoArgs,
		RunE:  benchBackends,
	}
	cmd.Flags().IntVar(&benchSteps, "bench-steps", 100, "steps per measurement")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "compare one gpu step against the cpu reference",
		Args:  cobra.NoArgs,
		RunE:  verifyStep,
	}
	cmd.Flags().Float64Var(&tolerance, "tolerance", 1e-5, "largest accepted relative difference")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRESET\tSCENARIO\tCAPACITY\tDT\tSTEPS\tINTEGRATOR")
			for _, name := range config.ListPresets() {
				p := config.GetPreset(name)
				fmt.Fprintf(w, "%s\t%s\t%d\t%g\t%d\t%s\n", name, p.Scenario, p.Capacity, p.Dt, p.Steps, p.Integrator)
			}
			return w.Flush()
		},
	}
}

// gpuStepper builds an engine and never falls back to the cpu. With the
// auto driver a missing vulkan loader selects the software driver.
func gpuStepper(cfg *config.Config, log *slog.Logger) (compute.Stepper, error) {
	switch cfg.Driver {
	case "cpu":
		return nil, errors.New("a gpu driver is required, got cpu")
	case "auto":
		c := *cfg
		c.Driver = "vulkan"
		s, err := newStepper(&c, log)
		if err == nil {
			return s, nil
		}
		log.Warn("vulkan engine unavailable, using soft driver", "err", err)
		c.Driver = "soft"
		return newStepper(&c, log)
	default:
		return newStepper(cfg, log)
	}
}

func benchBackends(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	g := cfg.Gravity()
	ctx := cmd.Context()

	fmt.Printf("benchmarking %s, %d steps per run\n\n", cfg.Scenario, benchSteps)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICLES\tBACKEND\tTIME\tSTEPS/SEC")

	for _, n := range benchSizes {
		ps, err := scenario.Generate(cfg.Scenario, n, cfg.Seed, g)
		if err != nil {
			return err
		}
		c := *cfg
		c.Capacity = n

		gpu, err := gpuStepper(&c, log)
		if err != nil {
			fmt.Fprintf(w, "%d\tgpu\t-\tunavailable: %v\n", n, err)
		}
		cpu, cerr := cpuStepper(&c)
		if cerr != nil {
			if gpu != nil {
				_ = gpu.Close()
			}
			return cerr
		}

		for _, s := range []compute.Stepper{gpu, cpu} {
			if s == nil {
				continue
			}
			res, err := sim.New(s, log).Run(ctx, ps, sim.Config{Steps: benchSteps, DT: cfg.Dt})
			_ = s.Close()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t%s\t%v\t%.0f\n", n, res.Backend, res.Elapsed, res.StepsPerSecond())
		}
	}
	return w.Flush()
}

// stepDiff is the largest relative difference between two particle sets.
func stepDiff(a, b []physics.Particle) (maxDiff float64, worst int) {
	worst = -1
	rel := func(x, y float32) float64 {
		d := math.Abs(float64(x) - float64(y))
		return d / math.Max(1, math.Abs(float64(y)))
	}
	for i := range a {
		for k := 0; k < 3; k++ {
			for _, d := range []float64{
				rel(a[i].Position[k], b[i].Position[k]),
				rel(a[i].Velocity[k], b[i].Velocity[k]),
			} {
				if d > maxDiff || math.IsNaN(d) {
					maxDiff, worst = d, i
				}
			}
		}
		if d := rel(a[i].Mass, b[i].Mass); d > maxDiff {
			maxDiff, worst = d, i
		}
	}
	return maxDiff, worst
}

func verifyStep(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	g := cfg.Gravity()
	ps, err := scenario.Generate(cfg.Scenario, cfg.Capacity, cfg.Seed, g)
	if err != nil {
		return err
	}

	gpu, err := gpuStepper(cfg, log)
	if err != nil {
		return err
	}
	defer gpu.Close()

	got := slices.Clone(ps)
	if err := gpu.Step(cmd.Context(), got, cfg.Dt); err != nil {
		return err
	}
	want := slices.Clone(ps)
	if err := compute.NewCPUBackend(cfg.Capacity, g).Step(cmd.Context(), want, cfg.Dt); err != nil {
		return err
	}

	diff, worst := stepDiff(got, want)
	fmt.Printf("%s vs cpu: %d particles, dt %g\n", gpu.Name(), len(ps), cfg.Dt)
	fmt.Printf("max relative difference: %.3e\n", diff)
	if diff > tolerance || math.IsNaN(diff) {
		return fmt.Errorf("particle %d differs by %.3e, tolerance %.1e", worst, diff, tolerance)
	}
	fmt.Println("ok")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/config"
	"github.com/san-kum/nbodyvk/internal/scenario"
	"github.com/san-kum/nbodyvk/internal/tui"
)

const reloadDebounce = 200 * time.Millisecond

var (
	watch bool
	speed int
)

func newLiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "run simulation with a live dashboard",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "rebuild the engine when the kernel file changes")
	cmd.Flags().IntVar(&speed, "speed", 1, "steps per frame")
	return cmd
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The dashboard owns the terminal; only errors go to stderr.
	quiet := *cfg
	quiet.LogLevel = "error"
	log := newLogger(&quiet)

	g := cfg.Gravity()
	ps, err := scenario.Generate(cfg.Scenario, cfg.Capacity, cfg.Seed, g)
	if err != nil {
		return err
	}
	stepper, err := newStepper(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var reloads chan tui.Reload
	if watch {
		if cfg.Driver == "cpu" {
			_ = stepper.Close()
			return errors.New("--watch needs a gpu driver")
		}
		reloads = make(chan tui.Reload)
		if err := watchKernel(ctx, cfg, log, reloads); err != nil {
			_ = stepper.Close()
			return err
		}
	}

	return tui.Run(ctx, tui.Options{
		Stepper:   stepper,
		Particles: ps,
		DT:        cfg.Dt,
		Gravity:   g,
		Speed:     speed,
		Title:     fmt.Sprintf("nbodyvk %s", cfg.Scenario),
	}, reloads)
}

// watchKernel sends a rebuilt stepper on out whenever the kernel binary or
// its manifest is written. The directory is watched so editors that replace
// the file are seen too.
func watchKernel(ctx context.Context, cfg *config.Config, log *slog.Logger, out chan<- tui.Reload) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	kernel, err := filepath.Abs(cfg.Kernel)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(kernel)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(kernel), err)
	}
	manifest := compute.ManifestPath(kernel)
	relevant := func(name string) bool {
		abs, err := filepath.Abs(name)
		return err == nil && (abs == kernel || abs == manifest)
	}

	go func() {
		defer w.Close()
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !relevant(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("kernel watch", "err", err)
			case <-fire:
				fire = nil
				s, err := newStepper(cfg, log)
				r := tui.Reload{Stepper: s, Err: err}
				select {
				case out <- r:
				case <-ctx.Done():
					if s != nil {
						_ = s.Close()
					}
					return
				}
			}
		}
	}()
	return nil
}

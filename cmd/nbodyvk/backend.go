package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/config"
	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/softgpu"
	"github.com/san-kum/nbodyvk/internal/vulkan"
)

// owned closes the driver together with the stepper built on it.
type owned struct {
	compute.Stepper
	drv hal.Driver
}

func (o owned) Close() error {
	err := o.Stepper.Close()
	o.drv.Close()
	return err
}

func openVulkan(cfg *config.Config, log *slog.Logger) (hal.Driver, error) {
	drv, err := vulkan.Open(vulkan.Options{Validation: cfg.Validation, Logger: log})
	if err != nil {
		return nil, err
	}
	return drv, nil
}

func openSoft(cfg *config.Config) hal.Driver {
	return softgpu.New(softgpu.Config{Gravity: cfg.Gravity()})
}

// engineOptions resolves the kernel for drv. The software driver falls back
// to its built-in kernel when the configured binary is missing.
func engineOptions(cfg *config.Config, drv hal.Driver, log *slog.Logger) compute.Options {
	opts := cfg.EngineOptions(log)
	if _, soft := drv.(*softgpu.Driver); !soft {
		return opts
	}
	if _, err := os.Stat(opts.Kernel.Path); err != nil {
		log.Info("kernel not found, using built-in soft kernel", "path", opts.Kernel.Path)
		opts.Kernel.Path = ""
		opts.Kernel.Code = softgpu.BuiltinKernel()
		opts.Kernel.EntryPoint = softgpu.BuiltinEntryPoint
	}
	return opts
}

func cpuStepper(cfg *config.Config) (compute.Stepper, error) {
	integ, err := compute.ParseIntegrator(cfg.Integrator)
	if err != nil {
		return nil, err
	}
	return compute.NewCPUBackend(cfg.Capacity, cfg.Gravity()).WithIntegrator(integ), nil
}

// newStepper builds the backend named by cfg.Driver.
func newStepper(cfg *config.Config, log *slog.Logger) (compute.Stepper, error) {
	if cfg.Driver == "cpu" {
		return cpuStepper(cfg)
	}
	if cfg.Integrator != compute.IntegratorEuler.String() {
		log.Warn("gpu kernels integrate with euler, integrator ignored unless the cpu backend is used",
			"integrator", cfg.Integrator)
	}

	var drv hal.Driver
	switch cfg.Driver {
	case "soft":
		drv = openSoft(cfg)
	case "vulkan":
		d, err := openVulkan(cfg, log)
		if err != nil {
			return nil, err
		}
		drv = d
	case "auto":
		d, err := openVulkan(cfg, log)
		switch {
		case err == nil:
			drv = d
		case errors.Is(err, vulkan.ErrUnavailable), errors.Is(err, hal.ErrInitialization):
			log.Warn("vulkan unavailable", "err", err)
		default:
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}

	if drv == nil {
		cpu, err := cpuStepper(cfg)
		if err != nil {
			return nil, err
		}
		log.Warn("no compute driver, using cpu backend")
		return cpu, nil
	}

	opts := engineOptions(cfg, drv, log)
	var (
		s   compute.Stepper
		err error
	)
	if cfg.Driver == "auto" {
		s, err = compute.AutoSelect(drv, opts, cfg.Gravity())
	} else {
		s, err = compute.New(drv, opts)
	}
	if err != nil {
		drv.Close()
		return nil, err
	}
	if _, cpu := s.(*compute.CPUBackend); cpu {
		drv.Close()
		return s, nil
	}
	return owned{Stepper: s, drv: drv}, nil
}

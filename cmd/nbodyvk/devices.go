package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/hal"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "list physical devices, queue families and memory types",
		Args:  cobra.NoArgs,
		RunE:  listDevices,
	}
}

func listDevices(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	var drivers []hal.Driver
	switch cfg.Driver {
	case "vulkan", "auto":
		drv, err := openVulkan(cfg, log)
		if err != nil {
			if cfg.Driver == "vulkan" {
				return err
			}
			fmt.Printf("vulkan: %v\n\n", err)
		} else {
			drivers = append(drivers, drv)
		}
		if cfg.Driver == "auto" {
			drivers = append(drivers, openSoft(cfg))
		}
	case "soft":
		drivers = append(drivers, openSoft(cfg))
	case "cpu":
		fmt.Println("the cpu backend has no devices")
		return nil
	}

	for _, drv := range drivers {
		err := printDevices(os.Stdout, drv)
		drv.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func printDevices(out io.Writer, drv hal.Driver) error {
	infos, err := compute.ListDevices(drv)
	if err != nil {
		return fmt.Errorf("%s: %w", drv.Name(), err)
	}
	fmt.Fprintf(out, "%s: %d device(s)\n", drv.Name(), len(infos))

	for _, info := range infos {
		p := info.Properties
		family := "none"
		if info.ComputeFamily >= 0 {
			family = fmt.Sprintf("family %d", info.ComputeFamily)
		}
		fmt.Fprintf(out, "\n[%d] %s (%s, api %s)\n", info.Index, p.Name, p.Type, apiVersion(p.APIVersion))
		fmt.Fprintf(out, "  compute: %s  max workgroup size %v  max workgroups %v\n",
			family, p.MaxWorkGroupSize, p.MaxWorkGroupCount)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  FAMILY\tQUEUES\tFLAGS")
		for i, f := range info.QueueFamilies {
			fmt.Fprintf(w, "  %d\t%d\t%s\n", i, f.Count, f.Flags)
		}
		fmt.Fprintln(w, "  MEMORY\tHEAP\tFLAGS")
		for i, m := range info.MemoryTypes {
			fmt.Fprintf(w, "  %d\t%d\t%s\n", i, m.HeapIndex, memoryFlags(m.Flags))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintln(out)
	return nil
}

func apiVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}

func memoryFlags(f hal.MemoryProperty) string {
	if f.Has(compute.HostShared) {
		return f.String() + " (usable)"
	}
	return f.String()
}

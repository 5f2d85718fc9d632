package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/xupit3r/vecbench/internal/bench"
	"github.com/xupit3r/vecbench/internal/gpu"
	"github.com/xupit3r/vecbench/internal/gpu/metal"
	"github.com/xupit3r/vecbench/internal/kernels"
	"github.com/xupit3r/vecbench/internal/system"
	"github.com/xupit3r/vecbench/internal/tui"
)

var deviceInfoCmd = &cobra.Command{
	Use:   "device",
	Short: "Show device information",
	Long: `Display information about the compute device selected by --backend.

Shows the device name and type, its memory budget, the largest vector each
buffer policy fits in that budget, and system information.`,
	Args: cobra.NoArgs,
	RunE: runDeviceInfo,
}

func init() {
	rootCmd.AddCommand(deviceInfoCmd)
}

func runDeviceInfo(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, tui.TitleStyle.Render("vecbench device information"))

	dev, err := GetDeviceFromConfig(cfg)
	if err != nil {
		fmt.Fprintln(out, tui.ErrorStyle.Render("Device error: "+err.Error()))
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Available backends:")
		fmt.Fprintln(out, "  auto   Metal GPU when available, else the software device")
		fmt.Fprintln(out, "  cpu    software device on all CPU cores")
		if metal.Available {
			fmt.Fprintln(out, "  metal  Metal GPU")
		}
		return err
	}
	defer dev.Free()

	fields := []tui.Field{
		{Label: "Backend", Value: cfg.Device.Backend},
		{Label: "Device", Value: GetDeviceName(dev)},
		{Label: "Type", Value: dev.Type().String()},
		{Label: "Platform", Value: fmt.Sprintf("%s/%s", system.GetPlatform(), system.GetArchitecture())},
		{Label: "Metal bridge", Value: fmt.Sprintf("%t", metal.Available)},
	}
	if cpu, ok := dev.(*gpu.CPUDevice); ok {
		fields = append(fields, tui.Field{Label: "Workers", Value: fmt.Sprintf("%d", cpu.Workers())})
	}

	used, total := dev.MemoryUsage()
	if total > 0 {
		fields = append(fields,
			tui.Field{Label: "Device memory", Value: fmt.Sprintf("%s used of %s", system.FormatBytes(used), system.FormatBytes(total))})
	}
	if info, err := system.GetRAMInfo(); err == nil {
		fields = append(fields, tui.Field{
			Label: "System RAM",
			Value: fmt.Sprintf("%s available of %s", system.FormatBytes(info.AvailableBytes), system.FormatBytes(info.TotalBytes)),
		})
	}
	fields = append(fields, tui.Field{Label: "CPUs", Value: fmt.Sprintf("%d", runtime.NumCPU())})
	fields = append(fields, tui.Field{Label: "Kernels", Value: fmt.Sprintf("%v", gpu.KernelNames(kernels.Source()))})

	fmt.Fprintln(out, tui.Box(tui.KeyValues(fields)))

	if total > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, policyCapacity(total-used))
	}
	return nil
}

// policyCapacity tabulates the largest vector length each policy fits in
// free bytes, capped at the int32 kernel limit.
func policyCapacity(free int64) string {
	rows := make([][]string, 0, 3)
	for _, p := range bench.Policies() {
		perElement := bench.Footprint(p, 1)
		n := free / perElement
		if n > 1<<31-1 {
			n = 1<<31 - 1
		}
		rows = append(rows, []string{p.String(), fmt.Sprintf("%d", n), system.FormatBytes(bench.Footprint(p, int(n)))})
	}
	return tui.Table([]string{"policy", "max length", "footprint"}, rows)
}

package commands

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/xupit3r/vecbench/internal/bench"
	"github.com/xupit3r/vecbench/internal/config"
	"github.com/xupit3r/vecbench/internal/gpu"
	"github.com/xupit3r/vecbench/internal/kernels"
	"github.com/xupit3r/vecbench/internal/logging"
	"github.com/xupit3r/vecbench/internal/results"
	"github.com/xupit3r/vecbench/internal/tui"
)

// GetDeviceFromConfig returns the device selected by device.backend.
func GetDeviceFromConfig(c *config.Config) (gpu.Device, error) {
	var opts []gpu.CPUOption
	if c.Device.Workers > 0 {
		opts = append(opts, gpu.WithWorkers(c.Device.Workers))
	}

	dev, err := gpu.GetDeviceByName(c.Device.Backend, opts...)
	if err != nil {
		if c.Device.Backend == "metal" && runtime.GOOS != "darwin" {
			return nil, fmt.Errorf("%w: Metal is only available on macOS: %w", bench.ErrNoDevice, err)
		}
		return nil, fmt.Errorf("%w: %w\nUse --backend cpu to force the software device", bench.ErrNoDevice, err)
	}
	return dev, nil
}

// GetDeviceName returns a human-readable device name with helpful info
func GetDeviceName(dev gpu.Device) string {
	name := dev.Name()

	switch dev.Type() {
	case gpu.DeviceTypeCPU:
		return fmt.Sprintf("%s (software device)", name)
	case gpu.DeviceTypeGPU:
		if runtime.GOOS == "darwin" {
			return fmt.Sprintf("%s (Metal GPU)", name)
		}
		return fmt.Sprintf("%s (GPU)", name)
	default:
		return name
	}
}

// session is the device context shared by every run of one command.
type session struct {
	dev    gpu.Device
	ctx    *bench.Context
	runner *bench.Runner
	store  *results.Store
	log    logrus.FieldLogger
}

func openSession(withStore bool) (*session, error) {
	dev, err := GetDeviceFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	log := logging.WithFields(logrus.Fields{"component": "bench"})
	ctx, err := bench.NewContext(dev, kernels.Source(), log)
	if err != nil {
		dev.Free()
		return nil, err
	}

	s := &session{dev: dev, ctx: ctx, runner: bench.NewRunner(ctx), log: log}
	if withStore && cfg.Results.Enabled {
		store, err := results.Open(cfg.Results.Dir, results.WithLogger(log))
		if err != nil {
			// History is best effort; the benchmark still runs.
			logging.Warnf("Results history disabled: %v", err)
		} else {
			s.store = store
		}
	}
	return s, nil
}

func (s *session) save(res *bench.Result) (results.Record, error) {
	if s.store == nil {
		return results.NewRecord(res), nil
	}
	return s.store.Save(res)
}

func (s *session) Close() {
	if s.store != nil {
		s.store.Close()
	}
	s.ctx.Close()
	s.dev.Free()
}

// isFatal reports whether err belongs to a category that aborts the process.
func isFatal(err error) bool {
	for _, target := range []error{bench.ErrNoDevice, bench.ErrCompile, bench.ErrUnknownKernel, bench.ErrAllocation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// checkFatal logs fatal errors and exits with status 1; other errors are
// returned to cobra.
func checkFatal(err error) error {
	if err != nil && isFatal(err) {
		logging.Fatalf("%v", err)
	}
	return err
}

func highlight(source string) string {
	if noColor {
		return source
	}
	return tui.HighlightSource(source, tui.KernelLanguage)
}

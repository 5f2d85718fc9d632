package bench

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xupit3r/vecbench/internal/gpu"
)

// Context owns the device, its single command queue and the compiled kernel
// program for the lifetime of the process.
type Context struct {
	device  gpu.Device
	queue   gpu.CommandQueue
	library gpu.Library
	log     logrus.FieldLogger

	pipelines map[string]gpu.Pipeline
}

// NewContext creates the command queue and compiles source on dev. The
// caller keeps ownership of dev.
func NewContext(dev gpu.Device, source string, log logrus.FieldLogger) (*Context, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{
		"device": dev.Name(),
		"type":   dev.Type().String(),
	})

	queue, err := dev.NewCommandQueue()
	if err != nil {
		if errors.Is(err, gpu.ErrDeviceUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return nil, fmt.Errorf("%w: creating command queue: %v", ErrNoDevice, err)
	}

	library, err := dev.NewLibrary(source)
	if err != nil {
		queue.Free()
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	log.WithField("functions", library.FunctionNames()).Debug("Kernel program compiled")

	return &Context{
		device:    dev,
		queue:     queue,
		library:   library,
		log:       log,
		pipelines: make(map[string]gpu.Pipeline),
	}, nil
}

func (c *Context) Device() gpu.Device         { return c.device }
func (c *Context) Queue() gpu.CommandQueue    { return c.queue }
func (c *Context) Logger() logrus.FieldLogger { return c.log }

// Functions lists the kernel entry points of the compiled program.
func (c *Context) Functions() []string {
	return c.library.FunctionNames()
}

// CompilePipeline resolves a kernel entry point. Pipelines are cached by name.
func (c *Context) CompilePipeline(name string) (gpu.Pipeline, error) {
	if p, ok := c.pipelines[name]; ok {
		return p, nil
	}

	p, err := c.library.NewPipeline(name)
	if err != nil {
		if errors.Is(err, gpu.ErrFunctionNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, name)
		}
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	c.log.WithFields(logrus.Fields{
		"kernel":      name,
		"max_threads": p.MaxThreadsPerGroup(),
	}).Debug("Pipeline created")

	c.pipelines[name] = p
	return p, nil
}

// Close releases pipelines, the program and the queue. The device is left
// to its owner.
func (c *Context) Close() error {
	for name, p := range c.pipelines {
		p.Free()
		delete(c.pipelines, name)
	}
	var errs []error
	if err := c.library.Free(); err != nil {
		errs = append(errs, err)
	}
	if err := c.queue.Free(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package bench

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xupit3r/vecbench/internal/gpu"
	"github.com/xupit3r/vecbench/internal/kernels"
)

// ThreadsPerGroup is the threadgroup width of every dispatch.
const ThreadsPerGroup = 256

// Report labels of the two compute lines.
const (
	LabelComputeDevice = "compute (gpu)"
	LabelComputeWall   = "compute (wall)"
)

// Partition is the threadgroup layout covering a vector.
type Partition struct {
	Groups          int
	ThreadsPerGroup int
}

// NewPartition returns ceil(length/256) groups of 256 threads.
func NewPartition(length int) Partition {
	if length <= 0 {
		return Partition{Groups: 0, ThreadsPerGroup: ThreadsPerGroup}
	}
	return Partition{
		Groups:          (length + ThreadsPerGroup - 1) / ThreadsPerGroup,
		ThreadsPerGroup: ThreadsPerGroup,
	}
}

// Lanes is the number of kernel invocations the partition launches.
func (p Partition) Lanes() int {
	return p.Groups * p.ThreadsPerGroup
}

// Descriptor binds a kernel to its arguments. Slot 0 is always the length
// scalar; slots 1..3 are A, B and output.
type Descriptor struct {
	Kernel string
	Length int32
	Args   [3]gpu.Buffer
}

// NewDescriptor takes the kernel bindings from set. A private set that has
// not been staged in fails with ErrNotStaged.
func NewDescriptor(kernel string, set BufferSet) (Descriptor, error) {
	bindings, err := set.Bindings()
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Kernel: kernel,
		Length: int32(set.Length()),
		Args:   bindings,
	}, nil
}

// Dispatcher submits compute work on the context queue.
type Dispatcher struct {
	ctx *Context
}

func NewDispatcher(ctx *Context) *Dispatcher {
	return &Dispatcher{ctx: ctx}
}

// Dispatch runs the kernel once and blocks until the device completes it. It
// returns the device-timed sample and a wall-clock sample spanning commit to
// completion.
func (d *Dispatcher) Dispatch(pipeline gpu.Pipeline, desc Descriptor, part Partition) (device, wall Sample, err error) {
	cb, err := d.ctx.queue.NewCommandBuffer()
	if err != nil {
		return Sample{}, Sample{}, err
	}
	enc, err := cb.ComputeCommandEncoder()
	if err != nil {
		return Sample{}, Sample{}, err
	}

	encodeErr := encodeDispatch(enc, pipeline, desc, part)
	if err := enc.EndEncoding(); err != nil {
		return Sample{}, Sample{}, err
	}
	if encodeErr != nil {
		return Sample{}, Sample{}, fmt.Errorf("encoding %s: %w", desc.Kernel, encodeErr)
	}

	start := time.Now()
	if err := cb.Commit(); err != nil {
		return Sample{}, Sample{}, err
	}
	times, err := cb.WaitUntilCompleted()
	elapsed := time.Since(start)
	if err != nil {
		return Sample{}, Sample{}, fmt.Errorf("%s: %w", desc.Kernel, err)
	}

	n := int(desc.Length)
	read, write := 2*VectorBytes(n), VectorBytes(n)
	device = deviceSample(LabelComputeDevice, n, times, read, write)
	wall = wallSample(LabelComputeWall, n, elapsed, read, write)

	d.ctx.log.WithFields(logrus.Fields{
		"kernel": desc.Kernel,
		"length": n,
		"groups": part.Groups,
		"gpu_s":  device.Elapsed(),
		"wall_s": wall.Elapsed(),
	}).Debug("Dispatch completed")
	return device, wall, nil
}

func encodeDispatch(enc gpu.ComputeEncoder, pipeline gpu.Pipeline, desc Descriptor, part Partition) error {
	if err := enc.SetComputePipelineState(pipeline); err != nil {
		return err
	}

	length := make([]byte, 4)
	binary.NativeEndian.PutUint32(length, uint32(desc.Length))
	if err := enc.SetBytes(length, kernels.ArgLength); err != nil {
		return err
	}

	slots := [3]int{kernels.ArgA, kernels.ArgB, kernels.ArgOutput}
	for i, buf := range desc.Args {
		if err := enc.SetBuffer(buf, 0, slots[i]); err != nil {
			return fmt.Errorf("slot %d: %w", slots[i], err)
		}
	}

	if part.Groups == 0 {
		return nil
	}
	return enc.DispatchThreadgroups(gpu.Size1D(part.Groups), gpu.Size1D(part.ThreadsPerGroup))
}

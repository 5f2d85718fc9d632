package bench

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xupit3r/vecbench/internal/gpu"
)

// Direction of a staged copy between host-visible and device-local memory.
type Direction int

const (
	// StageIn copies inputs from staging into device-local buffers. Its bytes
	// are credited as reads.
	StageIn Direction = iota
	// StageOut copies the output from device-local into staging. Its bytes
	// are credited as writes.
	StageOut
)

func (d Direction) String() string {
	if d == StageOut {
		return "private to shared"
	}
	return "shared to private"
}

// CopyOp is one whole-buffer copy.
type CopyOp struct {
	Src  gpu.Buffer
	Dst  gpu.Buffer
	Size int64
}

// Transfer submits blit work on the context queue, one command buffer per
// call, and blocks until the device completes it.
type Transfer struct {
	ctx *Context
}

func NewTransfer(ctx *Context) *Transfer {
	return &Transfer{ctx: ctx}
}

// Copy encodes every op on one blit encoder and reports the combined bytes as
// a single sample. length is the vector length recorded in the sample.
func (t *Transfer) Copy(dir Direction, length int, ops ...CopyOp) (Sample, error) {
	var total int64
	times, err := t.submit(func(blit gpu.BlitEncoder) error {
		for i, op := range ops {
			if op.Size == 0 {
				continue
			}
			if err := blit.Copy(op.Src, 0, op.Dst, 0, op.Size); err != nil {
				return fmt.Errorf("copy %d: %w", i, err)
			}
			total += op.Size
		}
		return nil
	})
	if err != nil {
		return Sample{}, fmt.Errorf("%s: %w", dir, err)
	}

	var read, write int64
	if dir == StageOut {
		write = total
	} else {
		read = total
	}
	s := deviceSample(dir.String(), length, times, read, write)

	t.ctx.log.WithFields(logrus.Fields{
		"direction": dir.String(),
		"ops":       len(ops),
		"bytes":     total,
		"gpu_s":     s.Elapsed(),
	}).Debug("Copy completed")
	return s, nil
}

// Synchronize makes the device copies of managed buffers visible to the host.
func (t *Transfer) Synchronize(bufs ...gpu.Buffer) (gpu.Timestamps, error) {
	times, err := t.submit(func(blit gpu.BlitEncoder) error {
		for _, buf := range bufs {
			if err := blit.Synchronize(buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return gpu.Timestamps{}, fmt.Errorf("synchronize: %w", err)
	}
	t.ctx.log.WithField("buffers", len(bufs)).Debug("Managed buffers synchronized")
	return times, nil
}

func (t *Transfer) submit(encode func(gpu.BlitEncoder) error) (gpu.Timestamps, error) {
	cb, err := t.ctx.queue.NewCommandBuffer()
	if err != nil {
		return gpu.Timestamps{}, err
	}
	blit, err := cb.BlitCommandEncoder()
	if err != nil {
		return gpu.Timestamps{}, err
	}
	encodeErr := encode(blit)
	if err := blit.EndEncoding(); err != nil {
		return gpu.Timestamps{}, err
	}
	if encodeErr != nil {
		return gpu.Timestamps{}, encodeErr
	}
	if err := cb.Commit(); err != nil {
		return gpu.Timestamps{}, err
	}
	return cb.WaitUntilCompleted()
}

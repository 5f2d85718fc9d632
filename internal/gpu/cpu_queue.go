package gpu

import (
	"fmt"
	"sync"
)

// cpuQueue runs committed command buffers one at a time, in commit order,
// on its own goroutine.
type cpuQueue struct {
	device   *CPUDevice
	pending  chan *cpuCommandBuffer
	inflight sync.WaitGroup
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

func newCPUQueue(d *CPUDevice) *cpuQueue {
	q := &cpuQueue{
		device:  d,
		pending: make(chan *cpuCommandBuffer, 16),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *cpuQueue) run() {
	defer close(q.done)
	for cb := range q.pending {
		cb.execute()
		q.inflight.Done()
	}
}

func (q *cpuQueue) submit(cb *cpuCommandBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.inflight.Add(1)
	q.pending <- cb
	return nil
}

func (q *cpuQueue) waitIdle() {
	q.inflight.Wait()
}

func (q *cpuQueue) NewCommandBuffer() (CommandBuffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	return &cpuCommandBuffer{
		queue:     q,
		completed: make(chan struct{}),
	}, nil
}

func (q *cpuQueue) Free() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.pending)
	q.mu.Unlock()

	<-q.done
	return nil
}

// cpuCommandBuffer records commands as closures and runs them on the queue
type cpuCommandBuffer struct {
	queue *cpuQueue

	mu       sync.Mutex
	status   CommandBufferStatus
	encoding bool
	commands []func() error

	completed chan struct{}
	times     Timestamps
	err       error
}

func (cb *cpuCommandBuffer) record(cmd func() error) {
	cb.mu.Lock()
	cb.commands = append(cb.commands, cmd)
	cb.mu.Unlock()
}

func (cb *cpuCommandBuffer) beginEncoder() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.status != StatusEncoding {
		return ErrCommitted
	}
	if cb.encoding {
		return ErrEncoderActive
	}
	cb.encoding = true
	return nil
}

func (cb *cpuCommandBuffer) endEncoder() {
	cb.mu.Lock()
	cb.encoding = false
	cb.mu.Unlock()
}

func (cb *cpuCommandBuffer) BlitCommandEncoder() (BlitEncoder, error) {
	if err := cb.beginEncoder(); err != nil {
		return nil, err
	}
	return &cpuBlitEncoder{cb: cb}, nil
}

func (cb *cpuCommandBuffer) ComputeCommandEncoder() (ComputeEncoder, error) {
	if err := cb.beginEncoder(); err != nil {
		return nil, err
	}
	return &cpuComputeEncoder{
		cb:      cb,
		bytes:   make(map[int][]byte),
		buffers: make(map[int]bufferBinding),
	}, nil
}

func (cb *cpuCommandBuffer) Commit() error {
	cb.mu.Lock()
	if cb.status != StatusEncoding {
		cb.mu.Unlock()
		return ErrCommitted
	}
	if cb.encoding {
		cb.mu.Unlock()
		return ErrEncoderActive
	}
	cb.status = StatusCommitted
	cb.mu.Unlock()

	if err := cb.queue.submit(cb); err != nil {
		cb.mu.Lock()
		cb.status = StatusError
		cb.err = err
		cb.mu.Unlock()
		close(cb.completed)
		return err
	}
	return nil
}

func (cb *cpuCommandBuffer) WaitUntilCompleted() (Timestamps, error) {
	cb.mu.Lock()
	status := cb.status
	cb.mu.Unlock()
	if status == StatusEncoding {
		return Timestamps{}, ErrNotCommitted
	}

	<-cb.completed
	return cb.times, cb.err
}

func (cb *cpuCommandBuffer) Status() CommandBufferStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.status
}

func (cb *cpuCommandBuffer) execute() {
	cb.mu.Lock()
	commands := cb.commands
	cb.mu.Unlock()

	start := cb.queue.device.clock()
	var err error
	for _, cmd := range commands {
		if err = cmd(); err != nil {
			break
		}
	}
	end := cb.queue.device.clock()

	cb.mu.Lock()
	cb.times = Timestamps{GPUStart: start, GPUEnd: end}
	cb.err = err
	if err != nil {
		cb.status = StatusError
	} else {
		cb.status = StatusCompleted
	}
	cb.mu.Unlock()
	close(cb.completed)
}

// ownBuffer checks that buf was allocated by the device running cb
func (cb *cpuCommandBuffer) ownBuffer(buf Buffer) (*cpuBuffer, error) {
	b, ok := buf.(*cpuBuffer)
	if !ok || b.device != cb.queue.device {
		return nil, ErrForeignBuffer
	}
	return b, nil
}

// cpuBlitEncoder encodes copies between buffers of one device
type cpuBlitEncoder struct {
	cb    *cpuCommandBuffer
	ended bool
}

func (e *cpuBlitEncoder) Copy(src Buffer, srcOffset int64, dst Buffer, dstOffset int64, size int64) error {
	if e.ended {
		return fmt.Errorf("blit encoder already ended")
	}
	s, err := e.cb.ownBuffer(src)
	if err != nil {
		return err
	}
	d, err := e.cb.ownBuffer(dst)
	if err != nil {
		return err
	}
	if err := checkRange(srcOffset, size, s.Size()); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	if err := checkRange(dstOffset, size, d.Size()); err != nil {
		return fmt.Errorf("copy destination: %w", err)
	}

	e.cb.record(func() error {
		from, err := s.deviceView()
		if err != nil {
			return err
		}
		to, err := d.deviceView()
		if err != nil {
			return err
		}
		copy(to[dstOffset:dstOffset+size], from[srcOffset:srcOffset+size])
		return nil
	})
	return nil
}

func (e *cpuBlitEncoder) Synchronize(buf Buffer) error {
	if e.ended {
		return fmt.Errorf("blit encoder already ended")
	}
	b, err := e.cb.ownBuffer(buf)
	if err != nil {
		return err
	}
	if b.mode != StorageManaged {
		return nil
	}

	e.cb.record(func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.freed {
			return ErrBufferFreed
		}
		copy(b.host, b.dev)
		return nil
	})
	return nil
}

func (e *cpuBlitEncoder) Fill(buf Buffer, value byte) error {
	if e.ended {
		return fmt.Errorf("blit encoder already ended")
	}
	b, err := e.cb.ownBuffer(buf)
	if err != nil {
		return err
	}

	e.cb.record(func() error {
		view, err := b.deviceView()
		if err != nil {
			return err
		}
		for i := range view {
			view[i] = value
		}
		return nil
	})
	return nil
}

func (e *cpuBlitEncoder) EndEncoding() error {
	if e.ended {
		return nil
	}
	e.ended = true
	e.cb.endEncoder()
	return nil
}

type bufferBinding struct {
	buf    *cpuBuffer
	offset int64
}

// cpuComputeEncoder snapshots argument bindings at each dispatch
type cpuComputeEncoder struct {
	cb       *cpuCommandBuffer
	pipeline *cpuPipeline
	bytes    map[int][]byte
	buffers  map[int]bufferBinding
	ended    bool
}

func (e *cpuComputeEncoder) SetComputePipelineState(p Pipeline) error {
	cp, ok := p.(*cpuPipeline)
	if !ok || cp.device != e.cb.queue.device {
		return fmt.Errorf("pipeline %q does not belong to this device", p.Name())
	}
	e.pipeline = cp
	return nil
}

func (e *cpuComputeEncoder) SetBytes(data []byte, index int) error {
	e.bytes[index] = append([]byte(nil), data...)
	delete(e.buffers, index)
	return nil
}

func (e *cpuComputeEncoder) SetBuffer(buf Buffer, offset int64, index int) error {
	b, err := e.cb.ownBuffer(buf)
	if err != nil {
		return err
	}
	if offset < 0 || offset > b.Size() {
		return fmt.Errorf("%w: offset %d of %d bytes", ErrOutOfRange, offset, b.Size())
	}
	e.buffers[index] = bufferBinding{buf: b, offset: offset}
	delete(e.bytes, index)
	return nil
}

func (e *cpuComputeEncoder) DispatchThreadgroups(groups, threadsPerGroup Size) error {
	if e.ended {
		return fmt.Errorf("compute encoder already ended")
	}
	if e.pipeline == nil {
		return ErrNoPipeline
	}
	if n := threadsPerGroup.Count(); n > e.pipeline.MaxThreadsPerGroup() {
		return fmt.Errorf("threadgroup of %d exceeds pipeline limit %d", n, e.pipeline.MaxThreadsPerGroup())
	}

	pipeline := e.pipeline
	bytes := make(map[int][]byte, len(e.bytes))
	for i, b := range e.bytes {
		bytes[i] = b
	}
	buffers := make(map[int]bufferBinding, len(e.buffers))
	for i, b := range e.buffers {
		buffers[i] = b
	}
	workers := e.cb.queue.device.workers

	e.cb.record(func() error {
		args := &KernelArgs{bytes: bytes, buffers: make(map[int][]byte, len(buffers))}
		for i, binding := range buffers {
			view, err := binding.buf.deviceView()
			if err != nil {
				return fmt.Errorf("argument %d: %w", i, err)
			}
			args.buffers[i] = view[binding.offset:]
		}
		lane, err := pipeline.fn(args)
		if err != nil {
			return fmt.Errorf("%s: %w", pipeline.name, err)
		}
		return executeGrid(lane, groups.Count(), threadsPerGroup.Count(), workers)
	})
	return nil
}

func (e *cpuComputeEncoder) EndEncoding() error {
	if e.ended {
		return nil
	}
	e.ended = true
	e.cb.endEncoder()
	return nil
}

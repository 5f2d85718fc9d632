package gpu

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/xupit3r/vecbench/internal/gpu/metal"
)

// MetalDevice represents a Metal GPU device
type MetalDevice struct {
	dev *metal.Device

	// internal queue for zero fills and Sync
	queue *metal.CommandQueue

	mu      sync.Mutex
	buffers map[*metalBuffer]struct{}
	queues  []*metalQueue
	freed   bool
}

// NewMetalDevice opens the system default Metal device. It fails with
// ErrDeviceUnavailable when the build or the machine has no Metal.
func NewMetalDevice() (*MetalDevice, error) {
	dev, err := metal.CreateSystemDefaultDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	queue, err := dev.NewCommandQueue()
	if err != nil {
		dev.Release()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	return &MetalDevice{
		dev:     dev,
		queue:   queue,
		buffers: make(map[*metalBuffer]struct{}),
	}, nil
}

func (d *MetalDevice) Type() DeviceType {
	return DeviceTypeGPU
}

func (d *MetalDevice) Name() string {
	return d.dev.Name()
}

func metalStorage(mode StorageMode) (metal.StorageMode, error) {
	switch mode {
	case StorageShared:
		return metal.StorageShared, nil
	case StoragePrivate:
		return metal.StoragePrivate, nil
	case StorageManaged:
		return metal.StorageManaged, nil
	default:
		return 0, fmt.Errorf("unknown storage mode: %v", mode)
	}
}

func (d *MetalDevice) Allocate(size int64, mode StorageMode) (Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	sm, err := metalStorage(mode)
	if err != nil {
		return nil, err
	}

	// Metal refuses zero-length buffers
	length := max(size, 4)
	mb, err := d.dev.NewBuffer(int(length), sm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	buf := d.track(mb, mode, size)

	// Private memory is not guaranteed to start zeroed
	if mode == StoragePrivate {
		if err := d.zeroFill(buf); err != nil {
			buf.Free()
			return nil, err
		}
	}
	return buf, nil
}

func (d *MetalDevice) AllocateWithBytes(data []byte, mode StorageMode) (Buffer, error) {
	if !mode.HostVisible() {
		return nil, fmt.Errorf("%w: cannot initialize %s storage from host", ErrNotHostVisible, mode)
	}
	if len(data) == 0 {
		return d.Allocate(0, mode)
	}
	sm, err := metalStorage(mode)
	if err != nil {
		return nil, err
	}
	mb, err := d.dev.NewBufferWithBytes(data, sm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	return d.track(mb, mode, int64(len(data))), nil
}

func (d *MetalDevice) track(mb *metal.Buffer, mode StorageMode, size int64) *metalBuffer {
	buf := &metalBuffer{buf: mb, mode: mode, size: size, device: d}
	d.mu.Lock()
	d.buffers[buf] = struct{}{}
	d.mu.Unlock()
	return buf
}

func (d *MetalDevice) zeroFill(buf *metalBuffer) error {
	cb, err := d.queue.CommandBuffer()
	if err != nil {
		return err
	}
	defer cb.Release()

	enc, err := cb.BlitCommandEncoder()
	if err != nil {
		return err
	}
	enc.Fill(buf.buf, buf.buf.Length(), 0)
	enc.EndEncoding()
	cb.Commit()
	cb.WaitUntilCompleted()
	return cb.Error()
}

func (d *MetalDevice) NewCommandQueue() (CommandQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.freed {
		return nil, ErrDeviceUnavailable
	}

	q, err := d.dev.NewCommandQueue()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	mq := &metalQueue{queue: q, device: d}
	d.queues = append(d.queues, mq)
	return mq, nil
}

func (d *MetalDevice) NewLibrary(source string) (Library, error) {
	lib, err := d.dev.NewLibraryWithSource(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return &metalLibrary{lib: lib, device: d}, nil
}

// Sync commits an empty command buffer to every queue and waits for it.
// Queues execute in order so this drains all earlier work.
func (d *MetalDevice) Sync() error {
	d.mu.Lock()
	if d.freed {
		d.mu.Unlock()
		return ErrDeviceUnavailable
	}
	queues := []*metal.CommandQueue{d.queue}
	for _, q := range d.queues {
		if q.queue != nil {
			queues = append(queues, q.queue)
		}
	}
	d.mu.Unlock()

	for _, q := range queues {
		cb, err := q.CommandBuffer()
		if err != nil {
			return err
		}
		cb.Commit()
		cb.WaitUntilCompleted()
		cb.Release()
	}
	return nil
}

func (d *MetalDevice) Free() error {
	d.mu.Lock()
	if d.freed {
		d.mu.Unlock()
		return nil
	}
	d.freed = true
	buffers := d.buffers
	queues := d.queues
	d.buffers = nil
	d.queues = nil
	d.mu.Unlock()

	for buf := range buffers {
		buf.release()
	}
	for _, q := range queues {
		q.Free()
	}
	d.queue.Release()
	d.dev.Release()
	return nil
}

func (d *MetalDevice) MemoryUsage() (int64, int64) {
	used := int64(d.dev.CurrentAllocatedSize())
	total := int64(d.dev.RecommendedMaxWorkingSetSize())
	return used, total
}

// metalBuffer implements Buffer for Metal GPU memory
type metalBuffer struct {
	buf    *metal.Buffer
	mode   StorageMode
	size   int64
	device *MetalDevice
	mu     sync.RWMutex
	freed  bool
}

func (b *metalBuffer) Size() int64       { return b.size }
func (b *metalBuffer) Mode() StorageMode { return b.mode }

func (b *metalBuffer) contents() ([]byte, error) {
	if b.freed {
		return nil, ErrBufferFreed
	}
	if !b.mode.HostVisible() {
		return nil, ErrNotHostVisible
	}
	if b.size == 0 {
		return []byte{}, nil
	}
	ptr := b.buf.Contents()
	if ptr == nil {
		return nil, errors.New("failed to get buffer contents")
	}
	return unsafe.Slice((*byte)(ptr), b.size), nil
}

func (b *metalBuffer) Contents() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.contents()
}

func (b *metalBuffer) DidModifyRange(offset, length int64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.freed {
		return ErrBufferFreed
	}
	if !b.mode.HostVisible() {
		return ErrNotHostVisible
	}
	if err := checkRange(offset, length, b.size); err != nil {
		return err
	}
	if b.mode == StorageManaged && length > 0 {
		b.buf.DidModifyRange(int(offset), int(length))
	}
	return nil
}

func (b *metalBuffer) CopyToHost(dst []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if int64(len(dst)) < b.size {
		return fmt.Errorf("destination buffer too small: %d < %d", len(dst), b.size)
	}
	contents, err := b.contents()
	if err != nil {
		return err
	}
	copy(dst, contents)
	return nil
}

func (b *metalBuffer) CopyFromHost(src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < int64(len(src)) {
		return fmt.Errorf("buffer too small: %d < %d", b.size, len(src))
	}
	contents, err := b.contents()
	if err != nil {
		return err
	}
	copy(contents, src)
	return nil
}

func (b *metalBuffer) Free() error {
	b.device.mu.Lock()
	delete(b.device.buffers, b)
	b.device.mu.Unlock()
	b.release()
	return nil
}

func (b *metalBuffer) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.freed {
		b.freed = true
		b.buf.Release()
	}
}

func (b *metalBuffer) Device() Device {
	return b.device
}

func (d *MetalDevice) ownBuffer(buf Buffer) (*metalBuffer, error) {
	b, ok := buf.(*metalBuffer)
	if !ok || b.device != d {
		return nil, ErrForeignBuffer
	}
	if b.freed {
		return nil, ErrBufferFreed
	}
	return b, nil
}

type metalQueue struct {
	queue  *metal.CommandQueue
	device *MetalDevice
	mu     sync.Mutex
	closed bool
}

func (q *metalQueue) NewCommandBuffer() (CommandBuffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	cb, err := q.queue.CommandBuffer()
	if err != nil {
		return nil, err
	}
	return &metalCommandBuffer{cb: cb, device: q.device}, nil
}

func (q *metalQueue) Free() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	// Drain before releasing
	cb, err := q.queue.CommandBuffer()
	if err == nil {
		cb.Commit()
		cb.WaitUntilCompleted()
		cb.Release()
	}
	q.queue.Release()
	return nil
}

type metalCommandBuffer struct {
	cb     *metal.CommandBuffer
	device *MetalDevice

	mu       sync.Mutex
	status   CommandBufferStatus
	encoding bool
	done     bool
	times    Timestamps
	err      error
}

func (cb *metalCommandBuffer) beginEncoder() error {
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

func (cb *metalCommandBuffer) endEncoder() {
	cb.mu.Lock()
	cb.encoding = false
	cb.mu.Unlock()
}

func (cb *metalCommandBuffer) BlitCommandEncoder() (BlitEncoder, error) {
	if err := cb.beginEncoder(); err != nil {
		return nil, err
	}
	enc, err := cb.cb.BlitCommandEncoder()
	if err != nil {
		cb.endEncoder()
		return nil, err
	}
	return &metalBlitEncoder{enc: enc, cb: cb}, nil
}

func (cb *metalCommandBuffer) ComputeCommandEncoder() (ComputeEncoder, error) {
	if err := cb.beginEncoder(); err != nil {
		return nil, err
	}
	enc, err := cb.cb.ComputeCommandEncoder()
	if err != nil {
		cb.endEncoder()
		return nil, err
	}
	return &metalComputeEncoder{enc: enc, cb: cb}, nil
}

func (cb *metalCommandBuffer) Commit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.status != StatusEncoding {
		return ErrCommitted
	}
	if cb.encoding {
		return ErrEncoderActive
	}
	cb.status = StatusCommitted
	cb.cb.Commit()
	return nil
}

func (cb *metalCommandBuffer) WaitUntilCompleted() (Timestamps, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case cb.status == StatusEncoding:
		return Timestamps{}, ErrNotCommitted
	case cb.done:
		return cb.times, cb.err
	}

	cb.cb.WaitUntilCompleted()
	cb.times = Timestamps{GPUStart: cb.cb.GPUStartTime(), GPUEnd: cb.cb.GPUEndTime()}
	cb.err = cb.cb.Error()
	if cb.err != nil {
		cb.status = StatusError
	} else {
		cb.status = StatusCompleted
	}
	cb.done = true
	cb.cb.Release()
	return cb.times, cb.err
}

func (cb *metalCommandBuffer) Status() CommandBufferStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.status
}

type metalBlitEncoder struct {
	enc *metal.BlitEncoder
	cb  *metalCommandBuffer
}

func (e *metalBlitEncoder) Copy(src Buffer, srcOffset int64, dst Buffer, dstOffset int64, size int64) error {
	s, err := e.cb.device.ownBuffer(src)
	if err != nil {
		return err
	}
	d, err := e.cb.device.ownBuffer(dst)
	if err != nil {
		return err
	}
	if err := checkRange(srcOffset, size, s.size); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	if err := checkRange(dstOffset, size, d.size); err != nil {
		return fmt.Errorf("copy destination: %w", err)
	}
	if size == 0 {
		return nil
	}
	e.enc.Copy(s.buf, int(srcOffset), d.buf, int(dstOffset), int(size))
	return nil
}

func (e *metalBlitEncoder) Synchronize(buf Buffer) error {
	b, err := e.cb.device.ownBuffer(buf)
	if err != nil {
		return err
	}
	if b.mode == StorageManaged {
		e.enc.Synchronize(b.buf)
	}
	return nil
}

func (e *metalBlitEncoder) Fill(buf Buffer, value byte) error {
	b, err := e.cb.device.ownBuffer(buf)
	if err != nil {
		return err
	}
	e.enc.Fill(b.buf, b.buf.Length(), value)
	return nil
}

func (e *metalBlitEncoder) EndEncoding() error {
	e.enc.EndEncoding()
	e.cb.endEncoder()
	return nil
}

type metalComputeEncoder struct {
	enc      *metal.ComputeEncoder
	cb       *metalCommandBuffer
	pipeline *metalPipeline
}

func (e *metalComputeEncoder) SetComputePipelineState(p Pipeline) error {
	mp, ok := p.(*metalPipeline)
	if !ok || mp.device != e.cb.device {
		return fmt.Errorf("pipeline %q does not belong to this device", p.Name())
	}
	e.pipeline = mp
	e.enc.SetPipeline(mp.pipeline)
	return nil
}

func (e *metalComputeEncoder) SetBytes(data []byte, index int) error {
	e.enc.SetBytes(data, index)
	return nil
}

func (e *metalComputeEncoder) SetBuffer(buf Buffer, offset int64, index int) error {
	b, err := e.cb.device.ownBuffer(buf)
	if err != nil {
		return err
	}
	if offset < 0 || offset > b.size {
		return fmt.Errorf("%w: offset %d of %d bytes", ErrOutOfRange, offset, b.size)
	}
	e.enc.SetBuffer(b.buf, int(offset), index)
	return nil
}

func (e *metalComputeEncoder) DispatchThreadgroups(groups, threadsPerGroup Size) error {
	if e.pipeline == nil {
		return ErrNoPipeline
	}
	if n := threadsPerGroup.Count(); n > e.pipeline.MaxThreadsPerGroup() {
		return fmt.Errorf("threadgroup of %d exceeds pipeline limit %d", n, e.pipeline.MaxThreadsPerGroup())
	}
	if groups.Count() == 0 {
		return nil
	}
	e.enc.DispatchThreadgroups(
		[3]int{groups.Width, groups.Height, groups.Depth},
		[3]int{threadsPerGroup.Width, threadsPerGroup.Height, threadsPerGroup.Depth},
	)
	return nil
}

func (e *metalComputeEncoder) EndEncoding() error {
	e.enc.EndEncoding()
	e.cb.endEncoder()
	return nil
}

type metalLibrary struct {
	lib    *metal.Library
	device *MetalDevice
}

func (l *metalLibrary) FunctionNames() []string {
	return l.lib.FunctionNames()
}

func (l *metalLibrary) NewPipeline(name string) (Pipeline, error) {
	p, err := l.lib.NewPipeline(name)
	if err != nil {
		if errors.Is(err, metal.ErrFunctionNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return &metalPipeline{pipeline: p, device: l.device}, nil
}

func (l *metalLibrary) Free() error {
	l.lib.Release()
	return nil
}

type metalPipeline struct {
	pipeline *metal.Pipeline
	device   *MetalDevice
}

func (p *metalPipeline) Name() string            { return p.pipeline.Name() }
func (p *metalPipeline) MaxThreadsPerGroup() int { return p.pipeline.MaxTotalThreadsPerThreadgroup() }
func (p *metalPipeline) Free() error {
	p.pipeline.Release()
	return nil
}

package gpu

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/xupit3r/vecbench/internal/system"
)

// CPUDevice is a software accelerator. It honors the three storage modes
// (private memory is not host visible, managed memory needs explicit
// synchronization), runs command buffers on a queue goroutine and timestamps
// them with the monotonic clock.
type CPUDevice struct {
	name    string
	workers int
	limit   int64 // 0 = unlimited
	epoch   time.Time

	mu        sync.Mutex
	allocated int64
	queues    []*cpuQueue
	freed     bool
}

// CPUOption configures a CPUDevice
type CPUOption func(*CPUDevice)

// WithWorkers sets the number of goroutines used to execute a grid.
// Zero or negative means runtime.NumCPU().
func WithWorkers(n int) CPUOption {
	return func(d *CPUDevice) {
		d.workers = n
	}
}

// WithMemoryLimit caps the bytes the device may have allocated at once.
// Zero disables the limit.
func WithMemoryLimit(bytes int64) CPUOption {
	return func(d *CPUDevice) {
		d.limit = bytes
	}
}

// NewCPUDevice creates a new software device. The default memory limit is
// the available RAM less system.DefaultReserve.
func NewCPUDevice(opts ...CPUOption) *CPUDevice {
	d := &CPUDevice{
		name:    cpuDeviceName(),
		workers: runtime.NumCPU(),
		epoch:   time.Now(),
	}
	if usable, err := system.EstimateUsableRAM(system.DefaultReserve); err == nil && usable > 0 {
		d.limit = usable
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = runtime.NumCPU()
	}
	return d
}

func cpuDeviceName() string {
	var features []string
	switch runtime.GOARCH {
	case "amd64":
		switch {
		case cpu.X86.HasAVX512F:
			features = append(features, "AVX-512")
		case cpu.X86.HasAVX2:
			features = append(features, "AVX2")
		case cpu.X86.HasAVX:
			features = append(features, "AVX")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "NEON")
		}
		if cpu.ARM64.HasSVE {
			features = append(features, "SVE")
		}
	}
	if len(features) == 0 {
		return fmt.Sprintf("CPU (%s)", runtime.GOARCH)
	}
	return fmt.Sprintf("CPU (%s, %s)", runtime.GOARCH, strings.Join(features, "+"))
}

func (d *CPUDevice) Type() DeviceType { return DeviceTypeCPU }
func (d *CPUDevice) Name() string     { return d.name }

// Workers returns the number of goroutines a dispatch fans out to.
func (d *CPUDevice) Workers() int { return d.workers }

func (d *CPUDevice) Allocate(size int64, mode StorageMode) (Buffer, error) {
	return d.newBuffer(size, mode)
}

func (d *CPUDevice) AllocateWithBytes(data []byte, mode StorageMode) (Buffer, error) {
	if !mode.HostVisible() {
		return nil, fmt.Errorf("%w: cannot initialize %s storage from host", ErrNotHostVisible, mode)
	}
	buf, err := d.newBuffer(int64(len(data)), mode)
	if err != nil {
		return nil, err
	}
	copy(buf.host, data)
	if mode == StorageManaged {
		copy(buf.dev, data)
	}
	return buf, nil
}

func (d *CPUDevice) newBuffer(size int64, mode StorageMode) (*cpuBuffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	// Managed storage keeps two copies
	footprint := size
	if mode == StorageManaged {
		footprint = 2 * size
	}
	if err := d.reserve(footprint); err != nil {
		return nil, err
	}

	buf := &cpuBuffer{
		device:    d,
		mode:      mode,
		size:      size,
		footprint: footprint,
	}
	switch mode {
	case StorageShared:
		buf.host = alignedBytes(size)
		buf.dev = buf.host
	case StoragePrivate:
		buf.dev = alignedBytes(size)
	case StorageManaged:
		buf.host = alignedBytes(size)
		buf.dev = alignedBytes(size)
	default:
		d.release(footprint)
		return nil, fmt.Errorf("unknown storage mode: %v", mode)
	}
	return buf, nil
}

func (d *CPUDevice) reserve(bytes int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.freed {
		return ErrDeviceUnavailable
	}
	if d.limit > 0 && d.allocated+bytes > d.limit {
		return fmt.Errorf("%w: requested %s with %s of %s in use", ErrOutOfMemory,
			system.FormatBytes(bytes), system.FormatBytes(d.allocated), system.FormatBytes(d.limit))
	}
	d.allocated += bytes
	return nil
}

func (d *CPUDevice) release(bytes int64) {
	d.mu.Lock()
	d.allocated -= bytes
	d.mu.Unlock()
}

func (d *CPUDevice) NewCommandQueue() (CommandQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.freed {
		return nil, ErrDeviceUnavailable
	}
	q := newCPUQueue(d)
	d.queues = append(d.queues, q)
	return q, nil
}

func (d *CPUDevice) NewLibrary(source string) (Library, error) {
	return newCPULibrary(d, source)
}

func (d *CPUDevice) Sync() error {
	d.mu.Lock()
	queues := append([]*cpuQueue(nil), d.queues...)
	d.mu.Unlock()

	for _, q := range queues {
		q.waitIdle()
	}
	return nil
}

func (d *CPUDevice) Free() error {
	d.mu.Lock()
	if d.freed {
		d.mu.Unlock()
		return nil
	}
	d.freed = true
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()

	for _, q := range queues {
		q.Free()
	}
	return nil
}

func (d *CPUDevice) MemoryUsage() (int64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated, d.limit
}

// clock returns seconds since the device was created
func (d *CPUDevice) clock() float64 {
	return time.Since(d.epoch).Seconds()
}

// alignedBytes returns n zero bytes backed by 8-byte aligned storage so the
// memory can be viewed as []float32 or []int32.
func alignedBytes(n int64) []byte {
	if n == 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// cpuBuffer implements Buffer for the software device. host is the
// host-visible view, dev is what commands read and write. Shared buffers
// alias the two; private buffers have no host view.
type cpuBuffer struct {
	device    *CPUDevice
	mode      StorageMode
	size      int64
	footprint int64
	host      []byte
	dev       []byte
	mu        sync.RWMutex
	freed     bool
}

func (b *cpuBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *cpuBuffer) Mode() StorageMode { return b.mode }

func (b *cpuBuffer) Contents() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.freed {
		return nil, ErrBufferFreed
	}
	if !b.mode.HostVisible() {
		return nil, ErrNotHostVisible
	}
	return b.host, nil
}

func (b *cpuBuffer) DidModifyRange(offset, length int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return ErrBufferFreed
	}
	if !b.mode.HostVisible() {
		return ErrNotHostVisible
	}
	if err := checkRange(offset, length, b.size); err != nil {
		return err
	}
	if b.mode == StorageManaged {
		copy(b.dev[offset:offset+length], b.host[offset:offset+length])
	}
	return nil
}

func (b *cpuBuffer) CopyToHost(dst []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.freed {
		return ErrBufferFreed
	}
	if !b.mode.HostVisible() {
		return ErrNotHostVisible
	}
	if int64(len(dst)) < b.size {
		return fmt.Errorf("destination buffer too small: %d < %d", len(dst), b.size)
	}
	copy(dst, b.host)
	return nil
}

func (b *cpuBuffer) CopyFromHost(src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return ErrBufferFreed
	}
	if !b.mode.HostVisible() {
		return ErrNotHostVisible
	}
	if b.size < int64(len(src)) {
		return fmt.Errorf("buffer too small: %d < %d", b.size, len(src))
	}
	copy(b.host, src)
	return nil
}

func (b *cpuBuffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return nil
	}
	b.freed = true
	b.host = nil
	b.dev = nil
	b.device.release(b.footprint)
	return nil
}

func (b *cpuBuffer) Device() Device {
	return b.device
}

// deviceView returns the bytes commands operate on
func (b *cpuBuffer) deviceView() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.freed {
		return nil, ErrBufferFreed
	}
	return b.dev, nil
}

func checkRange(offset, length, size int64) error {
	if offset < 0 || length < 0 || offset+length > size {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfRange, offset, offset+length, size)
	}
	return nil
}

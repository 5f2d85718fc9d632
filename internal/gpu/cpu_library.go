package gpu

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"
)

// KernelArgs holds the arguments bound to a dispatch, by argument index.
type KernelArgs struct {
	bytes   map[int][]byte
	buffers map[int][]byte
}

// NewKernelArgs builds an argument table directly, for running a KernelFunc
// outside a command buffer.
func NewKernelArgs() *KernelArgs {
	return &KernelArgs{bytes: make(map[int][]byte), buffers: make(map[int][]byte)}
}

// SetBytes binds an inline constant at index.
func (a *KernelArgs) SetBytes(index int, data []byte) *KernelArgs {
	a.bytes[index] = data
	delete(a.buffers, index)
	return a
}

// SetBuffer binds raw buffer memory at index.
func (a *KernelArgs) SetBuffer(index int, data []byte) *KernelArgs {
	a.buffers[index] = data
	delete(a.bytes, index)
	return a
}

// Bytes returns the memory bound at index, whether set inline or as a buffer.
func (a *KernelArgs) Bytes(index int) ([]byte, error) {
	if b, ok := a.buffers[index]; ok {
		return b, nil
	}
	if b, ok := a.bytes[index]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: index %d", ErrMissingArgument, index)
}

// Int32 reads a native-endian int32 from the argument at index.
func (a *KernelArgs) Int32(index int) (int32, error) {
	b, err := a.Bytes(index)
	if err != nil {
		return 0, err
	}
	if len(b) < 4 {
		return 0, fmt.Errorf("argument %d: need 4 bytes for int32, have %d", index, len(b))
	}
	return int32(binary.NativeEndian.Uint32(b)), nil
}

// Float32s views the argument at index as a float32 slice. Trailing bytes
// that do not form a whole element are ignored.
func (a *KernelArgs) Float32s(index int) ([]float32, error) {
	b, err := a.Bytes(index)
	if err != nil {
		return nil, err
	}
	n := len(b) / 4
	if n == 0 {
		return []float32{}, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n), nil
}

// Lane is the body of a kernel for one thread position in the grid.
type Lane func(gid int)

// KernelFunc binds a dispatch's arguments and returns the per-thread body.
type KernelFunc func(args *KernelArgs) (Lane, error)

var (
	kernelMu sync.RWMutex
	kernels  = map[string]KernelFunc{}
)

// RegisterKernel makes a Go implementation of a kernel entry point available
// to the software device. It panics if name is registered twice.
func RegisterKernel(name string, fn KernelFunc) {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	if fn == nil {
		panic("gpu: RegisterKernel with nil function for " + name)
	}
	if _, dup := kernels[name]; dup {
		panic("gpu: RegisterKernel called twice for " + name)
	}
	kernels[name] = fn
}

// RegisteredKernels lists the names with a Go implementation.
func RegisteredKernels() []string {
	kernelMu.RLock()
	defer kernelMu.RUnlock()
	names := make([]string, 0, len(kernels))
	for name := range kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupKernel(name string) (KernelFunc, bool) {
	kernelMu.RLock()
	defer kernelMu.RUnlock()
	fn, ok := kernels[name]
	return fn, ok
}

var kernelDecl = regexp.MustCompile(`(?m)\bkernel\s+void\s+([A-Za-z_]\w*)\s*\(`)

// KernelNames returns the kernel entry points declared in source, in order.
func KernelNames(source string) []string {
	var names []string
	for _, m := range kernelDecl.FindAllStringSubmatch(source, -1) {
		names = append(names, m[1])
	}
	return names
}

// cpuLibrary "compiles" source by matching each declared entry point to a
// registered Go kernel.
type cpuLibrary struct {
	device    *CPUDevice
	functions map[string]KernelFunc
	names     []string
}

func newCPULibrary(d *CPUDevice, source string) (*cpuLibrary, error) {
	names := KernelNames(source)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no kernel entry points in source", ErrCompile)
	}

	lib := &cpuLibrary{device: d, functions: make(map[string]KernelFunc, len(names))}
	for _, name := range names {
		if _, dup := lib.functions[name]; dup {
			return nil, fmt.Errorf("%w: redefinition of kernel %q", ErrCompile, name)
		}
		fn, ok := lookupKernel(name)
		if !ok {
			return nil, fmt.Errorf("%w: kernel %q has no software implementation", ErrCompile, name)
		}
		lib.functions[name] = fn
		lib.names = append(lib.names, name)
	}
	return lib, nil
}

func (l *cpuLibrary) FunctionNames() []string {
	return append([]string(nil), l.names...)
}

func (l *cpuLibrary) NewPipeline(name string) (Pipeline, error) {
	fn, ok := l.functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
	}
	return &cpuPipeline{device: l.device, name: name, fn: fn}, nil
}

func (l *cpuLibrary) Free() error { return nil }

type cpuPipeline struct {
	device *CPUDevice
	name   string
	fn     KernelFunc
}

func (p *cpuPipeline) Name() string            { return p.name }
func (p *cpuPipeline) MaxThreadsPerGroup() int { return 1024 }
func (p *cpuPipeline) Free() error             { return nil }

// executeGrid runs lane for every thread of groups x threadsPerGroup. Whole
// threadgroups are split into contiguous chunks, one per worker.
func executeGrid(lane Lane, groups, threadsPerGroup, workers int) error {
	if groups <= 0 || threadsPerGroup <= 0 {
		return nil
	}
	if workers > groups {
		workers = groups
	}
	if workers < 1 {
		workers = 1
	}
	groupsPerWorker := (groups + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		first := w * groupsPerWorker
		last := min(first+groupsPerWorker, groups)
		if first >= last {
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("kernel panic in threadgroups [%d, %d): %v", first, last, r)
				}
			}()
			for gid := first * threadsPerGroup; gid < last*threadsPerGroup; gid++ {
				lane(gid)
			}
			return nil
		})
	}
	return g.Wait()
}

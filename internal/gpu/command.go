package gpu

// Size is a 1D/2D/3D extent for grids and threadgroups
type Size struct {
	Width, Height, Depth int
}

// Size1D returns a one-dimensional extent.
func Size1D(width int) Size {
	return Size{Width: width, Height: 1, Depth: 1}
}

// Count returns the number of elements covered by the extent.
func (s Size) Count() int {
	return s.Width * s.Height * s.Depth
}

// Timestamps are device-side execution bounds of one command buffer, in
// seconds on the device clock.
type Timestamps struct {
	GPUStart float64
	GPUEnd   float64
}

// Elapsed returns GPUEnd - GPUStart, or 0 if the device reported nothing usable.
func (t Timestamps) Elapsed() float64 {
	if t.GPUEnd <= t.GPUStart {
		return 0
	}
	return t.GPUEnd - t.GPUStart
}

// CommandQueue serializes command buffers onto a device
type CommandQueue interface {
	// NewCommandBuffer returns a fresh buffer in the encoding state
	NewCommandBuffer() (CommandBuffer, error)

	// Free waits for committed work and releases the queue
	Free() error
}

// CommandBufferStatus tracks a command buffer through its lifecycle
type CommandBufferStatus int

const (
	StatusEncoding CommandBufferStatus = iota
	StatusCommitted
	StatusCompleted
	StatusError
)

func (s CommandBufferStatus) String() string {
	switch s {
	case StatusEncoding:
		return "encoding"
	case StatusCommitted:
		return "committed"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// CommandBuffer records encoded commands and runs them once committed
type CommandBuffer interface {
	// BlitCommandEncoder opens an encoder for copy and synchronization commands
	BlitCommandEncoder() (BlitEncoder, error)

	// ComputeCommandEncoder opens an encoder for kernel dispatches
	ComputeCommandEncoder() (ComputeEncoder, error)

	// Commit submits the buffer to its queue. All encoders must be ended.
	Commit() error

	// WaitUntilCompleted blocks until the device finishes the buffer and
	// returns the device-side timestamps of its execution.
	WaitUntilCompleted() (Timestamps, error)

	// Status returns the current lifecycle state
	Status() CommandBufferStatus
}

// BlitEncoder encodes memory transfer commands
type BlitEncoder interface {
	// Copy copies size bytes from src at srcOffset to dst at dstOffset
	Copy(src Buffer, srcOffset int64, dst Buffer, dstOffset int64, size int64) error

	// Synchronize makes the device copy of a managed buffer visible to the host
	Synchronize(buf Buffer) error

	// Fill sets every byte of buf to value
	Fill(buf Buffer, value byte) error

	// EndEncoding closes the encoder
	EndEncoding() error
}

// ComputeEncoder encodes kernel dispatches
type ComputeEncoder interface {
	SetComputePipelineState(p Pipeline) error
	SetBytes(data []byte, index int) error
	SetBuffer(buf Buffer, offset int64, index int) error
	DispatchThreadgroups(groups, threadsPerGroup Size) error
	EndEncoding() error
}

// Library is a compiled kernel program
type Library interface {
	// FunctionNames lists the kernel entry points in the program
	FunctionNames() []string

	// NewPipeline resolves a named entry point into an executable pipeline
	NewPipeline(name string) (Pipeline, error)

	Free() error
}

// Pipeline is an executable kernel entry point
type Pipeline interface {
	Name() string
	MaxThreadsPerGroup() int
	Free() error
}

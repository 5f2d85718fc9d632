//go:build !darwin || !cgo

package metal

import "unsafe"

// Available reports whether this build carries the Metal bridge.
const Available = false

// Device stub for platforms without Metal
type Device struct{}

func CreateSystemDefaultDevice() (*Device, error) {
	return nil, ErrUnavailable
}

func (d *Device) Name() string                         { return "Metal (unsupported)" }
func (d *Device) RecommendedMaxWorkingSetSize() uint64 { return 0 }
func (d *Device) CurrentAllocatedSize() uint64         { return 0 }

func (d *Device) NewBuffer(length int, mode StorageMode) (*Buffer, error) {
	return nil, ErrUnavailable
}

func (d *Device) NewBufferWithBytes(data []byte, mode StorageMode) (*Buffer, error) {
	return nil, ErrUnavailable
}

func (d *Device) NewCommandQueue() (*CommandQueue, error) {
	return nil, ErrUnavailable
}

func (d *Device) NewLibraryWithSource(source string) (*Library, error) {
	return nil, ErrUnavailable
}

func (d *Device) Release() {}

// Buffer stub
type Buffer struct{ mode StorageMode }

func (b *Buffer) Mode() StorageMode                  { return b.mode }
func (b *Buffer) Length() int                        { return 0 }
func (b *Buffer) Contents() unsafe.Pointer           { return nil }
func (b *Buffer) DidModifyRange(offset, length int) {}
func (b *Buffer) Release()                           {}

// CommandQueue stub
type CommandQueue struct{}

func (q *CommandQueue) CommandBuffer() (*CommandBuffer, error) { return nil, ErrUnavailable }
func (q *CommandQueue) Release()                               {}

// CommandBuffer stub
type CommandBuffer struct{}

func (cb *CommandBuffer) BlitCommandEncoder() (*BlitEncoder, error)       { return nil, ErrUnavailable }
func (cb *CommandBuffer) ComputeCommandEncoder() (*ComputeEncoder, error) { return nil, ErrUnavailable }
func (cb *CommandBuffer) Commit()                                         {}
func (cb *CommandBuffer) WaitUntilCompleted()                             {}
func (cb *CommandBuffer) GPUStartTime() float64                           { return 0 }
func (cb *CommandBuffer) GPUEndTime() float64                             { return 0 }
func (cb *CommandBuffer) Error() error                                    { return ErrUnavailable }
func (cb *CommandBuffer) Release()                                        {}

// BlitEncoder stub
type BlitEncoder struct{}

func (e *BlitEncoder) Copy(src *Buffer, srcOffset int, dst *Buffer, dstOffset int, size int) {}
func (e *BlitEncoder) Synchronize(buf *Buffer)                                              {}
func (e *BlitEncoder) Fill(buf *Buffer, length int, value byte)                             {}
func (e *BlitEncoder) EndEncoding()                                                         {}

// ComputeEncoder stub
type ComputeEncoder struct{}

func (e *ComputeEncoder) SetPipeline(p *Pipeline)                            {}
func (e *ComputeEncoder) SetBytes(data []byte, index int)                    {}
func (e *ComputeEncoder) SetBuffer(buf *Buffer, offset int, index int)       {}
func (e *ComputeEncoder) DispatchThreadgroups(groups, threadsPerGroup [3]int) {}
func (e *ComputeEncoder) EndEncoding()                                       {}

// Library stub
type Library struct{}

func (l *Library) FunctionNames() []string { return nil }
func (l *Library) NewPipeline(name string) (*Pipeline, error) {
	return nil, ErrUnavailable
}
func (l *Library) Release() {}

// Pipeline stub
type Pipeline struct{}

func (p *Pipeline) Name() string                       { return "" }
func (p *Pipeline) MaxTotalThreadsPerThreadgroup() int { return 0 }
func (p *Pipeline) Release()                           {}

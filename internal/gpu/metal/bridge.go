//go:build darwin && cgo

package metal

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Metal -framework Foundation

#import <Metal/Metal.h>
#import <Foundation/Foundation.h>
#include <stdlib.h>
#include <string.h>

void* mtlCreateDevice(void) {
    @autoreleasepool {
        id<MTLDevice> device = MTLCreateSystemDefaultDevice();
        if (device == nil) {
            return NULL;
        }
        return (void*)CFBridgingRetain(device);
    }
}

void mtlRelease(void* obj) {
    if (obj != NULL) {
        CFBridgingRelease(obj);
    }
}

// Caller must free the returned string
char* mtlDeviceName(void* device) {
    @autoreleasepool {
        id<MTLDevice> mtlDevice = (__bridge id<MTLDevice>)device;
        return strdup([[mtlDevice name] UTF8String]);
    }
}

uint64_t mtlRecommendedMaxWorkingSetSize(void* device) {
    id<MTLDevice> mtlDevice = (__bridge id<MTLDevice>)device;
    return [mtlDevice recommendedMaxWorkingSetSize];
}

uint64_t mtlCurrentAllocatedSize(void* device) {
    id<MTLDevice> mtlDevice = (__bridge id<MTLDevice>)device;
    return [mtlDevice currentAllocatedSize];
}

static MTLResourceOptions storageOptions(int mode) {
    switch (mode) {
    case 1:
        return MTLResourceStorageModeManaged;
    case 2:
        return MTLResourceStorageModePrivate;
    default:
        return MTLResourceStorageModeShared;
    }
}

void* mtlNewBuffer(void* device, size_t length, int mode) {
    @autoreleasepool {
        id<MTLDevice> mtlDevice = (__bridge id<MTLDevice>)device;
        id<MTLBuffer> buffer = [mtlDevice newBufferWithLength:length options:storageOptions(mode)];
        if (buffer == nil) {
            return NULL;
        }
        return (void*)CFBridgingRetain(buffer);
    }
}

void* mtlNewBufferWithBytes(void* device, const void* bytes, size_t length, int mode) {
    @autoreleasepool {
        id<MTLDevice> mtlDevice = (__bridge id<MTLDevice>)device;
        id<MTLBuffer> buffer = [mtlDevice newBufferWithBytes:bytes length:length options:storageOptions(mode)];
        if (buffer == nil) {
            return NULL;
        }
        return (void*)CFBridgingRetain(buffer);
    }
}

void* mtlBufferContents(void* buffer) {
    id<MTLBuffer> mtlBuffer = (__bridge id<MTLBuffer>)buffer;
    return [mtlBuffer contents];
}

size_t mtlBufferLength(void* buffer) {
    id<MTLBuffer> mtlBuffer = (__bridge id<MTLBuffer>)buffer;
    return [mtlBuffer length];
}

void mtlBufferDidModifyRange(void* buffer, size_t offset, size_t length) {
    id<MTLBuffer> mtlBuffer = (__bridge id<MTLBuffer>)buffer;
    [mtlBuffer didModifyRange:NSMakeRange(offset, length)];
}

void* mtlNewCommandQueue(void* device) {
    @autoreleasepool {
        id<MTLDevice> mtlDevice = (__bridge id<MTLDevice>)device;
        id<MTLCommandQueue> queue = [mtlDevice newCommandQueue];
        if (queue == nil) {
            return NULL;
        }
        return (void*)CFBridgingRetain(queue);
    }
}

void* mtlCommandBuffer(void* queue) {
    @autoreleasepool {
        id<MTLCommandQueue> mtlQueue = (__bridge id<MTLCommandQueue>)queue;
        id<MTLCommandBuffer> cb = [mtlQueue commandBuffer];
        if (cb == nil) {
            return NULL;
        }
        return (void*)CFBridgingRetain(cb);
    }
}

void mtlCommit(void* cb) {
    id<MTLCommandBuffer> mtlCB = (__bridge id<MTLCommandBuffer>)cb;
    [mtlCB commit];
}

void mtlWaitUntilCompleted(void* cb) {
    id<MTLCommandBuffer> mtlCB = (__bridge id<MTLCommandBuffer>)cb;
    [mtlCB waitUntilCompleted];
}

double mtlGPUStartTime(void* cb) {
    id<MTLCommandBuffer> mtlCB = (__bridge id<MTLCommandBuffer>)cb;
    return [mtlCB GPUStartTime];
}

double mtlGPUEndTime(void* cb) {
    id<MTLCommandBuffer> mtlCB = (__bridge id<MTLCommandBuffer>)cb;
    return [mtlCB GPUEndTime];
}

// Returns NULL when the command buffer completed without error
char* mtlCommandBufferError(void* cb) {
    @autoreleasepool {
        id<MTLCommandBuffer> mtlCB = (__bridge id<MTLCommandBuffer>)cb;
        NSError* err = [mtlCB error];
        if (err == nil) {
            return NULL;
        }
        return strdup([[err localizedDescription] UTF8String]);
    }
}

void* mtlBlitEncoder(void* cb) {
    @autoreleasepool {
        id<MTLCommandBuffer> mtlCB = (__bridge id<MTLCommandBuffer>)cb;
        id<MTLBlitCommandEncoder> enc = [mtlCB blitCommandEncoder];
        if (enc == nil) {
            return NULL;
        }
        return (void*)CFBridgingRetain(enc);
    }
}

void mtlBlitCopy(void* enc, void* src, size_t srcOffset, void* dst, size_t dstOffset, size_t size) {
    id<MTLBlitCommandEncoder> blit = (__bridge id<MTLBlitCommandEncoder>)enc;
    [blit copyFromBuffer:(__bridge id<MTLBuffer>)src
            sourceOffset:srcOffset
                toBuffer:(__bridge id<MTLBuffer>)dst
       destinationOffset:dstOffset
                    size:size];
}

void mtlBlitSynchronize(void* enc, void* buffer) {
    id<MTLBlitCommandEncoder> blit = (__bridge id<MTLBlitCommandEncoder>)enc;
    [blit synchronizeResource:(__bridge id<MTLBuffer>)buffer];
}

void mtlBlitFill(void* enc, void* buffer, size_t length, uint8_t value) {
    id<MTLBlitCommandEncoder> blit = (__bridge id<MTLBlitCommandEncoder>)enc;
    [blit fillBuffer:(__bridge id<MTLBuffer>)buffer range:NSMakeRange(0, length) value:value];
}

void mtlEndEncoding(void* enc) {
    id<MTLCommandEncoder> encoder = (__bridge id<MTLCommandEncoder>)enc;
    [encoder endEncoding];
}

void* mtlComputeEncoder(void* cb) {
    @autoreleasepool {
        id<MTLCommandBuffer> mtlCB = (__bridge id<MTLCommandBuffer>)cb;
        id<MTLComputeCommandEncoder> enc = [mtlCB computeCommandEncoder];
        if (enc == nil) {
            return NULL;
        }
        return (void*)CFBridgingRetain(enc);
    }
}

void mtlSetPipeline(void* enc, void* pipeline) {
    id<MTLComputeCommandEncoder> compute = (__bridge id<MTLComputeCommandEncoder>)enc;
    [compute setComputePipelineState:(__bridge id<MTLComputePipelineState>)pipeline];
}

void mtlSetBytes(void* enc, const void* bytes, size_t length, size_t index) {
    id<MTLComputeCommandEncoder> compute = (__bridge id<MTLComputeCommandEncoder>)enc;
    [compute setBytes:bytes length:length atIndex:index];
}

void mtlSetBuffer(void* enc, void* buffer, size_t offset, size_t index) {
    id<MTLComputeCommandEncoder> compute = (__bridge id<MTLComputeCommandEncoder>)enc;
    [compute setBuffer:(__bridge id<MTLBuffer>)buffer offset:offset atIndex:index];
}

void mtlDispatchThreadgroups(void* enc,
    size_t gx, size_t gy, size_t gz,
    size_t tx, size_t ty, size_t tz)
{
    id<MTLComputeCommandEncoder> compute = (__bridge id<MTLComputeCommandEncoder>)enc;
    [compute dispatchThreadgroups:MTLSizeMake(gx, gy, gz)
            threadsPerThreadgroup:MTLSizeMake(tx, ty, tz)];
}

void* mtlNewLibrary(void* device, const char* source, char** error) {
    @autoreleasepool {
        id<MTLDevice> mtlDevice = (__bridge id<MTLDevice>)device;
        NSString* src = [NSString stringWithUTF8String:source];

        NSError* compileError = nil;
        id<MTLLibrary> library = [mtlDevice newLibraryWithSource:src options:nil error:&compileError];
        if (library == nil) {
            if (error != NULL && compileError != nil) {
                *error = strdup([[compileError localizedDescription] UTF8String]);
            }
            return NULL;
        }
        return (void*)CFBridgingRetain(library);
    }
}

// Newline separated; caller must free the returned string
char* mtlFunctionNames(void* library) {
    @autoreleasepool {
        id<MTLLibrary> mtlLibrary = (__bridge id<MTLLibrary>)library;
        NSString* joined = [[mtlLibrary functionNames] componentsJoinedByString:@"\n"];
        return strdup([joined UTF8String]);
    }
}

void* mtlNewPipeline(void* device, void* library, const char* name, char** error) {
    @autoreleasepool {
        id<MTLDevice> mtlDevice = (__bridge id<MTLDevice>)device;
        id<MTLLibrary> mtlLibrary = (__bridge id<MTLLibrary>)library;

        id<MTLFunction> function = [mtlLibrary newFunctionWithName:[NSString stringWithUTF8String:name]];
        if (function == nil) {
            return NULL;
        }

        NSError* pipelineError = nil;
        id<MTLComputePipelineState> pipeline =
            [mtlDevice newComputePipelineStateWithFunction:function error:&pipelineError];
        if (pipeline == nil) {
            if (error != NULL && pipelineError != nil) {
                *error = strdup([[pipelineError localizedDescription] UTF8String]);
            }
            return NULL;
        }
        return (void*)CFBridgingRetain(pipeline);
    }
}

size_t mtlMaxTotalThreadsPerThreadgroup(void* pipeline) {
    id<MTLComputePipelineState> state = (__bridge id<MTLComputePipelineState>)pipeline;
    return [state maxTotalThreadsPerThreadgroup];
}
*/
import "C"
import (
	"errors"
	"fmt"
	"strings"
	"unsafe"
)

// Available reports whether this build carries the Metal bridge.
const Available = true

// Device wraps an MTLDevice
type Device struct {
	ptr  unsafe.Pointer
	name string
}

// CreateSystemDefaultDevice returns the system's default Metal device.
func CreateSystemDefaultDevice() (*Device, error) {
	ptr := C.mtlCreateDevice()
	if ptr == nil {
		return nil, fmt.Errorf("%w: no system default device", ErrUnavailable)
	}

	namePtr := C.mtlDeviceName(ptr)
	name := C.GoString(namePtr)
	C.free(unsafe.Pointer(namePtr))

	return &Device{ptr: ptr, name: name}, nil
}

func (d *Device) Name() string { return d.name }

func (d *Device) RecommendedMaxWorkingSetSize() uint64 {
	return uint64(C.mtlRecommendedMaxWorkingSetSize(d.ptr))
}

func (d *Device) CurrentAllocatedSize() uint64 {
	return uint64(C.mtlCurrentAllocatedSize(d.ptr))
}

// NewBuffer allocates length bytes in the given storage mode.
func (d *Device) NewBuffer(length int, mode StorageMode) (*Buffer, error) {
	ptr := C.mtlNewBuffer(d.ptr, C.size_t(length), C.int(mode))
	if ptr == nil {
		return nil, fmt.Errorf("newBufferWithLength:%d failed", length)
	}
	return &Buffer{ptr: ptr, mode: mode}, nil
}

// NewBufferWithBytes allocates a buffer initialized with a copy of data.
func (d *Device) NewBufferWithBytes(data []byte, mode StorageMode) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("newBufferWithBytes: empty data")
	}
	ptr := C.mtlNewBufferWithBytes(d.ptr, unsafe.Pointer(&data[0]), C.size_t(len(data)), C.int(mode))
	if ptr == nil {
		return nil, fmt.Errorf("newBufferWithBytes:%d failed", len(data))
	}
	return &Buffer{ptr: ptr, mode: mode}, nil
}

func (d *Device) NewCommandQueue() (*CommandQueue, error) {
	ptr := C.mtlNewCommandQueue(d.ptr)
	if ptr == nil {
		return nil, errors.New("newCommandQueue failed")
	}
	return &CommandQueue{ptr: ptr}, nil
}

// NewLibraryWithSource compiles Metal shading language source.
func (d *Device) NewLibraryWithSource(source string) (*Library, error) {
	sourceC := C.CString(source)
	defer C.free(unsafe.Pointer(sourceC))

	var errorC *C.char
	ptr := C.mtlNewLibrary(d.ptr, sourceC, &errorC)
	if ptr == nil {
		msg := "failed to compile Metal library"
		if errorC != nil {
			msg = C.GoString(errorC)
			C.free(unsafe.Pointer(errorC))
		}
		return nil, fmt.Errorf("%w: %s", ErrCompile, msg)
	}
	return &Library{ptr: ptr, device: d.ptr}, nil
}

func (d *Device) Release() {
	if d.ptr != nil {
		C.mtlRelease(d.ptr)
		d.ptr = nil
	}
}

// Buffer wraps an MTLBuffer
type Buffer struct {
	ptr  unsafe.Pointer
	mode StorageMode
}

func (b *Buffer) Mode() StorageMode { return b.mode }

func (b *Buffer) Length() int {
	return int(C.mtlBufferLength(b.ptr))
}

// Contents returns the CPU mapping of the buffer, or nil for private storage.
func (b *Buffer) Contents() unsafe.Pointer {
	if b.mode == StoragePrivate {
		return nil
	}
	return C.mtlBufferContents(b.ptr)
}

// DidModifyRange flushes host writes of a managed buffer to the device.
func (b *Buffer) DidModifyRange(offset, length int) {
	C.mtlBufferDidModifyRange(b.ptr, C.size_t(offset), C.size_t(length))
}

func (b *Buffer) Release() {
	if b.ptr != nil {
		C.mtlRelease(b.ptr)
		b.ptr = nil
	}
}

// CommandQueue wraps an MTLCommandQueue
type CommandQueue struct {
	ptr unsafe.Pointer
}

func (q *CommandQueue) CommandBuffer() (*CommandBuffer, error) {
	ptr := C.mtlCommandBuffer(q.ptr)
	if ptr == nil {
		return nil, errors.New("commandBuffer failed")
	}
	return &CommandBuffer{ptr: ptr}, nil
}

func (q *CommandQueue) Release() {
	if q.ptr != nil {
		C.mtlRelease(q.ptr)
		q.ptr = nil
	}
}

// CommandBuffer wraps an MTLCommandBuffer
type CommandBuffer struct {
	ptr unsafe.Pointer
}

func (cb *CommandBuffer) BlitCommandEncoder() (*BlitEncoder, error) {
	ptr := C.mtlBlitEncoder(cb.ptr)
	if ptr == nil {
		return nil, errors.New("blitCommandEncoder failed")
	}
	return &BlitEncoder{ptr: ptr}, nil
}

func (cb *CommandBuffer) ComputeCommandEncoder() (*ComputeEncoder, error) {
	ptr := C.mtlComputeEncoder(cb.ptr)
	if ptr == nil {
		return nil, errors.New("computeCommandEncoder failed")
	}
	return &ComputeEncoder{ptr: ptr}, nil
}

func (cb *CommandBuffer) Commit() { C.mtlCommit(cb.ptr) }

func (cb *CommandBuffer) WaitUntilCompleted() { C.mtlWaitUntilCompleted(cb.ptr) }

// GPUStartTime and GPUEndTime are in seconds on the device clock. They are
// only meaningful once the buffer has completed.
func (cb *CommandBuffer) GPUStartTime() float64 { return float64(C.mtlGPUStartTime(cb.ptr)) }
func (cb *CommandBuffer) GPUEndTime() float64   { return float64(C.mtlGPUEndTime(cb.ptr)) }

// Error returns the execution error reported by the device, if any.
func (cb *CommandBuffer) Error() error {
	msg := C.mtlCommandBufferError(cb.ptr)
	if msg == nil {
		return nil
	}
	defer C.free(unsafe.Pointer(msg))
	return fmt.Errorf("%w: %s", ErrExecution, C.GoString(msg))
}

func (cb *CommandBuffer) Release() {
	if cb.ptr != nil {
		C.mtlRelease(cb.ptr)
		cb.ptr = nil
	}
}

// BlitEncoder wraps an MTLBlitCommandEncoder
type BlitEncoder struct {
	ptr unsafe.Pointer
}

func (e *BlitEncoder) Copy(src *Buffer, srcOffset int, dst *Buffer, dstOffset int, size int) {
	C.mtlBlitCopy(e.ptr, src.ptr, C.size_t(srcOffset), dst.ptr, C.size_t(dstOffset), C.size_t(size))
}

func (e *BlitEncoder) Synchronize(buf *Buffer) {
	C.mtlBlitSynchronize(e.ptr, buf.ptr)
}

func (e *BlitEncoder) Fill(buf *Buffer, length int, value byte) {
	C.mtlBlitFill(e.ptr, buf.ptr, C.size_t(length), C.uint8_t(value))
}

// EndEncoding closes the encoder and releases it.
func (e *BlitEncoder) EndEncoding() {
	if e.ptr != nil {
		C.mtlEndEncoding(e.ptr)
		C.mtlRelease(e.ptr)
		e.ptr = nil
	}
}

// ComputeEncoder wraps an MTLComputeCommandEncoder
type ComputeEncoder struct {
	ptr unsafe.Pointer
}

func (e *ComputeEncoder) SetPipeline(p *Pipeline) {
	C.mtlSetPipeline(e.ptr, p.ptr)
}

// SetBytes copies data into the command stream at argument index.
func (e *ComputeEncoder) SetBytes(data []byte, index int) {
	if len(data) == 0 {
		return
	}
	C.mtlSetBytes(e.ptr, unsafe.Pointer(&data[0]), C.size_t(len(data)), C.size_t(index))
}

func (e *ComputeEncoder) SetBuffer(buf *Buffer, offset int, index int) {
	C.mtlSetBuffer(e.ptr, buf.ptr, C.size_t(offset), C.size_t(index))
}

func (e *ComputeEncoder) DispatchThreadgroups(groups, threadsPerGroup [3]int) {
	C.mtlDispatchThreadgroups(e.ptr,
		C.size_t(groups[0]), C.size_t(groups[1]), C.size_t(groups[2]),
		C.size_t(threadsPerGroup[0]), C.size_t(threadsPerGroup[1]), C.size_t(threadsPerGroup[2]))
}

func (e *ComputeEncoder) EndEncoding() {
	if e.ptr != nil {
		C.mtlEndEncoding(e.ptr)
		C.mtlRelease(e.ptr)
		e.ptr = nil
	}
}

// Library wraps an MTLLibrary
type Library struct {
	ptr    unsafe.Pointer
	device unsafe.Pointer
}

func (l *Library) FunctionNames() []string {
	joined := C.mtlFunctionNames(l.ptr)
	defer C.free(unsafe.Pointer(joined))
	s := C.GoString(joined)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// NewPipeline creates a compute pipeline state for the named function.
func (l *Library) NewPipeline(name string) (*Pipeline, error) {
	nameC := C.CString(name)
	defer C.free(unsafe.Pointer(nameC))

	var errorC *C.char
	ptr := C.mtlNewPipeline(l.device, l.ptr, nameC, &errorC)
	if ptr == nil {
		if errorC == nil {
			return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
		}
		msg := C.GoString(errorC)
		C.free(unsafe.Pointer(errorC))
		return nil, fmt.Errorf("pipeline %q: %s", name, msg)
	}
	return &Pipeline{ptr: ptr, name: name}, nil
}

func (l *Library) Release() {
	if l.ptr != nil {
		C.mtlRelease(l.ptr)
		l.ptr = nil
	}
}

// Pipeline wraps an MTLComputePipelineState
type Pipeline struct {
	ptr  unsafe.Pointer
	name string
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) MaxTotalThreadsPerThreadgroup() int {
	return int(C.mtlMaxTotalThreadsPerThreadgroup(p.ptr))
}

func (p *Pipeline) Release() {
	if p.ptr != nil {
		C.mtlRelease(p.ptr)
		p.ptr = nil
	}
}

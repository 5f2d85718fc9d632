package gpu

import "errors"

// Errors
var (
	ErrDeviceUnavailable = errors.New("gpu: device not available")
	ErrOutOfMemory       = errors.New("gpu: out of device memory")
	ErrInvalidSize       = errors.New("gpu: invalid buffer size")
	ErrNotHostVisible    = errors.New("gpu: buffer is not host visible")
	ErrBufferFreed       = errors.New("gpu: buffer already freed")
	ErrForeignBuffer     = errors.New("gpu: buffer belongs to a different device")
	ErrOutOfRange        = errors.New("gpu: range exceeds buffer size")
	ErrCompile           = errors.New("gpu: kernel compilation failed")
	ErrFunctionNotFound  = errors.New("gpu: function not found in library")
	ErrEncoderActive     = errors.New("gpu: another encoder is still open")
	ErrCommitted         = errors.New("gpu: command buffer already committed")
	ErrNotCommitted      = errors.New("gpu: command buffer not committed")
	ErrQueueClosed       = errors.New("gpu: command queue closed")
	ErrMissingArgument   = errors.New("gpu: kernel argument not bound")
	ErrNoPipeline        = errors.New("gpu: no compute pipeline bound")
)

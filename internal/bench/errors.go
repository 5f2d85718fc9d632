package bench

import "errors"

// Fatal categories. The command layer terminates the run on any of these.
var (
	ErrNoDevice      = errors.New("bench: no compute device")
	ErrCompile       = errors.New("bench: kernel program failed to compile")
	ErrUnknownKernel = errors.New("bench: unknown kernel")
	ErrAllocation    = errors.New("bench: buffer allocation failed")
)

var (
	ErrUnknownPolicy    = errors.New("bench: unknown placement policy")
	ErrLengthMismatch   = errors.New("bench: input vectors differ in length")
	ErrInvalidLength    = errors.New("bench: invalid vector length")
	ErrNotStaged        = errors.New("bench: device-local buffers used before stage-in")
	ErrNotSynchronized  = errors.New("bench: output read before synchronization")
	ErrReleased         = errors.New("bench: buffer set already released")
	ErrMismatch         = errors.New("bench: output does not match reference")
	ErrNonDeterministic = errors.New("bench: repeated runs produced different output")
)

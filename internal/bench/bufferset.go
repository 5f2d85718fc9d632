package bench

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/xupit3r/vecbench/internal/gpu"
)

// Role is the logical vector a buffer holds.
type Role int

const (
	RoleA Role = iota
	RoleB
	RoleOutput
)

func (r Role) String() string {
	switch r {
	case RoleA:
		return "A"
	case RoleB:
		return "B"
	case RoleOutput:
		return "output"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Handle is one device allocation of a buffer set.
type Handle struct {
	Buffer  gpu.Buffer
	Policy  Policy
	Role    Role
	Staging bool
}

// BufferSet is the three vectors of one run realized under one placement
// policy. The run drives it in order: StageIn, Bindings, StageOut,
// ReadOutput, Release.
type BufferSet interface {
	Policy() Policy
	Length() int

	// Handles lists every allocation, staging buffers included.
	Handles() []Handle

	// StageIn makes the inputs visible to the device. Only the private
	// policy moves data here; it returns ok=false when nothing was timed.
	StageIn(t *Transfer) (s Sample, ok bool, err error)

	// Bindings returns the buffers for kernel slots A, B and output.
	Bindings() ([3]gpu.Buffer, error)

	// StageOut makes the output visible to the host.
	StageOut(t *Transfer) (s Sample, ok bool, err error)

	// ReadOutput copies the output vector to host memory.
	ReadOutput() ([]float32, error)

	Release() error
}

// VectorBytes is the byte length of one vector of n float32 values.
func VectorBytes(n int) int64 {
	return int64(n) * 4
}

// Footprint is the device memory a buffer set of length n allocates.
func Footprint(p Policy, n int) int64 {
	if p == PrivateDeviceLocal {
		return 6 * VectorBytes(n)
	}
	return 3 * VectorBytes(n)
}

// Allocate realizes a and b, plus a zeroed output vector, under policy p.
func Allocate(ctx *Context, p Policy, a, b []float32) (BufferSet, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: len(a)=%d, len(b)=%d", ErrLengthMismatch, len(a), len(b))
	}
	if len(a) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d exceeds int32", ErrInvalidLength, len(a))
	}

	base := &baseSet{ctx: ctx, policy: p, length: len(a)}
	var set BufferSet
	var err error
	switch p {
	case SharedHostVisible:
		set, err = newSharedSet(base, a, b)
	case PrivateDeviceLocal:
		set, err = newPrivateSet(base, a, b)
	case ManagedSynchronized:
		set, err = newManagedSet(base, a, b)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownPolicy, p)
	}
	if err != nil {
		base.Release()
		return nil, err
	}

	ctx.log.WithFields(logrus.Fields{
		"policy":  p.String(),
		"length":  len(a),
		"buffers": len(base.handles),
		"bytes":   Footprint(p, len(a)),
	}).Debug("Buffer set allocated")
	return set, nil
}

func floatBytes(v []float32) []byte {
	if len(v) == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	copy(floatBytes(out), b)
	return out
}

// baseSet tracks allocations and release for every policy.
type baseSet struct {
	ctx      *Context
	policy   Policy
	length   int
	handles  []Handle
	released bool
}

func (s *baseSet) Policy() Policy { return s.policy }
func (s *baseSet) Length() int    { return s.length }

func (s *baseSet) Handles() []Handle {
	return append([]Handle(nil), s.handles...)
}

func (s *baseSet) alloc(role Role, mode gpu.StorageMode, staging bool, data []float32) (gpu.Buffer, error) {
	dev := s.ctx.device
	var (
		buf gpu.Buffer
		err error
	)
	if data != nil && mode.HostVisible() {
		buf, err = dev.AllocateWithBytes(floatBytes(data), mode)
	} else {
		buf, err = dev.Allocate(VectorBytes(s.length), mode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s buffer of %d bytes: %w", ErrAllocation, mode, role, VectorBytes(s.length), err)
	}
	s.handles = append(s.handles, Handle{Buffer: buf, Policy: s.policy, Role: role, Staging: staging})
	return buf, nil
}

func (s *baseSet) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	var errs []error
	for _, h := range s.handles {
		if err := h.Buffer.Free(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *baseSet) check() error {
	if s.released {
		return ErrReleased
	}
	return nil
}

func readFloats(buf gpu.Buffer, n int) ([]float32, error) {
	contents, err := buf.Contents()
	if err != nil {
		return nil, err
	}
	return bytesToFloats(contents[:VectorBytes(n)]), nil
}

// sharedSet binds host-visible buffers directly.
type sharedSet struct {
	*baseSet
	a, b, out gpu.Buffer
}

func newSharedSet(base *baseSet, a, b []float32) (*sharedSet, error) {
	s := &sharedSet{baseSet: base}
	var err error
	if s.a, err = base.alloc(RoleA, gpu.StorageShared, false, a); err != nil {
		return nil, err
	}
	if s.b, err = base.alloc(RoleB, gpu.StorageShared, false, b); err != nil {
		return nil, err
	}
	if s.out, err = base.alloc(RoleOutput, gpu.StorageShared, false, nil); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sharedSet) StageIn(*Transfer) (Sample, bool, error) {
	return Sample{}, false, s.check()
}

func (s *sharedSet) Bindings() ([3]gpu.Buffer, error) {
	if err := s.check(); err != nil {
		return [3]gpu.Buffer{}, err
	}
	return [3]gpu.Buffer{s.a, s.b, s.out}, nil
}

func (s *sharedSet) StageOut(*Transfer) (Sample, bool, error) {
	return Sample{}, false, s.check()
}

func (s *sharedSet) ReadOutput() ([]float32, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return readFloats(s.out, s.length)
}

// managedSet publishes host writes with DidModifyRange at allocation and
// pulls the output back with a blit synchronization before readback.
type managedSet struct {
	*baseSet
	a, b, out gpu.Buffer
	synced    bool
}

func newManagedSet(base *baseSet, a, b []float32) (*managedSet, error) {
	s := &managedSet{baseSet: base}
	var err error
	if s.a, err = base.alloc(RoleA, gpu.StorageManaged, false, nil); err != nil {
		return nil, err
	}
	if s.b, err = base.alloc(RoleB, gpu.StorageManaged, false, nil); err != nil {
		return nil, err
	}
	if s.out, err = base.alloc(RoleOutput, gpu.StorageManaged, false, nil); err != nil {
		return nil, err
	}

	n := VectorBytes(base.length)
	for _, in := range []struct {
		buf  gpu.Buffer
		data []float32
	}{{s.a, a}, {s.b, b}} {
		if err := in.buf.CopyFromHost(floatBytes(in.data)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
		}
		if err := in.buf.DidModifyRange(0, n); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
		}
	}
	return s, nil
}

func (s *managedSet) StageIn(*Transfer) (Sample, bool, error) {
	return Sample{}, false, s.check()
}

func (s *managedSet) Bindings() ([3]gpu.Buffer, error) {
	if err := s.check(); err != nil {
		return [3]gpu.Buffer{}, err
	}
	return [3]gpu.Buffer{s.a, s.b, s.out}, nil
}

func (s *managedSet) StageOut(t *Transfer) (Sample, bool, error) {
	if err := s.check(); err != nil {
		return Sample{}, false, err
	}
	if _, err := t.Synchronize(s.out); err != nil {
		return Sample{}, false, err
	}
	s.synced = true
	return Sample{}, false, nil
}

func (s *managedSet) ReadOutput() ([]float32, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if !s.synced {
		return nil, ErrNotSynchronized
	}
	return readFloats(s.out, s.length)
}

// privateSet pairs each vector with a host-visible staging buffer. The
// device-local buffers are only handed out after stage-in.
type privateSet struct {
	*baseSet
	stagingA, stagingB, stagingOut gpu.Buffer
	a, b, out                      gpu.Buffer
	stagedIn, stagedOut            bool
}

func newPrivateSet(base *baseSet, a, b []float32) (*privateSet, error) {
	s := &privateSet{baseSet: base}
	var err error
	if s.stagingA, err = base.alloc(RoleA, gpu.StorageShared, true, a); err != nil {
		return nil, err
	}
	if s.stagingB, err = base.alloc(RoleB, gpu.StorageShared, true, b); err != nil {
		return nil, err
	}
	if s.stagingOut, err = base.alloc(RoleOutput, gpu.StorageShared, true, nil); err != nil {
		return nil, err
	}
	if s.a, err = base.alloc(RoleA, gpu.StoragePrivate, false, nil); err != nil {
		return nil, err
	}
	if s.b, err = base.alloc(RoleB, gpu.StoragePrivate, false, nil); err != nil {
		return nil, err
	}
	if s.out, err = base.alloc(RoleOutput, gpu.StoragePrivate, false, nil); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *privateSet) StageIn(t *Transfer) (Sample, bool, error) {
	if err := s.check(); err != nil {
		return Sample{}, false, err
	}
	n := VectorBytes(s.length)
	sample, err := t.Copy(StageIn, s.length,
		CopyOp{Src: s.stagingA, Dst: s.a, Size: n},
		CopyOp{Src: s.stagingB, Dst: s.b, Size: n},
	)
	if err != nil {
		return Sample{}, false, err
	}
	s.stagedIn = true
	return sample, true, nil
}

func (s *privateSet) Bindings() ([3]gpu.Buffer, error) {
	if err := s.check(); err != nil {
		return [3]gpu.Buffer{}, err
	}
	if !s.stagedIn {
		return [3]gpu.Buffer{}, ErrNotStaged
	}
	return [3]gpu.Buffer{s.a, s.b, s.out}, nil
}

func (s *privateSet) StageOut(t *Transfer) (Sample, bool, error) {
	if err := s.check(); err != nil {
		return Sample{}, false, err
	}
	if !s.stagedIn {
		return Sample{}, false, ErrNotStaged
	}
	sample, err := t.Copy(StageOut, s.length,
		CopyOp{Src: s.out, Dst: s.stagingOut, Size: VectorBytes(s.length)},
	)
	if err != nil {
		return Sample{}, false, err
	}
	s.stagedOut = true
	return sample, true, nil
}

func (s *privateSet) ReadOutput() ([]float32, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if !s.stagedOut {
		return nil, fmt.Errorf("%w: output not copied back", ErrNotStaged)
	}
	return readFloats(s.stagingOut, s.length)
}

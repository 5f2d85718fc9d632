package bench

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xupit3r/vecbench/internal/gpu"
)

func TestAllocate(t *testing.T) {
	ctx := newTestContext(t)
	a, b := DefaultInputs(16)

	tests := []struct {
		policy   Policy
		handles  int
		staging  int
		dispatch gpu.StorageMode
	}{
		{SharedHostVisible, 3, 0, gpu.StorageShared},
		{PrivateDeviceLocal, 6, 3, gpu.StoragePrivate},
		{ManagedSynchronized, 3, 0, gpu.StorageManaged},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			set, err := Allocate(ctx, tt.policy, a, b)
			require.NoError(t, err)
			defer set.Release()

			assert.Equal(t, tt.policy, set.Policy())
			assert.Equal(t, 16, set.Length())

			handles := set.Handles()
			require.Len(t, handles, tt.handles)
			staging := 0
			for _, h := range handles {
				assert.Equal(t, tt.policy, h.Policy)
				assert.Equal(t, VectorBytes(16), h.Buffer.Size())
				if h.Staging {
					staging++
					assert.Equal(t, gpu.StorageShared, h.Buffer.Mode())
				} else {
					assert.Equal(t, tt.dispatch, h.Buffer.Mode())
				}
			}
			assert.Equal(t, tt.staging, staging)
		})
	}
}

func TestAllocateRejectsMismatchedInputs(t *testing.T) {
	ctx := newTestContext(t)

	_, err := Allocate(ctx, SharedHostVisible, make([]float32, 4), make([]float32, 5))
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestAllocateFailureReleasesPartialSet(t *testing.T) {
	// room for the three staging buffers but not the device-local ones
	ctx := newTestContext(t, gpu.WithMemoryLimit(3*VectorBytes(1024)))
	a, b := DefaultInputs(1024)

	_, err := Allocate(ctx, PrivateDeviceLocal, a, b)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.ErrorIs(t, err, gpu.ErrOutOfMemory)

	used, _ := ctx.Device().MemoryUsage()
	assert.Zero(t, used, "partially allocated buffers must be freed")
}

func TestPrivateSetRequiresStageIn(t *testing.T) {
	ctx := newTestContext(t)
	a, b := DefaultInputs(8)

	set, err := Allocate(ctx, PrivateDeviceLocal, a, b)
	require.NoError(t, err)
	defer set.Release()

	_, err = set.Bindings()
	assert.ErrorIs(t, err, ErrNotStaged)

	_, err = NewDescriptor("vectorAdd", set)
	assert.ErrorIs(t, err, ErrNotStaged)

	_, _, err = set.StageOut(NewTransfer(ctx))
	assert.ErrorIs(t, err, ErrNotStaged)

	_, err = set.ReadOutput()
	assert.ErrorIs(t, err, ErrNotStaged)
}

func TestPrivateStageInPopulatesDeviceBuffers(t *testing.T) {
	ctx := newTestContext(t)
	a, b := DefaultInputs(300)

	set, err := Allocate(ctx, PrivateDeviceLocal, a, b)
	require.NoError(t, err)
	defer set.Release()

	// Before stage-in the device-local buffers hold zeros
	for _, h := range set.Handles() {
		if !h.Staging {
			assert.Equal(t, make([]float32, 300), readDevice(t, ctx, h.Buffer), "%s before stage-in", h.Role)
		}
	}

	sample, ok, err := set.StageIn(NewTransfer(ctx))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shared to private", sample.Label)
	assert.Equal(t, 2*VectorBytes(300), sample.ReadBytes)
	assert.Zero(t, sample.WriteBytes)

	bindings, err := set.Bindings()
	require.NoError(t, err)

	// Every device-local input has a staged predecessor holding the same data
	want := map[Role][]float32{RoleA: a, RoleB: b}
	for _, h := range set.Handles() {
		if h.Staging || h.Role == RoleOutput {
			continue
		}
		var predecessor *Handle
		for _, s := range set.Handles() {
			if s.Staging && s.Role == h.Role {
				predecessor = &s
				break
			}
		}
		require.NotNil(t, predecessor, "%s has no staging buffer", h.Role)

		staged, err := predecessor.Buffer.Contents()
		require.NoError(t, err)
		assert.Equal(t, want[h.Role], bytesToFloats(staged))
		assert.Equal(t, want[h.Role], readDevice(t, ctx, h.Buffer))
	}

	// B is staged from B, never from A
	assert.Equal(t, b, readDevice(t, ctx, bindings[1]))
	assert.NotEqual(t, a, readDevice(t, ctx, bindings[1]))
}

func TestPrivateRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	tr := NewTransfer(ctx)
	a, b := DefaultInputs(64)

	set, err := Allocate(ctx, PrivateDeviceLocal, a, b)
	require.NoError(t, err)
	defer set.Release()

	_, _, err = set.StageIn(tr)
	require.NoError(t, err)
	bindings, err := set.Bindings()
	require.NoError(t, err)

	// Put A into the device-local output to check stage-out byte for byte
	_, err = tr.Copy(StageIn, 64, CopyOp{Src: bindings[0], Dst: bindings[2], Size: VectorBytes(64)})
	require.NoError(t, err)

	sample, ok, err := set.StageOut(tr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "private to shared", sample.Label)
	assert.Equal(t, VectorBytes(64), sample.WriteBytes)
	assert.Zero(t, sample.ReadBytes)

	out, err := set.ReadOutput()
	require.NoError(t, err)
	assert.Equal(t, a, out)
}

func TestManagedSetSynchronizesOutput(t *testing.T) {
	ctx := newTestContext(t)
	a, b := DefaultInputs(32)

	set, err := Allocate(ctx, ManagedSynchronized, a, b)
	require.NoError(t, err)
	defer set.Release()

	// Inputs reach the device copy at allocation
	bindings, err := set.Bindings()
	require.NoError(t, err)
	assert.Equal(t, a, readDevice(t, ctx, bindings[0]))
	assert.Equal(t, b, readDevice(t, ctx, bindings[1]))

	_, err = set.ReadOutput()
	assert.ErrorIs(t, err, ErrNotSynchronized)

	_, ok, err := set.StageOut(NewTransfer(ctx))
	require.NoError(t, err)
	assert.False(t, ok, "managed synchronization is not a reported transfer")

	out, err := set.ReadOutput()
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 32), out)
}

func TestSharedSetSkipsTransfers(t *testing.T) {
	ctx := newTestContext(t)
	a, b := DefaultInputs(8)

	set, err := Allocate(ctx, SharedHostVisible, a, b)
	require.NoError(t, err)
	defer set.Release()

	_, ok, err := set.StageIn(NewTransfer(ctx))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = set.StageOut(NewTransfer(ctx))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestZeroLengthSet(t *testing.T) {
	ctx := newTestContext(t)

	for _, p := range Policies() {
		t.Run(p.String(), func(t *testing.T) {
			set, err := Allocate(ctx, p, nil, nil)
			require.NoError(t, err)
			defer set.Release()

			for _, h := range set.Handles() {
				assert.Zero(t, h.Buffer.Size())
			}
		})
	}
}

func TestRelease(t *testing.T) {
	ctx := newTestContext(t)
	a, b := DefaultInputs(128)

	set, err := Allocate(ctx, PrivateDeviceLocal, a, b)
	require.NoError(t, err)

	used, _ := ctx.Device().MemoryUsage()
	assert.Equal(t, Footprint(PrivateDeviceLocal, 128), used)

	require.NoError(t, set.Release())
	require.NoError(t, set.Release())

	used, _ = ctx.Device().MemoryUsage()
	assert.Zero(t, used)

	_, err = set.Bindings()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestFootprint(t *testing.T) {
	assert.Equal(t, int64(48), Footprint(SharedHostVisible, 4))
	assert.Equal(t, int64(48), Footprint(ManagedSynchronized, 4))
	assert.Equal(t, int64(96), Footprint(PrivateDeviceLocal, 4))
	assert.Zero(t, Footprint(PrivateDeviceLocal, 0))
}

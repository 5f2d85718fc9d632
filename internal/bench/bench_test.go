package bench

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/xupit3r/vecbench/internal/gpu"
	"github.com/xupit3r/vecbench/internal/kernels"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestContext(t *testing.T, opts ...gpu.CPUOption) *Context {
	t.Helper()
	dev := gpu.NewCPUDevice(append([]gpu.CPUOption{gpu.WithWorkers(2)}, opts...)...)
	ctx, err := NewContext(dev, kernels.Source(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx.Close()
		dev.Free()
	})
	return ctx
}

// readDevice copies any buffer, private ones included, back to the host.
func readDevice(t *testing.T, ctx *Context, buf gpu.Buffer) []float32 {
	t.Helper()
	shared, err := ctx.Device().Allocate(buf.Size(), gpu.StorageShared)
	require.NoError(t, err)
	defer shared.Free()

	_, err = NewTransfer(ctx).Copy(StageOut, int(buf.Size()/4), CopyOp{Src: buf, Dst: shared, Size: buf.Size()})
	require.NoError(t, err)

	contents, err := shared.Contents()
	require.NoError(t, err)
	return bytesToFloats(contents)
}

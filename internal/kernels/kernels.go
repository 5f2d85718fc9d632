// Package kernels holds the compute kernel program run by the benchmark: the
// Metal source and the equivalent Go kernel for the software device.
package kernels

import (
	_ "embed"
	"fmt"

	"github.com/xupit3r/vecbench/internal/gpu"
)

// VectorAdd is the entry point name of the addition kernel.
const VectorAdd = "vectorAdd"

// Argument slots of VectorAdd
const (
	ArgLength = 0
	ArgA      = 1
	ArgB      = 2
	ArgOutput = 3
)

//go:embed vector_add.metal
var source string

// Source returns the kernel program source.
func Source() string {
	return source
}

func init() {
	gpu.RegisterKernel(VectorAdd, vectorAdd)
}

// vectorAdd computes out[i] = a[i] + b[i] for i < length. Lanes past length
// touch no memory.
func vectorAdd(args *gpu.KernelArgs) (gpu.Lane, error) {
	length, err := args.Int32(ArgLength)
	if err != nil {
		return nil, err
	}
	a, err := args.Float32s(ArgA)
	if err != nil {
		return nil, err
	}
	b, err := args.Float32s(ArgB)
	if err != nil {
		return nil, err
	}
	out, err := args.Float32s(ArgOutput)
	if err != nil {
		return nil, err
	}

	n := int(length)
	if n < 0 {
		return nil, fmt.Errorf("negative length %d", n)
	}
	if len(a) < n || len(b) < n || len(out) < n {
		return nil, fmt.Errorf("length %d exceeds bound buffers (a=%d, b=%d, out=%d)", n, len(a), len(b), len(out))
	}

	return func(gid int) {
		if gid >= n {
			return
		}
		out[gid] = a[gid] + b[gid]
	}, nil
}

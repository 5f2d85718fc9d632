package bench

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/xupit3r/vecbench/internal/gpu"
	"github.com/xupit3r/vecbench/internal/kernels"
	"github.com/xupit3r/vecbench/internal/system"
)

// Tolerance is the relative error allowed when verifying output.
const Tolerance = 1e-6

// Options configures one run.
type Options struct {
	Policy Policy
	Length int
	Kernel string
	Verify bool

	// Inputs builds A and B; DefaultInputs when nil.
	Inputs func(n int) (a, b []float32)
}

// Result is the outcome of one successful run. Samples are in phase order.
type Result struct {
	Policy   Policy    `yaml:"policy"`
	Length   int       `yaml:"length"`
	Kernel   string    `yaml:"kernel"`
	Device   string    `yaml:"device"`
	Started  time.Time `yaml:"started"`
	Samples  []Sample  `yaml:"samples"`
	Digest   string    `yaml:"digest"`
	Verified bool      `yaml:"verified"`
	Output   []float32 `yaml:"-"`
}

// Runner drives the phases of a run on one context.
type Runner struct {
	ctx        *Context
	transfer   *Transfer
	dispatcher *Dispatcher
}

func NewRunner(ctx *Context) *Runner {
	return &Runner{
		ctx:        ctx,
		transfer:   NewTransfer(ctx),
		dispatcher: NewDispatcher(ctx),
	}
}

// DefaultInputs returns A[i] = i and B[i] = i/100.
func DefaultInputs(n int) (a, b []float32) {
	a = make([]float32, n)
	b = make([]float32, n)
	for i := 0; i < n; i++ {
		a[i] = float32(i)
		b[i] = float32(i) / 100
	}
	return a, b
}

// Run allocates a buffer set under opts.Policy and runs stage-in, dispatch
// and stage-out, each as a blocking submission. Nothing is reported unless
// every phase succeeds.
func (r *Runner) Run(opts Options) (*Result, error) {
	if opts.Length < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, opts.Length)
	}
	if opts.Kernel == "" {
		opts.Kernel = kernels.VectorAdd
	}
	inputs := opts.Inputs
	if inputs == nil {
		inputs = DefaultInputs
	}

	log := r.ctx.log.WithFields(logrus.Fields{
		"policy": opts.Policy.String(),
		"length": opts.Length,
	})

	if err := r.checkMemory(opts.Policy, opts.Length); err != nil {
		return nil, err
	}

	pipeline, err := r.ctx.CompilePipeline(opts.Kernel)
	if err != nil {
		return nil, err
	}

	a, b := inputs(opts.Length)
	result := &Result{
		Policy:  opts.Policy,
		Length:  opts.Length,
		Kernel:  opts.Kernel,
		Device:  r.ctx.device.Name(),
		Started: time.Now(),
	}

	set, err := Allocate(r.ctx, opts.Policy, a, b)
	if err != nil {
		return nil, err
	}
	defer set.Release()

	if s, ok, err := set.StageIn(r.transfer); err != nil {
		return nil, err
	} else if ok {
		result.Samples = append(result.Samples, s)
	}

	desc, err := NewDescriptor(opts.Kernel, set)
	if err != nil {
		return nil, err
	}
	device, wall, err := r.dispatcher.Dispatch(pipeline, desc, NewPartition(opts.Length))
	if err != nil {
		return nil, err
	}
	result.Samples = append(result.Samples, device, wall)

	if s, ok, err := set.StageOut(r.transfer); err != nil {
		return nil, err
	} else if ok {
		result.Samples = append(result.Samples, s)
	}

	out, err := set.ReadOutput()
	if err != nil {
		return nil, err
	}
	result.Output = out
	result.Digest = Digest(out)

	if opts.Verify {
		if err := Verify(a, b, out, Tolerance); err != nil {
			return nil, err
		}
		result.Verified = true
	}

	log.WithFields(logrus.Fields{
		"samples":  len(result.Samples),
		"digest":   result.Digest[:16],
		"verified": result.Verified,
	}).Info("Run completed")
	return result, nil
}

// RunRepeated runs opts n times and fails with ErrNonDeterministic when the
// output digests differ.
func (r *Runner) RunRepeated(opts Options, n int) ([]*Result, error) {
	if n < 1 {
		n = 1
	}
	results := make([]*Result, 0, n)
	for i := 0; i < n; i++ {
		res, err := r.Run(opts)
		if err != nil {
			return results, fmt.Errorf("run %d of %d: %w", i+1, n, err)
		}
		if i > 0 && res.Digest != results[0].Digest {
			return append(results, res), fmt.Errorf("%w: run %d digest %s, run 1 digest %s",
				ErrNonDeterministic, i+1, res.Digest, results[0].Digest)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) checkMemory(p Policy, n int) error {
	need := Footprint(p, n)
	used, total := r.ctx.device.MemoryUsage()
	if total > 0 && used+need > total {
		return fmt.Errorf("%w: %w: need %s with %s of %s in use", ErrAllocation, gpu.ErrOutOfMemory,
			system.FormatBytes(need), system.FormatBytes(used), system.FormatBytes(total))
	}
	if r.ctx.device.Type() == gpu.DeviceTypeCPU {
		if err := system.CheckAvailable(need); err != nil {
			return fmt.Errorf("%w: %w: %w", ErrAllocation, gpu.ErrOutOfMemory, err)
		}
	}
	return nil
}

// Verify checks out[i] against a[i]+b[i] within relative tolerance tol.
func Verify(a, b, out []float32, tol float64) error {
	if len(a) != len(b) || len(a) != len(out) {
		return fmt.Errorf("%w: a=%d, b=%d, out=%d", ErrLengthMismatch, len(a), len(b), len(out))
	}
	var errs []error
	for i := range out {
		want := float64(a[i]) + float64(b[i])
		got := float64(out[i])
		diff := math.Abs(got - want)
		if diff > tol*math.Max(math.Abs(want), 1) {
			errs = append(errs, fmt.Errorf("index %d: got %g, want %g", i, got, want))
			if len(errs) == 5 {
				break
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrMismatch, errors.Join(errs...))
	}
	return nil
}

// Digest is the hex BLAKE2b-256 of the output bytes.
func Digest(out []float32) string {
	sum := blake2b.Sum256(floatBytes(out))
	return hex.EncodeToString(sum[:])
}

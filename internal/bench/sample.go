package bench

import (
	"fmt"
	"time"

	"github.com/xupit3r/vecbench/internal/gpu"
)

// Clock identifies where a sample's duration came from.
type Clock int

const (
	ClockDevice Clock = iota
	ClockWall
)

func (c Clock) String() string {
	if c == ClockWall {
		return "wall"
	}
	return "device"
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(text []byte) error {
	switch string(text) {
	case "wall":
		*c = ClockWall
	case "device", "":
		*c = ClockDevice
	default:
		return fmt.Errorf("unknown clock %q", text)
	}
	return nil
}

// Sample is the timing of one submitted unit of work together with the bytes
// it is credited with moving.
type Sample struct {
	Label      string        `yaml:"label"`
	Clock      Clock         `yaml:"clock"`
	Length     int           `yaml:"length"`
	GPUStart   float64       `yaml:"gpu_start,omitempty"`
	GPUEnd     float64       `yaml:"gpu_end,omitempty"`
	Wall       time.Duration `yaml:"wall,omitempty"`
	ReadBytes  int64         `yaml:"read_bytes"`
	WriteBytes int64         `yaml:"write_bytes"`
}

func deviceSample(label string, length int, t gpu.Timestamps, read, write int64) Sample {
	return Sample{
		Label:      label,
		Clock:      ClockDevice,
		Length:     length,
		GPUStart:   t.GPUStart,
		GPUEnd:     t.GPUEnd,
		ReadBytes:  read,
		WriteBytes: write,
	}
}

func wallSample(label string, length int, d time.Duration, read, write int64) Sample {
	return Sample{
		Label:      label,
		Clock:      ClockWall,
		Length:     length,
		Wall:       d,
		ReadBytes:  read,
		WriteBytes: write,
	}
}

// Elapsed returns the sample duration in seconds.
func (s Sample) Elapsed() float64 {
	if s.Clock == ClockWall {
		return s.Wall.Seconds()
	}
	return gpu.Timestamps{GPUStart: s.GPUStart, GPUEnd: s.GPUEnd}.Elapsed()
}

// Bytes returns the total bytes credited to the sample.
func (s Sample) Bytes() int64 {
	return s.ReadBytes + s.WriteBytes
}

// Bandwidth returns GB/s, or false when the elapsed time is unusable.
func (s Sample) Bandwidth() (float64, bool) {
	return Bandwidth(s.ReadBytes, s.WriteBytes, s.Elapsed())
}

func (s Sample) String() string {
	return Report(s.Label, s.Length, s.ReadBytes, s.WriteBytes, s.Elapsed())
}

package bench

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// Bandwidth converts bytes moved over elapsed seconds into GB/s (1 GB = 1e9
// bytes). It reports false when elapsed is not a positive finite number or
// when no bytes moved.
func Bandwidth(readBytes, writeBytes int64, elapsed float64) (float64, bool) {
	if elapsed <= 0 || math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
		return 0, false
	}
	if readBytes+writeBytes <= 0 {
		return 0, false
	}
	gb := float64(readBytes+writeBytes) / 1e9
	bw := gb / elapsed
	if math.IsNaN(bw) || math.IsInf(bw, 0) {
		return 0, false
	}
	return bw, true
}

// Report renders one report line.
func Report(label string, length int, readBytes, writeBytes int64, elapsed float64) string {
	gb := float64(readBytes+writeBytes) / 1e9
	if math.IsNaN(elapsed) || math.IsInf(elapsed, 0) || elapsed < 0 {
		elapsed = 0
	}

	bandwidth := "N/A"
	if bw, ok := Bandwidth(readBytes, writeBytes, elapsed); ok {
		bandwidth = fmt.Sprintf("%.2f", bw)
	}

	return fmt.Sprintf("%s: length=%d, size=%.2f GB, bandwidth=%s GB/s, duration=%.3f s",
		label, length, gb, bandwidth, elapsed)
}

// Reporter writes report lines to a sink.
type Reporter struct {
	w io.Writer
}

func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Emit writes one line per sample, in order.
func (r *Reporter) Emit(samples ...Sample) error {
	var b strings.Builder
	for _, s := range samples {
		b.WriteString(s.String())
		b.WriteByte('\n')
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

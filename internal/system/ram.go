package system

import (
	"errors"
	"fmt"
	"runtime"
)

// RAMInfo contains information about system memory
type RAMInfo struct {
	TotalBytes     int64
	AvailableBytes int64
	UsedBytes      int64
}

// GetRAMInfo returns information about system RAM
func GetRAMInfo() (*RAMInfo, error) {
	return getRAMInfo()
}

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetAvailableRAM returns available RAM in bytes
func GetAvailableRAM() (int64, error) {
	info, err := GetRAMInfo()
	if err != nil {
		return 0, err
	}
	return info.AvailableBytes, nil
}

// GetTotalRAM returns total RAM in bytes
func GetTotalRAM() (int64, error) {
	info, err := GetRAMInfo()
	if err != nil {
		return 0, err
	}
	return info.TotalBytes, nil
}

// DefaultReserve is the memory left to the OS and other processes when
// sizing benchmark buffers.
const DefaultReserve = int64(512 * 1024 * 1024)

// ErrInsufficientRAM is returned when a request does not fit in usable RAM.
var ErrInsufficientRAM = errors.New("system: insufficient RAM")

// EstimateUsableRAM returns RAM available for benchmark buffers after
// holding back reserve bytes.
func EstimateUsableRAM(reserve int64) (int64, error) {
	available, err := GetAvailableRAM()
	if err != nil {
		return 0, err
	}
	if available < reserve {
		return 0, nil
	}
	return available - reserve, nil
}

// CheckAvailable fails with ErrInsufficientRAM when need bytes exceed the
// usable RAM. An unreadable RAM figure is not treated as a failure.
func CheckAvailable(need int64) error {
	usable, err := EstimateUsableRAM(DefaultReserve)
	if err != nil {
		return nil
	}
	if need > usable {
		return fmt.Errorf("%w: need %s, %s usable", ErrInsufficientRAM, FormatBytes(need), FormatBytes(usable))
	}
	return nil
}

// GetPlatform returns the current platform
func GetPlatform() string {
	return runtime.GOOS
}

// GetArchitecture returns the system architecture
func GetArchitecture() string {
	return runtime.GOARCH
}

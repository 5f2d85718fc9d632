package gpu

import (
	"fmt"
	"runtime"
	"strings"
)

// Device represents a compute device (software accelerator or GPU)
type Device interface {
	// Type returns the device type
	Type() DeviceType

	// Name returns a human-readable device name
	Name() string

	// Allocate allocates a zero-filled buffer of the given size in bytes
	Allocate(size int64, mode StorageMode) (Buffer, error)

	// AllocateWithBytes allocates a buffer initialized with a copy of data.
	// Private storage cannot be initialized from the host.
	AllocateWithBytes(data []byte, mode StorageMode) (Buffer, error)

	// NewCommandQueue creates a queue for submitting command buffers
	NewCommandQueue() (CommandQueue, error)

	// NewLibrary compiles kernel source into a library of named functions
	NewLibrary(source string) (Library, error)

	// Sync waits for all pending operations to complete
	Sync() error

	// Free releases the device and all associated resources
	Free() error

	// MemoryUsage returns current device memory usage in bytes (used, total)
	MemoryUsage() (int64, int64)
}

// DeviceType represents the type of compute device
type DeviceType int

const (
	DeviceTypeCPU DeviceType = iota
	DeviceTypeGPU
)

func (dt DeviceType) String() string {
	switch dt {
	case DeviceTypeCPU:
		return "CPU"
	case DeviceTypeGPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// StorageMode selects where a buffer's bytes live and who can see them.
type StorageMode int

const (
	// StorageShared is host-visible memory the device reads directly.
	StorageShared StorageMode = iota
	// StoragePrivate is device-local memory; the host cannot map it.
	StoragePrivate
	// StorageManaged keeps a host mirror and a device copy that must be
	// synchronized explicitly in each direction.
	StorageManaged
)

func (m StorageMode) String() string {
	switch m {
	case StorageShared:
		return "shared"
	case StoragePrivate:
		return "private"
	case StorageManaged:
		return "managed"
	default:
		return fmt.Sprintf("StorageMode(%d)", int(m))
	}
}

// HostVisible reports whether buffers in this mode expose Contents.
func (m StorageMode) HostVisible() bool {
	return m == StorageShared || m == StorageManaged
}

// GetDefaultDevice returns the default device for the current system
// On macOS, returns the Metal GPU device if available, otherwise the software device
func GetDefaultDevice() (Device, error) {
	if runtime.GOOS == "darwin" {
		dev, err := NewMetalDevice()
		if err == nil {
			return dev, nil
		}
		// Fall back to CPU if Metal initialization fails
	}

	return NewCPUDevice(), nil
}

// GetDevice returns a device of the specified type
func GetDevice(dtype DeviceType) (Device, error) {
	switch dtype {
	case DeviceTypeCPU:
		return NewCPUDevice(), nil
	case DeviceTypeGPU:
		if runtime.GOOS == "darwin" {
			return newMetal()
		}
		return nil, fmt.Errorf("%w: GPU not supported on %s", ErrDeviceUnavailable, runtime.GOOS)
	default:
		return nil, fmt.Errorf("unknown device type: %v", dtype)
	}
}

// GetDeviceByName resolves a backend name ("auto", "cpu", "gpu", "metal").
func GetDeviceByName(name string, opts ...CPUOption) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		if runtime.GOOS == "darwin" {
			if dev, err := NewMetalDevice(); err == nil {
				return dev, nil
			}
		}
		return NewCPUDevice(opts...), nil
	case "cpu", "soft", "software":
		return NewCPUDevice(opts...), nil
	case "gpu":
		return GetDevice(DeviceTypeGPU)
	case "metal":
		return newMetal()
	default:
		return nil, fmt.Errorf("unknown device %q (valid: auto, cpu, gpu, metal)", name)
	}
}

// newMetal avoids handing back a typed nil inside the Device interface.
func newMetal() (Device, error) {
	dev, err := NewMetalDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}

package bench

import (
	"fmt"
	"strings"

	"github.com/xupit3r/vecbench/internal/gpu"
)

// Policy selects where the three vectors live and how they reach the device.
type Policy int

const (
	// SharedHostVisible binds host-visible memory directly to the kernel.
	SharedHostVisible Policy = iota
	// PrivateDeviceLocal stages inputs into device-local memory and copies the
	// output back to a host-visible buffer.
	PrivateDeviceLocal
	// ManagedSynchronized keeps host and device copies that are synchronized
	// explicitly in each direction.
	ManagedSynchronized
)

// Policies returns every placement policy in run order.
func Policies() []Policy {
	return []Policy{SharedHostVisible, PrivateDeviceLocal, ManagedSynchronized}
}

func (p Policy) String() string {
	switch p {
	case SharedHostVisible:
		return "shared"
	case PrivateDeviceLocal:
		return "private"
	case ManagedSynchronized:
		return "managed"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// StorageMode is the storage mode of the buffers bound to the kernel.
func (p Policy) StorageMode() gpu.StorageMode {
	switch p {
	case PrivateDeviceLocal:
		return gpu.StoragePrivate
	case ManagedSynchronized:
		return gpu.StorageManaged
	default:
		return gpu.StorageShared
	}
}

// ParsePolicy accepts the short names used in configuration and flags.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shared", "sharedhostvisible":
		return SharedHostVisible, nil
	case "private", "privatedevicelocal":
		return PrivateDeviceLocal, nil
	case "managed", "managedsynchronized":
		return ManagedSynchronized, nil
	default:
		return 0, fmt.Errorf("%w: %q (valid: shared, private, managed)", ErrUnknownPolicy, s)
	}
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

package gpu

// Buffer represents a device memory allocation
type Buffer interface {
	// Size returns the size of the buffer in bytes
	Size() int64

	// Mode returns the storage mode the buffer was allocated with
	Mode() StorageMode

	// Contents returns the host-visible bytes of the buffer.
	// Private buffers return ErrNotHostVisible.
	Contents() ([]byte, error)

	// DidModifyRange publishes host writes in [offset, offset+length) to the
	// device copy of a managed buffer. It is a no-op for shared buffers.
	DidModifyRange(offset, length int64) error

	// CopyToHost copies the host-visible contents to dst
	CopyToHost(dst []byte) error

	// CopyFromHost copies src into the host-visible contents.
	// Managed buffers still need DidModifyRange before device use.
	CopyFromHost(src []byte) error

	// Free releases the buffer
	Free() error

	// Device returns the device that owns this buffer
	Device() Device
}

// Package metal is a thin cgo bridge to Apple's Metal API. On platforms
// without Metal the same API is present but CreateSystemDefaultDevice always
// fails with ErrUnavailable.
package metal

import "errors"

// StorageMode mirrors MTLStorageMode for buffers.
type StorageMode int

const (
	StorageShared StorageMode = iota
	StorageManaged
	StoragePrivate
)

var (
	ErrUnavailable      = errors.New("metal: not available")
	ErrCompile          = errors.New("metal: compile failed")
	ErrFunctionNotFound = errors.New("metal: function not found")
	ErrExecution        = errors.New("metal: command buffer failed")
)

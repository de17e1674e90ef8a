package denoise

import (
	"sync"
	"sync/atomic"

	"github.com/lumen-ml/lumen/internal/backend/cpu"
	"github.com/lumen-ml/lumen/internal/backend/webgpu"
	"github.com/lumen-ml/lumen/internal/core"
)

// Re-exported core types: the public surface and the runtime core
// share these values.
type (
	// DeviceType selects a compute backend.
	DeviceType = core.DeviceType
	// Storage classifies buffer memory.
	Storage = core.Storage
	// Access describes mapping intent.
	Access = core.Access
	// Format describes pixel layout.
	Format = core.Format
	// ErrorKind classifies runtime errors.
	ErrorKind = core.ErrorKind
	// Error is a classified runtime error.
	Error = core.Error
)

// Device types.
const (
	DeviceTypeDefault = core.DeviceTypeDefault
	DeviceTypeCPU     = core.DeviceTypeCPU
	DeviceTypeGPU     = core.DeviceTypeGPU
)

// Storage classes.
const (
	StorageHost    = core.StorageHost
	StorageDevice  = core.StorageDevice
	StorageManaged = core.StorageManaged
)

// Access modes.
const (
	AccessRead         = core.AccessRead
	AccessWrite        = core.AccessWrite
	AccessReadWrite    = core.AccessReadWrite
	AccessWriteDiscard = core.AccessWriteDiscard
)

// Pixel formats.
const (
	FormatUndefined = core.FormatUndefined
	FormatFloat     = core.FormatFloat
	FormatFloat2    = core.FormatFloat2
	FormatFloat3    = core.FormatFloat3
	FormatFloat4    = core.FormatFloat4
	FormatHalf      = core.FormatHalf
	FormatHalf2     = core.FormatHalf2
	FormatHalf3     = core.FormatHalf3
	FormatHalf4     = core.FormatHalf4
)

// Error kinds.
const (
	ErrNone                = core.ErrNone
	ErrUnknown             = core.ErrUnknown
	ErrInvalidArgument     = core.ErrInvalidArgument
	ErrInvalidOperation    = core.ErrInvalidOperation
	ErrOutOfMemory         = core.ErrOutOfMemory
	ErrUnsupportedHardware = core.ErrUnsupportedHardware
	ErrCancelled           = core.ErrCancelled
)

// Package-level error slot for failures that happen before a device
// handle exists.
var (
	globalErrMu sync.Mutex
	globalErr   *Error
)

func recordGlobalError(err *Error) {
	globalErrMu.Lock()
	defer globalErrMu.Unlock()
	if globalErr == nil {
		globalErr = err
	}
}

// LastError returns and clears the package-level error recorded when
// device construction fails, or nil.
func LastError() *Error {
	globalErrMu.Lock()
	defer globalErrMu.Unlock()
	err := globalErr
	globalErr = nil
	return err
}

// deviceRef is the shared state behind Device handles.
type deviceRef struct {
	dev      *core.Device
	refCount atomic.Int32
}

func (r *deviceRef) retain() {
	r.refCount.Add(1)
}

func (r *deviceRef) release() {
	if r.refCount.Add(-1) == 0 {
		_ = r.dev.Close()
	}
}

// Device is a shared-ownership handle to one compute backend.
type Device struct {
	ref *deviceRef
}

// NewDevice creates an uncommitted device of the given type. The
// default type prefers the GPU when a WebGPU adapter is available. A
// nil return means construction failed; the reason is in LastError.
func NewDevice(typ DeviceType) *Device {
	if typ == DeviceTypeDefault {
		if webgpu.Available() {
			typ = DeviceTypeGPU
		} else {
			typ = DeviceTypeCPU
		}
	}

	var factory core.EngineFactory
	switch typ {
	case DeviceTypeCPU:
		factory = func(d *core.Device) (core.Engine, error) { return cpu.New(d) }
	case DeviceTypeGPU:
		factory = func(d *core.Device) (core.Engine, error) { return webgpu.New(d) }
	default:
		recordGlobalError(core.Errorf(core.ErrInvalidArgument, "unknown device type %d", typ))
		return nil
	}

	ref := &deviceRef{dev: core.NewDevice(typ, factory)}
	ref.refCount.Store(1)
	return &Device{ref: ref}
}

// Retain returns a new handle sharing this device's lifetime.
func (d *Device) Retain() *Device {
	d.ref.retain()
	return &Device{ref: d.ref}
}

// Release drops the handle. The backend is shut down when the last
// handle is gone.
func (d *Device) Release() {
	d.ref.release()
}

// Type returns the device type.
func (d *Device) Type() DeviceType {
	return d.ref.dev.Type()
}

// SetInt sets a named integer parameter ("numThreads", "verbose").
// Parameters are mutable until the next Commit.
func (d *Device) SetInt(name string, value int) error {
	return d.recorded(d.ref.dev.SetInt(name, value))
}

// SetBool sets a named boolean parameter ("setAffinity").
func (d *Device) SetBool(name string, value bool) error {
	return d.recorded(d.ref.dev.SetBool(name, value))
}

// GetInt returns a named integer parameter or capability ("type",
// "version", "versionMajor", "versionMinor", "versionPatch").
func (d *Device) GetInt(name string) (int, error) {
	v, err := d.ref.dev.GetInt(name)
	return v, d.recorded(err)
}

// GetBool returns a named boolean parameter or capability
// ("committed").
func (d *Device) GetBool(name string) (bool, error) {
	v, err := d.ref.dev.GetBool(name)
	return v, d.recorded(err)
}

// Commit finalizes the configuration and creates the backend engine.
// No buffer or filter operation is valid before commit.
func (d *Device) Commit() error {
	return d.recorded(d.ref.dev.Commit())
}

// Wait blocks until all work enqueued on the device has completed and
// returns the first failure since the previous Wait.
func (d *Device) Wait() error {
	return d.recorded(d.ref.dev.Wait())
}

// Error returns the first unretrieved error recorded on the device and
// clears it, or nil.
func (d *Device) Error() *Error {
	return d.ref.dev.Error()
}

// SetErrorCallback installs fn, invoked synchronously whenever an
// error is recorded on the device.
func (d *Device) SetErrorCallback(fn func(*Error)) {
	d.ref.dev.SetErrorCallback(fn)
}

// EngineName identifies the committed backend.
func (d *Device) EngineName() string {
	if engine := d.ref.dev.Engine(); engine != nil {
		return engine.Name()
	}
	return ""
}

// recorded mirrors a synchronous failure into the device error slot
// so that polling through Error observes it too.
func (d *Device) recorded(err error) error {
	if err == nil {
		return nil
	}
	cerr := core.AsError(err)
	d.ref.dev.RecordError(cerr)
	return cerr
}

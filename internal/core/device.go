package core

import (
	"sync"

	"k8s.io/klog/v2"
)

// Library version, reported through the "version" device parameters.
const (
	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
	Version      = VersionMajor*10000 + VersionMinor*100 + VersionPatch
)

// DeviceType selects a compute backend.
type DeviceType int

// Device types.
const (
	DeviceTypeDefault DeviceType = iota // select automatically
	DeviceTypeCPU
	DeviceTypeGPU
)

// String returns a human-readable device type name.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeCPU:
		return "CPU"
	case DeviceTypeGPU:
		return "GPU"
	default:
		return "default"
	}
}

// EngineFactory creates the engine for a device at commit time.
type EngineFactory func(*Device) (Engine, error)

// Device is the top-level handle to one compute backend instance. It
// owns the committed configuration, the engine created at commit time
// and the single-slot error state.
//
// Lifecycle: constructed uncommitted, parameters set by name, then
// Commit finalizes the configuration and creates the engine. No memory
// or kernel operation is valid before commit.
type Device struct {
	mu         sync.Mutex
	typ        DeviceType
	newEngine  EngineFactory
	engine     Engine
	committed  bool
	dirty      bool
	intParams  map[string]int
	boolParams map[string]bool

	errs        errorState
	errCallback func(*Error)
	cbMu        sync.Mutex
}

// NewDevice builds an uncommitted device of the given type.
func NewDevice(typ DeviceType, newEngine EngineFactory) *Device {
	return &Device{
		typ:       typ,
		newEngine: newEngine,
		intParams: map[string]int{
			"numThreads": 0,
			"verbose":    0,
		},
		boolParams: map[string]bool{
			"setAffinity": true,
		},
	}
}

// Type returns the device type.
func (d *Device) Type() DeviceType {
	return d.typ
}

// SetInt sets a named integer parameter. Parameters are mutable until
// the next Commit.
func (d *Device) SetInt(name string, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.intParams[name]; !ok {
		return Errorf(ErrInvalidArgument, "unknown device parameter %q", name)
	}
	d.intParams[name] = value
	d.dirty = true
	return nil
}

// SetBool sets a named boolean parameter.
func (d *Device) SetBool(name string, value bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.boolParams[name]; !ok {
		return Errorf(ErrInvalidArgument, "unknown device parameter %q", name)
	}
	d.boolParams[name] = value
	d.dirty = true
	return nil
}

// GetInt returns a named integer parameter or capability.
func (d *Device) GetInt(name string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch name {
	case "type":
		return int(d.typ), nil
	case "version":
		return Version, nil
	case "versionMajor":
		return VersionMajor, nil
	case "versionMinor":
		return VersionMinor, nil
	case "versionPatch":
		return VersionPatch, nil
	}
	if v, ok := d.intParams[name]; ok {
		return v, nil
	}
	return 0, Errorf(ErrInvalidArgument, "unknown device parameter %q", name)
}

// GetBool returns a named boolean parameter or capability.
func (d *Device) GetBool(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == "committed" {
		return d.committed, nil
	}
	if v, ok := d.boolParams[name]; ok {
		return v, nil
	}
	return false, Errorf(ErrInvalidArgument, "unknown device parameter %q", name)
}

// Verbose returns the verbosity level parameter.
func (d *Device) Verbose() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intParams["verbose"]
}

// NumThreads returns the configured worker count (0 = automatic).
func (d *Device) NumThreads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intParams["numThreads"]
}

// Commit finalizes the configuration. The first call validates the
// parameters and creates the engine. Calling it again with an
// unchanged configuration is a no-op; after a configuration change it
// re-validates only — the engine is never reallocated, and a
// re-commit while enqueued work is outstanding is an InvalidOperation.
func (d *Device) Commit() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.committed && !d.dirty {
		return nil
	}
	if err := d.validateParams(); err != nil {
		return err
	}
	if d.committed {
		if d.engine.InFlight() {
			return Errorf(ErrInvalidOperation, "device re-committed while operations are outstanding")
		}
		d.dirty = false
		return nil
	}

	engine, err := d.newEngine(d)
	if err != nil {
		return AsError(err)
	}
	d.engine = engine
	d.committed = true
	d.dirty = false
	if d.intParams["verbose"] > 0 {
		klog.Infof("device committed: type=%s engine=%s", d.typ, engine.Name())
	}
	return nil
}

func (d *Device) validateParams() error {
	if n := d.intParams["numThreads"]; n < 0 {
		return Errorf(ErrInvalidArgument, "numThreads must be >= 0, got %d", n)
	}
	if v := d.intParams["verbose"]; v < 0 {
		return Errorf(ErrInvalidArgument, "verbose must be >= 0, got %d", v)
	}
	return nil
}

// Committed reports whether Commit has succeeded.
func (d *Device) Committed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed
}

// CheckCommitted gates operations that require a committed device.
func (d *Device) CheckCommitted() error {
	if !d.Committed() {
		return Errorf(ErrInvalidOperation, "device not committed")
	}
	return nil
}

// Engine returns the engine created at commit time, or nil before it.
func (d *Device) Engine() Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine
}

// Wait blocks until every engine owned by the device has drained.
func (d *Device) Wait() error {
	if err := d.CheckCommitted(); err != nil {
		return err
	}
	return d.Engine().Wait()
}

// Close drains and releases the engine.
func (d *Device) Close() error {
	d.mu.Lock()
	engine := d.engine
	d.engine = nil
	d.committed = false
	d.mu.Unlock()
	if engine != nil {
		return engine.Close()
	}
	return nil
}

// RecordError stores err in the device's single-slot error state and
// invokes the error callback synchronously if the error was kept.
// Only the first unretrieved error is kept; later ones are dropped
// until the pending error is retrieved.
func (d *Device) RecordError(err *Error) {
	if !d.errs.record(err) {
		return
	}
	d.cbMu.Lock()
	cb := d.errCallback
	d.cbMu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Error returns the first unretrieved error and clears it, or nil.
func (d *Device) Error() *Error {
	return d.errs.take()
}

// SetErrorCallback installs fn, invoked synchronously whenever an
// error is recorded.
func (d *Device) SetErrorCallback(fn func(*Error)) {
	d.cbMu.Lock()
	d.errCallback = fn
	d.cbMu.Unlock()
}

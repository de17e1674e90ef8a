package core

import "github.com/lumen-ml/lumen/internal/work"

// KernelFunc is a kernel body invoked once per in-range work item.
// The dispatcher guards the iteration space: a body never observes a
// coordinate outside the global extent.
type KernelFunc func(it work.Item)

// GroupKernelFunc is a kernel body for explicitly partitioned
// launches. The partition may overshoot the logical extent, so bodies
// that derive global coordinates must guard them.
type GroupKernelFunc func(it work.GroupItem)

// HostFunc is host-side work stitched into the engine's queue. Its
// error, if any, is recorded as the queue's failure and surfaces at
// the next Wait.
type HostFunc func() error

// Engine is the per-device execution context. It owns a FIFO work
// queue: operations enqueued on one engine execute in submission order
// relative to each other; there is no ordering across engines.
//
// Enqueue calls (RunKernelAsync, RunGroupKernelAsync,
// RunHostFuncAsync) return immediately. Dispatch failures are recorded
// on the owning device and surface at the next Wait rather than being
// returned across the engine boundary.
type Engine interface {
	// Device returns the owning device.
	Device() *Device
	// Name identifies the backend for logging and capability queries.
	Name() string

	// NewBuffer allocates byteSize bytes in the given storage class.
	// Fails with an OutOfMemory error when the backend cannot satisfy
	// the request.
	NewBuffer(byteSize int, storage Storage) (Buffer, error)
	// NewSharedBuffer wraps caller-owned memory that the runtime
	// never frees.
	NewSharedBuffer(data []byte) (Buffer, error)

	// RunKernelAsync partitions the global extent using the backend's
	// group-size policy and enqueues the launch.
	RunKernelAsync(global work.Dim, kernel KernelFunc)
	// RunGroupKernelAsync enqueues a launch with an explicit partition,
	// for kernels that need control over group shape.
	RunGroupKernelAsync(numGroups, groupSize work.Dim, kernel GroupKernelFunc)
	// RunHostFuncAsync enqueues fn to run after all previously
	// enqueued work on this engine has completed and before any work
	// enqueued after it begins.
	RunHostFuncAsync(fn HostFunc)
	// Wait blocks until everything enqueued before the call has
	// completed. It returns the first failure recorded on the queue
	// since the previous Wait and clears that state.
	Wait() error
	// InFlight reports whether enqueued work has not yet completed.
	InFlight() bool
	// Close waits for the queue to drain and releases backend
	// resources.
	Close() error

	// Op factories. Construction never fails: shape and parameter
	// validation is deferred to Finalize so graphs can be composed
	// before all shapes are known.
	NewInputProcess(desc InputProcessDesc) Op
	NewOutputProcess(desc OutputProcessDesc) Op
	NewConv(desc ConvDesc) Op
	NewConcatConv(desc ConcatConvDesc) Op
	NewPool(desc PoolDesc) Op
	NewUpsample(desc UpsampleDesc) Op
	NewAutoexposure(desc AutoexposureDesc) Op
	NewImageCopy(desc ImageCopyDesc) Op
}

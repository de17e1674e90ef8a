// Package cpu implements the CPU engine: a FIFO work queue dispatching
// guarded dimensional loops, with optional parallelism across work
// groups.
package cpu

import (
	"sync"

	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/parallel"
	"github.com/lumen-ml/lumen/internal/work"
)

// Engine executes kernels on the host. One worker goroutine consumes
// the queue so operations run strictly in submission order; individual
// kernel launches parallelize internally across work groups.
type Engine struct {
	dev *core.Device
	cfg parallel.Config

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func() error
	inFlight int
	queueErr error
	closed   bool
}

// New creates the CPU engine for a device.
func New(dev *core.Device) (*Engine, error) {
	e := &Engine{
		dev: dev,
		cfg: parallel.DefaultConfig(dev.NumThreads()),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.worker()
	return e, nil
}

// Device returns the owning device.
func (e *Engine) Device() *core.Device {
	return e.dev
}

// Name identifies the backend.
func (e *Engine) Name() string {
	return "CPU"
}

func (e *Engine) worker() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.closed {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		err := task()

		e.mu.Lock()
		if err != nil && e.queueErr == nil {
			e.queueErr = err
		}
		e.inFlight--
		e.cond.Broadcast()
		e.mu.Unlock()

		if err != nil {
			e.dev.RecordError(core.AsError(err))
		}
	}
}

// enqueue appends a task to the FIFO queue and returns immediately.
func (e *Engine) enqueue(task func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.dev.RecordError(core.Errorf(core.ErrInvalidOperation, "enqueue on closed engine"))
		return
	}
	e.queue = append(e.queue, task)
	e.inFlight++
	e.cond.Signal()
}

// NewBuffer allocates host memory. All storage classes are
// host-coherent on this engine.
func (e *Engine) NewBuffer(byteSize int, storage core.Storage) (core.Buffer, error) {
	if byteSize < 0 {
		return nil, core.Errorf(core.ErrInvalidArgument, "negative buffer size %d", byteSize)
	}
	return core.NewHostBuffer(e, byteSize, storage), nil
}

// NewSharedBuffer wraps caller-owned memory.
func (e *Engine) NewSharedBuffer(data []byte) (core.Buffer, error) {
	if data == nil {
		return nil, core.Errorf(core.ErrInvalidArgument, "shared buffer with nil data")
	}
	return core.NewSharedHostBuffer(e, data), nil
}

// RunKernelAsync partitions the extent with the default group-size
// policy and enqueues the launch. The partition mirrors a GPU grid:
// groups may overshoot the extent and every item is guarded before the
// body is invoked.
func (e *Engine) RunKernelAsync(global work.Dim, kernel core.KernelFunc) {
	e.enqueue(func() error {
		if err := global.Validate(); err != nil {
			return core.Errorf(core.ErrInvalidArgument, "kernel launch: %v", err)
		}
		e.runGrid(global, work.DefaultGroupSize(global), kernel)
		return nil
	})
}

// runGrid walks numGroups x groupSize, skipping over-provisioned items.
// Groups are distributed across workers; items within a group run
// sequentially.
func (e *Engine) runGrid(global, groupSize work.Dim, kernel core.KernelFunc) {
	grid := work.NumGroups(global, groupSize)
	gy, gx := grid.Size(1), grid.Size(2)
	sz, sy, sx := groupSize.Size(0), groupSize.Size(1), groupSize.Size(2)

	parallel.For(grid.NumItems(), func(g int) {
		g0 := g / (gy * gx)
		g1 := g / gx % gy
		g2 := g % gx
		var id [3]int
		for l0 := 0; l0 < sz; l0++ {
			id[0] = g0*sz + l0
			for l1 := 0; l1 < sy; l1++ {
				id[1] = g1*sy + l1
				for l2 := 0; l2 < sx; l2++ {
					id[2] = g2*sx + l2
					if !global.Contains(id) {
						continue
					}
					kernel(work.NewItem(global, id))
				}
			}
		}
	}, e.cfg)
}

// RunGroupKernelAsync enqueues an explicitly partitioned launch.
// Groups run in parallel; the items of one group run sequentially on
// one worker, so a group-local accumulator needs no synchronization.
func (e *Engine) RunGroupKernelAsync(numGroups, groupSize work.Dim, kernel core.GroupKernelFunc) {
	e.enqueue(func() error {
		if err := numGroups.Validate(); err != nil {
			return core.Errorf(core.ErrInvalidArgument, "group kernel launch: %v", err)
		}
		if err := groupSize.Validate(); err != nil {
			return core.Errorf(core.ErrInvalidArgument, "group kernel launch: %v", err)
		}
		gy, gx := numGroups.Size(1), numGroups.Size(2)
		sz, sy, sx := groupSize.Size(0), groupSize.Size(1), groupSize.Size(2)
		parallel.For(numGroups.NumItems(), func(g int) {
			group := [3]int{g / (gy * gx), g / gx % gy, g % gx}
			for l0 := 0; l0 < sz; l0++ {
				for l1 := 0; l1 < sy; l1++ {
					for l2 := 0; l2 < sx; l2++ {
						kernel(work.NewGroupItem(numGroups, groupSize, group, [3]int{l0, l1, l2}))
					}
				}
			}
		}, e.cfg)
		return nil
	})
}

// RunHostFuncAsync enqueues a host callback. The single worker
// guarantees it runs after all previously enqueued work and before
// anything enqueued later.
func (e *Engine) RunHostFuncAsync(fn core.HostFunc) {
	e.enqueue(fn)
}

// Wait blocks until the queue has drained, returns the first failure
// recorded since the previous Wait and clears it.
func (e *Engine) Wait() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.inFlight > 0 {
		e.cond.Wait()
	}
	err := e.queueErr
	e.queueErr = nil
	return err
}

// InFlight reports whether enqueued work has not yet completed.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight > 0
}

// Close drains the queue and stops the worker.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	for e.inFlight > 0 {
		e.cond.Wait()
	}
	e.mu.Unlock()
	return nil
}

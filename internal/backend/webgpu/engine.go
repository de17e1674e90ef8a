// Package webgpu implements the GPU engine on top of go-webgpu
// (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// Device-resident operators run as WGSL compute pipelines; host
// functions and host-side operators are stitched into the same ordered
// queue, synchronizing with the GPU before they run.
package webgpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// Engine executes kernels through a WebGPU device. A single worker
// goroutine consumes the host-side queue in FIFO order; GPU command
// buffers it submits execute in order on the in-order wgpu queue, so
// the combined stream preserves submission order.
type Engine struct {
	dev *core.Device

	instance    *wgpu.Instance
	adapter     *wgpu.Adapter
	device      *wgpu.Device
	queue       *wgpu.Queue
	adapterInfo *wgpu.AdapterInfoGo

	// Shader and pipeline cache
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	// syncSrc is a persistent 4-byte buffer copied into a staging
	// buffer to force a GPU drain (mapping the staging buffer blocks
	// until all previously submitted work has completed).
	syncSrc *wgpu.Buffer

	qmu      sync.Mutex
	cond     *sync.Cond
	tasks    []func() error
	inFlight int
	queueErr error
	closed   bool
}

// New creates the WebGPU engine for a device. Returns an
// UnsupportedHardware error when no adapter is available.
func New(dev *core.Device) (engine *Engine, err error) {
	// Recover from panic if the wgpu native library is not found.
	defer func() {
		if r := recover(); r != nil {
			engine = nil
			err = core.Errorf(core.ErrUnsupportedHardware, "webgpu: native library not available: %v", r)
		}
	}()

	instance, instanceErr := wgpu.CreateInstance(nil)
	if instanceErr != nil {
		return nil, core.Errorf(core.ErrUnsupportedHardware, "webgpu: no instance: %v", instanceErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, core.Errorf(core.ErrUnsupportedHardware, "webgpu: no adapter: %v", adapterErr)
	}

	adapterInfo, _ := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, core.Errorf(core.ErrUnsupportedHardware, "webgpu: failed to request device: %v", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, core.Errorf(core.ErrUnknown, "webgpu: failed to get queue")
	}

	e := &Engine{
		dev:         dev,
		instance:    instance,
		adapter:     adapter,
		device:      device,
		queue:       queue,
		adapterInfo: adapterInfo,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
	}
	e.syncSrc = device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:  4,
	})
	e.cond = sync.NewCond(&e.qmu)
	go e.worker()
	return e, nil
}

// Available checks whether a WebGPU adapter can be created on this
// system.
func Available() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Device returns the owning device.
func (e *Engine) Device() *core.Device {
	return e.dev
}

// Name identifies the backend and adapter.
func (e *Engine) Name() string {
	if e.adapterInfo != nil {
		return fmt.Sprintf("WebGPU (%s %s)", e.adapterInfo.Device, e.adapterInfo.Vendor)
	}
	return "WebGPU"
}

func (e *Engine) worker() {
	for {
		e.qmu.Lock()
		for len(e.tasks) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 && e.closed {
			e.qmu.Unlock()
			return
		}
		task := e.tasks[0]
		e.tasks = e.tasks[1:]
		e.qmu.Unlock()

		err := task()

		e.qmu.Lock()
		if err != nil && e.queueErr == nil {
			e.queueErr = err
		}
		e.inFlight--
		e.cond.Broadcast()
		e.qmu.Unlock()

		if err != nil {
			e.dev.RecordError(core.AsError(err))
		}
	}
}

func (e *Engine) enqueue(task func() error) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.closed {
		e.dev.RecordError(core.Errorf(core.ErrInvalidOperation, "enqueue on closed engine"))
		return
	}
	e.tasks = append(e.tasks, task)
	e.inFlight++
	e.cond.Signal()
}

// RunKernelAsync executes a host-closure kernel on the ordered queue.
// Go closures cannot run on the GPU, so the guarded dimensional loop
// runs on the host after a GPU drain; device-resident operators use
// dispatchAsync with WGSL pipelines instead.
func (e *Engine) RunKernelAsync(global work.Dim, kernel core.KernelFunc) {
	e.enqueue(func() error {
		if err := global.Validate(); err != nil {
			return core.Errorf(core.ErrInvalidArgument, "kernel launch: %v", err)
		}
		if err := e.syncGPU(); err != nil {
			return err
		}
		group := work.DefaultGroupSize(global)
		grid := work.NumGroups(global, group)
		var id [3]int
		for g0 := 0; g0 < grid.Size(0); g0++ {
			for g1 := 0; g1 < grid.Size(1); g1++ {
				for g2 := 0; g2 < grid.Size(2); g2++ {
					for l0 := 0; l0 < group.Size(0); l0++ {
						id[0] = g0*group.Size(0) + l0
						for l1 := 0; l1 < group.Size(1); l1++ {
							id[1] = g1*group.Size(1) + l1
							for l2 := 0; l2 < group.Size(2); l2++ {
								id[2] = g2*group.Size(2) + l2
								if !global.Contains(id) {
									continue
								}
								kernel(work.NewItem(global, id))
							}
						}
					}
				}
			}
		}
		return nil
	})
}

// RunGroupKernelAsync executes an explicitly partitioned host-closure
// kernel on the ordered queue.
func (e *Engine) RunGroupKernelAsync(numGroups, groupSize work.Dim, kernel core.GroupKernelFunc) {
	e.enqueue(func() error {
		if err := numGroups.Validate(); err != nil {
			return core.Errorf(core.ErrInvalidArgument, "group kernel launch: %v", err)
		}
		if err := groupSize.Validate(); err != nil {
			return core.Errorf(core.ErrInvalidArgument, "group kernel launch: %v", err)
		}
		if err := e.syncGPU(); err != nil {
			return err
		}
		for g0 := 0; g0 < numGroups.Size(0); g0++ {
			for g1 := 0; g1 < numGroups.Size(1); g1++ {
				for g2 := 0; g2 < numGroups.Size(2); g2++ {
					group := [3]int{g0, g1, g2}
					for l0 := 0; l0 < groupSize.Size(0); l0++ {
						for l1 := 0; l1 < groupSize.Size(1); l1++ {
							for l2 := 0; l2 < groupSize.Size(2); l2++ {
								kernel(work.NewGroupItem(numGroups, groupSize, group, [3]int{l0, l1, l2}))
							}
						}
					}
				}
			}
		}
		return nil
	})
}

// RunHostFuncAsync enqueues a host callback that runs only after all
// previously enqueued GPU work has completed.
func (e *Engine) RunHostFuncAsync(fn core.HostFunc) {
	e.enqueue(func() error {
		if err := e.syncGPU(); err != nil {
			return err
		}
		return fn()
	})
}

// Wait drains the host queue and the GPU, returns the first failure
// since the previous Wait and clears it.
func (e *Engine) Wait() error {
	e.qmu.Lock()
	for e.inFlight > 0 {
		e.cond.Wait()
	}
	err := e.queueErr
	e.queueErr = nil
	e.qmu.Unlock()

	if syncErr := e.syncGPU(); syncErr != nil && err == nil {
		err = syncErr
	}
	return err
}

// InFlight reports whether enqueued work has not yet completed.
func (e *Engine) InFlight() bool {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	return e.inFlight > 0
}

// Close drains the queue and releases all WebGPU resources.
func (e *Engine) Close() error {
	e.qmu.Lock()
	e.closed = true
	e.cond.Broadcast()
	for e.inFlight > 0 {
		e.cond.Wait()
	}
	e.qmu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pipelines {
		p.Release()
	}
	e.pipelines = nil
	for _, s := range e.shaders {
		s.Release()
	}
	e.shaders = nil
	if e.syncSrc != nil {
		e.syncSrc.Release()
		e.syncSrc = nil
	}
	if e.queue != nil {
		e.queue.Release()
		e.queue = nil
	}
	if e.device != nil {
		e.device.Release()
		e.device = nil
	}
	if e.adapter != nil {
		e.adapter.Release()
		e.adapter = nil
	}
	if e.instance != nil {
		e.instance.Release()
		e.instance = nil
	}
	return nil
}

// syncGPU blocks until all previously submitted GPU work has
// completed, by round-tripping a copy through a mappable staging
// buffer.
func (e *Engine) syncGPU() error {
	staging := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  4,
	})
	if staging == nil {
		return core.Errorf(core.ErrUnknown, "webgpu: failed to create sync buffer")
	}
	defer staging.Release()

	encoder := e.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(e.syncSrc, 0, staging, 0, 4)
	cmd := encoder.Finish(nil)
	e.queue.Submit(cmd)

	if err := staging.MapAsync(e.device, wgpu.MapModeRead, 0, 4); err != nil {
		return core.Errorf(core.ErrUnknown, "webgpu: sync failed: %v", err)
	}
	staging.Unmap()
	return nil
}

// compileShader compiles WGSL shader code, caching the module.
func (e *Engine) compileShader(name, code string) *wgpu.ShaderModule {
	e.mu.RLock()
	if shader, exists := e.shaders[name]; exists {
		e.mu.RUnlock()
		return shader
	}
	e.mu.RUnlock()

	shader := e.device.CreateShaderModuleWGSL(code)

	e.mu.Lock()
	e.shaders[name] = shader
	e.mu.Unlock()
	return shader
}

// getOrCreatePipeline returns a cached compute pipeline or creates one
// with an auto layout.
func (e *Engine) getOrCreatePipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	e.mu.RLock()
	if pipeline, exists := e.pipelines[name]; exists {
		e.mu.RUnlock()
		return pipeline
	}
	e.mu.RUnlock()

	pipeline := e.device.CreateComputePipelineSimple(nil, shader, "main")

	e.mu.Lock()
	e.pipelines[name] = pipeline
	e.mu.Unlock()
	return pipeline
}

// binding names a buffer region for bind group construction.
type binding struct {
	buffer *gpuBuffer
	offset uint64
	size   uint64
}

// dispatchAsync enqueues a WGSL pipeline launch over the global
// extent. The extent is partitioned with the default group-size policy
// (256 / 16x16 / 1x16x16); shaders guard their coordinates against the
// extent, so the ceil-div overshoot performs no work.
func (e *Engine) dispatchAsync(name, code string, bufs []binding, params []byte, global work.Dim) {
	e.enqueue(func() error {
		if err := global.Validate(); err != nil {
			return core.Errorf(core.ErrInvalidArgument, "dispatch %s: %v", name, err)
		}
		shader := e.compileShader(name, code)
		pipeline := e.getOrCreatePipeline(name, shader)

		paramBuf := e.createUniformBuffer(params)
		defer paramBuf.Release()

		entries := make([]wgpu.BindGroupEntry, 0, len(bufs)+1)
		for i, b := range bufs {
			handle, err := b.buffer.deviceHandle()
			if err != nil {
				return err
			}
			entries = append(entries, wgpu.BufferBindingEntry(uint32(i), handle, b.offset, b.size))
		}
		entries = append(entries, wgpu.BufferBindingEntry(uint32(len(bufs)), paramBuf, 0, uint64(alignUp(len(params), 16))))

		layout := pipeline.GetBindGroupLayout(0)
		bindGroup := e.device.CreateBindGroupSimple(layout, entries)
		defer bindGroup.Release()

		encoder := e.device.CreateCommandEncoder(nil)
		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, bindGroup, nil)
		x, y, z := dispatchGroups(global)
		pass.DispatchWorkgroups(x, y, z)
		pass.End()
		cmd := encoder.Finish(nil)
		e.queue.Submit(cmd)
		return nil
	})
}

// dispatchGroups maps a global extent to a workgroup grid. WGSL
// invocation IDs vary fastest in x, so the innermost dimension maps to
// x and the outermost to z.
func dispatchGroups(global work.Dim) (x, y, z uint32) {
	group := work.DefaultGroupSize(global)
	grid := work.NumGroups(global, group)
	switch global.Rank() {
	case 1:
		return uint32(grid.Size(0)), 1, 1
	case 2:
		return uint32(grid.Size(1)), uint32(grid.Size(0)), 1
	default:
		return uint32(grid.Size(2)), uint32(grid.Size(1)), uint32(grid.Size(0))
	}
}

// createUniformBuffer creates a 16-byte aligned uniform buffer with
// initial contents.
func (e *Engine) createUniformBuffer(data []byte) *wgpu.Buffer {
	alignedSize := uint64(alignUp(len(data), 16))
	buffer := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mappedSlice, data)
	buffer.Unmap()
	return buffer
}

// writeBuffer uploads data into dst at byteOffset through a transient
// mapped-at-creation staging buffer.
func (e *Engine) writeBuffer(dst *wgpu.Buffer, byteOffset int, data []byte) error {
	size := uint64(len(data))
	staging := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	if staging == nil {
		return core.Errorf(core.ErrOutOfMemory, "webgpu: failed to allocate %d byte staging buffer", size)
	}
	defer staging.Release()

	mappedPtr := staging.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	staging.Unmap()

	encoder := e.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, dst, uint64(byteOffset), size)
	cmd := encoder.Finish(nil)
	e.queue.Submit(cmd)
	return nil
}

// readBuffer reads size bytes from src at byteOffset through a staging
// buffer. Blocks until the copy has completed.
func (e *Engine) readBuffer(src *wgpu.Buffer, byteOffset, size int) ([]byte, error) {
	staging := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  uint64(size),
	})
	if staging == nil {
		return nil, core.Errorf(core.ErrOutOfMemory, "webgpu: failed to allocate %d byte staging buffer", size)
	}
	defer staging.Release()

	encoder := e.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, uint64(byteOffset), staging, 0, uint64(size))
	cmd := encoder.Finish(nil)
	e.queue.Submit(cmd)

	if err := staging.MapAsync(e.device, wgpu.MapModeRead, 0, uint64(size)); err != nil {
		return nil, core.Errorf(core.ErrUnknown, "webgpu: failed to map staging buffer: %v", err)
	}
	mappedPtr := staging.GetMappedRange(0, uint64(size))
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)
	staging.Unmap()
	return result, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

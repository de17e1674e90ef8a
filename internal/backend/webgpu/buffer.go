package webgpu

import (
	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/lumen-ml/lumen/internal/core"
)

// gpuBuffer backs the three storage classes on the WebGPU engine:
//
//	Host    - mirror only; host kernels address it directly
//	Device  - wgpu handle only; mapping stages through readBuffer
//	Managed - handle plus mirror, reconciled at map and bind points
//
// Shared buffers wrap user memory and behave like Host storage.
type gpuBuffer struct {
	engine   *Engine
	handle   *wgpu.Buffer
	mirror   []byte
	byteSize int
	storage  core.Storage
	shared   bool
	freed    bool

	// hostDirty marks mirror writes not yet uploaded to the handle.
	hostDirty bool

	// Staged device mappings awaiting Unmap.
	mappings []stagedMapping
}

type stagedMapping struct {
	data       []byte
	byteOffset int
	access     core.Access
}

func (e *Engine) newGPUBuffer(byteSize int, storage core.Storage) (*gpuBuffer, error) {
	b := &gpuBuffer{engine: e, byteSize: byteSize, storage: storage}
	if storage == core.StorageHost || storage == core.StorageManaged {
		b.mirror = make([]byte, byteSize)
		// The mirror is authoritative until the first device bind.
		b.hostDirty = storage == core.StorageManaged
	}
	if storage == core.StorageDevice || storage == core.StorageManaged {
		// wgpu requires 4-byte aligned buffer sizes.
		b.handle = e.device.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
			Size:  uint64(alignUp(byteSize, 4)),
		})
		if b.handle == nil {
			return nil, core.Errorf(core.ErrOutOfMemory, "webgpu: failed to allocate %d byte buffer", byteSize)
		}
	}
	return b, nil
}

// NewBuffer allocates a buffer in the given storage class.
func (e *Engine) NewBuffer(byteSize int, storage core.Storage) (core.Buffer, error) {
	if byteSize < 0 {
		return nil, core.Errorf(core.ErrInvalidArgument, "negative buffer size %d", byteSize)
	}
	return e.newGPUBuffer(byteSize, storage)
}

// NewSharedBuffer wraps caller-owned memory. The memory stays on the
// host; host kernels address it directly.
func (e *Engine) NewSharedBuffer(data []byte) (core.Buffer, error) {
	return &gpuBuffer{
		engine:   e,
		mirror:   data,
		byteSize: len(data),
		storage:  core.StorageHost,
		shared:   true,
	}, nil
}

// ByteSize returns the allocation size in bytes.
func (b *gpuBuffer) ByteSize() int {
	return b.byteSize
}

// Storage returns the buffer's storage class.
func (b *gpuBuffer) Storage() core.Storage {
	return b.storage
}

// Shared reports whether the memory is user-owned.
func (b *gpuBuffer) Shared() bool {
	return b.shared
}

// Data returns the host mirror, or nil for device-only storage.
func (b *gpuBuffer) Data() []byte {
	return b.mirror
}

// Map returns a host view of the requested region. Device storage
// stages through a readback copy; WriteDiscard skips it and hands out
// zeroed scratch bytes.
func (b *gpuBuffer) Map(access core.Access, byteOffset, byteSize int) ([]byte, error) {
	if b.freed {
		return nil, core.Errorf(core.ErrInvalidOperation, "map of freed buffer")
	}
	byteSize, err := core.CheckMapRange(b.byteSize, byteOffset, byteSize)
	if err != nil {
		return nil, err
	}
	readsBack := access == core.AccessRead || access == core.AccessWrite || access == core.AccessReadWrite
	if readsBack {
		if err := b.engine.Wait(); err != nil {
			return nil, err
		}
	}

	if b.mirror != nil {
		if readsBack && b.handle != nil && !b.hostDirty {
			// Managed storage: pull completed device writes into the
			// mirror before handing it out.
			data, err := b.engine.readBuffer(b.handle, 0, b.byteSize)
			if err != nil {
				return nil, err
			}
			copy(b.mirror, data)
		}
		return b.mirror[byteOffset : byteOffset+byteSize], nil
	}

	m := stagedMapping{byteOffset: byteOffset, access: access}
	if readsBack {
		data, err := b.engine.readBuffer(b.handle, byteOffset, byteSize)
		if err != nil {
			return nil, err
		}
		m.data = data
	} else {
		m.data = make([]byte, byteSize)
	}
	b.mappings = append(b.mappings, m)
	return m.data, nil
}

// Unmap releases a mapped view, uploading writes to the device.
func (b *gpuBuffer) Unmap(mapped []byte) error {
	if mapped == nil {
		return core.Errorf(core.ErrInvalidArgument, "unmap of nil mapping")
	}
	if b.mirror != nil {
		if b.handle != nil {
			b.hostDirty = true
		}
		return nil
	}
	for i, m := range b.mappings {
		if len(m.data) == len(mapped) && (len(mapped) == 0 || &m.data[0] == &mapped[0]) {
			b.mappings = append(b.mappings[:i], b.mappings[i+1:]...)
			if m.access != core.AccessRead && len(m.data) > 0 {
				return b.engine.writeBuffer(b.handle, m.byteOffset, m.data)
			}
			return nil
		}
	}
	return core.Errorf(core.ErrInvalidArgument, "unmap of unknown mapping")
}

// Free releases the device allocation. Shared wrappers only drop their
// reference to the user memory.
func (b *gpuBuffer) Free() {
	if b.handle != nil {
		b.handle.Release()
		b.handle = nil
	}
	if !b.shared {
		b.mirror = nil
	}
	b.freed = true
}

// deviceHandle returns the wgpu buffer for binding, uploading pending
// mirror writes first. Must run on the engine's queue.
func (b *gpuBuffer) deviceHandle() (*wgpu.Buffer, error) {
	if b.handle == nil {
		return nil, core.Errorf(core.ErrInvalidArgument, "%s buffer is not device-accessible", b.storage)
	}
	if b.hostDirty {
		if err := b.engine.writeBuffer(b.handle, 0, b.mirror); err != nil {
			return nil, err
		}
		b.hostDirty = false
	}
	return b.handle, nil
}

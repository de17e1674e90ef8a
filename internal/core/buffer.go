package core

// Storage classifies where a buffer's memory lives and how mapping
// behaves.
type Storage int

// Storage classes.
const (
	// StorageHost is pageable host memory, always directly mappable.
	StorageHost Storage = iota
	// StorageDevice is device-only memory; mapping goes through a
	// staging copy on discrete backends.
	StorageDevice
	// StorageManaged is host-visible memory also accessible to the
	// device (unified memory on integrated backends).
	StorageManaged
)

// String returns a human-readable storage class name.
func (s Storage) String() string {
	switch s {
	case StorageHost:
		return "host"
	case StorageDevice:
		return "device"
	case StorageManaged:
		return "managed"
	default:
		return "unknown"
	}
}

// Access describes the intent of a buffer mapping.
type Access int

// Access modes for Map.
const (
	AccessRead         Access = iota // read-only
	AccessWrite                      // write-only, previous contents preserved
	AccessReadWrite                  // read and write
	AccessWriteDiscard               // write-only, previous contents discarded
)

// readsBack reports whether the mapping must observe the latest
// completed device writes, which requires synchronizing with the
// engine's queue before the bytes are handed out.
func (a Access) readsBack() bool {
	return a == AccessRead || a == AccessReadWrite || a == AccessWrite
}

// writes reports whether the mapped region may be modified and must be
// made visible to the device on Unmap.
func (a Access) writes() bool {
	return a != AccessRead
}

// Buffer is a memory allocation with a byte size and a storage class.
// Device-allocated buffers are owned by the engine that created them;
// shared buffers wrap user memory that the runtime never frees and
// that the caller must keep valid for the buffer's entire lifetime.
type Buffer interface {
	// ByteSize returns the allocation size in bytes.
	ByteSize() int
	// Storage returns the buffer's storage class.
	Storage() Storage
	// Shared reports whether the memory is user-owned.
	Shared() bool
	// Data returns the host-visible bytes, or nil when the storage
	// class has no direct host view.
	Data() []byte
	// Map returns a host view of [byteOffset, byteOffset+byteSize).
	// byteSize 0 maps the remainder of the buffer. Read and ReadWrite
	// access drain pending device work first; WriteDiscard skips any
	// synchronization.
	Map(access Access, byteOffset, byteSize int) ([]byte, error)
	// Unmap releases a view returned by Map, making writes visible to
	// the device.
	Unmap(mapped []byte) error
	// Free releases device-owned memory. Freeing a shared buffer only
	// drops the wrapper.
	Free()
}

// CheckMapRange validates and resolves a Map request against a buffer
// of the given size. Returns the resolved byte size.
func CheckMapRange(bufSize, byteOffset, byteSize int) (int, error) {
	if byteOffset < 0 || byteOffset > bufSize {
		return 0, Errorf(ErrInvalidArgument, "map offset %d out of range [0, %d]", byteOffset, bufSize)
	}
	if byteSize == 0 {
		byteSize = bufSize - byteOffset
	}
	if byteSize < 0 || byteOffset+byteSize > bufSize {
		return 0, Errorf(ErrInvalidArgument, "map region [%d, %d) exceeds buffer size %d",
			byteOffset, byteOffset+byteSize, bufSize)
	}
	return byteSize, nil
}

// HostBuffer is a buffer backed by host memory. It serves the Host and
// Managed storage classes of host-coherent engines and wraps shared
// user memory on any engine.
type HostBuffer struct {
	engine  Engine
	data    []byte
	storage Storage
	shared  bool
	freed   bool
}

// NewHostBuffer allocates a host buffer of byteSize bytes.
func NewHostBuffer(engine Engine, byteSize int, storage Storage) *HostBuffer {
	return &HostBuffer{engine: engine, data: make([]byte, byteSize), storage: storage}
}

// NewSharedHostBuffer wraps caller-owned memory. The caller must keep
// data valid for the buffer's lifetime; the runtime never frees it.
func NewSharedHostBuffer(engine Engine, data []byte) *HostBuffer {
	return &HostBuffer{engine: engine, data: data, storage: StorageHost, shared: true}
}

// ByteSize returns the allocation size in bytes.
func (b *HostBuffer) ByteSize() int {
	return len(b.data)
}

// Storage returns the buffer's storage class.
func (b *HostBuffer) Storage() Storage {
	return b.storage
}

// Shared reports whether the memory is user-owned.
func (b *HostBuffer) Shared() bool {
	return b.shared
}

// Data returns the backing bytes.
func (b *HostBuffer) Data() []byte {
	return b.data
}

// Map returns a direct view of the backing memory. Host memory is
// written by queued kernels, so read access drains the engine first.
func (b *HostBuffer) Map(access Access, byteOffset, byteSize int) ([]byte, error) {
	if b.freed {
		return nil, Errorf(ErrInvalidOperation, "map of freed buffer")
	}
	byteSize, err := CheckMapRange(len(b.data), byteOffset, byteSize)
	if err != nil {
		return nil, err
	}
	if access.readsBack() && b.engine != nil {
		if err := b.engine.Wait(); err != nil {
			return nil, err
		}
	}
	return b.data[byteOffset : byteOffset+byteSize], nil
}

// Unmap releases a mapped view. Host memory is coherent, so this is
// only a validity check.
func (b *HostBuffer) Unmap(mapped []byte) error {
	if mapped == nil {
		return Errorf(ErrInvalidArgument, "unmap of nil mapping")
	}
	return nil
}

// Free drops the backing memory unless it is user-owned.
func (b *HostBuffer) Free() {
	if !b.shared {
		b.data = nil
	}
	b.freed = true
}

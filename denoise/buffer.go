package denoise

import (
	"sync/atomic"

	"github.com/lumen-ml/lumen/internal/core"
)

// bufferRef is the shared state behind Buffer handles. It keeps the
// owning device alive for as long as the buffer exists.
type bufferRef struct {
	buf      core.Buffer
	dev      *deviceRef
	refCount atomic.Int32
}

func (r *bufferRef) release() {
	if r.refCount.Add(-1) == 0 {
		r.buf.Free()
		r.dev.release()
	}
}

// Buffer is a shared-ownership handle to device-visible memory.
type Buffer struct {
	ref *bufferRef
}

// NewBuffer allocates byteSize bytes on the device in the given
// storage class. Returns nil on failure with the reason recorded in
// the device error slot.
func (d *Device) NewBuffer(byteSize int, storage Storage) *Buffer {
	if err := d.recorded(d.ref.dev.CheckCommitted()); err != nil {
		return nil
	}
	buf, err := d.ref.dev.Engine().NewBuffer(byteSize, storage)
	if d.recorded(err) != nil {
		return nil
	}
	return d.wrapBuffer(buf)
}

// NewSharedBuffer wraps caller-owned memory. The runtime never frees
// the bytes; the caller must keep them valid for the buffer's
// lifetime.
func (d *Device) NewSharedBuffer(data []byte) *Buffer {
	if err := d.recorded(d.ref.dev.CheckCommitted()); err != nil {
		return nil
	}
	buf, err := d.ref.dev.Engine().NewSharedBuffer(data)
	if d.recorded(err) != nil {
		return nil
	}
	return d.wrapBuffer(buf)
}

func (d *Device) wrapBuffer(buf core.Buffer) *Buffer {
	d.ref.retain()
	ref := &bufferRef{buf: buf, dev: d.ref}
	ref.refCount.Store(1)
	return &Buffer{ref: ref}
}

// Retain returns a new handle sharing this buffer's lifetime.
func (b *Buffer) Retain() *Buffer {
	b.ref.refCount.Add(1)
	return &Buffer{ref: b.ref}
}

// Release drops the handle. The memory is freed when the last handle
// is gone.
func (b *Buffer) Release() {
	b.ref.release()
}

// ByteSize returns the allocation size in bytes.
func (b *Buffer) ByteSize() int {
	return b.ref.buf.ByteSize()
}

// Storage returns the buffer's storage class.
func (b *Buffer) Storage() Storage {
	return b.ref.buf.Storage()
}

// Shared reports whether the memory is user-owned.
func (b *Buffer) Shared() bool {
	return b.ref.buf.Shared()
}

// Map returns a host view of [byteOffset, byteOffset+byteSize).
// byteSize 0 maps the remainder. Read and ReadWrite access observe
// all previously enqueued device writes; WriteDiscard skips that
// synchronization.
func (b *Buffer) Map(access Access, byteOffset, byteSize int) ([]byte, error) {
	mapped, err := b.ref.buf.Map(access, byteOffset, byteSize)
	if err != nil {
		cerr := core.AsError(err)
		b.ref.dev.dev.RecordError(cerr)
		return nil, cerr
	}
	return mapped, nil
}

// Unmap releases a view returned by Map, publishing writes to the
// device.
func (b *Buffer) Unmap(mapped []byte) error {
	if err := b.ref.buf.Unmap(mapped); err != nil {
		cerr := core.AsError(err)
		b.ref.dev.dev.RecordError(cerr)
		return cerr
	}
	return nil
}

// Write copies data into the buffer at byteOffset through a discarding
// map of that region.
func (b *Buffer) Write(byteOffset int, data []byte) error {
	mapped, err := b.Map(AccessWriteDiscard, byteOffset, len(data))
	if err != nil {
		return err
	}
	copy(mapped, data)
	return b.Unmap(mapped)
}

// Read copies byteSize bytes out of the buffer at byteOffset, after
// draining enqueued device work.
func (b *Buffer) Read(byteOffset, byteSize int) ([]byte, error) {
	mapped, err := b.Map(AccessRead, byteOffset, byteSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(mapped))
	copy(out, mapped)
	return out, b.Unmap(mapped)
}

package denoise

import (
	"sync/atomic"

	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/filter"
)

// ProgressFunc reports filter progress n in [0, 1]. Returning false
// requests cancellation: work already enqueued, often the whole
// pipeline, still drains, and the run fails with a Cancelled error at
// the next Wait.
type ProgressFunc = filter.ProgressFunc

// filterRef is the shared state behind Filter handles. It keeps the
// owning device and the images' buffers alive.
type filterRef struct {
	f        filter.Filter
	dev      *deviceRef
	images   map[string]*Buffer
	refCount atomic.Int32
}

func (r *filterRef) release() {
	if r.refCount.Add(-1) == 0 {
		r.f.Release()
		for _, b := range r.images {
			b.Release()
		}
		r.images = nil
		r.dev.release()
	}
}

// Filter is a shared-ownership handle to a committed denoising
// pipeline.
type Filter struct {
	ref *filterRef
}

// NewFilter creates a filter of the given type ("RT") on the device.
// Returns nil on failure with the reason recorded in the device error
// slot.
func (d *Device) NewFilter(kind string) *Filter {
	f, err := filter.New(d.ref.dev, kind)
	if d.recorded(err) != nil {
		return nil
	}
	d.ref.retain()
	ref := &filterRef{f: f, dev: d.ref, images: make(map[string]*Buffer)}
	ref.refCount.Store(1)
	return &Filter{ref: ref}
}

// Retain returns a new handle sharing this filter's lifetime.
func (f *Filter) Retain() *Filter {
	f.ref.refCount.Add(1)
	return &Filter{ref: f.ref}
}

// Release drops the handle. The pipeline's memory is freed when the
// last handle is gone.
func (f *Filter) Release() {
	f.ref.release()
}

// SetImage binds a named image parameter ("color", "output") as a view
// over a buffer. Zero strides mean tightly packed. The filter keeps
// the buffer alive until the image is removed or the filter is
// released.
func (f *Filter) SetImage(name string, buf *Buffer, format Format, width, height, byteOffset, bytePixelStride, byteRowStride int) error {
	if buf == nil {
		return f.recorded(core.Errorf(core.ErrInvalidArgument, "nil buffer for image %q", name))
	}
	img, err := core.NewImage(buf.ref.buf, format, width, height, byteOffset, bytePixelStride, byteRowStride)
	if err != nil {
		return f.recorded(err)
	}
	if err := f.ref.f.SetImage(name, img); err != nil {
		return f.recorded(err)
	}
	if prev := f.ref.images[name]; prev != nil {
		prev.Release()
	}
	f.ref.images[name] = buf.Retain()
	return nil
}

// RemoveImage unbinds a named image parameter.
func (f *Filter) RemoveImage(name string) error {
	if err := f.ref.f.RemoveImage(name); err != nil {
		return f.recorded(err)
	}
	if prev := f.ref.images[name]; prev != nil {
		prev.Release()
		delete(f.ref.images, name)
	}
	return nil
}

// SetBool sets a named boolean parameter ("hdr", "srgb").
func (f *Filter) SetBool(name string, value bool) error {
	return f.recorded(f.ref.f.SetBool(name, value))
}

// GetBool returns a named boolean parameter.
func (f *Filter) GetBool(name string) (bool, error) {
	v, err := f.ref.f.GetBool(name)
	return v, f.recorded(err)
}

// SetInt sets a named integer parameter ("maxMemoryMB").
func (f *Filter) SetInt(name string, value int) error {
	return f.recorded(f.ref.f.SetInt(name, value))
}

// GetInt returns a named integer parameter.
func (f *Filter) GetInt(name string) (int, error) {
	v, err := f.ref.f.GetInt(name)
	return v, f.recorded(err)
}

// SetFloat sets a named float parameter ("inputScale").
func (f *Filter) SetFloat(name string, value float64) error {
	return f.recorded(f.ref.f.SetFloat(name, value))
}

// GetFloat returns a named float parameter.
func (f *Filter) GetFloat(name string) (float64, error) {
	v, err := f.ref.f.GetFloat(name)
	return v, f.recorded(err)
}

// SetData binds caller-owned bytes to a named data parameter
// ("weights").
func (f *Filter) SetData(name string, data []byte) error {
	return f.recorded(f.ref.f.SetData(name, data))
}

// UpdateData tells the filter that the bytes behind a data parameter
// changed in place; the change is picked up at the next Commit.
func (f *Filter) UpdateData(name string) error {
	return f.recorded(f.ref.f.UpdateData(name))
}

// RemoveData unbinds a named data parameter.
func (f *Filter) RemoveData(name string) error {
	return f.recorded(f.ref.f.RemoveData(name))
}

// SetProgressMonitor installs fn, called between pipeline stages
// during execution.
func (f *Filter) SetProgressMonitor(fn ProgressFunc) {
	f.ref.f.SetProgressMonitor(fn)
}

// Commit validates the configuration and builds the pipeline. A
// commit with an unchanged configuration is a no-op.
func (f *Filter) Commit() error {
	return f.recorded(f.ref.f.Commit())
}

// Execute runs the committed pipeline and waits for it to finish.
func (f *Filter) Execute() error {
	return f.recorded(f.ref.f.Execute())
}

// ExecuteAsync enqueues the committed pipeline. Completion and
// failures surface at the device's Wait.
func (f *Filter) ExecuteAsync() error {
	return f.recorded(f.ref.f.ExecuteAsync())
}

func (f *Filter) recorded(err error) error {
	if err == nil {
		return nil
	}
	cerr := core.AsError(err)
	f.ref.dev.dev.RecordError(cerr)
	return cerr
}

// Package filter composes the runtime's operators into committed,
// re-executable denoising pipelines.
package filter

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/weights"
)

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// ProgressFunc reports pipeline progress n in [0, 1]. Returning false
// requests cancellation. Cancellation is best effort: stages are
// enqueued eagerly, so everything already on the queue, often the
// whole pipeline, still drains. The execution fails with a Cancelled
// error at the next Wait and the device remains usable.
type ProgressFunc func(n float64) bool

// Filter is a committed pipeline over named parameters. Parameters are
// mutable until Commit; a changed parameter requires a re-commit
// before the next execution takes it into account.
type Filter interface {
	SetImage(name string, img *core.Image) error
	RemoveImage(name string) error
	SetBool(name string, value bool) error
	GetBool(name string) (bool, error)
	SetInt(name string, value int) error
	GetInt(name string) (int, error)
	SetFloat(name string, value float64) error
	GetFloat(name string) (float64, error)
	// SetData binds caller-owned opaque bytes to a named parameter.
	SetData(name string, data []byte) error
	// UpdateData tells the filter that the bytes behind a data
	// parameter changed in place.
	UpdateData(name string) error
	RemoveData(name string) error
	SetProgressMonitor(fn ProgressFunc)
	Commit() error
	// Execute runs the pipeline and waits for it to finish.
	Execute() error
	// ExecuteAsync enqueues the pipeline; completion and failures
	// surface at the device's Wait.
	ExecuteAsync() error
	// Release frees the filter's device memory.
	Release()
}

// New creates a filter of the given type on a device.
func New(dev *core.Device, kind string) (Filter, error) {
	switch kind {
	case "RT":
		return NewRT(dev), nil
	default:
		return nil, core.Errorf(core.ErrInvalidArgument, "unknown filter type %q", kind)
	}
}

// uploadTensor copies a parsed weight tensor into device memory.
func uploadTensor(engine core.Engine, wt *weights.Tensor) (*core.Tensor, error) {
	t, err := core.NewTensor(engine, core.TensorDesc{
		Shape:    wt.Shape,
		DataType: core.Float32,
	}, core.StorageDevice)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate weight %q", wt.Name)
	}
	mapped, err := t.Buffer.Map(core.AccessWriteDiscard, 0, 0)
	if err != nil {
		t.Free()
		return nil, errors.Wrapf(err, "map weight %q", wt.Name)
	}
	vals := wt.Float32s()
	for i, v := range vals {
		putFloat32(mapped[i*4:], v)
	}
	if err := t.Buffer.Unmap(mapped); err != nil {
		t.Free()
		return nil, errors.Wrapf(err, "unmap weight %q", wt.Name)
	}
	return t, nil
}

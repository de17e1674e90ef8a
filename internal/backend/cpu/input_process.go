package cpu

import (
	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// inputProcessOp converts a color image into the network's CHW input
// tensor: exposure scaling, transfer function, NaN sanitization.
type inputProcessOp struct {
	core.OpBase
	engine *Engine
	desc   core.InputProcessDesc
}

// NewInputProcess creates an input preprocessing op from an immutable
// descriptor.
func (e *Engine) NewInputProcess(desc core.InputProcessDesc) core.Op {
	return &inputProcessOp{engine: e, desc: desc}
}

func (op *inputProcessOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	op.MarkFinalized()
	return nil
}

func (op *inputProcessOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	d := op.desc
	img := d.Color
	dst := d.Dst.Float32s()
	h, w := img.Height, img.Width

	op.engine.RunKernelAsync(work.Dim2(h, w), func(it work.Item) {
		y, x := it.ID(0), it.ID(1)
		// Scale is read per invocation: an autoexposure op queued
		// earlier on this engine writes it before this kernel runs.
		scale := inputScale(d)
		for c := 0; c < 3; c++ {
			v := img.Get(y, x, c)
			if v != v { // NaN
				v = 0
			}
			dst[(c*h+y)*w+x] = d.Transfer.Forward(v * scale)
		}
	})
	return nil
}

// inputScale resolves the effective exposure scale for preprocessing.
func inputScale(d core.InputProcessDesc) float32 {
	if d.Scale != nil {
		return d.Scale.Float32s()[0]
	}
	if d.InputScale != 0 {
		return d.InputScale
	}
	return 1
}

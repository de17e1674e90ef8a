package cpu

import (
	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// outputProcessOp converts the network's CHW output tensor back into
// an image: inverse transfer function and exposure unscaling.
type outputProcessOp struct {
	core.OpBase
	engine *Engine
	desc   core.OutputProcessDesc
}

// NewOutputProcess creates an output postprocessing op from an
// immutable descriptor.
func (e *Engine) NewOutputProcess(desc core.OutputProcessDesc) core.Op {
	return &outputProcessOp{engine: e, desc: desc}
}

func (op *outputProcessOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	op.MarkFinalized()
	return nil
}

func (op *outputProcessOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	d := op.desc
	src := d.Src.Float32s()
	img := d.Output
	h, w := img.Height, img.Width

	op.engine.RunKernelAsync(work.Dim2(h, w), func(it work.Item) {
		y, x := it.ID(0), it.ID(1)
		scale := outputScale(d)
		for c := 0; c < 3; c++ {
			v := d.Transfer.Inverse(src[(c*h+y)*w+x])
			img.Set(y, x, c, v/scale)
		}
	})
	return nil
}

// outputScale resolves the exposure scale that preprocessing applied.
func outputScale(d core.OutputProcessDesc) float32 {
	if d.Scale != nil {
		if s := d.Scale.Float32s()[0]; s != 0 {
			return s
		}
	}
	return 1
}

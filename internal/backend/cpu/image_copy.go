package cpu

import (
	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// imageCopyOp copies pixels between images, converting formats
// channel-wise.
type imageCopyOp struct {
	core.OpBase
	engine *Engine
	desc   core.ImageCopyDesc
}

// NewImageCopy creates an image copy op from an immutable descriptor.
func (e *Engine) NewImageCopy(desc core.ImageCopyDesc) core.Op {
	return &imageCopyOp{engine: e, desc: desc}
}

func (op *imageCopyOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	op.MarkFinalized()
	return nil
}

func (op *imageCopyOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	src, dst := op.desc.Src, op.desc.Dst
	channels := src.Format.Channels()

	op.engine.RunKernelAsync(work.Dim2(src.Height, src.Width), func(it work.Item) {
		y, x := it.ID(0), it.ID(1)
		for c := 0; c < channels; c++ {
			dst.Set(y, x, c, src.Get(y, x, c))
		}
	})
	return nil
}

package cpu

import (
	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// upsampleOp is 2x nearest-neighbor upsampling, one work item per
// source element writing a 2x2 destination block.
type upsampleOp struct {
	core.OpBase
	engine *Engine
	desc   core.UpsampleDesc
}

// NewUpsample creates an upsampling op from an immutable descriptor.
func (e *Engine) NewUpsample(desc core.UpsampleDesc) core.Op {
	return &upsampleOp{engine: e, desc: desc}
}

func (op *upsampleOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	op.MarkFinalized()
	return nil
}

func (op *upsampleOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	d := op.desc
	src := d.Src.Float32s()
	dst := d.Dst.Float32s()
	c, h, w := d.Src.Dim(0), d.Src.Dim(1), d.Src.Dim(2)
	oh, ow := h*2, w*2

	op.engine.RunKernelAsync(work.Dim3(c, h, w), func(it work.Item) {
		ch, y, x := it.ID(0), it.ID(1), it.ID(2)
		v := src[(ch*h+y)*w+x]
		base := (ch*oh + y*2) * ow
		dst[base+x*2] = v
		dst[base+x*2+1] = v
		dst[base+ow+x*2] = v
		dst[base+ow+x*2+1] = v
	})
	return nil
}

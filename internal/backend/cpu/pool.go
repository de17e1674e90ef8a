package cpu

import (
	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// poolOp is 2x2 max pooling with stride 2.
type poolOp struct {
	core.OpBase
	engine *Engine
	desc   core.PoolDesc
}

// NewPool creates a pooling op from an immutable descriptor.
func (e *Engine) NewPool(desc core.PoolDesc) core.Op {
	return &poolOp{engine: e, desc: desc}
}

func (op *poolOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	op.MarkFinalized()
	return nil
}

func (op *poolOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	d := op.desc
	src := d.Src.Float32s()
	dst := d.Dst.Float32s()
	c, oh, ow := d.Dst.Dim(0), d.Dst.Dim(1), d.Dst.Dim(2)
	h, w := d.Src.Dim(1), d.Src.Dim(2)

	op.engine.RunKernelAsync(work.Dim3(c, oh, ow), func(it work.Item) {
		ch, y, x := it.ID(0), it.ID(1), it.ID(2)
		base := ch * h * w
		v := src[base+(y*2)*w+x*2]
		if s := src[base+(y*2)*w+x*2+1]; s > v {
			v = s
		}
		if s := src[base+(y*2+1)*w+x*2]; s > v {
			v = s
		}
		if s := src[base+(y*2+1)*w+x*2+1]; s > v {
			v = s
		}
		dst[(ch*oh+y)*ow+x] = v
	})
	return nil
}

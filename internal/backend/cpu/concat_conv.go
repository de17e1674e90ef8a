package cpu

import (
	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// concatConvOp concatenates two sources channel-wise into a scratch
// tensor sized at finalize time, then runs the shared convolution
// kernel over it.
type concatConvOp struct {
	core.OpBase
	engine  *Engine
	desc    core.ConcatConvDesc
	scratch *core.Tensor
}

// NewConcatConv creates a concatenated convolution op from an
// immutable descriptor.
func (e *Engine) NewConcatConv(desc core.ConcatConvDesc) core.Op {
	return &concatConvOp{engine: e, desc: desc}
}

func (op *concatConvOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	d := op.desc
	scratch, err := core.NewTensor(op.engine, core.TensorDesc{
		Shape:    []int{d.Src1.Dim(0) + d.Src2.Dim(0), d.Src1.Dim(1), d.Src1.Dim(2)},
		DataType: d.Src1.Desc.DataType,
	}, core.StorageDevice)
	if err != nil {
		return err
	}
	op.scratch = scratch
	op.MarkFinalized()
	return nil
}

func (op *concatConvOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	d := op.desc
	op.submitCopy(d.Src1, 0)
	op.submitCopy(d.Src2, d.Src1.Dim(0))
	submitConv(op.engine, op.scratch, d.Weight, d.Bias, d.Dst, d.Activation)
	return nil
}

// submitCopy enqueues a kernel copying src into the scratch tensor at
// the given channel offset.
func (op *concatConvOp) submitCopy(srcT *core.Tensor, channelOffset int) {
	src := srcT.Float32s()
	dst := op.scratch.Float32s()
	c, h, w := srcT.Dim(0), srcT.Dim(1), srcT.Dim(2)

	op.engine.RunKernelAsync(work.Dim3(c, h, w), func(it work.Item) {
		ch, y, x := it.ID(0), it.ID(1), it.ID(2)
		dst[((ch+channelOffset)*h+y)*w+x] = src[(ch*h+y)*w+x]
	})
}

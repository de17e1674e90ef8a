package cpu

import (
	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// convOp is a direct 3x3 convolution with stride 1 and padding 1,
// dispatched as one work item per output element.
type convOp struct {
	core.OpBase
	engine *Engine
	desc   core.ConvDesc
}

// NewConv creates a convolution op from an immutable descriptor.
func (e *Engine) NewConv(desc core.ConvDesc) core.Op {
	return &convOp{engine: e, desc: desc}
}

func (op *convOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	op.MarkFinalized()
	return nil
}

func (op *convOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	d := op.desc
	submitConv(op.engine, d.Src, d.Weight, d.Bias, d.Dst, d.Activation)
	return nil
}

// submitConv enqueues the convolution kernel. Shared with concatConvOp,
// which runs the same kernel over its concatenated scratch tensor.
func submitConv(e *Engine, srcT, weightT, biasT, dstT *core.Tensor, act core.Activation) {
	src := srcT.Float32s()
	wgt := weightT.Float32s()
	bias := biasT.Float32s()
	dst := dstT.Float32s()
	ic, h, w := srcT.Dim(0), srcT.Dim(1), srcT.Dim(2)
	oc := dstT.Dim(0)

	e.RunKernelAsync(work.Dim3(oc, h, w), func(it work.Item) {
		o, y, x := it.ID(0), it.ID(1), it.ID(2)
		sum := bias[o]
		for c := 0; c < ic; c++ {
			for ky := -1; ky <= 1; ky++ {
				yy := y + ky
				if yy < 0 || yy >= h {
					continue
				}
				for kx := -1; kx <= 1; kx++ {
					xx := x + kx
					if xx < 0 || xx >= w {
						continue
					}
					sum += src[(c*h+yy)*w+xx] * wgt[((o*ic+c)*3+ky+1)*3+kx+1]
				}
			}
		}
		if act == core.ActivationReLU && sum < 0 {
			sum = 0
		}
		dst[(o*h+y)*w+x] = sum
	})
}

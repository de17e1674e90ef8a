package cpu

import (
	"math"

	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// Autoexposure tiling: one work group reduces one binSize x binSize
// tile of the image into a luminance bin.
const (
	binSize     = 16
	exposureKey = 0.18
	lumEps      = 1e-8
)

// autoexposureOp estimates an exposure scale from the source image:
// a group kernel averages luminance per tile into a scratch tensor,
// then a host function folds the bins into the log-average and writes
// key/avg to the destination.
type autoexposureOp struct {
	core.OpBase
	engine *Engine
	desc   core.AutoexposureDesc
	bins   *core.Tensor
	binsH  int
	binsW  int
}

// NewAutoexposure creates an autoexposure op from an immutable
// descriptor.
func (e *Engine) NewAutoexposure(desc core.AutoexposureDesc) core.Op {
	return &autoexposureOp{engine: e, desc: desc}
}

func (op *autoexposureOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	op.binsH = (op.desc.Src.Height + binSize - 1) / binSize
	op.binsW = (op.desc.Src.Width + binSize - 1) / binSize
	bins, err := core.NewTensor(op.engine, core.TensorDesc{
		Shape:    []int{op.binsH, op.binsW},
		DataType: core.Float32,
	}, core.StorageDevice)
	if err != nil {
		return err
	}
	op.bins = bins
	op.MarkFinalized()
	return nil
}

func (op *autoexposureOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	img := op.desc.Src
	bins := op.bins.Float32s()
	dst := op.desc.Dst.Float32s()
	h, w := img.Height, img.Width
	binsW := op.binsW

	// Items of one group run sequentially, so the bin accumulator
	// needs no synchronization; over-provisioned items are guarded.
	op.engine.RunGroupKernelAsync(work.Dim2(op.binsH, op.binsW), work.Dim2(binSize, binSize),
		func(it work.GroupItem) {
			y, x := it.GlobalID(0), it.GlobalID(1)
			if y >= h || x >= w {
				return
			}
			b := it.GroupID(0)*binsW + it.GroupID(1)
			if it.LocalID(0) == 0 && it.LocalID(1) == 0 {
				bins[b] = 0
			}
			bins[b] += core.Luminance(img.Get(y, x, 0), img.Get(y, x, 1), img.Get(y, x, 2))
		})

	op.engine.RunHostFuncAsync(func() error {
		var logSum float64
		var n int
		for by := 0; by < op.binsH; by++ {
			for bx := 0; bx < op.binsW; bx++ {
				count := min(binSize, h-by*binSize) * min(binSize, w-bx*binSize)
				avg := float64(bins[by*binsW+bx]) / float64(count)
				if avg > lumEps {
					logSum += math.Log2(avg)
					n++
				}
			}
		}
		if n == 0 {
			dst[0] = 1
			return nil
		}
		dst[0] = float32(exposureKey / math.Exp2(logSum/float64(n)))
		return nil
	})
	return nil
}

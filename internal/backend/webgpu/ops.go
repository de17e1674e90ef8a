package webgpu

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

// Autoexposure tiling, matching the CPU backend.
const (
	binSize     = 16
	exposureKey = 0.18
	lumEps      = 1e-8
)

// gpuBuf asserts that a buffer was allocated on a WebGPU engine.
func gpuBuf(b core.Buffer) (*gpuBuffer, error) {
	gb, ok := b.(*gpuBuffer)
	if !ok {
		return nil, core.Errorf(core.ErrInvalidArgument, "buffer was not allocated on a WebGPU engine")
	}
	return gb, nil
}

// tensorBinding names a tensor's buffer region for a bind group.
func tensorBinding(t *core.Tensor) (binding, error) {
	gb, err := gpuBuf(t.Buffer)
	if err != nil {
		return binding{}, err
	}
	return binding{buffer: gb, offset: uint64(t.ByteOffset), size: uint64(t.Desc.ByteSize())}, nil
}

// packParams serializes uniform parameters as little-endian u32 words
// padded to the 16-byte uniform alignment.
func packParams(vals ...uint32) []byte {
	buf := make([]byte, alignUp(len(vals)*4, 16))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// tensorFloats returns a host view of a float32 tensor for a host-side
// operator, staging through the device when the tensor has a GPU
// handle. discard skips the readback for write-only destinations.
// flush publishes writes; it must run on the engine's queue.
func (e *Engine) tensorFloats(t *core.Tensor, discard bool) (vals []float32, flush func() error, err error) {
	if t.Desc.DataType != core.Float32 {
		return nil, nil, core.Errorf(core.ErrInvalidArgument, "expected float32 tensor, got %s", t.Desc.DataType)
	}
	gb, err := gpuBuf(t.Buffer)
	if err != nil {
		return nil, nil, err
	}
	noop := func() error { return nil }
	if gb.handle == nil {
		return t.Float32s(), noop, nil
	}

	byteSize := t.Desc.ByteSize()
	var raw []byte
	if discard {
		raw = make([]byte, byteSize)
	} else {
		handle, err := gb.deviceHandle()
		if err != nil {
			return nil, nil, err
		}
		raw, err = e.readBuffer(handle, t.ByteOffset, byteSize)
		if err != nil {
			return nil, nil, err
		}
	}
	vals = unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), t.Desc.NumElements())
	flush = func() error {
		if gb.mirror != nil {
			copy(gb.mirror[t.ByteOffset:], raw)
		}
		return e.writeBuffer(gb.handle, t.ByteOffset, raw)
	}
	return vals, flush, nil
}

// imageHostView returns an image addressable by host kernels, staging
// the whole underlying buffer when it is device-only. flush publishes
// writes; it must run on the engine's queue.
func (e *Engine) imageHostView(img *core.Image) (view *core.Image, flush func() error, err error) {
	gb, err := gpuBuf(img.Buffer)
	if err != nil {
		return nil, nil, err
	}
	noop := func() error { return nil }
	if gb.mirror != nil {
		return img, noop, nil
	}

	handle, err := gb.deviceHandle()
	if err != nil {
		return nil, nil, err
	}
	raw, err := e.readBuffer(handle, 0, gb.byteSize)
	if err != nil {
		return nil, nil, err
	}
	shadow := *img
	shadow.Buffer = core.NewSharedHostBuffer(nil, raw)
	flush = func() error {
		return e.writeBuffer(gb.handle, 0, raw)
	}
	return &shadow, flush, nil
}

// scalarValue reads the single element of an optional float32 tensor.
// Must run on the engine's queue.
func (e *Engine) scalarValue(t *core.Tensor) (float32, bool, error) {
	if t == nil {
		return 0, false, nil
	}
	vals, _, err := e.tensorFloats(t, false)
	if err != nil {
		return 0, false, err
	}
	return vals[0], true, nil
}

// storeScalar writes the single element of a float32 tensor.
// Must run on the engine's queue.
func (e *Engine) storeScalar(t *core.Tensor, v float32) error {
	vals, flush, err := e.tensorFloats(t, true)
	if err != nil {
		return err
	}
	vals[0] = v
	return flush()
}

// convOp is a 3x3 convolution with stride 1 and padding 1, dispatched
// as a WGSL pipeline with one invocation per output element.
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
	return op.engine.dispatchConv(d.Src, d.Weight, d.Bias, d.Dst, d.Activation)
}

// dispatchConv enqueues the convolution pipeline. Shared with
// concatConvOp, which runs it over its concatenated scratch tensor.
func (e *Engine) dispatchConv(srcT, weightT, biasT, dstT *core.Tensor, act core.Activation) error {
	src, err := tensorBinding(srcT)
	if err != nil {
		return err
	}
	weight, err := tensorBinding(weightT)
	if err != nil {
		return err
	}
	bias, err := tensorBinding(biasT)
	if err != nil {
		return err
	}
	dst, err := tensorBinding(dstT)
	if err != nil {
		return err
	}

	ic, h, w := srcT.Dim(0), srcT.Dim(1), srcT.Dim(2)
	oc := dstT.Dim(0)
	relu := uint32(0)
	if act == core.ActivationReLU {
		relu = 1
	}
	params := packParams(uint32(oc), uint32(ic), uint32(h), uint32(w), relu)
	e.dispatchAsync("conv", convShaderCode, []binding{src, weight, bias, dst}, params, work.Dim3(oc, h, w))
	return nil
}

// concatConvOp convolves over the channel-wise concatenation of two
// sources. CHW concatenation is contiguous, so the sources are joined
// with two buffer copies into a scratch tensor before the convolution
// dispatch.
type concatConvOp struct {
	core.OpBase
	engine  *Engine
	desc    core.ConcatConvDesc
	scratch *core.Tensor
}

// NewConcatConv creates a concatenating convolution op from an
// immutable descriptor.
func (e *Engine) NewConcatConv(desc core.ConcatConvDesc) core.Op {
	return &concatConvOp{engine: e, desc: desc}
}

func (op *concatConvOp) Finalize() error {
	if err := op.desc.Validate(); err != nil {
		return err
	}
	s1, s2 := op.desc.Src1.Desc.Shape, op.desc.Src2.Desc.Shape
	scratch, err := core.NewTensor(op.engine, core.TensorDesc{
		Shape:    []int{s1[0] + s2[0], s1[1], s1[2]},
		DataType: op.desc.Src1.Desc.DataType,
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
	src1, err := gpuBuf(d.Src1.Buffer)
	if err != nil {
		return err
	}
	src2, err := gpuBuf(d.Src2.Buffer)
	if err != nil {
		return err
	}
	scratch, err := gpuBuf(op.scratch.Buffer)
	if err != nil {
		return err
	}
	size1 := d.Src1.Desc.ByteSize()
	size2 := d.Src2.Desc.ByteSize()
	off1, off2 := d.Src1.ByteOffset, d.Src2.ByteOffset

	e := op.engine
	e.enqueue(func() error {
		h1, err := src1.deviceHandle()
		if err != nil {
			return err
		}
		h2, err := src2.deviceHandle()
		if err != nil {
			return err
		}
		hs, err := scratch.deviceHandle()
		if err != nil {
			return err
		}
		encoder := e.device.CreateCommandEncoder(nil)
		encoder.CopyBufferToBuffer(h1, uint64(off1), hs, 0, uint64(size1))
		encoder.CopyBufferToBuffer(h2, uint64(off2), hs, uint64(size1), uint64(size2))
		cmd := encoder.Finish(nil)
		e.queue.Submit(cmd)
		return nil
	})
	return e.dispatchConv(op.scratch, d.Weight, d.Bias, d.Dst, d.Activation)
}

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
	src, err := tensorBinding(op.desc.Src)
	if err != nil {
		return err
	}
	dst, err := tensorBinding(op.desc.Dst)
	if err != nil {
		return err
	}
	c, oh, ow := op.desc.Dst.Dim(0), op.desc.Dst.Dim(1), op.desc.Dst.Dim(2)
	params := packParams(uint32(c), uint32(oh), uint32(ow))
	op.engine.dispatchAsync("pool", poolShaderCode, []binding{src, dst}, params, work.Dim3(c, oh, ow))
	return nil
}

// upsampleOp is 2x nearest-neighbor upsampling.
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
	src, err := tensorBinding(op.desc.Src)
	if err != nil {
		return err
	}
	dst, err := tensorBinding(op.desc.Dst)
	if err != nil {
		return err
	}
	c, h, w := op.desc.Src.Dim(0), op.desc.Src.Dim(1), op.desc.Src.Dim(2)
	params := packParams(uint32(c), uint32(h), uint32(w))
	op.engine.dispatchAsync("upsample", upsampleShaderCode, []binding{src, dst}, params, work.Dim3(c, h, w))
	return nil
}

// inputProcessOp converts a color image into the network's CHW input
// tensor. Image layouts are stride-addressed on the host, so the
// conversion runs as a host function stitched into the queue, staging
// through the device where buffers are device-only.
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
	e := op.engine
	e.RunHostFuncAsync(func() error {
		img, _, err := e.imageHostView(d.Color)
		if err != nil {
			return err
		}
		dst, flush, err := e.tensorFloats(d.Dst, true)
		if err != nil {
			return err
		}
		scale, ok, err := e.scalarValue(d.Scale)
		if err != nil {
			return err
		}
		if !ok {
			scale = d.InputScale
		}
		if scale == 0 {
			scale = 1
		}
		h, w := img.Height, img.Width
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < 3; c++ {
					v := img.Get(y, x, c)
					if v != v { // NaN
						v = 0
					}
					dst[(c*h+y)*w+x] = d.Transfer.Forward(v * scale)
				}
			}
		}
		return flush()
	})
	return nil
}

// outputProcessOp converts the network's CHW output tensor back into
// an image, inverting the transfer function and exposure scale.
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
	e := op.engine
	e.RunHostFuncAsync(func() error {
		src, _, err := e.tensorFloats(d.Src, false)
		if err != nil {
			return err
		}
		img, flush, err := e.imageHostView(d.Output)
		if err != nil {
			return err
		}
		scale, ok, err := e.scalarValue(d.Scale)
		if err != nil {
			return err
		}
		if !ok || scale == 0 {
			scale = 1
		}
		h, w := img.Height, img.Width
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < 3; c++ {
					v := d.Transfer.Inverse(src[(c*h+y)*w+x])
					img.Set(y, x, c, v/scale)
				}
			}
		}
		return flush()
	})
	return nil
}

// autoexposureOp estimates an exposure scale from the source image by
// averaging log luminance over 16x16 tiles, as a host function.
type autoexposureOp struct {
	core.OpBase
	engine *Engine
	desc   core.AutoexposureDesc
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
	op.MarkFinalized()
	return nil
}

func (op *autoexposureOp) Submit() error {
	if err := op.CheckSubmit(); err != nil {
		return err
	}
	d := op.desc
	e := op.engine
	e.RunHostFuncAsync(func() error {
		img, _, err := e.imageHostView(d.Src)
		if err != nil {
			return err
		}
		h, w := img.Height, img.Width
		var logSum float64
		var n int
		for by := 0; by*binSize < h; by++ {
			for bx := 0; bx*binSize < w; bx++ {
				var sum float32
				y1 := min(binSize, h-by*binSize)
				x1 := min(binSize, w-bx*binSize)
				for y := 0; y < y1; y++ {
					for x := 0; x < x1; x++ {
						sum += core.Luminance(
							img.Get(by*binSize+y, bx*binSize+x, 0),
							img.Get(by*binSize+y, bx*binSize+x, 1),
							img.Get(by*binSize+y, bx*binSize+x, 2))
					}
				}
				avg := float64(sum) / float64(y1*x1)
				if avg > lumEps {
					logSum += math.Log2(avg)
					n++
				}
			}
		}
		if n == 0 {
			return e.storeScalar(d.Dst, 1)
		}
		return e.storeScalar(d.Dst, float32(exposureKey/math.Exp2(logSum/float64(n))))
	})
	return nil
}

// imageCopyOp copies pixels between images, converting formats
// channel-wise on the host.
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
	d := op.desc
	e := op.engine
	e.RunHostFuncAsync(func() error {
		src, _, err := e.imageHostView(d.Src)
		if err != nil {
			return err
		}
		dst, flush, err := e.imageHostView(d.Dst)
		if err != nil {
			return err
		}
		channels := src.Format.Channels()
		for y := 0; y < src.Height; y++ {
			for x := 0; x < src.Width; x++ {
				for c := 0; c < channels; c++ {
					dst.Set(y, x, c, src.Get(y, x, c))
				}
			}
		}
		return flush()
	})
	return nil
}

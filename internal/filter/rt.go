package filter

import (
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/weights"
)

// The denoising network is a small U-Net with two pooling levels, so
// both image extents must be divisible by 4.
const alignment = 4

// layerShapes lists the convolution weights the network expects,
// keyed by parameter-blob tensor name prefix.
var layerShapes = []struct {
	name string
	out  int
	in   int
}{
	{"ec1", 8, 3},
	{"ec2", 16, 8},
	{"ec3", 32, 16},
	{"dc2", 16, 48},
	{"dc1", 8, 24},
	{"out", 3, 8},
}

// RT is the ray-tracing denoising filter: a fixed U-Net over a noisy
// color image.
//
// Parameters: images "color" and "output" (required, same size);
// bools "hdr" and "srgb"; float "inputScale"; data "weights"
// (required); int "maxMemoryMB" (advisory).
type RT struct {
	dev *core.Device

	color  *core.Image
	output *core.Image

	hdr         bool
	srgb        bool
	inputScale  float64
	weightsData []byte
	maxMemoryMB int

	monitor ProgressFunc

	dirty bool
	built bool

	ops     []core.Op
	tensors []*core.Tensor
	scale   *core.Tensor

	cancelled atomic.Bool
}

// NewRT creates an uncommitted RT filter on a device.
func NewRT(dev *core.Device) *RT {
	return &RT{dev: dev, inputScale: math.NaN(), dirty: true}
}

// SetImage binds an image parameter.
func (f *RT) SetImage(name string, img *core.Image) error {
	if img == nil {
		return core.Errorf(core.ErrInvalidArgument, "nil image for parameter %q", name)
	}
	switch name {
	case "color":
		f.color = img
	case "output":
		f.output = img
	default:
		return core.Errorf(core.ErrInvalidArgument, "unknown image parameter %q", name)
	}
	f.dirty = true
	return nil
}

// RemoveImage unbinds an image parameter.
func (f *RT) RemoveImage(name string) error {
	switch name {
	case "color":
		f.color = nil
	case "output":
		f.output = nil
	default:
		return core.Errorf(core.ErrInvalidArgument, "unknown image parameter %q", name)
	}
	f.dirty = true
	return nil
}

// SetBool sets a named boolean parameter.
func (f *RT) SetBool(name string, value bool) error {
	switch name {
	case "hdr":
		f.hdr = value
	case "srgb":
		f.srgb = value
	default:
		return core.Errorf(core.ErrInvalidArgument, "unknown parameter %q", name)
	}
	f.dirty = true
	return nil
}

// GetBool returns a named boolean parameter.
func (f *RT) GetBool(name string) (bool, error) {
	switch name {
	case "hdr":
		return f.hdr, nil
	case "srgb":
		return f.srgb, nil
	default:
		return false, core.Errorf(core.ErrInvalidArgument, "unknown parameter %q", name)
	}
}

// SetInt sets a named integer parameter.
func (f *RT) SetInt(name string, value int) error {
	if name != "maxMemoryMB" {
		return core.Errorf(core.ErrInvalidArgument, "unknown parameter %q", name)
	}
	f.maxMemoryMB = value
	f.dirty = true
	return nil
}

// GetInt returns a named integer parameter.
func (f *RT) GetInt(name string) (int, error) {
	if name != "maxMemoryMB" {
		return 0, core.Errorf(core.ErrInvalidArgument, "unknown parameter %q", name)
	}
	return f.maxMemoryMB, nil
}

// SetFloat sets a named float parameter.
func (f *RT) SetFloat(name string, value float64) error {
	if name != "inputScale" {
		return core.Errorf(core.ErrInvalidArgument, "unknown parameter %q", name)
	}
	f.inputScale = value
	f.dirty = true
	return nil
}

// GetFloat returns a named float parameter. An unset inputScale reads
// as NaN.
func (f *RT) GetFloat(name string) (float64, error) {
	if name != "inputScale" {
		return 0, core.Errorf(core.ErrInvalidArgument, "unknown parameter %q", name)
	}
	return f.inputScale, nil
}

// SetData binds a data parameter. The bytes stay caller-owned.
func (f *RT) SetData(name string, data []byte) error {
	if name != "weights" {
		return core.Errorf(core.ErrInvalidArgument, "unknown data parameter %q", name)
	}
	f.weightsData = data
	f.dirty = true
	return nil
}

// UpdateData marks a data parameter's bytes as changed in place.
func (f *RT) UpdateData(name string) error {
	if name != "weights" {
		return core.Errorf(core.ErrInvalidArgument, "unknown data parameter %q", name)
	}
	f.dirty = true
	return nil
}

// RemoveData unbinds a data parameter.
func (f *RT) RemoveData(name string) error {
	if name != "weights" {
		return core.Errorf(core.ErrInvalidArgument, "unknown data parameter %q", name)
	}
	f.weightsData = nil
	f.dirty = true
	return nil
}

// SetProgressMonitor installs fn, called between pipeline stages
// during execution.
func (f *RT) SetProgressMonitor(fn ProgressFunc) {
	f.monitor = fn
}

// Commit validates the configuration and builds the pipeline. With an
// unchanged configuration it is a no-op; after a change it rebuilds,
// which is invalid while previously enqueued work is outstanding.
func (f *RT) Commit() error {
	if err := f.dev.CheckCommitted(); err != nil {
		return err
	}
	if f.built && !f.dirty {
		return nil
	}
	engine := f.dev.Engine()
	if f.built && engine.InFlight() {
		return core.Errorf(core.ErrInvalidOperation, "filter re-committed while operations are outstanding")
	}
	f.release()
	if err := f.build(engine); err != nil {
		f.release()
		return err
	}
	f.built = true
	f.dirty = false
	return nil
}

func (f *RT) build(engine core.Engine) error {
	if f.color == nil || f.output == nil {
		return core.Errorf(core.ErrInvalidArgument, "filter needs color and output images")
	}
	if !f.color.SameSize(f.output) {
		return core.Errorf(core.ErrInvalidArgument, "color %dx%d and output %dx%d differ",
			f.color.Width, f.color.Height, f.output.Width, f.output.Height)
	}
	h, w := f.color.Height, f.color.Width
	if h%alignment != 0 || w%alignment != 0 {
		return core.Errorf(core.ErrInvalidArgument, "image size %dx%d must be divisible by %d", w, h, alignment)
	}
	if f.weightsData == nil {
		return core.Errorf(core.ErrInvalidArgument, "filter has no weights")
	}
	blob, err := weights.Parse(f.weightsData)
	if err != nil {
		return core.Errorf(core.ErrInvalidArgument, "invalid weights: %v", err)
	}

	layers := make(map[string][2]*core.Tensor, len(layerShapes))
	for _, l := range layerShapes {
		weight, err := f.loadWeight(engine, blob, l.name+".weight", []int{l.out, l.in, 3, 3})
		if err != nil {
			return err
		}
		bias, err := f.loadWeight(engine, blob, l.name+".bias", []int{l.out})
		if err != nil {
			return err
		}
		layers[l.name] = [2]*core.Tensor{weight, bias}
	}

	in, err := f.newTensor(engine, 3, h, w)
	if err != nil {
		return err
	}
	ec1, err := f.newTensor(engine, 8, h, w)
	if err != nil {
		return err
	}
	pool1, err := f.newTensor(engine, 8, h/2, w/2)
	if err != nil {
		return err
	}
	ec2, err := f.newTensor(engine, 16, h/2, w/2)
	if err != nil {
		return err
	}
	pool2, err := f.newTensor(engine, 16, h/4, w/4)
	if err != nil {
		return err
	}
	ec3, err := f.newTensor(engine, 32, h/4, w/4)
	if err != nil {
		return err
	}
	up2, err := f.newTensor(engine, 32, h/2, w/2)
	if err != nil {
		return err
	}
	dc2, err := f.newTensor(engine, 16, h/2, w/2)
	if err != nil {
		return err
	}
	up1, err := f.newTensor(engine, 16, h, w)
	if err != nil {
		return err
	}
	dc1, err := f.newTensor(engine, 8, h, w)
	if err != nil {
		return err
	}
	out, err := f.newTensor(engine, 3, h, w)
	if err != nil {
		return err
	}

	// The exposure scale lives in a single managed element shared by
	// pre- and postprocessing; autoexposure overwrites it at execution
	// time when HDR input has no explicit scale.
	scale, err := core.NewTensor(engine, core.TensorDesc{
		Shape:    []int{1},
		DataType: core.Float32,
	}, core.StorageManaged)
	if err != nil {
		return core.AsError(err)
	}
	f.scale = scale
	f.tensors = append(f.tensors, scale)
	initialScale := float32(1)
	if !math.IsNaN(f.inputScale) {
		initialScale = float32(f.inputScale)
	}
	if err := f.storeScale(initialScale); err != nil {
		return err
	}

	transfer := core.TransferLinear
	switch {
	case f.hdr:
		transfer = core.TransferPU
	case f.srgb:
		transfer = core.TransferSRGB
	}

	if f.hdr && math.IsNaN(f.inputScale) {
		f.addOp(engine.NewAutoexposure(core.AutoexposureDesc{Src: f.color, Dst: scale}))
	}
	f.addOp(engine.NewInputProcess(core.InputProcessDesc{
		Color: f.color, Dst: in, Transfer: transfer, HDR: f.hdr, Scale: scale,
	}))
	f.addOp(engine.NewConv(core.ConvDesc{
		Src: in, Weight: layers["ec1"][0], Bias: layers["ec1"][1], Dst: ec1,
		Activation: core.ActivationReLU,
	}))
	f.addOp(engine.NewPool(core.PoolDesc{Src: ec1, Dst: pool1}))
	f.addOp(engine.NewConv(core.ConvDesc{
		Src: pool1, Weight: layers["ec2"][0], Bias: layers["ec2"][1], Dst: ec2,
		Activation: core.ActivationReLU,
	}))
	f.addOp(engine.NewPool(core.PoolDesc{Src: ec2, Dst: pool2}))
	f.addOp(engine.NewConv(core.ConvDesc{
		Src: pool2, Weight: layers["ec3"][0], Bias: layers["ec3"][1], Dst: ec3,
		Activation: core.ActivationReLU,
	}))
	f.addOp(engine.NewUpsample(core.UpsampleDesc{Src: ec3, Dst: up2}))
	f.addOp(engine.NewConcatConv(core.ConcatConvDesc{
		Src1: up2, Src2: ec2, Weight: layers["dc2"][0], Bias: layers["dc2"][1], Dst: dc2,
		Activation: core.ActivationReLU,
	}))
	f.addOp(engine.NewUpsample(core.UpsampleDesc{Src: dc2, Dst: up1}))
	f.addOp(engine.NewConcatConv(core.ConcatConvDesc{
		Src1: up1, Src2: ec1, Weight: layers["dc1"][0], Bias: layers["dc1"][1], Dst: dc1,
		Activation: core.ActivationReLU,
	}))
	f.addOp(engine.NewConv(core.ConvDesc{
		Src: dc1, Weight: layers["out"][0], Bias: layers["out"][1], Dst: out,
	}))
	f.addOp(engine.NewOutputProcess(core.OutputProcessDesc{
		Src: out, Output: f.output, Transfer: transfer, HDR: f.hdr, Scale: scale,
	}))

	for _, op := range f.ops {
		if err := op.Finalize(); err != nil {
			return core.AsError(err)
		}
	}

	if f.dev.Verbose() > 0 {
		var total int
		for _, t := range f.tensors {
			total += t.Desc.ByteSize()
		}
		klog.Infof("filter committed: %dx%d, %d ops, %d tensor bytes", w, h, len(f.ops), total)
	}
	return nil
}

func (f *RT) loadWeight(engine core.Engine, blob *weights.Blob, name string, shape []int) (*core.Tensor, error) {
	wt := blob.Lookup(name)
	if wt == nil {
		return nil, core.Errorf(core.ErrInvalidArgument, "weights are missing tensor %q", name)
	}
	if !shapeEqual(wt.Shape, shape) {
		return nil, core.Errorf(core.ErrInvalidArgument, "weight %q has shape %v, expected %v", name, wt.Shape, shape)
	}
	t, err := uploadTensor(engine, wt)
	if err != nil {
		return nil, core.AsError(errors.Wrap(err, "upload weights"))
	}
	f.tensors = append(f.tensors, t)
	return t, nil
}

func (f *RT) newTensor(engine core.Engine, c, h, w int) (*core.Tensor, error) {
	t, err := core.NewTensor(engine, core.TensorDesc{
		Shape:    []int{c, h, w},
		DataType: core.Float32,
	}, core.StorageDevice)
	if err != nil {
		return nil, core.AsError(err)
	}
	f.tensors = append(f.tensors, t)
	return t, nil
}

func (f *RT) addOp(op core.Op) {
	f.ops = append(f.ops, op)
}

func (f *RT) storeScale(v float32) error {
	mapped, err := f.scale.Buffer.Map(core.AccessWriteDiscard, 0, 0)
	if err != nil {
		return core.AsError(err)
	}
	putFloat32(mapped, v)
	return core.AsError(f.scale.Buffer.Unmap(mapped))
}

// Execute runs the committed pipeline and waits for it to finish.
func (f *RT) Execute() error {
	if err := f.ExecuteAsync(); err != nil {
		return err
	}
	return f.dev.Engine().Wait()
}

// ExecuteAsync enqueues the committed pipeline. Progress callbacks and
// cancellation checks run between stages on the engine's queue.
func (f *RT) ExecuteAsync() error {
	if err := f.dev.CheckCommitted(); err != nil {
		return err
	}
	if !f.built || f.dirty {
		return core.Errorf(core.ErrInvalidOperation, "filter not committed")
	}
	f.cancelled.Store(false)
	if f.monitor != nil && !f.monitor(0) {
		return core.Errorf(core.ErrCancelled, "execution cancelled")
	}

	engine := f.dev.Engine()
	total := len(f.ops)
	for i, op := range f.ops {
		if f.cancelled.Load() {
			break
		}
		if err := op.Submit(); err != nil {
			return core.AsError(err)
		}
		if f.monitor != nil {
			step := i + 1
			engine.RunHostFuncAsync(func() error {
				if f.cancelled.Load() {
					return nil
				}
				if !f.monitor(float64(step) / float64(total)) {
					f.cancelled.Store(true)
					return core.Errorf(core.ErrCancelled, "execution cancelled")
				}
				return nil
			})
		}
	}
	if f.cancelled.Load() {
		return core.Errorf(core.ErrCancelled, "execution cancelled")
	}
	return nil
}

// Release frees the filter's device memory. The filter must be
// re-committed before it can execute again.
func (f *RT) Release() {
	f.release()
	f.dirty = true
}

func (f *RT) release() {
	for _, t := range f.tensors {
		t.Free()
	}
	f.tensors = nil
	f.scale = nil
	f.ops = nil
	f.built = false
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

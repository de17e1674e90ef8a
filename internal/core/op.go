package core

// Op is one primitive computation bound to an engine.
//
// Lifecycle: constructed from an immutable descriptor, then Finalize
// resolves shapes and allocates scratch memory, then Submit enqueues
// the backend work. Submitting an un-finalized op is a contract
// violation (InvalidOperation). Submit is idempotent per finalize:
// calling it again re-enqueues the same work, which is how a filter
// re-executes with unchanged configuration.
type Op interface {
	Finalize() error
	Submit() error
}

// OpBase carries the finalized flag shared by all op implementations.
type OpBase struct {
	finalized bool
}

// MarkFinalized records a successful Finalize.
func (o *OpBase) MarkFinalized() {
	o.finalized = true
}

// CheckSubmit returns an InvalidOperation error when the op has not
// been finalized.
func (o *OpBase) CheckSubmit() error {
	if !o.finalized {
		return Errorf(ErrInvalidOperation, "op submitted before finalize")
	}
	return nil
}

// Activation selects the nonlinearity fused into a convolution.
type Activation int

// Fused activations.
const (
	ActivationNone Activation = iota
	ActivationReLU
)

// ConvDesc describes a 3x3 convolution with stride 1 and padding 1.
// Weight is OIHW, Src and Dst are CHW.
type ConvDesc struct {
	Src        *Tensor
	Weight     *Tensor
	Bias       *Tensor
	Dst        *Tensor
	Activation Activation
}

// Validate checks the shape compatibility deferred from construction.
func (d ConvDesc) Validate() error {
	if d.Src == nil || d.Weight == nil || d.Bias == nil || d.Dst == nil {
		return Errorf(ErrInvalidArgument, "conv has unset tensors")
	}
	w := d.Weight.Desc.Shape
	if len(w) != 4 || w[2] != 3 || w[3] != 3 {
		return Errorf(ErrInvalidArgument, "conv weight must be [O I 3 3], got %v", w)
	}
	s, o := d.Src.Desc.Shape, d.Dst.Desc.Shape
	if len(s) != 3 || len(o) != 3 {
		return Errorf(ErrInvalidArgument, "conv tensors must be CHW, got src %v dst %v", s, o)
	}
	if s[0] != w[1] {
		return Errorf(ErrInvalidArgument, "conv src has %d channels, weight expects %d", s[0], w[1])
	}
	if o[0] != w[0] {
		return Errorf(ErrInvalidArgument, "conv dst has %d channels, weight produces %d", o[0], w[0])
	}
	if s[1] != o[1] || s[2] != o[2] {
		return Errorf(ErrInvalidArgument, "conv src %dx%d and dst %dx%d differ", s[1], s[2], o[1], o[2])
	}
	if b := d.Bias.Desc.Shape; len(b) != 1 || b[0] != w[0] {
		return Errorf(ErrInvalidArgument, "conv bias must be [%d], got %v", w[0], b)
	}
	return nil
}

// ConcatConvDesc describes a convolution over the channel-wise
// concatenation of two sources. Weight covers Src1 then Src2 channels.
type ConcatConvDesc struct {
	Src1       *Tensor
	Src2       *Tensor
	Weight     *Tensor
	Bias       *Tensor
	Dst        *Tensor
	Activation Activation
}

// Validate checks the shape compatibility deferred from construction.
func (d ConcatConvDesc) Validate() error {
	if d.Src1 == nil || d.Src2 == nil || d.Weight == nil || d.Bias == nil || d.Dst == nil {
		return Errorf(ErrInvalidArgument, "concat conv has unset tensors")
	}
	s1, s2 := d.Src1.Desc.Shape, d.Src2.Desc.Shape
	if len(s1) != 3 || len(s2) != 3 || s1[1] != s2[1] || s1[2] != s2[2] {
		return Errorf(ErrInvalidArgument, "concat conv sources %v and %v do not align", s1, s2)
	}
	w := d.Weight.Desc.Shape
	if len(w) != 4 || w[1] != s1[0]+s2[0] {
		return Errorf(ErrInvalidArgument, "concat conv weight %v does not cover %d+%d channels", w, s1[0], s2[0])
	}
	conv := ConvDesc{
		Src:    &Tensor{Desc: TensorDesc{Shape: []int{s1[0] + s2[0], s1[1], s1[2]}, DataType: d.Src1.Desc.DataType}},
		Weight: d.Weight,
		Bias:   d.Bias,
		Dst:    d.Dst,
	}
	return conv.Validate()
}

// PoolDesc describes 2x2 max pooling with stride 2.
type PoolDesc struct {
	Src *Tensor
	Dst *Tensor
}

// Validate checks the shape compatibility deferred from construction.
func (d PoolDesc) Validate() error {
	if d.Src == nil || d.Dst == nil {
		return Errorf(ErrInvalidArgument, "pool has unset tensors")
	}
	s, o := d.Src.Desc.Shape, d.Dst.Desc.Shape
	if len(s) != 3 || len(o) != 3 {
		return Errorf(ErrInvalidArgument, "pool tensors must be CHW, got src %v dst %v", s, o)
	}
	if s[1]%2 != 0 || s[2]%2 != 0 {
		return Errorf(ErrInvalidArgument, "pool source %dx%d must have even extents", s[1], s[2])
	}
	if o[0] != s[0] || o[1] != s[1]/2 || o[2] != s[2]/2 {
		return Errorf(ErrInvalidArgument, "pool dst %v does not match src %v halved", o, s)
	}
	return nil
}

// UpsampleDesc describes 2x nearest-neighbor upsampling.
type UpsampleDesc struct {
	Src *Tensor
	Dst *Tensor
}

// Validate checks the shape compatibility deferred from construction.
func (d UpsampleDesc) Validate() error {
	if d.Src == nil || d.Dst == nil {
		return Errorf(ErrInvalidArgument, "upsample has unset tensors")
	}
	s, o := d.Src.Desc.Shape, d.Dst.Desc.Shape
	if len(s) != 3 || len(o) != 3 {
		return Errorf(ErrInvalidArgument, "upsample tensors must be CHW, got src %v dst %v", s, o)
	}
	if o[0] != s[0] || o[1] != s[1]*2 || o[2] != s[2]*2 {
		return Errorf(ErrInvalidArgument, "upsample dst %v does not match src %v doubled", o, s)
	}
	return nil
}

// InputProcessDesc describes image-to-tensor preprocessing: transfer
// function, exposure scaling and CHW layout conversion.
// Scale is an optional single-element tensor read at execution time,
// typically produced by a preceding autoexposure op on the same
// engine's queue.
type InputProcessDesc struct {
	Color      *Image
	Dst        *Tensor
	Transfer   Transfer
	HDR        bool
	InputScale float32
	Scale      *Tensor
}

// Validate checks the shape compatibility deferred from construction.
func (d InputProcessDesc) Validate() error {
	if d.Color == nil || d.Dst == nil {
		return Errorf(ErrInvalidArgument, "input process has no color image or destination")
	}
	if d.Color.Format.Channels() < 3 {
		return Errorf(ErrInvalidArgument, "input process needs a 3-channel color image, got %s", d.Color.Format)
	}
	o := d.Dst.Desc.Shape
	if len(o) != 3 || o[0] != 3 || o[1] != d.Color.Height || o[2] != d.Color.Width {
		return Errorf(ErrInvalidArgument, "input process dst %v does not match %dx%d color image",
			o, d.Color.Height, d.Color.Width)
	}
	if d.Scale != nil && d.Scale.Desc.NumElements() != 1 {
		return Errorf(ErrInvalidArgument, "input process scale must be a single element")
	}
	return nil
}

// OutputProcessDesc describes tensor-to-image postprocessing: inverse
// transfer function and exposure unscaling.
type OutputProcessDesc struct {
	Src      *Tensor
	Output   *Image
	Transfer Transfer
	HDR      bool
	Scale    *Tensor
}

// Validate checks the shape compatibility deferred from construction.
func (d OutputProcessDesc) Validate() error {
	if d.Src == nil || d.Output == nil {
		return Errorf(ErrInvalidArgument, "output process has no source or output image")
	}
	if d.Output.Format.Channels() < 3 {
		return Errorf(ErrInvalidArgument, "output process needs a 3-channel image, got %s", d.Output.Format)
	}
	s := d.Src.Desc.Shape
	if len(s) != 3 || s[0] != 3 || s[1] != d.Output.Height || s[2] != d.Output.Width {
		return Errorf(ErrInvalidArgument, "output process src %v does not match %dx%d image",
			s, d.Output.Height, d.Output.Width)
	}
	if d.Scale != nil && d.Scale.Desc.NumElements() != 1 {
		return Errorf(ErrInvalidArgument, "output process scale must be a single element")
	}
	return nil
}

// AutoexposureDesc describes exposure estimation: the kernel reduces
// the source image to a single scale factor written to Dst.
type AutoexposureDesc struct {
	Src *Image
	Dst *Tensor
}

// Validate checks the shape compatibility deferred from construction.
func (d AutoexposureDesc) Validate() error {
	if d.Src == nil || d.Dst == nil {
		return Errorf(ErrInvalidArgument, "autoexposure has no source or destination")
	}
	if d.Src.Format.Channels() < 3 {
		return Errorf(ErrInvalidArgument, "autoexposure needs a 3-channel image, got %s", d.Src.Format)
	}
	if d.Dst.Desc.NumElements() != 1 {
		return Errorf(ErrInvalidArgument, "autoexposure destination must be a single element")
	}
	return nil
}

// ImageCopyDesc describes a pixel-wise copy between two images of the
// same size, converting between formats as needed.
type ImageCopyDesc struct {
	Src *Image
	Dst *Image
}

// Validate checks the shape compatibility deferred from construction.
func (d ImageCopyDesc) Validate() error {
	if d.Src == nil || d.Dst == nil {
		return Errorf(ErrInvalidArgument, "image copy has unset images")
	}
	if !d.Src.SameSize(d.Dst) {
		return Errorf(ErrInvalidArgument, "image copy size mismatch: %dx%d vs %dx%d",
			d.Src.Width, d.Src.Height, d.Dst.Width, d.Dst.Height)
	}
	if d.Src.Format.Channels() != d.Dst.Format.Channels() {
		return Errorf(ErrInvalidArgument, "image copy channel mismatch: %s vs %s", d.Src.Format, d.Dst.Format)
	}
	return nil
}

package core

import (
	"fmt"
	"unsafe"
)

// TensorDesc describes the shape and element type of a tensor.
// Activation tensors are CHW, convolution weights are OIHW.
type TensorDesc struct {
	Shape    []int
	DataType DataType
}

// NumElements returns the total number of elements.
func (d TensorDesc) NumElements() int {
	n := 1
	for _, s := range d.Shape {
		n *= s
	}
	return n
}

// ByteSize returns the tightly packed byte size.
func (d TensorDesc) ByteSize() int {
	return d.NumElements() * d.DataType.Size()
}

// Validate checks that every dimension is positive.
func (d TensorDesc) Validate() error {
	if len(d.Shape) == 0 {
		return Errorf(ErrInvalidArgument, "tensor has empty shape")
	}
	for i, s := range d.Shape {
		if s <= 0 {
			return Errorf(ErrInvalidArgument, "invalid tensor shape %v: dimension %d is %d", d.Shape, i, s)
		}
	}
	return nil
}

func (d TensorDesc) String() string {
	return fmt.Sprintf("%v %s", d.Shape, d.DataType)
}

// Tensor is a typed view over a buffer, used for weights, activations
// and operator scratch memory.
type Tensor struct {
	Desc       TensorDesc
	Buffer     Buffer
	ByteOffset int
}

// NewTensor allocates a tensor of the given description on the engine
// in the given storage class.
func NewTensor(engine Engine, desc TensorDesc, storage Storage) (*Tensor, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	buf, err := engine.NewBuffer(desc.ByteSize(), storage)
	if err != nil {
		return nil, err
	}
	return &Tensor{Desc: desc, Buffer: buf}, nil
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.Desc.Shape[i]
}

// Float32s returns the host-visible elements as []float32.
// Only valid for Float32 tensors on host-coherent storage.
func (t *Tensor) Float32s() []float32 {
	if t.Desc.DataType != Float32 {
		panic(fmt.Sprintf("tensor data type is %s, not float32", t.Desc.DataType))
	}
	data := t.Buffer.Data()
	if data == nil {
		panic("tensor storage is not host visible")
	}
	data = data[t.ByteOffset:]
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), t.Desc.NumElements())
}

// Free releases the underlying buffer.
func (t *Tensor) Free() {
	if t.Buffer != nil {
		t.Buffer.Free()
	}
}

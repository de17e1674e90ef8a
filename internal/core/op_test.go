package core

import "testing"

func chw(c, h, w int) *Tensor {
	return &Tensor{Desc: TensorDesc{Shape: []int{c, h, w}, DataType: Float32}}
}

func oihw(o, i int) *Tensor {
	return &Tensor{Desc: TensorDesc{Shape: []int{o, i, 3, 3}, DataType: Float32}}
}

func vec(n int) *Tensor {
	return &Tensor{Desc: TensorDesc{Shape: []int{n}, DataType: Float32}}
}

func testImage(t *testing.T, w, h int) *Image {
	t.Helper()
	img, err := NewImage(nil, FormatFloat3, w, h, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestConvDescValidate(t *testing.T) {
	valid := ConvDesc{Src: chw(3, 8, 8), Weight: oihw(8, 3), Bias: vec(8), Dst: chw(8, 8, 8)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid conv rejected: %v", err)
	}

	tests := []struct {
		name string
		desc ConvDesc
	}{
		{"missing tensor", ConvDesc{Src: chw(3, 8, 8)}},
		{"bad weight rank", ConvDesc{Src: chw(3, 8, 8), Weight: chw(8, 3, 3), Bias: vec(8), Dst: chw(8, 8, 8)}},
		{"channel mismatch", ConvDesc{Src: chw(4, 8, 8), Weight: oihw(8, 3), Bias: vec(8), Dst: chw(8, 8, 8)}},
		{"output channel mismatch", ConvDesc{Src: chw(3, 8, 8), Weight: oihw(8, 3), Bias: vec(8), Dst: chw(4, 8, 8)}},
		{"size mismatch", ConvDesc{Src: chw(3, 8, 8), Weight: oihw(8, 3), Bias: vec(8), Dst: chw(8, 4, 8)}},
		{"bad bias", ConvDesc{Src: chw(3, 8, 8), Weight: oihw(8, 3), Bias: vec(4), Dst: chw(8, 8, 8)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if AsError(err).Kind != ErrInvalidArgument {
				t.Fatalf("kind = %v, want InvalidArgument", AsError(err).Kind)
			}
		})
	}
}

func TestConcatConvDescValidate(t *testing.T) {
	valid := ConcatConvDesc{
		Src1: chw(32, 4, 4), Src2: chw(16, 4, 4),
		Weight: oihw(16, 48), Bias: vec(16), Dst: chw(16, 4, 4),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid concat conv rejected: %v", err)
	}

	misaligned := valid
	misaligned.Src2 = chw(16, 8, 4)
	if misaligned.Validate() == nil {
		t.Fatal("misaligned sources must be rejected")
	}

	badWeight := valid
	badWeight.Weight = oihw(16, 32)
	if badWeight.Validate() == nil {
		t.Fatal("weight not covering concatenated channels must be rejected")
	}
}

func TestPoolDescValidate(t *testing.T) {
	valid := PoolDesc{Src: chw(8, 6, 4), Dst: chw(8, 3, 2)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid pool rejected: %v", err)
	}
	if (PoolDesc{Src: chw(8, 5, 4), Dst: chw(8, 2, 2)}).Validate() == nil {
		t.Fatal("odd extent must be rejected")
	}
	if (PoolDesc{Src: chw(8, 6, 4), Dst: chw(8, 3, 3)}).Validate() == nil {
		t.Fatal("wrong dst shape must be rejected")
	}
}

func TestUpsampleDescValidate(t *testing.T) {
	if err := (UpsampleDesc{Src: chw(8, 3, 2), Dst: chw(8, 6, 4)}).Validate(); err != nil {
		t.Fatalf("valid upsample rejected: %v", err)
	}
	if (UpsampleDesc{Src: chw(8, 3, 2), Dst: chw(8, 6, 5)}).Validate() == nil {
		t.Fatal("wrong dst shape must be rejected")
	}
}

func TestInputProcessDescValidate(t *testing.T) {
	img := testImage(t, 4, 4)
	valid := InputProcessDesc{Color: img, Dst: chw(3, 4, 4)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid input process rejected: %v", err)
	}
	if (InputProcessDesc{Color: img, Dst: chw(3, 4, 8)}).Validate() == nil {
		t.Fatal("mismatched dst must be rejected")
	}
	if (InputProcessDesc{Color: img, Dst: chw(3, 4, 4), Scale: chw(1, 2, 1)}).Validate() == nil {
		t.Fatal("multi-element scale must be rejected")
	}
}

func TestOpBaseGatesSubmit(t *testing.T) {
	var b OpBase
	err := b.CheckSubmit()
	if err == nil {
		t.Fatal("submit before finalize must fail")
	}
	if AsError(err).Kind != ErrInvalidOperation {
		t.Fatalf("kind = %v, want InvalidOperation", AsError(err).Kind)
	}
	b.MarkFinalized()
	if err := b.CheckSubmit(); err != nil {
		t.Fatalf("submit after finalize: %v", err)
	}
}

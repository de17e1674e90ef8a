package core

import (
	"math"
	"testing"
)

func TestImageDefaultStrides(t *testing.T) {
	buf := NewHostBuffer(nil, 4*4*3*4, StorageHost)
	img, err := NewImage(buf, FormatFloat3, 4, 4, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if img.BytePixelStride != 12 || img.ByteRowStride != 48 {
		t.Fatalf("packed strides = %d/%d", img.BytePixelStride, img.ByteRowStride)
	}

	img.Set(2, 1, 1, 0.75)
	if got := img.Get(2, 1, 1); got != 0.75 {
		t.Fatalf("Get = %g", got)
	}
	if got := img.Get(2, 1, 0); got != 0 {
		t.Fatalf("neighbor channel touched: %g", got)
	}
}

func TestImageCustomStrides(t *testing.T) {
	// Float4 data viewed as 3-channel: pixel stride skips the alpha.
	buf := NewHostBuffer(nil, 2*2*4*4, StorageHost)
	img, err := NewImage(buf, FormatFloat3, 2, 2, 0, 16, 32)
	if err != nil {
		t.Fatal(err)
	}
	img.Set(1, 1, 2, 5)
	if got := img.Get(1, 1, 2); got != 5 {
		t.Fatalf("Get = %g", got)
	}
	// Offset 32 + 16 + 8 within the raw bytes.
	raw := buf.Data()
	bits := uint32(raw[56]) | uint32(raw[57])<<8 | uint32(raw[58])<<16 | uint32(raw[59])<<24
	if math.Float32frombits(bits) != 5 {
		t.Fatal("value not at strided offset")
	}
}

func TestImageHalfFormat(t *testing.T) {
	buf := NewHostBuffer(nil, 2*2*3*2, StorageHost)
	img, err := NewImage(buf, FormatHalf3, 2, 2, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	img.Set(0, 1, 2, 0.5)
	if got := img.Get(0, 1, 2); got != 0.5 {
		t.Fatalf("half round trip = %g", got)
	}
}

func TestImageValidation(t *testing.T) {
	buf := NewHostBuffer(nil, 16, StorageHost)
	if _, err := NewImage(buf, FormatUndefined, 2, 2, 0, 0, 0); err == nil {
		t.Fatal("undefined format must be rejected")
	}
	if _, err := NewImage(buf, FormatFloat3, 0, 2, 0, 0, 0); err == nil {
		t.Fatal("zero width must be rejected")
	}
	if _, err := NewImage(buf, FormatFloat3, 4, 4, 0, 0, 0); err == nil {
		t.Fatal("view larger than buffer must be rejected")
	}
	if _, err := NewImage(buf, FormatFloat3, 2, 2, 0, 8, 0); err == nil {
		t.Fatal("pixel stride below pixel size must be rejected")
	}
}

package core

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// Image is a 2D pixel view over a buffer. Strides are in bytes so the
// view can address interleaved or padded layouts; zero strides at
// construction mean tightly packed.
type Image struct {
	Buffer          Buffer
	Format          Format
	Width           int
	Height          int
	ByteOffset      int
	BytePixelStride int
	ByteRowStride   int
}

// NewImage builds an image view. A zero bytePixelStride defaults to
// the packed pixel size and a zero byteRowStride to width*pixelStride.
func NewImage(buf Buffer, format Format, width, height, byteOffset, bytePixelStride, byteRowStride int) (*Image, error) {
	if format == FormatUndefined || format.Channels() == 0 {
		return nil, Errorf(ErrInvalidArgument, "image has undefined format")
	}
	if width <= 0 || height <= 0 {
		return nil, Errorf(ErrInvalidArgument, "invalid image size %dx%d", width, height)
	}
	if bytePixelStride == 0 {
		bytePixelStride = format.PixelByteSize()
	}
	if bytePixelStride < format.PixelByteSize() {
		return nil, Errorf(ErrInvalidArgument, "pixel stride %d smaller than pixel size %d",
			bytePixelStride, format.PixelByteSize())
	}
	if byteRowStride == 0 {
		byteRowStride = width * bytePixelStride
	}
	img := &Image{
		Buffer:          buf,
		Format:          format,
		Width:           width,
		Height:          height,
		ByteOffset:      byteOffset,
		BytePixelStride: bytePixelStride,
		ByteRowStride:   byteRowStride,
	}
	if buf != nil {
		need := byteOffset + (height-1)*byteRowStride + (width-1)*bytePixelStride + format.PixelByteSize()
		if need > buf.ByteSize() {
			return nil, Errorf(ErrInvalidArgument, "image needs %d bytes but buffer has %d", need, buf.ByteSize())
		}
	}
	return img, nil
}

// channelOffset returns the byte offset of channel c of pixel (h, w)
// relative to the buffer start.
func (img *Image) channelOffset(h, w, c int) int {
	return img.ByteOffset + h*img.ByteRowStride + w*img.BytePixelStride + c*img.Format.DataType().Size()
}

// Get reads channel c of pixel (h, w) as float32, decoding half
// formats.
func (img *Image) Get(h, w, c int) float32 {
	data := img.Buffer.Data()
	off := img.channelOffset(h, w, c)
	if img.Format.DataType() == Float16 {
		return float16.Frombits(binary.LittleEndian.Uint16(data[off:])).Float32()
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
}

// Set writes channel c of pixel (h, w) from float32, encoding half
// formats.
func (img *Image) Set(h, w, c int, v float32) {
	data := img.Buffer.Data()
	off := img.channelOffset(h, w, c)
	if img.Format.DataType() == Float16 {
		binary.LittleEndian.PutUint16(data[off:], float16.Fromfloat32(v).Bits())
		return
	}
	binary.LittleEndian.PutUint32(data[off:], math.Float32bits(v))
}

// SameSize reports whether two images have identical pixel dimensions.
func (img *Image) SameSize(other *Image) bool {
	return img.Width == other.Width && img.Height == other.Height
}

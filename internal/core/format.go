package core

// DataType is the runtime element type of tensors and image channels.
type DataType int

// Supported element types.
const (
	Float32 DataType = iota
	Float16
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float16:
		return 2
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

// Format describes the pixel layout of an image stored in a buffer.
type Format int

// Pixel formats: scalar and vector, single and half precision.
const (
	FormatUndefined Format = iota
	FormatFloat
	FormatFloat2
	FormatFloat3
	FormatFloat4
	FormatHalf
	FormatHalf2
	FormatHalf3
	FormatHalf4
)

// Channels returns the number of channels per pixel.
func (f Format) Channels() int {
	switch f {
	case FormatFloat, FormatHalf:
		return 1
	case FormatFloat2, FormatHalf2:
		return 2
	case FormatFloat3, FormatHalf3:
		return 3
	case FormatFloat4, FormatHalf4:
		return 4
	default:
		return 0
	}
}

// DataType returns the per-channel element type.
func (f Format) DataType() DataType {
	switch f {
	case FormatHalf, FormatHalf2, FormatHalf3, FormatHalf4:
		return Float16
	default:
		return Float32
	}
}

// PixelByteSize returns the tightly packed byte size of one pixel.
func (f Format) PixelByteSize() int {
	return f.Channels() * f.DataType().Size()
}

// String returns a human-readable format name.
func (f Format) String() string {
	switch f {
	case FormatFloat:
		return "float"
	case FormatFloat2:
		return "float2"
	case FormatFloat3:
		return "float3"
	case FormatFloat4:
		return "float4"
	case FormatHalf:
		return "half"
	case FormatHalf2:
		return "half2"
	case FormatHalf3:
		return "half3"
	case FormatHalf4:
		return "half4"
	default:
		return "undefined"
	}
}

package weights

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/lumen-ml/lumen/internal/core"
)

func TestRoundTrip(t *testing.T) {
	blob := NewBlob()
	blob.AddFloat32("ec1.weight", []int{8, 3, 3, 3}, ramp(8*3*3*3))
	blob.AddFloat32("ec1.bias", []int{8}, ramp(8))

	data, err := blob.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 2, parsed.Len())
	assert.Equal(t, []string{"ec1.weight", "ec1.bias"}, parsed.Names())

	w := parsed.Lookup("ec1.weight")
	require.NotNil(t, w)
	assert.Equal(t, []int{8, 3, 3, 3}, w.Shape)
	assert.Equal(t, core.Float32, w.DataType)
	assert.Equal(t, ramp(8*3*3*3), w.Float32s())

	assert.Nil(t, parsed.Lookup("missing"))
}

func TestHalfPrecisionDecode(t *testing.T) {
	vals := []float32{0, 1, -2, 0.5}
	data := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}
	blob := NewBlob()
	blob.Add(&Tensor{Name: "t", Shape: []int{4}, DataType: core.Float16, Data: data})

	raw, err := blob.Marshal()
	require.NoError(t, err)
	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, vals, parsed.Lookup("t").Float32s())
}

func TestParseRejectsCorruption(t *testing.T) {
	blob := NewBlob()
	blob.AddFloat32("t", []int{2}, []float32{1, 2})
	data, err := blob.Marshal()
	require.NoError(t, err)

	// Flip a payload byte: the checksum must catch it.
	data[8] ^= 0xFF
	_, err = Parse(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")

	_, err = Parse([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseRejectsOversizedShape(t *testing.T) {
	// A checksummed blob declaring a shape whose element product wraps
	// past the integer range, with no payload behind it. The parser
	// must reject the shape instead of handing out an inconsistent
	// tensor.
	w := &writer{}
	w.u32(magic)
	w.u32(1)
	w.u32(1)
	w.buf = append(w.buf, 't')
	w.u32(0) // float32
	w.u32(3)
	w.u32(1 << 31)
	w.u32(1 << 31)
	w.u32(4)
	w.u32(crc32.ChecksumIEEE(w.buf))

	_, err := Parse(w.buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remain")
}

func TestMarshalRejectsBadShapes(t *testing.T) {
	blob := NewBlob()
	blob.Add(&Tensor{Name: "t", Shape: []int{3}, DataType: core.Float32, Data: make([]byte, 8)})
	_, err := blob.Marshal()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data bytes")
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) * 0.25
	}
	return out
}

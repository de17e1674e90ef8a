// Package weights reads and writes trained network weights as a flat
// named-tensor blob.
//
// Layout (little-endian):
//
//	magic   u32  "LWN1"
//	count   u32  number of tensors
//	per tensor:
//	  nameLen u32, name bytes
//	  dtype   u32  (0 = float32, 1 = float16)
//	  ndims   u32, dims []u32
//	  data    tightly packed elements
//	crc32   u32  IEEE, over everything before it
package weights

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/lumen-ml/lumen/internal/core"
)

const (
	magic      = 0x314E574C // "LWN1"
	maxNameLen = 1 << 10
	maxDims    = 8
)

// Tensor is one named weight tensor. Data holds the tightly packed
// little-endian elements.
type Tensor struct {
	Name     string
	Shape    []int
	DataType core.DataType
	Data     []byte
}

// NumElements returns the total element count.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Float32s decodes the elements to float32, converting half precision.
func (t *Tensor) Float32s() []float32 {
	n := t.NumElements()
	out := make([]float32, n)
	switch t.DataType {
	case core.Float16:
		for i := 0; i < n; i++ {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.Data[i*2:])).Float32()
		}
	default:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
	}
	return out
}

// Blob is a parsed weights blob with name lookup.
type Blob struct {
	tensors map[string]*Tensor
	order   []string
}

// NewBlob builds an empty blob for writing.
func NewBlob() *Blob {
	return &Blob{tensors: make(map[string]*Tensor)}
}

// Add appends a tensor, replacing any previous tensor of the same name.
func (b *Blob) Add(t *Tensor) {
	if _, exists := b.tensors[t.Name]; !exists {
		b.order = append(b.order, t.Name)
	}
	b.tensors[t.Name] = t
}

// AddFloat32 appends a float32 tensor from its values.
func (b *Blob) AddFloat32(name string, shape []int, vals []float32) {
	data := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	b.Add(&Tensor{Name: name, Shape: shape, DataType: core.Float32, Data: data})
}

// Lookup returns the named tensor, or nil.
func (b *Blob) Lookup(name string) *Tensor {
	return b.tensors[name]
}

// Names returns the tensor names in insertion order.
func (b *Blob) Names() []string {
	return b.order
}

// Len returns the number of tensors.
func (b *Blob) Len() int {
	return len(b.tensors)
}

// Parse reads a weights blob from memory.
func Parse(data []byte) (*Blob, error) {
	if len(data) < 12 {
		return nil, errors.Errorf("weights blob too short: %d bytes", len(data))
	}

	// Validate the trailing checksum before touching the payload.
	payload, trailer := data[:len(data)-4], data[len(data)-4:]
	want := binary.LittleEndian.Uint32(trailer)
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, errors.Errorf("weights blob checksum mismatch: got %08x, want %08x", got, want)
	}

	r := &reader{data: payload}
	m, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if m != magic {
		return nil, errors.Errorf("invalid weights magic: 0x%08X", m)
	}
	count, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "read tensor count")
	}

	blob := NewBlob()
	for i := uint32(0); i < count; i++ {
		t, err := r.tensor()
		if err != nil {
			return nil, errors.Wrapf(err, "read tensor %d", i)
		}
		blob.Add(t)
	}
	if len(r.data) != r.pos {
		return nil, errors.Errorf("weights blob has %d trailing bytes", len(r.data)-r.pos)
	}
	return blob, nil
}

// ParseFile reads a weights blob from disk.
func ParseFile(path string) (*Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read weights file")
	}
	return Parse(data)
}

// Marshal serializes the blob, appending the checksum.
func (b *Blob) Marshal() ([]byte, error) {
	w := &writer{}
	w.u32(magic)
	w.u32(uint32(len(b.order)))
	for _, name := range b.order {
		t := b.tensors[name]
		if err := w.tensor(t); err != nil {
			return nil, errors.Wrapf(err, "write tensor %q", name)
		}
	}
	sum := crc32.ChecksumIEEE(w.buf)
	w.u32(sum)
	return w.buf, nil
}

// WriteFile serializes the blob to disk.
func (b *Blob) WriteFile(path string) error {
	data, err := b.Marshal()
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write weights file")
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, errors.New("unexpected end of blob")
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, errors.New("unexpected end of blob")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) tensor() (*Tensor, error) {
	nameLen, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "read name length")
	}
	if nameLen == 0 || nameLen > maxNameLen {
		return nil, errors.Errorf("invalid name length %d", nameLen)
	}
	name, err := r.bytes(int(nameLen))
	if err != nil {
		return nil, errors.Wrap(err, "read name")
	}
	dtypeRaw, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "read data type")
	}
	var dtype core.DataType
	switch dtypeRaw {
	case 0:
		dtype = core.Float32
	case 1:
		dtype = core.Float16
	default:
		return nil, errors.Errorf("unknown data type %d", dtypeRaw)
	}
	ndims, err := r.u32()
	if err != nil {
		return nil, errors.Wrap(err, "read rank")
	}
	if ndims == 0 || ndims > maxDims {
		return nil, errors.Errorf("invalid rank %d", ndims)
	}
	shape := make([]int, ndims)
	byteSize := dtype.Size()
	for i := range shape {
		d, err := r.u32()
		if err != nil {
			return nil, errors.Wrap(err, "read dimension")
		}
		if d == 0 {
			return nil, errors.Errorf("zero dimension at axis %d", i)
		}
		shape[i] = int(d)
		byteSize *= int(d)
		// Bounding the running product by the remaining bytes also
		// keeps it from overflowing across large dimensions.
		if byteSize > len(r.data)-r.pos {
			return nil, errors.Errorf("shape %v needs %d data bytes, only %d remain", shape[:i+1], byteSize, len(r.data)-r.pos)
		}
	}
	data, err := r.bytes(byteSize)
	if err != nil {
		return nil, errors.Wrapf(err, "read %d data bytes", byteSize)
	}
	return &Tensor{Name: string(name), Shape: shape, DataType: dtype, Data: data}, nil
}

type writer struct {
	buf []byte
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) tensor(t *Tensor) error {
	if t.Name == "" || len(t.Name) > maxNameLen {
		return errors.Errorf("invalid name length %d", len(t.Name))
	}
	if len(t.Shape) == 0 || len(t.Shape) > maxDims {
		return errors.Errorf("invalid rank %d", len(t.Shape))
	}
	byteSize := t.DataType.Size()
	for i, d := range t.Shape {
		if d <= 0 {
			return errors.Errorf("invalid dimension %d at axis %d", d, i)
		}
		byteSize *= d
	}
	if len(t.Data) != byteSize {
		return errors.Errorf("shape %v needs %d data bytes, got %d", t.Shape, byteSize, len(t.Data))
	}
	var dtypeRaw uint32
	if t.DataType == core.Float16 {
		dtypeRaw = 1
	}
	w.u32(uint32(len(t.Name)))
	w.buf = append(w.buf, t.Name...)
	w.u32(dtypeRaw)
	w.u32(uint32(len(t.Shape)))
	for _, d := range t.Shape {
		w.u32(uint32(d))
	}
	w.buf = append(w.buf, t.Data...)
	return nil
}

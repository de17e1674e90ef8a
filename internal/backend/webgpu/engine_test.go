package webgpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-ml/lumen/internal/core"
)

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	if !Available() {
		t.Skip("no WebGPU adapter available")
	}
	dev := core.NewDevice(core.DeviceTypeGPU, func(d *core.Device) (core.Engine, error) {
		return New(d)
	})
	require.NoError(t, dev.Commit())
	t.Cleanup(func() { dev.Close() })
	return dev.Engine().(*Engine)
}

func newTestTensor(t *testing.T, e *Engine, shape []int, storage core.Storage, vals []float32) *core.Tensor {
	t.Helper()
	tensor, err := core.NewTensor(e, core.TensorDesc{Shape: shape, DataType: core.Float32}, storage)
	require.NoError(t, err)
	if vals != nil {
		mapped, err := tensor.Buffer.Map(core.AccessWriteDiscard, 0, 0)
		require.NoError(t, err)
		for i, v := range vals {
			putFloat32(mapped[i*4:], v)
		}
		require.NoError(t, tensor.Buffer.Unmap(mapped))
	}
	return tensor
}

func tensorValues(t *testing.T, tensor *core.Tensor) []float32 {
	t.Helper()
	mapped, err := tensor.Buffer.Map(core.AccessRead, 0, 0)
	require.NoError(t, err)
	defer tensor.Buffer.Unmap(mapped)
	vals := make([]float32, tensor.Desc.NumElements())
	for i := range vals {
		vals[i] = getFloat32(mapped[i*4:])
	}
	return vals
}

func TestDeviceBufferMapRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	buf, err := e.NewBuffer(64, core.StorageDevice)
	require.NoError(t, err)
	defer buf.Free()
	assert.Nil(t, buf.Data())

	mapped, err := buf.Map(core.AccessWriteDiscard, 0, 0)
	require.NoError(t, err)
	require.Len(t, mapped, 64)
	for i := range mapped {
		mapped[i] = byte(i)
	}
	require.NoError(t, buf.Unmap(mapped))

	mapped, err = buf.Map(core.AccessRead, 16, 8)
	require.NoError(t, err)
	for i, b := range mapped {
		assert.Equal(t, byte(16+i), b)
	}
	require.NoError(t, buf.Unmap(mapped))
}

func TestConvMatchesReference(t *testing.T) {
	e := newTestEngine(t)

	const h, w = 4, 4
	src := make([]float32, h*w)
	for i := range src {
		src[i] = float32(i) - 7
	}
	// Identity kernel with bias, single channel.
	weight := []float32{0, 0, 0, 0, 1, 0, 0, 0, 0}
	bias := []float32{0.5}

	srcT := newTestTensor(t, e, []int{1, h, w}, core.StorageDevice, src)
	weightT := newTestTensor(t, e, []int{1, 1, 3, 3}, core.StorageDevice, weight)
	biasT := newTestTensor(t, e, []int{1}, core.StorageDevice, bias)
	dstT := newTestTensor(t, e, []int{1, h, w}, core.StorageDevice, nil)
	defer srcT.Free()
	defer weightT.Free()
	defer biasT.Free()
	defer dstT.Free()

	op := e.NewConv(core.ConvDesc{
		Src: srcT, Weight: weightT, Bias: biasT, Dst: dstT,
		Activation: core.ActivationReLU,
	})
	require.NoError(t, op.Finalize())
	require.NoError(t, op.Submit())
	require.NoError(t, e.Wait())

	got := tensorValues(t, dstT)
	for i, s := range src {
		want := s + 0.5
		if want < 0 {
			want = 0
		}
		assert.InDelta(t, want, got[i], 1e-6, "element %d", i)
	}
}

func TestPoolThenUpsample(t *testing.T) {
	e := newTestEngine(t)

	src := []float32{
		1, 2, 5, 6,
		3, 4, 7, 8,
		9, 10, 13, 14,
		11, 12, 15, 16,
	}
	srcT := newTestTensor(t, e, []int{1, 4, 4}, core.StorageDevice, src)
	pooledT := newTestTensor(t, e, []int{1, 2, 2}, core.StorageDevice, nil)
	upT := newTestTensor(t, e, []int{1, 4, 4}, core.StorageDevice, nil)
	defer srcT.Free()
	defer pooledT.Free()
	defer upT.Free()

	pool := e.NewPool(core.PoolDesc{Src: srcT, Dst: pooledT})
	require.NoError(t, pool.Finalize())
	require.NoError(t, pool.Submit())
	up := e.NewUpsample(core.UpsampleDesc{Src: pooledT, Dst: upT})
	require.NoError(t, up.Finalize())
	require.NoError(t, up.Submit())
	require.NoError(t, e.Wait())

	assert.Equal(t, []float32{4, 8, 12, 16}, tensorValues(t, pooledT))
	assert.Equal(t, []float32{
		4, 4, 8, 8,
		4, 4, 8, 8,
		12, 12, 16, 16,
		12, 12, 16, 16,
	}, tensorValues(t, upT))
}

func TestHostFuncRunsAfterDispatch(t *testing.T) {
	e := newTestEngine(t)

	src := []float32{1, 2, 3, 4}
	srcT := newTestTensor(t, e, []int{1, 2, 2}, core.StorageDevice, src)
	dstT := newTestTensor(t, e, []int{1, 1, 1}, core.StorageDevice, nil)
	defer srcT.Free()
	defer dstT.Free()

	pool := e.NewPool(core.PoolDesc{Src: srcT, Dst: dstT})
	require.NoError(t, pool.Finalize())
	require.NoError(t, pool.Submit())

	var observed float32
	e.RunHostFuncAsync(func() error {
		vals, _, err := e.tensorFloats(dstT, false)
		if err != nil {
			return err
		}
		observed = vals[0]
		return nil
	})
	require.NoError(t, e.Wait())
	assert.Equal(t, float32(4), observed)
}

package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-ml/lumen/internal/backend/cpu"
	"github.com/lumen-ml/lumen/internal/core"
)

func newDevice(t *testing.T) *core.Device {
	t.Helper()
	dev := core.NewDevice(core.DeviceTypeCPU, func(d *core.Device) (core.Engine, error) {
		return cpu.New(d)
	})
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestDeviceParameters(t *testing.T) {
	dev := newDevice(t)

	require.NoError(t, dev.SetInt("numThreads", 4))
	n, err := dev.GetInt("numThreads")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, dev.SetBool("setAffinity", false))
	affinity, err := dev.GetBool("setAffinity")
	require.NoError(t, err)
	assert.False(t, affinity)

	err = dev.SetInt("nope", 1)
	require.Error(t, err)
	assert.Equal(t, core.ErrInvalidArgument, core.AsError(err).Kind)
	_, err = dev.GetBool("nope")
	assert.Error(t, err)
}

func TestDeviceCapabilities(t *testing.T) {
	dev := newDevice(t)

	typ, err := dev.GetInt("type")
	require.NoError(t, err)
	assert.Equal(t, int(core.DeviceTypeCPU), typ)

	version, err := dev.GetInt("version")
	require.NoError(t, err)
	major, _ := dev.GetInt("versionMajor")
	minor, _ := dev.GetInt("versionMinor")
	patch, _ := dev.GetInt("versionPatch")
	assert.Equal(t, major*10000+minor*100+patch, version)

	committed, err := dev.GetBool("committed")
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestCommitLifecycle(t *testing.T) {
	dev := newDevice(t)
	assert.Error(t, dev.CheckCommitted())
	assert.Nil(t, dev.Engine())

	require.NoError(t, dev.Commit())
	require.NotNil(t, dev.Engine())
	engine := dev.Engine()

	// Unchanged configuration: commits are no-ops.
	require.NoError(t, dev.Commit())
	assert.Same(t, engine, dev.Engine())

	// Changed configuration: re-validate without replacing the engine.
	require.NoError(t, dev.SetInt("numThreads", 2))
	require.NoError(t, dev.Commit())
	assert.Same(t, engine, dev.Engine())

	require.NoError(t, dev.SetInt("verbose", -1))
	err := dev.Commit()
	require.Error(t, err)
	assert.Equal(t, core.ErrInvalidArgument, core.AsError(err).Kind)
}

func TestRecommitWithOutstandingWork(t *testing.T) {
	dev := newDevice(t)
	require.NoError(t, dev.Commit())

	release := make(chan struct{})
	started := make(chan struct{})
	dev.Engine().RunHostFuncAsync(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	require.NoError(t, dev.SetInt("numThreads", 8))
	err := dev.Commit()
	require.Error(t, err)
	assert.Equal(t, core.ErrInvalidOperation, core.AsError(err).Kind)

	close(release)
	require.NoError(t, dev.Wait())
	require.NoError(t, dev.Commit())
}

func TestRecordErrorAndCallback(t *testing.T) {
	dev := newDevice(t)

	var calls []core.ErrorKind
	dev.SetErrorCallback(func(err *core.Error) {
		calls = append(calls, err.Kind)
	})

	dev.RecordError(core.Errorf(core.ErrOutOfMemory, "first"))
	dev.RecordError(core.Errorf(core.ErrUnknown, "second"))

	// Only the kept error triggers the callback.
	assert.Equal(t, []core.ErrorKind{core.ErrOutOfMemory}, calls)

	err := dev.Error()
	require.NotNil(t, err)
	assert.Equal(t, "first", err.Message)
	assert.Nil(t, dev.Error())
}

func TestWaitRequiresCommit(t *testing.T) {
	dev := newDevice(t)
	err := dev.Wait()
	require.Error(t, err)
	assert.Equal(t, core.ErrInvalidOperation, core.AsError(err).Kind)
}

func TestAsyncErrorSurfacesAtWait(t *testing.T) {
	dev := newDevice(t)
	require.NoError(t, dev.Commit())

	dev.Engine().RunHostFuncAsync(func() error {
		return core.Errorf(core.ErrUnknown, "async failure")
	})
	err := dev.Wait()
	require.Error(t, err)
	assert.Equal(t, core.ErrUnknown, core.AsError(err).Kind)

	// The failure is also in the device slot, and Wait cleared the
	// queue state.
	require.NotNil(t, dev.Error())
	assert.NoError(t, dev.Wait())
}

package cpu

import (
	"sync/atomic"
	"testing"

	"github.com/lumen-ml/lumen/internal/core"
	"github.com/lumen-ml/lumen/internal/work"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dev := core.NewDevice(core.DeviceTypeCPU, func(d *core.Device) (core.Engine, error) {
		return New(d)
	})
	if err := dev.Commit(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev.Engine().(*Engine)
}

func TestKernelCoversExtentExactlyOnce(t *testing.T) {
	e := newTestEngine(t)
	global := work.Dim3(3, 5, 7)

	counts := make([]atomic.Int32, global.NumItems())
	e.RunKernelAsync(global, func(it work.Item) {
		idx := (it.ID(0)*5+it.ID(1))*7 + it.ID(2)
		counts[idx].Add(1)
		if it.ID(0) >= 3 || it.ID(1) >= 5 || it.ID(2) >= 7 {
			t.Error("kernel observed out-of-range coordinate")
		}
	})
	if err := e.Wait(); err != nil {
		t.Fatal(err)
	}
	for i := range counts {
		if got := counts[i].Load(); got != 1 {
			t.Fatalf("item %d ran %d times", i, got)
		}
	}
}

func TestLaunchesRunInSubmissionOrder(t *testing.T) {
	e := newTestEngine(t)
	vals := make([]float32, 64)

	e.RunKernelAsync(work.Dim1(64), func(it work.Item) {
		vals[it.ID(0)] = 1
	})
	e.RunKernelAsync(work.Dim1(64), func(it work.Item) {
		vals[it.ID(0)]++
	})
	e.RunKernelAsync(work.Dim1(64), func(it work.Item) {
		vals[it.ID(0)] *= 10
	})
	if err := e.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, v := range vals {
		if v != 20 {
			t.Fatalf("vals[%d] = %g, want 20", i, v)
		}
	}
}

func TestHostFuncIsBarrier(t *testing.T) {
	e := newTestEngine(t)
	vals := make([]float32, 32)

	e.RunKernelAsync(work.Dim1(32), func(it work.Item) {
		vals[it.ID(0)] = 1
	})
	var snapshot float32
	e.RunHostFuncAsync(func() error {
		for _, v := range vals {
			snapshot += v
		}
		return nil
	})
	e.RunKernelAsync(work.Dim1(32), func(it work.Item) {
		vals[it.ID(0)] = 7
	})
	if err := e.Wait(); err != nil {
		t.Fatal(err)
	}
	if snapshot != 32 {
		t.Fatalf("host func observed %g, want 32", snapshot)
	}
	if vals[0] != 7 {
		t.Fatal("final kernel did not run")
	}
}

func TestInvalidExtentSurfacesAtWait(t *testing.T) {
	e := newTestEngine(t)
	e.RunKernelAsync(work.Dim1(0), func(it work.Item) {
		t.Error("kernel must not run for an invalid extent")
	})
	err := e.Wait()
	if err == nil {
		t.Fatal("expected error")
	}
	if core.AsError(err).Kind != core.ErrInvalidArgument {
		t.Fatalf("kind = %v, want InvalidArgument", core.AsError(err).Kind)
	}
	if devErr := e.Device().Error(); devErr == nil {
		t.Fatal("failure not recorded on the device")
	}
}

func TestWaitReturnsFirstFailureOnly(t *testing.T) {
	e := newTestEngine(t)
	e.RunHostFuncAsync(func() error { return core.Errorf(core.ErrUnknown, "first") })
	e.RunHostFuncAsync(func() error { return core.Errorf(core.ErrUnknown, "second") })

	err := e.Wait()
	if err == nil || core.AsError(err).Message != "first" {
		t.Fatalf("Wait() = %v, want first", err)
	}
	if err := e.Wait(); err != nil {
		t.Fatalf("second Wait() = %v, want nil", err)
	}
	e.Device().Error()
}

func TestGroupKernelGroupLocalAccumulator(t *testing.T) {
	e := newTestEngine(t)
	numGroups, groupSize := work.Dim2(2, 3), work.Dim2(4, 4)
	sums := make([]int, numGroups.NumItems())

	// Items of one group run sequentially, so the unsynchronized
	// accumulator is safe.
	e.RunGroupKernelAsync(numGroups, groupSize, func(it work.GroupItem) {
		sums[it.GroupID(0)*3+it.GroupID(1)]++
	})
	if err := e.Wait(); err != nil {
		t.Fatal(err)
	}
	for g, sum := range sums {
		if sum != 16 {
			t.Fatalf("group %d accumulated %d items, want 16", g, sum)
		}
	}
}

func TestMapReadDrainsQueue(t *testing.T) {
	e := newTestEngine(t)
	buf, err := e.NewBuffer(16, core.StorageHost)
	if err != nil {
		t.Fatal(err)
	}
	data := buf.Data()

	e.RunKernelAsync(work.Dim1(16), func(it work.Item) {
		data[it.ID(0)] = byte(it.ID(0))
	})
	mapped, err := buf.Map(core.AccessRead, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Unmap(mapped)
	for i, b := range mapped {
		if b != byte(i) {
			t.Fatalf("mapped[%d] = %d before queue drained", i, b)
		}
	}
}

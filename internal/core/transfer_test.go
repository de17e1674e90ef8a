package core

import (
	"math"
	"testing"
)

func TestTransferRoundTrip(t *testing.T) {
	values := []float32{0, 0.001, 0.0031308, 0.01, 0.18, 0.5, 1}
	hdrValues := []float32{0, 0.25, 1, 4, 100, 10000, puMax}

	for _, transfer := range []Transfer{TransferLinear, TransferSRGB, TransferPU} {
		vals := values
		if transfer == TransferPU {
			vals = hdrValues
		}
		for _, v := range vals {
			got := transfer.Inverse(transfer.Forward(v))
			tol := 1e-5 + math.Abs(float64(v))*1e-3
			if math.Abs(float64(got-v)) > tol {
				t.Errorf("transfer %d: round trip of %g = %g", transfer, v, got)
			}
		}
	}
}

func TestTransferClampsNegative(t *testing.T) {
	for _, transfer := range []Transfer{TransferLinear, TransferSRGB, TransferPU} {
		if got := transfer.Forward(-1); got != 0 {
			t.Errorf("transfer %d: Forward(-1) = %g, want 0", transfer, got)
		}
		if got := transfer.Inverse(-1); got != 0 {
			t.Errorf("transfer %d: Inverse(-1) = %g, want 0", transfer, got)
		}
	}
}

func TestPUCompressesRange(t *testing.T) {
	pu := TransferPU
	if got := pu.Forward(puMax); math.Abs(float64(got-1)) > 1e-6 {
		t.Fatalf("Forward(max) = %g, want 1", got)
	}
	if low, high := pu.Forward(1), pu.Forward(100); low >= high || high >= 1 {
		t.Fatalf("encoding not monotonic: f(1)=%g f(100)=%g", low, high)
	}
}

func TestLuminance(t *testing.T) {
	if got := Luminance(1, 1, 1); math.Abs(float64(got-1)) > 1e-5 {
		t.Fatalf("Luminance(white) = %g, want 1", got)
	}
	if Luminance(0, 1, 0) <= Luminance(1, 0, 0) {
		t.Fatal("green must dominate red")
	}
}

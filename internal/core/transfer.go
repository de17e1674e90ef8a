package core

import "math"

// Transfer selects the transfer function applied to pixel values on
// input and inverted on output. LDR inputs use sRGB (or linear when
// the caller already linearized); HDR inputs use a perceptual
// log-style encoding that compresses the range the network sees.
type Transfer int

// Transfer functions.
const (
	TransferLinear Transfer = iota
	TransferSRGB
	TransferPU
)

const (
	puScale = 16.0
	puMax   = 65504.0 // largest finite half value
)

var puNorm = float32(math.Log2(1 + puScale*puMax))

// Forward encodes a linear value for the network.
func (t Transfer) Forward(v float32) float32 {
	if v < 0 {
		v = 0
	}
	switch t {
	case TransferSRGB:
		if v <= 0.0031308 {
			return 12.92 * v
		}
		return 1.055*float32(math.Pow(float64(v), 1/2.4)) - 0.055
	case TransferPU:
		return float32(math.Log2(float64(1+puScale*v))) / puNorm
	default:
		return v
	}
}

// Inverse decodes a network value back to linear.
func (t Transfer) Inverse(v float32) float32 {
	if v < 0 {
		v = 0
	}
	switch t {
	case TransferSRGB:
		if v <= 0.04045 {
			return v / 12.92
		}
		return float32(math.Pow(float64((v+0.055)/1.055), 2.4))
	case TransferPU:
		return float32(math.Exp2(float64(v*puNorm))-1) / puScale
	default:
		return v
	}
}

// Luminance returns the Rec. 709 luminance of an RGB triple.
func Luminance(r, g, b float32) float32 {
	return 0.212671*r + 0.715160*g + 0.072169*b
}

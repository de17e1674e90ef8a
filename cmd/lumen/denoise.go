package main

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/lumen-ml/lumen/denoise"
)

var denoiseFlags struct {
	input      string
	output     string
	weights    string
	device     string
	hdr        bool
	srgb       bool
	inputScale float64
	threads    int
}

var denoiseCmd = &cobra.Command{
	Use:   "denoise",
	Short: "Denoise an image",
	Long: `Denoise reads an image, runs the RT denoising network over it and
writes the result. Image extents are cropped to a multiple of 4, the
network's alignment requirement.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDenoise()
	},
}

func init() {
	f := denoiseCmd.Flags()
	f.StringVarP(&denoiseFlags.input, "input", "i", "", "input image (required)")
	f.StringVarP(&denoiseFlags.output, "output", "o", "", "output image (required)")
	f.StringVarP(&denoiseFlags.weights, "weights", "w", "", "network weights blob (required)")
	f.StringVarP(&denoiseFlags.device, "device", "d", "auto", "compute device: auto, cpu, gpu")
	f.BoolVar(&denoiseFlags.hdr, "hdr", false, "treat the input as HDR")
	f.BoolVar(&denoiseFlags.srgb, "srgb", true, "treat LDR input as sRGB encoded")
	f.Float64Var(&denoiseFlags.inputScale, "input-scale", math.NaN(), "fixed exposure scale (default: autoexposure for HDR)")
	f.IntVar(&denoiseFlags.threads, "threads", 0, "CPU worker threads (0 = all cores)")
	_ = denoiseCmd.MarkFlagRequired("input")
	_ = denoiseCmd.MarkFlagRequired("output")
	_ = denoiseCmd.MarkFlagRequired("weights")
	rootCmd.AddCommand(denoiseCmd)
}

func runDenoise() error {
	src, err := imaging.Open(denoiseFlags.input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx()&^3, bounds.Dy()&^3
	if w == 0 || h == 0 {
		return fmt.Errorf("input %dx%d is too small", bounds.Dx(), bounds.Dy())
	}
	if w != bounds.Dx() || h != bounds.Dy() {
		klog.Infof("cropping %dx%d input to %dx%d", bounds.Dx(), bounds.Dy(), w, h)
	}
	nrgba := imaging.CropAnchor(src, w, h, imaging.TopLeft)

	weightsBlob, err := os.ReadFile(denoiseFlags.weights)
	if err != nil {
		return fmt.Errorf("read weights: %w", err)
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Release()

	byteSize := w * h * 3 * 4
	colorBuf := dev.NewBuffer(byteSize, denoise.StorageHost)
	outputBuf := dev.NewBuffer(byteSize, denoise.StorageHost)
	if colorBuf == nil || outputBuf == nil {
		return fmt.Errorf("allocate buffers: %v", dev.Error())
	}
	defer colorBuf.Release()
	defer outputBuf.Release()
	klog.V(1).Infof("allocated 2 x %s image buffers", humanize.IBytes(uint64(byteSize)))

	if err := colorBuf.Write(0, imageToFloats(nrgba)); err != nil {
		return err
	}

	f := dev.NewFilter("RT")
	if f == nil {
		return fmt.Errorf("create filter: %v", dev.Error())
	}
	defer f.Release()
	if err := f.SetImage("color", colorBuf, denoise.FormatFloat3, w, h, 0, 0, 0); err != nil {
		return err
	}
	if err := f.SetImage("output", outputBuf, denoise.FormatFloat3, w, h, 0, 0, 0); err != nil {
		return err
	}
	if err := f.SetData("weights", weightsBlob); err != nil {
		return err
	}
	if err := f.SetBool("hdr", denoiseFlags.hdr); err != nil {
		return err
	}
	if err := f.SetBool("srgb", denoiseFlags.srgb && !denoiseFlags.hdr); err != nil {
		return err
	}
	if !math.IsNaN(denoiseFlags.inputScale) {
		if err := f.SetFloat("inputScale", denoiseFlags.inputScale); err != nil {
			return err
		}
	}
	if err := f.Commit(); err != nil {
		return fmt.Errorf("commit filter: %w", err)
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("denoising"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	f.SetProgressMonitor(func(n float64) bool {
		_ = bar.Set(int(n * 100))
		return true
	})

	if err := f.Execute(); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	_ = bar.Finish()

	result, err := outputBuf.Read(0, byteSize)
	if err != nil {
		return err
	}
	if err := imaging.Save(floatsToImage(result, w, h), denoiseFlags.output); err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	fmt.Printf("wrote %s (%dx%d, %s)\n", denoiseFlags.output, w, h, dev.EngineName())
	return nil
}

func openDevice() (*denoise.Device, error) {
	var typ denoise.DeviceType
	switch denoiseFlags.device {
	case "auto":
		typ = denoise.DeviceTypeDefault
	case "cpu":
		typ = denoise.DeviceTypeCPU
	case "gpu":
		typ = denoise.DeviceTypeGPU
	default:
		return nil, fmt.Errorf("unknown device %q", denoiseFlags.device)
	}
	dev := denoise.NewDevice(typ)
	if dev == nil {
		return nil, fmt.Errorf("create device: %v", denoise.LastError())
	}
	if denoiseFlags.threads > 0 {
		if err := dev.SetInt("numThreads", denoiseFlags.threads); err != nil {
			dev.Release()
			return nil, err
		}
	}
	if verbosity > 0 {
		if err := dev.SetInt("verbose", verbosity); err != nil {
			dev.Release()
			return nil, err
		}
	}
	if err := dev.Commit(); err != nil {
		dev.Release()
		return nil, fmt.Errorf("commit device: %w", err)
	}
	return dev, nil
}

// imageToFloats converts an image to packed float32 RGB in [0, 1].
func imageToFloats(img *image.NRGBA) []byte {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]byte, w*h*3*4)
	i := 0
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				v := float32(row[x*4+c]) / 255
				binary.LittleEndian.PutUint32(out[i:], math.Float32bits(v))
				i += 4
			}
		}
	}
	return out
}

// floatsToImage converts packed float32 RGB back to an 8-bit image,
// clamping to [0, 1].
func floatsToImage(data []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	i := 0
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				v := math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))
				i += 4
				if v < 0 {
					v = 0
				} else if v > 1 {
					v = 1
				}
				row[x*4+c] = uint8(v*255 + 0.5)
			}
			row[x*4+3] = 255
		}
	}
	return img
}

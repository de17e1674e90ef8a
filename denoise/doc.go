// Package denoise is the public API of the Lumen image-denoising
// runtime.
//
// The entry point is a Device, a handle to one compute backend (CPU or
// WebGPU). A device is configured through named parameters and then
// committed; buffers and filters are created from the committed
// device. Handles are shared-ownership: Retain clones a handle and
// Release drops it, and the backing resources are freed when the last
// owner is gone.
//
//	dev := denoise.NewDevice(denoise.DeviceTypeDefault)
//	defer dev.Release()
//	if err := dev.Commit(); err != nil {
//		log.Fatal(err)
//	}
//
//	f := dev.NewFilter("RT")
//	defer f.Release()
//	f.SetImage("color", colorBuf, denoise.FormatFloat3, w, h, 0, 0, 0)
//	f.SetImage("output", outBuf, denoise.FormatFloat3, w, h, 0, 0, 0)
//	f.SetData("weights", weightsBlob)
//	if err := f.Commit(); err != nil {
//		log.Fatal(err)
//	}
//	if err := f.Execute(); err != nil {
//		log.Fatal(err)
//	}
//
// Asynchronous failures (kernel dispatch, host functions) are not
// returned at the call site; they are recorded in the device's
// single-slot error state and surface from Wait or Error.
package denoise

// Command lumen denoises ray-traced images with the Lumen runtime.
package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Neural image denoiser for ray-traced renders",
	Long: `Lumen runs a fixed U-Net denoising pipeline over noisy renders,
on the CPU or on the GPU through WebGPU.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		fs := flag.NewFlagSet("klog", flag.ContinueOnError)
		klog.InitFlags(fs)
		if verbosity > 0 {
			_ = fs.Set("v", "1")
		} else {
			_ = fs.Set("logtostderr", "true")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "verbosity level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumen-ml/lumen/denoise"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		dev := denoise.NewDevice(denoise.DeviceTypeCPU)
		defer dev.Release()
		major, _ := dev.GetInt("versionMajor")
		minor, _ := dev.GetInt("versionMinor")
		patch, _ := dev.GetInt("versionPatch")
		fmt.Printf("lumen version %d.%d.%d\n", major, minor, patch)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumen-ml/lumen/denoise"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available compute devices",
	Run: func(cmd *cobra.Command, args []string) {
		for _, typ := range []denoise.DeviceType{denoise.DeviceTypeCPU, denoise.DeviceTypeGPU} {
			dev := denoise.NewDevice(typ)
			if dev == nil {
				fmt.Printf("%-8s unavailable: %v\n", typ, denoise.LastError())
				continue
			}
			if err := dev.Commit(); err != nil {
				fmt.Printf("%-8s unavailable: %v\n", typ, err)
				dev.Release()
				continue
			}
			fmt.Printf("%-8s %s\n", typ, dev.EngineName())
			dev.Release()
		}
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

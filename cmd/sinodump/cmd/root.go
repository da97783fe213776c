package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	port    string
)

var rootCmd = &cobra.Command{
	Use:   "sinodump",
	Short: "SinoWealth 8051 flash dumper",
	Long: `Dump code flash and custom-block contents from SinoWealth 8051-based
MCUs through their ICP/JTAG debug port.

The probe side bit-bangs the target's debug pins and exposes the engine over
a serial RPC link; the host side drives a probe to inspect and dump a chip.

Examples:
  sinodump serve --driver sim --port -                  # Simulated probe on stdio
  sinodump serve --driver gpiod --port /dev/ttyAMA1     # Real probe on a Pi
  sinodump info --port /dev/ttyUSB0                     # Target and chip info
  sinodump dump --port /dev/ttyUSB0 firmware.bin        # Full flash dump`,
	Version: "1.0.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&port, "port", "p", "",
		"serial port (e.g. /dev/ttyUSB0), or - for stdio in serve mode")
}

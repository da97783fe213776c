package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/jacobsa/go-serial/serial"
	"github.com/spf13/cobra"

	"github.com/sinolink/sinodump/pkg/gpio"
	"github.com/sinolink/sinodump/pkg/rpc"
	"github.com/sinolink/sinodump/pkg/sino"
)

var (
	driverType string
	gpioChip   string

	pinTDO  uint8
	pinTMS  uint8
	pinTDI  uint8
	pinTCK  uint8
	pinVRef uint8

	chipType        uint8
	flashSize       uint32
	productBlock    uint8
	customBlockType uint8
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the probe side: own the debug pins, serve the RPC protocol",
	Long: `Attach the debug engine to the target's pins and answer host commands on
a serial port (or stdio with --port -).

The chip profile must match the target part; the values come from the
vendor's Keil C51 definition files.

Examples:
  # Probe on a Raspberry Pi, engine on the GPIO character device
  sinodump serve --driver gpiod --gpiochip gpiochip0 --port /dev/ttyAMA1

  # Simulated 32 KiB type-2 target on stdio, for protocol bring-up
  sinodump serve --driver sim --port -`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&driverType, "driver", "d", "sim",
		"pin driver (rpio, gpiod, sim)")
	serveCmd.Flags().StringVar(&gpioChip, "gpiochip", "gpiochip0",
		"GPIO character device, used by the gpiod driver")

	serveCmd.Flags().Uint8Var(&pinTDO, "pin-tdo", 2, "TDO pin number")
	serveCmd.Flags().Uint8Var(&pinTMS, "pin-tms", 3, "TMS pin number")
	serveCmd.Flags().Uint8Var(&pinTDI, "pin-tdi", 4, "TDI pin number")
	serveCmd.Flags().Uint8Var(&pinTCK, "pin-tck", 5, "TCK pin number")
	serveCmd.Flags().Uint8Var(&pinVRef, "pin-vref", 6, "Vref sense pin number")

	serveCmd.Flags().Uint8Var(&chipType, "chip-type", 2, "chip type (1-7)")
	serveCmd.Flags().Uint32Var(&flashSize, "flash-size", 32768, "flash size in bytes")
	serveCmd.Flags().Uint8Var(&productBlock, "product-block", 1, "product block flag")
	serveCmd.Flags().Uint8Var(&customBlockType, "custom-block-type", 3, "custom block layout")
}

func runServe(cmd *cobra.Command, args []string) error {
	profile := sino.ChipProfile{
		Type:         chipType,
		FlashSize:    flashSize,
		ProductBlock: productBlock,
		CustomBlock:  customBlockType,
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	pins := sino.PinMap{
		TDO:  gpio.Pin(pinTDO),
		TMS:  gpio.Pin(pinTMS),
		TDI:  gpio.Pin(pinTDI),
		TCK:  gpio.Pin(pinTCK),
		VRef: gpio.Pin(pinVRef),
	}

	drv, err := createDriver(driverType, pins, profile)
	if err != nil {
		return fmt.Errorf("failed to create pin driver: %w", err)
	}
	defer drv.Close()

	rw, closer, err := openStream()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	engine := sino.New(drv, pins, profile)
	engine.SetConsole(rpc.CommentWriter(rw))

	if verbose {
		fmt.Fprintf(os.Stderr, "serving %s driver, chip type %d, %d byte flash\n",
			driverType, profile.Type, profile.FlashSize)
	}

	return rpc.NewServer(engine, rw).Serve()
}

// createDriver creates the pin driver for the engine based on type
func createDriver(driverType string, pins sino.PinMap, profile sino.ChipProfile) (gpio.Driver, error) {
	switch driverType {
	case "rpio":
		return gpio.NewRPIODriver()

	case "gpiod":
		return gpio.NewGpiodDriver(gpioChip)

	case "sim", "simulator":
		sim := sino.NewTargetSim(pins)
		sim.IDCode = 0x1234
		sim.Flash = make([]byte, profile.FlashSize)
		for i := range sim.Flash {
			sim.Flash[i] = uint8(i*7 + i>>8)
		}
		sim.CustomBlock = make([]byte, 512)
		for i := range sim.CustomBlock {
			sim.CustomBlock[i] = uint8(0xC0 ^ i)
		}
		return sim, nil

	default:
		return nil, fmt.Errorf("unknown driver type: %s (supported: rpio, gpiod, sim)", driverType)
	}
}

func openStream() (io.ReadWriter, io.Closer, error) {
	if port == "" || port == "-" {
		return struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}, nil, nil
	}
	p, err := serial.Open(serial.OpenOptions{
		PortName:        port,
		BaudRate:        115200,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", port, err)
	}
	return p, p, nil
}

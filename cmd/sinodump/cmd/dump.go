package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sinolink/sinodump/internal/progress"
	"github.com/sinolink/sinodump/pkg/rpc"
	"github.com/sinolink/sinodump/pkg/sino"
)

var (
	dumpStart  string
	dumpLength string
	dumpMethod string
	dumpCustom bool
	dumpQuiet  bool
)

// chunkSize is the largest request the probe accepts (its whole transfer
// buffer), which amortizes the line-protocol overhead.
const chunkSize = rpc.MaxReadLen

var dumpCmd = &cobra.Command{
	Use:   "dump [outfile.bin]",
	Short: "Read target flash to a file",
	Long: `Read a flash range (default: the whole part) through a serving probe and
write it to a file.

Reads are issued in aligned chunks; dump twice and diff if you suspect
glitched bytes, the protocol carries no integrity check.

Examples:
  sinodump dump --port /dev/ttyUSB0 firmware.bin
  sinodump dump --port /dev/ttyUSB0 --method icp --start 0x1000 --length 4096 part.bin
  sinodump dump --port /dev/ttyUSB0 --custom-block --length 512 custom.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVar(&dumpStart, "start", "0", "start address")
	dumpCmd.Flags().StringVar(&dumpLength, "length", "",
		"number of bytes to read (default: flash size minus start)")
	dumpCmd.Flags().StringVar(&dumpMethod, "method", "auto",
		"flash read method (auto, icp, jtag)")
	dumpCmd.Flags().BoolVar(&dumpCustom, "custom-block", false,
		"read the custom block instead of main flash")
	dumpCmd.Flags().BoolVarP(&dumpQuiet, "quiet", "q", false, "suppress progress output")
}

func runDump(cmd *cobra.Command, args []string) error {
	if port == "" {
		return fmt.Errorf("--port is required")
	}

	start, err := strconv.ParseUint(dumpStart, 0, 32)
	if err != nil {
		return fmt.Errorf("bad --start %q: %w", dumpStart, err)
	}

	client, closer, err := rpc.Dial(port)
	if err != nil {
		return err
	}
	defer closer.Close()

	fmt.Println("Connecting to target (power the target when prompted)...")
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer client.Disconnect()

	info, err := client.ChipInfo()
	if err != nil {
		return err
	}

	length := uint64(info.FlashSize) - start
	if dumpLength != "" {
		length, err = strconv.ParseUint(dumpLength, 0, 32)
		if err != nil {
			return fmt.Errorf("bad --length %q: %w", dumpLength, err)
		}
	}
	if length == 0 {
		return fmt.Errorf("nothing to read")
	}

	method, err := resolveMethod(client)
	if err != nil {
		return err
	}
	if dumpCustom && method == sino.MethodJTAG {
		return fmt.Errorf("the custom block is only reachable via ICP")
	}

	fmt.Printf("Reading %d bytes from address 0x%06X via %s...\n", length, start, method)

	// Align to chunk boundaries: reading starts at the chunk boundary at or
	// below start and the leading bytes are dropped. A failed chunk read
	// ends the dump; it is not retried.
	alignedStart := start &^ uint64(chunkSize-1)
	skip := start - alignedStart

	var bar *progress.Bar
	if !dumpQuiet {
		bar = progress.New(os.Stdout, int(length))
	}

	data := make([]byte, 0, length+uint64(chunkSize))
	began := time.Now()
	for addr := alignedStart; uint64(len(data)) < skip+length; addr += chunkSize {
		chunk, err := client.ReadFlash(method, uint32(addr), chunkSize, dumpCustom)
		if err != nil {
			if bar != nil {
				bar.Done()
			}
			return fmt.Errorf("read at 0x%06X: %w", addr, err)
		}
		data = append(data, chunk...)

		if bar != nil {
			done := uint64(len(data)) - skip
			if done > length {
				done = length
			}
			bar.Update(int(done))
		}
	}
	if bar != nil {
		bar.Done()
	}
	elapsed := time.Since(began)

	out := data[skip : skip+length]
	if err := os.WriteFile(args[0], out, 0o644); err != nil {
		return err
	}

	speed := float64(len(out)) / elapsed.Seconds()
	fmt.Printf("Saved %d bytes to %s (%.1f bytes/sec)\n", len(out), args[0], speed)

	return nil
}

func resolveMethod(client *rpc.Client) (sino.ReadMethod, error) {
	switch dumpMethod {
	case "icp":
		return sino.MethodICP, nil
	case "jtag":
		return sino.MethodJTAG, nil
	case "auto":
		method, err := client.Detect()
		if err != nil {
			return sino.MethodNone, err
		}
		if method == sino.MethodNone {
			fmt.Println("Warning: auto-detection failed, trying ICP")
			return sino.MethodICP, nil
		}
		if verbose {
			fmt.Printf("Auto-detected read method: %s\n", method)
		}
		return method, nil
	}
	return sino.MethodNone, fmt.Errorf("unknown method %q (auto, icp, jtag)", dumpMethod)
}

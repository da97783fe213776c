package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sinolink/sinodump/pkg/rpc"
)

var chipTypeNames = map[uint8]string{
	1: "Type 1 (64KB max)",
	2: "Type 2 (64KB max)",
	3: "Type 3 (64KB max)",
	4: "Type 4 (1MB max)",
	5: "Type 5 (64KB max)",
	6: "Type 6 (64KB max)",
	7: "Type 7 (128KB max)",
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect to a probe and show target information",
	Long: `Connect through a serving probe and report the target's ID, chip
configuration, code-option layout and which debug channels answer.

The probe blocks until the target is powered; power-cycle or switch the
target on when prompted.

Examples:
  sinodump info --port /dev/ttyUSB0`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	if port == "" {
		return fmt.Errorf("--port is required")
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

	id, err := client.GetID()
	if err != nil {
		return err
	}
	info, err := client.ChipInfo()
	if err != nil {
		return err
	}

	fmt.Println("\n=== Device Information ===")
	fmt.Printf("JTAG ID:          0x%04X\n", id)

	name, ok := chipTypeNames[info.Type]
	if !ok {
		name = fmt.Sprintf("Unknown (%d)", info.Type)
	}
	fmt.Printf("Chip Type:        %s\n", name)
	fmt.Printf("Flash Size:       %d bytes (%d KB)\n", info.FlashSize, info.FlashSize/1024)

	if info.ProductBlock != 0 {
		fmt.Printf("Product Block:    Enabled\n")
		fmt.Printf("  Address:        0x%04X\n", info.ProductBlockAddr)
	} else {
		fmt.Printf("Product Block:    Disabled\n")
	}

	fmt.Printf("Custom Block:     Type %d\n", info.CustomBlock)
	fmt.Printf("Code Options:     0x%04X (%d bytes)\n", info.OptionsAddr, info.OptionsSize)
	if info.OptionsInFlash {
		fmt.Printf("  Location:       Flash\n")
	} else {
		fmt.Printf("  Location:       Custom Block\n")
	}

	fmt.Println("\n=== Communication Status ===")
	icpOK, err := client.CheckICP()
	if err != nil {
		return err
	}
	jtagOK, err := client.CheckJTAG()
	if err != nil {
		return err
	}
	fmt.Printf("ICP Mode:         %s\n", okFailed(icpOK))
	fmt.Printf("JTAG Mode:        %s\n", okFailed(jtagOK))

	method, err := client.Detect()
	if err != nil {
		return err
	}
	switch method.String() {
	case "icp":
		fmt.Println("Recommended:      ICP")
	case "jtag":
		fmt.Println("Recommended:      JTAG")
	default:
		fmt.Println("Recommended:      Detection failed (flash may be blank or protected)")
	}

	return nil
}

func okFailed(ok bool) string {
	if ok {
		return "OK"
	}
	return "Failed"
}

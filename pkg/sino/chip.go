package sino

import "fmt"

// ChipProfile describes the target part. The values come from the vendor's
// Keil C51 definition files (*.opt, *.gpt); they cannot be probed over the
// debug port.
type ChipProfile struct {
	// Type selects address-width behavior: types 4 and 7 carry a 24-bit
	// flash address (an extra XPAGE frame in ICP, a bank-switch preamble
	// in JTAG); every other type is 16-bit.
	Type uint8
	// FlashSize is the code-flash size in bytes.
	FlashSize uint32
	// ProductBlock flags parts with a product information block.
	ProductBlock uint8
	// CustomBlock is the custom-block layout revision, which fixes where
	// the code options live.
	CustomBlock uint8
}

// MaxFlashSize is the largest flash the chip type can address.
func (p ChipProfile) MaxFlashSize() uint32 {
	switch p.Type {
	case 4:
		return 1048576
	case 7:
		return 131072
	default:
		return 65536
	}
}

// Validate rejects profiles whose flash size exceeds the chip type's
// addressing ceiling.
func (p ChipProfile) Validate() error {
	if p.FlashSize == 0 {
		return fmt.Errorf("sino: flash size not set")
	}
	if max := p.MaxFlashSize(); p.FlashSize > max {
		return fmt.Errorf("sino: flash size %d exceeds %d byte limit of chip type %d",
			p.FlashSize, max, p.Type)
	}
	return nil
}

// XPage reports whether the part takes the 24-bit address extension frame.
// Note this is a different condition than the JTAG bank switch, which keys
// on FlashSize > 64 KiB: a type-7 part with 64 KiB takes XPAGE frames but
// never bank-switches.
func (p ChipProfile) XPage() bool {
	return p.Type == 4 || p.Type == 7
}

// ProductBlockAddress returns where the product information block sits, or
// 0 when the layout has none.
func (p ChipProfile) ProductBlockAddress() uint32 {
	switch p.CustomBlock {
	case 2:
		return 0x0A00
	case 3:
		return 0x1200
	case 4:
		return 0x2200
	default:
		return 0
	}
}

// CodeOptionsAddress returns where the code-option bytes live. Depending on
// layout and chip type that is either the top of flash or a fixed spot in
// the custom block.
func (p ChipProfile) CodeOptionsAddress() uint32 {
	optionsSize := uint32(64)
	optionsAddress := p.FlashSize - optionsSize

	switch p.CustomBlock {
	case 2:
		if p.Type == 2 {
			optionsAddress = 0x0800
		}
	case 3:
		if p.Type == 2 || p.Type == 7 {
			optionsAddress = 0x1000
		}
	case 4:
		optionsAddress = 0x2000
	case 6:
		optionsSize = 32
		optionsAddress = p.FlashSize - optionsSize
	}

	return optionsAddress
}

// CodeOptionsSize returns the code-option area size in bytes.
func (p ChipProfile) CodeOptionsSize() uint32 {
	optionsSize := uint32(64)

	switch p.CustomBlock {
	case 3:
		if p.Type == 7 {
			optionsSize = 512
		}
	case 6:
		optionsSize = 32
	}

	return optionsSize
}

// CodeOptionsInFlash reports whether the code options are readable from main
// flash (true) or only through the custom block (false).
func (p ChipProfile) CodeOptionsInFlash() bool {
	inFlash := true

	switch p.CustomBlock {
	case 2:
		if p.Type == 2 {
			inFlash = false
		}
	case 3:
		if p.Type == 2 || p.Type == 7 {
			inFlash = false
		}
	case 4:
		inFlash = false
	}

	return inFlash
}

package sino

import (
	"bytes"
	"testing"
)

// patternFlash fills n bytes with a position-dependent pattern so reads from
// the wrong address fail loudly.
func patternFlash(n int) []byte {
	flash := make([]byte, n)
	for i := range flash {
		flash[i] = uint8(i*7 + i>>8 + 1)
	}
	return flash
}

func TestGetIDReadsScriptedCode(t *testing.T) {
	e, sim := connectTestEngine(t, testProfile())
	sim.IDCode = 0x1234

	if id := e.GetID(); id != 0x1234 {
		t.Fatalf("GetID = 0x%04X, want 0x1234", id)
	}
	if !e.CheckJTAG() {
		t.Errorf("CheckJTAG = false for live target")
	}
}

func TestCheckJTAGRejectsBlankBus(t *testing.T) {
	for _, id := range []uint16{0x0000, 0xFFFF} {
		e, sim := connectTestEngine(t, testProfile())
		sim.IDCode = id

		if got := e.GetID(); got != id {
			t.Fatalf("GetID = 0x%04X, want 0x%04X", got, id)
		}
		if e.CheckJTAG() {
			t.Errorf("CheckJTAG = true for bus reading 0x%04X", id)
		}
	}
}

func TestCheckICPWireSequence(t *testing.T) {
	e, sim := connectTestEngine(t, testProfile())

	e.switchMode(ModeICP)
	sim.ResetCapture()

	if !e.CheckICP() {
		t.Fatalf("CheckICP = false")
	}

	want := []byte{icpSetIBOffsetL, 0x69, icpSetIBOffsetH, 0xFF, icpGetIBOffset}
	if !bytes.Equal(sim.Writes, want) {
		t.Errorf("captured ICP bytes = % X, want % X", sim.Writes, want)
	}
}

func TestReadFlashICP(t *testing.T) {
	profile := testProfile() // type 2: prelude, no XPAGE
	e, sim := connectTestEngine(t, profile)
	sim.Flash = patternFlash(int(profile.FlashSize))

	e.switchMode(ModeICP)
	sim.ResetCapture()

	buf := make([]byte, 16)
	if !e.ReadFlashICP(buf, 0x1234, false) {
		t.Fatalf("ReadFlashICP = false")
	}

	wantCmds := []byte{
		0x46, 0xFE, 0xFF,
		icpSetIBOffsetL, 0x34,
		icpSetIBOffsetH, 0x12,
		icpReadFlash,
	}
	if !bytes.Equal(sim.Writes, wantCmds) {
		t.Errorf("captured ICP bytes = % X, want % X", sim.Writes, wantCmds)
	}
	if !bytes.Equal(buf, sim.Flash[0x1234:0x1244]) {
		t.Errorf("read % X, want % X", buf, sim.Flash[0x1234:0x1244])
	}
	if e.Mode() != ModeReady {
		t.Errorf("mode after read = %v, want ready", e.Mode())
	}
}

func TestReadFlashICPType1SkipsPrelude(t *testing.T) {
	profile := ChipProfile{Type: 1, FlashSize: 16384, CustomBlock: 2}
	e, sim := connectTestEngine(t, profile)
	sim.Flash = patternFlash(int(profile.FlashSize))

	e.switchMode(ModeICP)
	sim.ResetCapture()

	buf := make([]byte, 4)
	if !e.ReadFlashICP(buf, 0x0040, false) {
		t.Fatalf("ReadFlashICP = false")
	}
	if sim.Writes[0] != icpSetIBOffsetL {
		t.Errorf("type 1 read begins with 0x%02X, want SET_IB_OFFSET_L", sim.Writes[0])
	}
}

func TestReadFlashICPCustomBlock(t *testing.T) {
	e, sim := connectTestEngine(t, testProfile())
	sim.CustomBlock = patternFlash(512)

	buf := make([]byte, 8)
	if !e.ReadFlashICP(buf, 0x0010, true) {
		t.Fatalf("ReadFlashICP custom = false")
	}
	if sim.Writes[len(sim.Writes)-1] != icpReadCustomBlock {
		t.Errorf("custom read issued 0x%02X, want READ_CUSTOM_BLOCK",
			sim.Writes[len(sim.Writes)-1])
	}
	if !bytes.Equal(buf, sim.CustomBlock[0x10:0x18]) {
		t.Errorf("read % X, want % X", buf, sim.CustomBlock[0x10:0x18])
	}
}

func TestReadFlashICPExtendedAddress(t *testing.T) {
	// type 7 takes the XPAGE frame and addresses above 64 KiB
	profile := ChipProfile{Type: 7, FlashSize: 131072, CustomBlock: 3}
	e, sim := connectTestEngine(t, profile)
	sim.Flash = patternFlash(int(profile.FlashSize))

	e.switchMode(ModeICP)
	sim.ResetCapture()

	buf := make([]byte, 4)
	if !e.ReadFlashICP(buf, 0x012345, false) {
		t.Fatalf("ReadFlashICP = false")
	}

	wantCmds := []byte{
		0x46, 0xFE, 0xFF,
		icpSetIBOffsetL, 0x45,
		icpSetIBOffsetH, 0x23,
		icpSetXPage, 0x01,
		icpReadFlash,
	}
	if !bytes.Equal(sim.Writes, wantCmds) {
		t.Errorf("captured ICP bytes = % X, want % X", sim.Writes, wantCmds)
	}
	if !bytes.Equal(buf, sim.Flash[0x12345:0x12349]) {
		t.Errorf("read % X, want % X", buf, sim.Flash[0x12345:0x12349])
	}
}

func TestReadFlashJTAGSmallChip(t *testing.T) {
	profile := testProfile() // 32 KiB: no bank preamble
	e, sim := connectTestEngine(t, profile)
	sim.Flash = patternFlash(int(profile.FlashSize))

	buf := make([]byte, 16)
	if !e.ReadFlashJTAG(buf, 0x0100, false) {
		t.Fatalf("ReadFlashJTAG = false")
	}
	if len(sim.OpBytes) != 0 {
		t.Errorf("unexpected opcode preamble on 32 KiB chip: % X", sim.OpBytes)
	}
	if !bytes.Equal(buf, sim.Flash[0x0100:0x0110]) {
		t.Errorf("read % X, want % X", buf, sim.Flash[0x0100:0x0110])
	}
}

func TestReadFlashJTAGBankZero(t *testing.T) {
	profile := ChipProfile{Type: 4, FlashSize: 131072, CustomBlock: 4}
	e, sim := connectTestEngine(t, profile)
	sim.Flash = patternFlash(int(profile.FlashSize))

	buf := make([]byte, 4)
	if !e.ReadFlashJTAG(buf, 0x002345, false) {
		t.Fatalf("ReadFlashJTAG = false")
	}

	wantOps := []byte{
		ReverseBits(0x75), ReverseBits(0xB7), ReverseBits(0x55),
		ReverseBits(0x75), ReverseBits(0xB6), ReverseBits(0x00),
		ReverseBits(0x00), ReverseBits(0x00), ReverseBits(0x00), ReverseBits(0x00),
	}
	if !bytes.Equal(sim.OpBytes, wantOps) {
		t.Errorf("opcode preamble = % X, want % X", sim.OpBytes, wantOps)
	}

	wantAddrs := []uint16{0x2345, 0x2346, 0x2347, 0x2348, 0x2349}
	if len(sim.Addresses) != len(wantAddrs) {
		t.Fatalf("scan count = %d, want %d (one pipeline fill + n reads)",
			len(sim.Addresses), len(wantAddrs))
	}
	for i, a := range wantAddrs {
		if sim.Addresses[i] != a {
			t.Errorf("scan %d address = 0x%04X, want 0x%04X", i, sim.Addresses[i], a)
		}
	}
	if !bytes.Equal(buf, sim.Flash[0x2345:0x2349]) {
		t.Errorf("read % X, want % X", buf, sim.Flash[0x2345:0x2349])
	}
}

func TestReadFlashJTAGBankMapping(t *testing.T) {
	profile := ChipProfile{Type: 4, FlashSize: 131072, CustomBlock: 4}
	e, sim := connectTestEngine(t, profile)
	sim.Flash = patternFlash(int(profile.FlashSize))

	buf := make([]byte, 1)
	if !e.ReadFlashJTAG(buf, 0x018000, false) {
		t.Fatalf("ReadFlashJTAG = false")
	}

	// 0x018000 is bank 3 offset 0; the wire carries the folded address
	if got := sim.OpBytes[5]; got != ReverseBits(0x03) {
		t.Errorf("bank opcode byte = 0x%02X, want bit-reversed 0x03", got)
	}
	if sim.Addresses[0] != 0x8000 {
		t.Errorf("shifted address = 0x%04X, want 0x8000", sim.Addresses[0])
	}
	if buf[0] != sim.Flash[0x18000] {
		t.Errorf("read 0x%02X, want 0x%02X", buf[0], sim.Flash[0x18000])
	}
}

func TestReadFlashJTAGAddressFold(t *testing.T) {
	// addresses below and above 32 KiB on a banked chip
	profile := ChipProfile{Type: 4, FlashSize: 131072, CustomBlock: 4}
	e, sim := connectTestEngine(t, profile)
	sim.Flash = patternFlash(int(profile.FlashSize))

	cases := []struct {
		addr uint32
		wire uint16
	}{
		{0x000100, 0x0100},
		{0x007FFF, 0x7FFF},
		{0x008000, 0x8000}, // bank 1
		{0x00C000, 0xC000}, // bank 1, bit 15 already set
		{0x010000, 0x8000}, // bank 2
	}
	for _, c := range cases {
		sim.ResetCapture()
		buf := make([]byte, 1)
		if !e.ReadFlashJTAG(buf, c.addr, false) {
			t.Fatalf("ReadFlashJTAG(0x%06X) = false", c.addr)
		}
		if sim.Addresses[0] != c.wire {
			t.Errorf("addr 0x%06X shifted as 0x%04X, want 0x%04X",
				c.addr, sim.Addresses[0], c.wire)
		}
		if buf[0] != sim.Flash[c.addr] {
			t.Errorf("addr 0x%06X read 0x%02X, want 0x%02X",
				c.addr, buf[0], sim.Flash[c.addr])
		}
	}
}

func TestReadFlashJTAGRejectsCustomBlock(t *testing.T) {
	e, _ := connectTestEngine(t, testProfile())
	buf := make([]byte, 4)
	if e.ReadFlashJTAG(buf, 0, true) {
		t.Fatalf("ReadFlashJTAG accepted a custom-block read")
	}
}

func TestDetectReadMethod(t *testing.T) {
	e, sim := connectTestEngine(t, testProfile())
	sim.Flash = patternFlash(int(testProfile().FlashSize))
	if m := e.DetectReadMethod(); m != MethodICP {
		t.Errorf("DetectReadMethod = %v, want icp", m)
	}

	e2, sim2 := connectTestEngine(t, testProfile())
	sim2.Flash = make([]byte, 32768) // blank part
	if m := e2.DetectReadMethod(); m != MethodNone {
		t.Errorf("DetectReadMethod on blank flash = %v, want none", m)
	}
}

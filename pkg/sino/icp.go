package sino

// ICP command bytes. These are silicon-defined values; the target gives no
// acknowledgement, so a wrong code simply reads garbage.
const (
	icpSetIBOffsetL    = 0x41 // low 8 bits of the information-block read pointer
	icpSetIBOffsetH    = 0x42 // high 8 bits
	icpGetIBOffset     = 0x43 // read the pointer back, two bytes
	icpReadFlash       = 0x44 // sequential code-flash stream from the pointer
	icpReadCustomBlock = 0x45 // sequential custom-block stream
	icpPing            = 0x49
	icpSetXPage        = 0x4B // pointer bits 16-23, chip types 4 and 7 only
)

// pulseClock emits one ICP data clock: 1 µs setup, rising edge, 1 µs high,
// falling edge.
func (e *Engine) pulseClock() {
	e.delay(1)
	e.set(e.pins.TCK)
	e.delay(1)
	e.clr(e.pins.TCK)
}

// sendICPData clocks one byte out MSB-first: 8 data pulses plus one filler
// pulse the target uses as an inter-byte gap, then parks TDI low.
func (e *Engine) sendICPData(value uint8) {
	for m := uint8(0x80); m != 0; m >>= 1 {
		if value&m != 0 {
			e.set(e.pins.TDI)
		} else {
			e.clr(e.pins.TDI)
		}

		e.pulseClock()
	}

	e.pulseClock()

	e.clr(e.pins.TDI)
}

// receiveICPData clocks one byte in. Bits arrive LSB-first, sampled after
// each pulse, followed by the filler pulse.
func (e *Engine) receiveICPData() uint8 {
	var value uint8
	for m := uint8(1); m != 0; m <<= 1 {
		e.pulseClock()

		if e.get(e.pins.TDO) {
			value |= m
		}
	}

	e.pulseClock()

	return value
}

// PingICP nudges the target's ICP block. No-op outside ICP mode; the target
// sends nothing back.
func (e *Engine) PingICP() {
	if e.mode != ModeICP {
		return
	}

	e.sendICPData(icpPing)
	e.sendICPData(0xFF)
}

// CheckICP verifies the ICP channel end to end: write a known value into the
// information-block pointer, read the pointer back, compare.
func (e *Engine) CheckICP() bool {
	if !e.attached() {
		return false
	}

	e.switchMode(ModeICP)

	e.sendICPData(icpSetIBOffsetL)
	e.sendICPData(0x69)
	e.sendICPData(icpSetIBOffsetH)
	e.sendICPData(0xFF)

	e.sendICPData(icpGetIBOffset)
	b := e.receiveICPData()
	e.receiveICPData()

	return b == 0x69
}

// ReadFlashICP streams len(buf) bytes from address into buf over the ICP
// channel, from the custom block when customBlock is set. The engine drops
// back to READY afterwards. Byte errors are undetectable at this layer; dump
// with overlap and diff to catch glitches.
func (e *Engine) ReadFlashICP(buf []byte, address uint32, customBlock bool) bool {
	if !e.attached() {
		return false
	}

	e.switchMode(ModeICP)

	if e.profile.Type != 1 {
		e.sendICPData(0x46)
		e.sendICPData(0xFE)
		e.sendICPData(0xFF)
	}

	e.sendICPData(icpSetIBOffsetL)
	e.sendICPData(uint8(address & 0x000000FF))
	e.sendICPData(icpSetIBOffsetH)
	e.sendICPData(uint8((address & 0x0000FF00) >> 8))
	if e.profile.XPage() {
		e.sendICPData(icpSetXPage)
		e.sendICPData(uint8((address & 0x00FF0000) >> 16))
	}

	if customBlock {
		e.sendICPData(icpReadCustomBlock)
	} else {
		e.sendICPData(icpReadFlash)
	}

	for n := range buf {
		buf[n] = e.receiveICPData()
	}

	e.reset()

	return true
}

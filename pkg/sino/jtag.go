package sino

// JTAG instruction register values. The scan chain is proprietary; only the
// handful the read procedure needs are known.
const (
	irFlashRead = 0
	irIDCode    = 1
	irPark      = 12
)

// nextState advances the target TAP one TCK cycle with the given TMS level
// and returns TDO as sampled after the rising edge. Phases are 2 µs.
func (e *Engine) nextState(tms bool) bool {
	if tms {
		e.set(e.pins.TMS)
	} else {
		e.clr(e.pins.TMS)
	}

	e.set(e.pins.TCK)
	e.delay(2)

	b := e.get(e.pins.TDO)

	e.clr(e.pins.TCK)
	e.delay(2)

	return b
}

// nextStateOut is nextState with TDI driven before the rising edge.
func (e *Engine) nextStateOut(tms, out bool) bool {
	if out {
		e.set(e.pins.TDI)
	} else {
		e.clr(e.pins.TDI)
	}

	return e.nextState(tms)
}

// sendInstruction loads an 8-bit instruction through the IR path
// (Select-DR, Select-IR, Capture-IR, Shift-IR), LSB first, and returns the
// TAP to Idle via Update-IR.
func (e *Engine) sendInstruction(value uint8) {
	e.nextState(true)
	e.nextState(true)
	e.nextState(false)
	e.nextState(false)

	for n := 0; n < 8; n++ {
		e.nextStateOut(n == 7, value&1 != 0)
		value >>= 1
	}

	e.nextState(true)
	e.nextState(false)
}

// sendData shifts a bits-wide value through the currently selected DR, LSB
// first; the last bit rides the Exit1 transition.
func (e *Engine) sendData(bits int, value uint32) {
	e.nextState(true)
	e.nextState(false)
	e.nextState(false)

	for n := 0; n < bits; n++ {
		e.nextStateOut(n == bits-1, value&1 != 0)
		value >>= 1
	}

	e.nextState(true)
	e.nextState(false)
}

// receiveData shifts bits cycles through the selected DR and returns the
// captured value; the bit shifted last lands in the MSB.
func (e *Engine) receiveData(bits int) uint32 {
	e.nextState(true)
	e.nextState(false)
	e.nextState(false)

	var value uint32
	for n := 0; n < bits; n++ {
		value >>= 1
		if e.nextState(n == bits-1) {
			value |= 1 << (bits - 1)
		}
	}

	e.nextState(true)
	e.nextState(false)

	return value
}

// GetID reads the 16-bit identification register.
func (e *Engine) GetID() uint16 {
	if !e.attached() {
		return 0
	}

	e.switchMode(ModeJTAG)

	e.sendInstruction(irIDCode)
	return uint16(e.receiveData(16))
}

// CheckJTAG reports whether the scan chain answers with a plausible ID.
// All-zeros and all-ones both mean nobody home.
func (e *Engine) CheckJTAG() bool {
	id := e.GetID()
	return id != 0x0000 && id != 0xFFFF
}

// ReadFlashJTAG reads len(buf) bytes from address via the flash-read scan
// chain. The custom block is not reachable this way. On chips with more than
// 64 KiB the bank-select SFRs are loaded first by injecting MOV opcodes into
// the instruction stream through the 8-bit DR; opcodes go over the wire
// MSB-first, so each byte is bit-reversed before the LSB-first shift.
func (e *Engine) ReadFlashJTAG(buf []byte, address uint32, customBlock bool) bool {
	if customBlock {
		return false
	}
	if !e.attached() {
		return false
	}

	e.switchMode(ModeJTAG)

	if e.profile.FlashSize > 65536 {
		bank := uint8(address >> 15)
		if bank > 0 {
			// banks 1-N are mapped to the upper half of the address space
			address &= 0x00007FFF
			address |= 0x00008000
		}

		// MOV PBANKLO, #0x55
		e.sendData(8, uint32(ReverseBits(0x75)))
		e.sendData(8, uint32(ReverseBits(0xB7)))
		e.sendData(8, uint32(ReverseBits(0x55)))

		// MOV PBANK, #bank
		e.sendData(8, uint32(ReverseBits(0x75)))
		e.sendData(8, uint32(ReverseBits(0xB6)))
		e.sendData(8, uint32(ReverseBits(bank)))

		// NOPs
		e.sendData(8, uint32(ReverseBits(0x00)))
		e.sendData(8, uint32(ReverseBits(0x00)))
		e.sendData(8, uint32(ReverseBits(0x00)))
		e.sendData(8, uint32(ReverseBits(0x00)))
	}

	e.sendInstruction(irFlashRead)

	for n := 0; n < len(buf)+1; n, address = n+1, address+1 {
		e.nextState(true)  // Select-DR
		e.nextState(false) // Capture-DR
		e.nextState(false) // Shift-DR

		// address and data ride a single 30-bit shift
		for m := uint32(0x8000); m != 0; m >>= 1 {
			e.nextStateOut(false, address&m != 0)
		}

		// fixed filler pattern, meaning unknown
		e.nextStateOut(false, false)
		e.nextStateOut(false, false)
		e.nextStateOut(false, false)
		e.nextStateOut(false, true)
		e.nextStateOut(false, false)
		e.nextStateOut(false, false)

		var data uint8
		for k := 0; k < 7; k++ {
			if e.nextStateOut(false, false) {
				data |= 1
			}
			data <<= 1
		}
		if e.nextState(true) {
			data |= 1
		}

		e.nextState(true)  // Update-DR
		e.nextState(false) // Idle
		e.nextState(false) // Idle, required

		if n > 0 {
			// the scan returns the byte for the previously shifted
			// address, so the first one is garbage
			buf[n-1] = data
		}
	}

	e.sendInstruction(irPark)

	return true
}

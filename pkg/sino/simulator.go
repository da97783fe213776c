package sino

import (
	"github.com/sinolink/sinodump/pkg/gpio"
)

// Transition is one recorded pin edge with its virtual timestamp.
type Transition struct {
	Pin   gpio.Pin
	Level gpio.Level
	At    int64 // microseconds since the simulator started
}

type simPhase uint8

const (
	phaseBoot  simPhase = iota // waiting for the engine to settle a mode
	phaseMagic                 // collecting the 8-bit mode magic plus 2 idle pulses
	phaseICP
	phaseJTAG
)

type tapState uint8

const (
	tapIdle tapState = iota
	tapSelectDR
	tapSelectIR
	tapCaptureDR
	tapCaptureIR
	tapShiftDR
	tapShiftIR
	tapExit1DR
	tapExit1IR
	tapUpdateDR
	tapUpdateIR
)

// The target TAP is not IEEE 1149.1: holding TMS high parks it in Select-IR
// instead of Test-Logic-Reset, which is what makes the firmware's
// 1,1,0,0 instruction path work right after a run of reset steps.
func tapNext(s tapState, tms bool) tapState {
	switch s {
	case tapIdle:
		if tms {
			return tapSelectDR
		}
		return tapIdle
	case tapSelectDR:
		if tms {
			return tapSelectIR
		}
		return tapCaptureDR
	case tapSelectIR:
		if tms {
			return tapSelectIR
		}
		return tapCaptureIR
	case tapCaptureDR, tapShiftDR:
		if tms {
			return tapExit1DR
		}
		return tapShiftDR
	case tapCaptureIR, tapShiftIR:
		if tms {
			return tapExit1IR
		}
		return tapShiftIR
	case tapExit1DR:
		if tms {
			return tapUpdateDR
		}
		return tapShiftDR
	case tapExit1IR:
		if tms {
			return tapUpdateIR
		}
		return tapShiftIR
	case tapUpdateDR, tapUpdateIR:
		if tms {
			return tapSelectDR
		}
		return tapIdle
	}
	return tapIdle
}

// jtagResetRun is how many consecutive TMS-high clocks the simulator reads
// as "the engine is resetting out of JTAG mode". The engine uses 35; normal
// scan traffic never exceeds 3.
const jtagResetRun = 16

// TargetSim is a behavioral SinoWealth target behind a gpio.Driver. It runs
// on a virtual clock, records every pin transition, and answers the wire
// protocol: mode-entry magic, the ICP command set backed by Flash and
// CustomBlock, and the proprietary scan chain with its one-scan read
// pipeline and PBANK bank mapping. It backs the package tests and the CLI's
// sim driver.
type TargetSim struct {
	pins PinMap

	// Target contents, settable before (or between) operations.
	IDCode      uint16
	Flash       []byte
	CustomBlock []byte

	// Captured traffic since the last ResetCapture.
	Writes    []byte   // committed ICP bytes, commands and arguments
	OpBytes   []byte   // 8-bit DR scans outside the flash-read instruction
	Addresses []uint16 // addresses shifted into the flash-read DR

	levels      map[gpio.Pin]gpio.Level
	now         int64
	transitions []Transition
	rises       map[gpio.Pin]int
	falls       map[gpio.Pin]int

	phase      simPhase
	magicShift uint8
	magicCount int
	nextPhase  simPhase

	// ICP side
	icpShift  uint16
	icpBits   int
	argsLeft  int
	argCmd    uint8
	ibL, ibH  uint8
	xpage     uint8
	ptr       uint32
	streaming uint8 // 0 none, 1 flash, 2 custom block
	respBytes []byte
	respBit   int

	// JTAG side
	tap         tapState
	currentIR   uint32
	captureBits []bool
	srIdx       int
	tdiBits     []bool
	drLatch     []bool
	pending     uint8
	pbank       uint8
	onesRun     int
}

var _ gpio.Driver = (*TargetSim)(nil)

// NewTargetSim builds a powered target (Vref high) with blank state behind
// the given pin map.
func NewTargetSim(pins PinMap) *TargetSim {
	s := &TargetSim{
		pins:      pins,
		levels:    make(map[gpio.Pin]gpio.Level),
		rises:     make(map[gpio.Pin]int),
		falls:     make(map[gpio.Pin]int),
		currentIR: 0xFFFF,
	}
	s.levels[pins.VRef] = gpio.High
	return s
}

// SetVref powers the simulated target up or down.
func (s *TargetSim) SetVref(on bool) {
	s.setLevel(s.pins.VRef, gpio.Level(on))
}

// ResetCapture clears the transition log and captured traffic without
// touching protocol state, so tests can scope assertions to one operation.
func (s *TargetSim) ResetCapture() {
	s.transitions = nil
	s.rises = make(map[gpio.Pin]int)
	s.falls = make(map[gpio.Pin]int)
	s.Writes = nil
	s.OpBytes = nil
	s.Addresses = nil
}

// Transitions returns a copy of the recorded edges.
func (s *TargetSim) Transitions() []Transition {
	return append([]Transition(nil), s.transitions...)
}

// Rises counts recorded low-to-high edges on a pin.
func (s *TargetSim) Rises(pin gpio.Pin) int { return s.rises[pin] }

// Falls counts recorded high-to-low edges on a pin.
func (s *TargetSim) Falls(pin gpio.Pin) int { return s.falls[pin] }

// Now returns the virtual clock in microseconds.
func (s *TargetSim) Now() int64 { return s.now }

func (s *TargetSim) PinOutput(gpio.Pin) {}
func (s *TargetSim) PinInput(gpio.Pin)  {}

func (s *TargetSim) PinRead(pin gpio.Pin) gpio.Level {
	return s.levels[pin]
}

func (s *TargetSim) Delay(us int) {
	s.now += int64(us)
}

func (s *TargetSim) Close() error { return nil }

func (s *TargetSim) PinWrite(pin gpio.Pin, level gpio.Level) {
	if s.levels[pin] == level {
		return
	}
	s.setLevel(pin, level)

	switch pin {
	case s.pins.TCK:
		if level == gpio.High {
			s.clockRise()
		}
	case s.pins.TMS:
		// A TMS pulse while TCK is held high is the non-JTAG "back to
		// READY" signal; the next thing on the wire is a mode magic.
		if level == gpio.High && s.levels[s.pins.TCK] == gpio.High && s.phase != phaseJTAG {
			s.enterMagic()
		}
	}
}

func (s *TargetSim) setLevel(pin gpio.Pin, level gpio.Level) {
	if s.levels[pin] == level {
		return
	}
	s.levels[pin] = level
	s.transitions = append(s.transitions, Transition{Pin: pin, Level: level, At: s.now})
	if level == gpio.High {
		s.rises[pin]++
	} else {
		s.falls[pin]++
	}
}

func (s *TargetSim) enterMagic() {
	s.phase = phaseMagic
	s.magicShift = 0
	s.magicCount = 0
	s.icpBits = 0
	s.argsLeft = 0
	s.streaming = 0
	s.respBytes = nil
	s.respBit = 0
}

func (s *TargetSim) clockRise() {
	tdi := s.levels[s.pins.TDI] == gpio.High
	tms := s.levels[s.pins.TMS] == gpio.High

	switch s.phase {
	case phaseBoot:
		// handshake noise, ignored

	case phaseMagic:
		if s.magicCount < 8 {
			s.magicShift <<= 1
			if tdi {
				s.magicShift |= 1
			}
			s.magicCount++
			if s.magicCount == 8 {
				switch Mode(s.magicShift) {
				case ModeICP:
					s.nextPhase = phaseICP
				case ModeJTAG:
					s.nextPhase = phaseJTAG
				default:
					s.phase = phaseBoot
				}
			}
			return
		}
		// two idle pulses after the magic byte
		s.magicCount++
		if s.magicCount == 10 {
			s.phase = s.nextPhase
			if s.phase == phaseJTAG {
				s.tap = tapIdle
				s.onesRun = 0
				s.currentIR = 0xFFFF
				s.OpBytes = nil
			}
		}

	case phaseICP:
		s.icpRise(tdi)

	case phaseJTAG:
		s.jtagRise(tdi, tms)
	}
}

func (s *TargetSim) icpRise(tdi bool) {
	if len(s.respBytes) > 0 {
		cur := s.respBytes[0]
		if s.respBit < 8 {
			s.setLevel(s.pins.TDO, gpio.Level(cur>>s.respBit&1 == 1))
			s.respBit++
		} else {
			s.setLevel(s.pins.TDO, gpio.Low)
			s.respBytes = s.respBytes[1:]
			s.respBit = 0
		}
		return
	}

	if s.streaming != 0 {
		cur := s.streamByte()
		if s.respBit < 8 {
			s.setLevel(s.pins.TDO, gpio.Level(cur>>s.respBit&1 == 1))
			s.respBit++
		} else {
			s.setLevel(s.pins.TDO, gpio.Low)
			s.respBit = 0
			s.ptr++
		}
		return
	}

	s.icpShift <<= 1
	if tdi {
		s.icpShift |= 1
	}
	s.icpBits++
	if s.icpBits == 9 {
		// bit 0 of the shift is the filler pulse
		s.commitICP(uint8(s.icpShift >> 1))
		s.icpBits = 0
		s.icpShift = 0
	}
}

func (s *TargetSim) streamByte() uint8 {
	var mem []byte
	if s.streaming == 2 {
		mem = s.CustomBlock
	} else {
		mem = s.Flash
	}
	if int(s.ptr) < len(mem) {
		return mem[s.ptr]
	}
	return 0xFF
}

func (s *TargetSim) commitICP(b uint8) {
	s.Writes = append(s.Writes, b)

	if s.argsLeft > 0 {
		s.argsLeft--
		switch s.argCmd {
		case icpSetIBOffsetL:
			s.ibL = b
		case icpSetIBOffsetH:
			s.ibH = b
		case icpSetXPage:
			s.xpage = b
		}
		return
	}

	switch b {
	case icpSetIBOffsetL, icpSetIBOffsetH, icpSetXPage, icpPing:
		s.argCmd = b
		s.argsLeft = 1
	case 0x46:
		// three-byte read prelude 0x46 0xFE 0xFF
		s.argCmd = b
		s.argsLeft = 2
	case icpGetIBOffset:
		s.respBytes = []byte{s.ibL, s.ibH}
		s.respBit = 0
	case icpReadFlash:
		s.streaming = 1
		s.ptr = uint32(s.xpage)<<16 | uint32(s.ibH)<<8 | uint32(s.ibL)
		s.respBit = 0
	case icpReadCustomBlock:
		s.streaming = 2
		s.ptr = uint32(s.xpage)<<16 | uint32(s.ibH)<<8 | uint32(s.ibL)
		s.respBit = 0
	default:
		// unknown command, swallowed by the target
	}
}

func (s *TargetSim) jtagRise(tdi, tms bool) {
	if tms {
		s.onesRun++
	} else {
		if s.onesRun >= jtagResetRun {
			// the engine walked out of JTAG mode; this edge is already
			// the first bit of the next mode magic
			s.enterMagic()
			s.onesRun = 0
			s.clockRise()
			return
		}
		s.onesRun = 0
	}

	before := s.tap
	s.tap = tapNext(before, tms)

	if before == tapShiftDR || before == tapShiftIR {
		out := false
		if s.srIdx < len(s.captureBits) {
			out = s.captureBits[s.srIdx]
		}
		s.setLevel(s.pins.TDO, gpio.Level(out))
		s.srIdx++
		s.tdiBits = append(s.tdiBits, tdi)
	}

	switch s.tap {
	case tapCaptureDR:
		s.captureDR()
	case tapCaptureIR:
		s.tdiBits = nil
		s.srIdx = 0
		s.captureBits = nil
	case tapUpdateDR:
		s.updateDR()
	case tapUpdateIR:
		s.currentIR = bitsLSB(s.tdiBits)
	}
}

func (s *TargetSim) captureDR() {
	s.tdiBits = nil
	s.srIdx = 0

	switch s.currentIR {
	case irIDCode:
		bits := make([]bool, 16)
		for i := 0; i < 16; i++ {
			bits[i] = s.IDCode>>i&1 == 1
		}
		s.captureBits = bits
	case irFlashRead:
		// 16 address + 6 filler cells shift out as zeros; the data byte
		// for the previously shifted address rides the tail, MSB first
		bits := make([]bool, 30)
		for i := 0; i < 8; i++ {
			bits[22+i] = s.pending>>(7-i)&1 == 1
		}
		s.captureBits = bits
	default:
		s.captureBits = append([]bool(nil), s.drLatch...)
	}
}

func (s *TargetSim) updateDR() {
	bits := s.tdiBits
	s.drLatch = append([]bool(nil), bits...)

	switch s.currentIR {
	case irFlashRead:
		if len(bits) < 16 {
			return
		}
		var addr uint16
		for i := 0; i < 16; i++ {
			addr <<= 1
			if bits[i] {
				addr |= 1
			}
		}
		s.Addresses = append(s.Addresses, addr)

		phys := uint32(addr)
		if s.pbank > 0 && addr&0x8000 != 0 {
			phys = uint32(s.pbank)<<15 | uint32(addr&0x7FFF)
		}
		if int(phys) < len(s.Flash) {
			s.pending = s.Flash[phys]
		} else {
			s.pending = 0xFF
		}
	default:
		if len(bits) != 8 {
			return
		}
		b := uint8(bitsLSB(bits))
		s.OpBytes = append(s.OpBytes, b)
		if n := len(s.OpBytes); n >= 3 &&
			s.OpBytes[n-3] == ReverseBits(0x75) &&
			s.OpBytes[n-2] == ReverseBits(0xB6) {
			s.pbank = ReverseBits(b)
		}
	}
}

func bitsLSB(bits []bool) uint32 {
	var v uint32
	for i, b := range bits {
		if b {
			v |= 1 << i
		}
	}
	return v
}

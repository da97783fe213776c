// Package sino implements the SinoWealth 8051 debug-port engine: the
// bit-banged power-up handshake, the ICP and JTAG debug modes, and the two
// flash-read procedures. The engine owns five pins (TDO, TMS, TDI, TCK and a
// Vref sense line) for its whole lifetime and runs every operation to
// completion; clock-phase timing is the only framing the target understands.
package sino

import (
	"fmt"
	"io"

	"github.com/sinolink/sinodump/pkg/gpio"
)

// Mode is the engine's protocol mode. The ICP and JTAG values double as the
// 8-bit magic code the target expects MSB-first on TDI during mode entry.
type Mode uint8

const (
	ModeDisconnected Mode = 0x00
	ModeReady        Mode = 0x01
	ModeICP          Mode = 0x92
	ModeJTAG         Mode = 0xA9
	// ModeError is a latched unrecoverable state. Nothing in this package
	// sets it; it is reserved for hosts that bolt timeouts on top.
	ModeError Mode = 0xFF
)

func (m Mode) String() string {
	switch m {
	case ModeDisconnected:
		return "disconnected"
	case ModeReady:
		return "ready"
	case ModeICP:
		return "icp"
	case ModeJTAG:
		return "jtag"
	case ModeError:
		return "error"
	}
	return fmt.Sprintf("mode(0x%02X)", uint8(m))
}

// PinMap assigns the five debug pins.
type PinMap struct {
	TDO  gpio.Pin
	TMS  gpio.Pin
	TDI  gpio.Pin
	TCK  gpio.Pin
	VRef gpio.Pin
}

// DefaultPinMap matches the reference programmer wiring: five adjacent bits
// of one port.
func DefaultPinMap() PinMap {
	return PinMap{TDO: 2, TMS: 3, TDI: 4, TCK: 5, VRef: 6}
}

// Engine is the target-side debug engine. It is not safe for concurrent use;
// every operation must run as an exclusive critical section over the pins.
type Engine struct {
	drv     gpio.Driver
	pins    PinMap
	profile ChipProfile
	mode    Mode
	console io.Writer
}

// New returns an engine in the DISCONNECTED state. All five pins are left
// high-Z so an unpowered target is not back-powered through its debug port.
func New(drv gpio.Driver, pins PinMap, profile ChipProfile) *Engine {
	e := &Engine{drv: drv, pins: pins, profile: profile, console: io.Discard}
	drv.PinInput(pins.VRef)
	drv.PinInput(pins.TDO)
	drv.PinInput(pins.TDI)
	drv.PinInput(pins.TMS)
	drv.PinInput(pins.TCK)
	return e
}

// SetConsole routes the operator prompt printed while waiting for target
// power. Defaults to discard.
func (e *Engine) SetConsole(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	e.console = w
}

// Mode reports the current protocol mode.
func (e *Engine) Mode() Mode { return e.mode }

// Profile returns the configured chip profile.
func (e *Engine) Profile() ChipProfile { return e.profile }

func (e *Engine) set(pin gpio.Pin)      { e.drv.PinWrite(pin, gpio.High) }
func (e *Engine) clr(pin gpio.Pin)      { e.drv.PinWrite(pin, gpio.Low) }
func (e *Engine) get(pin gpio.Pin) bool { return e.drv.PinRead(pin) == gpio.High }
func (e *Engine) delay(us int)          { e.drv.Delay(us) }

func (e *Engine) attached() bool {
	return e.mode != ModeDisconnected && e.mode != ModeError
}

// Connect wakes the target's debug block. There is no reset pin, so the
// caller powers the target manually and the engine blocks until the Vref
// sense reads high before running the handshake. The toggle counts
// (165/105/90/25600/25600) and 2 µs phases are calibration intervals in the
// target silicon and are not negotiable. Always returns true once Vref
// appears.
func (e *Engine) Connect() bool {
	fmt.Fprintln(e.console, "Waiting for Vref to get high - enable power to target manually")
	for !e.get(e.pins.VRef) {
		e.delay(100)
	}
	fmt.Fprintln(e.console, "Vref is now high - resuming")

	e.drv.PinOutput(e.pins.TDI)
	e.drv.PinOutput(e.pins.TMS)
	e.drv.PinOutput(e.pins.TCK)

	e.clr(e.pins.TCK)
	e.clr(e.pins.TDI)
	e.clr(e.pins.TMS)

	e.set(e.pins.TCK)
	e.set(e.pins.TDI)
	e.set(e.pins.TMS)

	e.delay(500)

	e.clr(e.pins.TCK)
	e.delay(1)
	e.set(e.pins.TCK)
	e.delay(50)

	for n := 0; n < 165; n++ {
		e.clr(e.pins.TMS)
		e.delay(2)
		e.set(e.pins.TMS)
		e.delay(2)
	}

	for n := 0; n < 105; n++ {
		e.clr(e.pins.TDI)
		e.delay(2)
		e.set(e.pins.TDI)
		e.delay(2)
	}

	for n := 0; n < 90; n++ {
		e.clr(e.pins.TCK)
		e.delay(2)
		e.set(e.pins.TCK)
		e.delay(2)
	}

	for n := 0; n < 25600; n++ {
		e.clr(e.pins.TMS)
		e.delay(2)
		e.set(e.pins.TMS)
		e.delay(2)
	}

	e.delay(8)

	e.clr(e.pins.TMS)

	e.mode = ModeICP
	e.startMode()

	for n := 0; n < 25600; n++ {
		e.set(e.pins.TCK)
		e.delay(2)
		e.clr(e.pins.TCK)
		e.delay(2)
	}

	e.reset()

	return true
}

// Disconnect parks the connection in ICP mode rather than dropping it, so a
// host reboot (which holds the TCK pin) does not break the attach and a later
// session can resume without a power cycle. TCK is left low after the ICP
// entry ping.
func (e *Engine) Disconnect() {
	if !e.attached() {
		return
	}
	e.switchMode(ModeICP)
}

// reset settles whichever submode is active back into READY. TCK is left
// high and TMS low; the target drops the attach if TCK falls while idle.
func (e *Engine) reset() {
	if e.mode == ModeError {
		return
	}

	if e.mode == ModeJTAG {
		for n := 0; n < 35; n++ {
			e.nextState(true)
		}

		e.set(e.pins.TCK)

		e.clr(e.pins.TMS)
	} else {
		e.set(e.pins.TCK)

		e.set(e.pins.TMS)
		e.delay(2)
		e.clr(e.pins.TMS)
		e.delay(2)
	}

	e.mode = ModeReady
}

func (e *Engine) switchMode(mode Mode) {
	if e.mode == mode {
		return
	}

	if e.mode != ModeReady {
		e.reset()
	}

	e.mode = mode
	e.startMode()

	if e.mode == ModeICP {
		e.delay(800)

		e.PingICP()
	} else if e.mode == ModeJTAG {
		for n := 0; n < 8; n++ {
			e.nextState(true)
		}

		e.sendInstruction(2)
		e.sendData(4, 4)

		e.sendInstruction(3)
		e.sendData(23, 0x403000)
		e.delay(50)
		e.sendData(23, 0x402000)
		e.sendData(23, 0x400000)

		// breakpoint initialization; some chips work without it
		e.sendData(23, 0x630000)
		e.sendData(23, 0x670000)
		e.sendData(23, 0x6B0000)
		e.sendData(23, 0x6F0000)
		e.sendData(23, 0x730000)
		e.sendData(23, 0x770000)
		e.sendData(23, 0x7B0000)
		e.sendData(23, 0x7F0000)

		e.sendInstruction(2)
		e.sendData(4, 1)

		e.sendInstruction(irPark)
	}
}

// startMode clocks the current mode's magic byte out on TDI, MSB first,
// followed by two idle pulses.
func (e *Engine) startMode() {
	e.clr(e.pins.TCK)
	e.delay(2)

	for m := uint8(0x80); m != 0; m >>= 1 {
		if uint8(e.mode)&m != 0 {
			e.set(e.pins.TDI)
		} else {
			e.clr(e.pins.TDI)
		}

		e.set(e.pins.TCK)
		e.delay(2)
		e.clr(e.pins.TCK)
		e.delay(2)
	}

	for n := 0; n < 2; n++ {
		e.set(e.pins.TCK)
		e.delay(2)
		e.clr(e.pins.TCK)
		e.delay(2)
	}
}

// ReadMethod identifies which flash-read procedure a target answers to.
type ReadMethod uint8

const (
	MethodNone ReadMethod = iota
	MethodICP
	MethodJTAG
)

func (m ReadMethod) String() string {
	switch m {
	case MethodICP:
		return "icp"
	case MethodJTAG:
		return "jtag"
	}
	return "none"
}

// DetectReadMethod probes both read paths with a 4-byte read at address 0
// and reports the first that returns non-blank data. A blank or protected
// flash reads as all zeros on both, which reports MethodNone.
func (e *Engine) DetectReadMethod() ReadMethod {
	if !e.attached() {
		return MethodNone
	}

	var buf [4]byte
	if e.ReadFlashICP(buf[:], 0, false) && !blank(buf[:]) {
		return MethodICP
	}
	if e.ReadFlashJTAG(buf[:], 0, false) && !blank(buf[:]) {
		return MethodJTAG
	}
	return MethodNone
}

func blank(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

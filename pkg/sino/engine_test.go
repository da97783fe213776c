package sino

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sinolink/sinodump/pkg/gpio"
)

func testProfile() ChipProfile {
	return ChipProfile{Type: 2, FlashSize: 32768, ProductBlock: 1, CustomBlock: 3}
}

// newTestEngine returns an engine wired to a simulated target, still in the
// DISCONNECTED state.
func newTestEngine(t *testing.T, profile ChipProfile) (*Engine, *TargetSim) {
	t.Helper()
	if err := profile.Validate(); err != nil {
		t.Fatalf("profile invalid: %v", err)
	}
	pins := DefaultPinMap()
	sim := NewTargetSim(pins)
	return New(sim, pins, profile), sim
}

// connectTestEngine additionally runs the handshake to READY.
func connectTestEngine(t *testing.T, profile ChipProfile) (*Engine, *TargetSim) {
	t.Helper()
	e, sim := newTestEngine(t, profile)
	if !e.Connect() {
		t.Fatalf("Connect returned false")
	}
	if e.Mode() != ModeReady {
		t.Fatalf("mode after Connect = %v, want ready", e.Mode())
	}
	sim.ResetCapture()
	return e, sim
}

func TestConnectPromptAndToggleCounts(t *testing.T) {
	e, sim := newTestEngine(t, testProfile())
	var console bytes.Buffer
	e.SetConsole(&console)

	if !e.Connect() {
		t.Fatalf("Connect returned false")
	}

	if !strings.Contains(console.String(), "Vref") {
		t.Errorf("console output missing Vref prompt: %q", console.String())
	}

	pins := DefaultPinMap()
	// handshake: 1 initial + strobe + 90 calibration + 10 mode magic +
	// 25600 settle + 1 reset
	if got, want := sim.Rises(pins.TCK), 1+1+90+10+25600+1; got != want {
		t.Errorf("TCK rises = %d, want %d", got, want)
	}
	// 1 initial + 165 calibration + 25600 + 1 reset
	if got, want := sim.Rises(pins.TMS), 1+165+25600+1; got != want {
		t.Errorf("TMS rises = %d, want %d", got, want)
	}
	// 1 initial + 105 calibration + 2 within the ICP magic pattern
	if got, want := sim.Rises(pins.TDI), 1+105+2; got != want {
		t.Errorf("TDI rises = %d, want %d", got, want)
	}
}

func TestReadyLeavesClockHigh(t *testing.T) {
	e, sim := connectTestEngine(t, testProfile())
	pins := DefaultPinMap()

	check := func(step string) {
		t.Helper()
		if e.Mode() != ModeReady {
			t.Fatalf("%s: mode = %v, want ready", step, e.Mode())
		}
		if sim.PinRead(pins.TCK) != gpio.High {
			t.Errorf("%s: TCK low in READY", step)
		}
		if sim.PinRead(pins.TMS) != gpio.Low {
			t.Errorf("%s: TMS high in READY", step)
		}
	}
	check("after connect")

	e.switchMode(ModeICP)
	e.reset()
	check("after icp round trip")

	e.switchMode(ModeJTAG)
	e.reset()
	check("after jtag round trip")
}

func TestSendICPDataFraming(t *testing.T) {
	e, sim := connectTestEngine(t, testProfile())
	e.switchMode(ModeICP)
	sim.ResetCapture()
	pins := DefaultPinMap()

	e.sendICPData(0xA5)

	if got := sim.Rises(pins.TCK); got != 9 {
		t.Errorf("TCK pulses per ICP byte = %d, want 9", got)
	}
	if sim.PinRead(pins.TDI) != gpio.Low {
		t.Errorf("TDI not parked low after ICP byte")
	}
}

func TestPulseClockPhases(t *testing.T) {
	e, sim := connectTestEngine(t, testProfile())
	e.switchMode(ModeICP)
	sim.ResetCapture()
	pins := DefaultPinMap()

	e.pulseClock()

	var edges []Transition
	for _, tr := range sim.Transitions() {
		if tr.Pin == pins.TCK {
			edges = append(edges, tr)
		}
	}
	if len(edges) != 2 {
		t.Fatalf("TCK edges = %d, want rise+fall", len(edges))
	}
	if edges[0].Level != gpio.High || edges[1].Level != gpio.Low {
		t.Fatalf("TCK edge order wrong: %+v", edges)
	}
	if dt := edges[1].At - edges[0].At; dt != 1 {
		t.Errorf("TCK high phase = %d us, want 1", dt)
	}
}

func TestShiftPulseCounts(t *testing.T) {
	e, sim := connectTestEngine(t, testProfile())
	e.switchMode(ModeJTAG)
	pins := DefaultPinMap()

	for _, bits := range []int{4, 8, 16, 23} {
		sim.ResetCapture()
		e.sendData(bits, 0)
		if got, want := sim.Rises(pins.TCK), bits+5; got != want {
			t.Errorf("sendData(%d): TCK pulses = %d, want %d", bits, got, want)
		}

		sim.ResetCapture()
		e.receiveData(bits)
		if got, want := sim.Rises(pins.TCK), bits+5; got != want {
			t.Errorf("receiveData(%d): TCK pulses = %d, want %d", bits, got, want)
		}
	}
	e.reset()
}

func TestShiftRoundTrip(t *testing.T) {
	e, _ := connectTestEngine(t, testProfile())
	e.switchMode(ModeJTAG)

	// any instruction outside the known set latches the DR and echoes it
	// back on the next capture
	e.sendInstruction(7)

	cases := map[int][]uint32{
		4:  {0x0, 0x5, 0xF},
		8:  {0x00, 0xA5, 0xFF, 0x01, 0x80},
		16: {0x0000, 0x1234, 0xFFFF, 0x8001},
		23: {0x000000, 0x403000, 0x7FFFFF, 0x400001},
	}
	for bits, values := range cases {
		for _, v := range values {
			e.sendData(bits, v)
			if got := e.receiveData(bits); got != v {
				t.Errorf("round trip %d bits: sent 0x%X, got 0x%X", bits, v, got)
			}
		}
	}
	e.reset()
}

func TestOperationsGatedWhileDisconnected(t *testing.T) {
	e, _ := newTestEngine(t, testProfile())

	if e.CheckICP() {
		t.Errorf("CheckICP succeeded while disconnected")
	}
	if e.CheckJTAG() {
		t.Errorf("CheckJTAG succeeded while disconnected")
	}
	if id := e.GetID(); id != 0 {
		t.Errorf("GetID = 0x%04X while disconnected, want 0", id)
	}
	var buf [4]byte
	if e.ReadFlashICP(buf[:], 0, false) {
		t.Errorf("ReadFlashICP succeeded while disconnected")
	}
	if e.ReadFlashJTAG(buf[:], 0, false) {
		t.Errorf("ReadFlashJTAG succeeded while disconnected")
	}
	if m := e.DetectReadMethod(); m != MethodNone {
		t.Errorf("DetectReadMethod = %v while disconnected, want none", m)
	}
	if e.Mode() != ModeDisconnected {
		t.Errorf("mode drifted to %v", e.Mode())
	}
}

func TestDisconnectParksInICP(t *testing.T) {
	e, _ := connectTestEngine(t, testProfile())
	e.Disconnect()
	if e.Mode() != ModeICP {
		t.Errorf("mode after Disconnect = %v, want icp", e.Mode())
	}
}

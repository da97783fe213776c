package gpio

import (
	"github.com/stianeikeland/go-rpio/v4"
)

// RPIODriver drives Raspberry Pi GPIO through /dev/gpiomem register access.
// Pin numbers are BCM numbers.
type RPIODriver struct{}

// NewRPIODriver maps the GPIO registers.
func NewRPIODriver() (*RPIODriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, err
	}
	return &RPIODriver{}, nil
}

func (d *RPIODriver) PinOutput(pin Pin) {
	rpio.PinMode(rpio.Pin(pin), rpio.Output)
}

func (d *RPIODriver) PinInput(pin Pin) {
	rpio.PinMode(rpio.Pin(pin), rpio.Input)
}

func (d *RPIODriver) PinWrite(pin Pin, level Level) {
	if level == High {
		rpio.WritePin(rpio.Pin(pin), rpio.High)
	} else {
		rpio.WritePin(rpio.Pin(pin), rpio.Low)
	}
}

func (d *RPIODriver) PinRead(pin Pin) Level {
	return rpio.ReadPin(rpio.Pin(pin)) == rpio.High
}

func (d *RPIODriver) Delay(us int) {
	BusyDelay(us)
}

func (d *RPIODriver) Close() error {
	return rpio.Close()
}

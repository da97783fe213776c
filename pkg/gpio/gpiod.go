package gpio

import (
	"fmt"

	"github.com/warthog618/gpiod"
)

// GpiodDriver drives pins through the Linux GPIO character device. Works on
// any /dev/gpiochipN, not just the Pi, at the cost of a syscall per edge —
// fine for this protocol's 2 µs phases on anything faster than a toaster.
type GpiodDriver struct {
	chip  *gpiod.Chip
	lines map[Pin]*gpiod.Line
}

// NewGpiodDriver opens the named chip, e.g. "gpiochip0".
func NewGpiodDriver(chip string) (*GpiodDriver, error) {
	c, err := gpiod.NewChip(chip, gpiod.WithConsumer("sinodump"))
	if err != nil {
		return nil, fmt.Errorf("gpio: open %s: %w", chip, err)
	}
	return &GpiodDriver{chip: c, lines: make(map[Pin]*gpiod.Line)}, nil
}

func (d *GpiodDriver) request(pin Pin, opts ...gpiod.LineReqOption) *gpiod.Line {
	if l, ok := d.lines[pin]; ok {
		l.Close()
		delete(d.lines, pin)
	}
	l, err := d.chip.RequestLine(int(pin), opts...)
	if err != nil {
		panic(fmt.Sprintf("gpio: request line %d: %v", pin, err))
	}
	d.lines[pin] = l
	return l
}

func (d *GpiodDriver) PinOutput(pin Pin) {
	d.request(pin, gpiod.AsOutput(0))
}

func (d *GpiodDriver) PinInput(pin Pin) {
	d.request(pin, gpiod.AsInput)
}

func (d *GpiodDriver) PinWrite(pin Pin, level Level) {
	l, ok := d.lines[pin]
	if !ok {
		l = d.request(pin, gpiod.AsOutput(0))
	}
	v := 0
	if level == High {
		v = 1
	}
	l.SetValue(v)
}

func (d *GpiodDriver) PinRead(pin Pin) Level {
	l, ok := d.lines[pin]
	if !ok {
		l = d.request(pin, gpiod.AsInput)
	}
	v, err := l.Value()
	if err != nil {
		panic(fmt.Sprintf("gpio: read line %d: %v", pin, err))
	}
	return v != 0
}

func (d *GpiodDriver) Delay(us int) {
	BusyDelay(us)
}

func (d *GpiodDriver) Close() error {
	for _, l := range d.lines {
		l.Close()
	}
	d.lines = map[Pin]*gpiod.Line{}
	return d.chip.Close()
}

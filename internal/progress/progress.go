// Package progress renders a single-line transfer progress bar.
package progress

import (
	"fmt"
	"io"
	"strings"
)

const width = 50

// Bar redraws itself in place on every update.
type Bar struct {
	w     io.Writer
	total int
}

// New creates a bar for total units written to w.
func New(w io.Writer, total int) *Bar {
	return &Bar{w: w, total: total}
}

// Update redraws the bar at the given position.
func (b *Bar) Update(current int) {
	percent := 0.0
	if b.total > 0 {
		percent = float64(current) / float64(b.total)
	}
	filled := int(width * percent)
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	fmt.Fprintf(b.w, "\r[%s] %5.1f%% (%d/%d bytes)", bar, percent*100, current, b.total)
}

// Done terminates the bar's line.
func (b *Bar) Done() {
	fmt.Fprintln(b.w)
}

package office

import (
	"fmt"
	"time"
)

// Display is an optional Xvfb session for the office process. A disabled
// display turns every call into a no-op.
type Display struct {
	enabled bool
	binary  string
	number  int
	proc    daemon
}

// NewDisplay returns a display on :number.
func NewDisplay(enabled bool, binary string, number int) *Display {
	if binary == "" {
		binary = "Xvfb"
	}
	return &Display{enabled: enabled, binary: binary, number: number, proc: daemon{name: "xvfb"}}
}

func (d *Display) Enabled() bool { return d != nil && d.enabled }

// Name is the DISPLAY value, e.g. ":99".
func (d *Display) Name() string { return fmt.Sprintf(":%d", d.number) }

func (d *Display) Status() bool {
	if !d.Enabled() {
		return true
	}
	return d.proc.running()
}

func (d *Display) Start() error {
	if !d.Enabled() || d.proc.running() {
		return nil
	}
	return d.proc.start([]string{d.binary, d.Name(), "-screen", "0", "1024x768x24", "-nolisten", "tcp"}, nil)
}

func (d *Display) Restart() error {
	if !d.Enabled() {
		return nil
	}
	d.proc.stop(2 * time.Second)
	return d.Start()
}

func (d *Display) Stop() {
	if !d.Enabled() {
		return
	}
	d.proc.stop(2 * time.Second)
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
)

// Actuator wraps a digital output (relay or buzzer) with set and pulse
// helpers.  It holds no state of its own beyond the pin.
type Actuator struct {
	out   DigitalOutput
	clock clockwork.Clock
}

// NewActuator returns an Actuator driving out.  Hold times are measured on
// clock.
func NewActuator(out DigitalOutput, clock clockwork.Clock) *Actuator {
	return &Actuator{out: out, clock: clock}
}

// Name returns the underlying pin name.
func (a *Actuator) Name() string { return a.out.Name() }

// Set drives the output high (on) or low (off).
func (a *Actuator) Set(on bool) error {
	if err := a.out.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("%w: set %s %v: %v", ErrHardwareFault, a.out.Name(), on, err)
	}
	return nil
}

// On reports whether the output is currently high.
func (a *Actuator) On() bool {
	return a.out.Read() == gpio.High
}

// Pulse sets the output high, holds it for d and sets it low again.  It
// occupies the caller for the full hold.  If ctx is cancelled the output is
// released early and ctx.Err() is returned; the output always ends low.
func (a *Actuator) Pulse(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.Set(true); err != nil {
		// Best effort: never leave a half-driven line energised.
		_ = a.out.Out(gpio.Low)
		return err
	}
	var waitErr error
	select {
	case <-a.clock.After(d):
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if err := a.Set(false); err != nil {
		return err
	}
	return waitErr
}

// BuzzPattern is a named buzzer pulse length.
type BuzzPattern int

const (
	BuzzShort BuzzPattern = iota
	BuzzLong
)

func (p BuzzPattern) String() string {
	if p == BuzzLong {
		return "long"
	}
	return "short"
}

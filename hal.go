package main

// This file defines a small hardware abstraction layer (HAL) for GPIO access.
// The controller only sees DigitalInput and DigitalOutput; periph pins satisfy
// both directly (see hal_rpi.go).  SimPin is an in-memory pin used by
// `run --simulate` and by the tests so that the whole system can run on a
// desktop machine without Raspberry Pi hardware.

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// DigitalInput is an edge-detecting input line.  WaitForEdge blocks until a
// configured edge occurs or timeout elapses and reports which happened.
type DigitalInput interface {
	Name() string
	WaitForEdge(timeout time.Duration) bool
	Halt() error
}

// DigitalOutput drives a single binary output line.
type DigitalOutput interface {
	Name() string
	Out(l gpio.Level) error
	Read() gpio.Level
	Halt() error
}

// Hardware bundles the five lines the system uses.
type Hardware struct {
	FaceTrigger DigitalInput
	Reset       DigitalInput
	Shutdown    DigitalInput
	Relay       DigitalOutput
	Buzzer      DigitalOutput

	// Simulated is true when the lines are SimPins.
	Simulated bool

	releaseOnce sync.Once
	releaseErr  error
}

// Inputs returns the input lines keyed by the channel they serve.
func (h *Hardware) Inputs() map[Input]DigitalInput {
	return map[Input]DigitalInput{
		InputFaceTrigger: h.FaceTrigger,
		InputReset:       h.Reset,
		InputShutdown:    h.Shutdown,
	}
}

// Release drives both outputs low and halts every line.  It runs once; later
// calls return the first result.  Errors from individual lines are joined so
// that one failing pin does not leave the others energised.
func (h *Hardware) Release() error {
	h.releaseOnce.Do(func() {
		var errs []error
		for _, out := range []DigitalOutput{h.Relay, h.Buzzer} {
			if out == nil {
				continue
			}
			if err := out.Out(gpio.Low); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s low: %v", ErrHardwareFault, out.Name(), err))
			}
			if err := out.Halt(); err != nil {
				errs = append(errs, fmt.Errorf("%w: halt %s: %v", ErrHardwareFault, out.Name(), err))
			}
		}
		for _, in := range []DigitalInput{h.FaceTrigger, h.Reset, h.Shutdown} {
			if in == nil {
				continue
			}
			if err := in.Halt(); err != nil {
				errs = append(errs, fmt.Errorf("%w: halt %s: %v", ErrHardwareFault, in.Name(), err))
			}
		}
		h.releaseErr = errors.Join(errs...)
	})
	return h.releaseErr
}

// SimPin is an in-memory GPIO line.  As an input it delivers edges injected
// with Trigger; as an output it records every level written.  It is safe for
// concurrent use.
type SimPin struct {
	name  string
	edges chan struct{}

	mu      sync.Mutex
	level   gpio.Level
	history []gpio.Level
	halted  bool
	fault   error
}

// NewSimPin creates a simulated pin.  Up to 16 injected edges are buffered.
func NewSimPin(name string) *SimPin {
	return &SimPin{name: name, edges: make(chan struct{}, 16)}
}

// NewSimHardware builds a Hardware made entirely of SimPins.
func NewSimHardware() *Hardware {
	return &Hardware{
		FaceTrigger: NewSimPin("SIM_FACE"),
		Reset:       NewSimPin("SIM_RESET"),
		Shutdown:    NewSimPin("SIM_SHUTDOWN"),
		Relay:       NewSimPin("SIM_RELAY"),
		Buzzer:      NewSimPin("SIM_BUZZER"),
		Simulated:   true,
	}
}

func (p *SimPin) Name() string { return p.name }

// Trigger injects one rising edge.  It reports false if the edge buffer is
// full and the edge was dropped.
func (p *SimPin) Trigger() bool {
	select {
	case p.edges <- struct{}{}:
		return true
	default:
		return false
	}
}

// WaitForEdge implements DigitalInput.
func (p *SimPin) WaitForEdge(timeout time.Duration) bool {
	if timeout < 0 {
		<-p.edges
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.edges:
		return true
	case <-t.C:
		return false
	}
}

// Out implements DigitalOutput.  A fault set with SetFault is returned
// instead of changing the level.
func (p *SimPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fault != nil {
		return p.fault
	}
	p.level = l
	p.history = append(p.history, l)
	return nil
}

// Read returns the last level written.
func (p *SimPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Halt marks the pin released.
func (p *SimPin) Halt() error {
	p.mu.Lock()
	p.halted = true
	p.mu.Unlock()
	return nil
}

// Halted reports whether Halt has been called.
func (p *SimPin) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// History returns a copy of every level written so far.
func (p *SimPin) History() []gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gpio.Level(nil), p.history...)
}

// SetFault makes subsequent Out calls fail with err (nil clears it).
func (p *SimPin) SetFault(err error) {
	p.mu.Lock()
	p.fault = err
	p.mu.Unlock()
}

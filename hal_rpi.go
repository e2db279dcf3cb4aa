//go:build !disablegpio

// This file provides the Raspberry Pi implementation of the HAL using the
// periph.io library.  Build with the tag "disablegpio" to drop the periph
// host drivers; hal_nogpio.go is used instead and only --simulate works.

package main

import (
	"fmt"

	// Use the new periph module layout.  See https://periph.io/news/2020/a_new_start/
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// openHardware initialises the periph host and configures the five lines.
// Buttons are pulled down and report rising edges; outputs start low.
func openHardware(pins PinConfig) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: periph host init: %v", ErrHardwareFault, err)
	}
	input := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: no GPIO pin named %q", ErrHardwareFault, name)
		}
		if err := p.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			return nil, fmt.Errorf("%w: configure input %s: %v", ErrHardwareFault, name, err)
		}
		return p, nil
	}
	output := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: no GPIO pin named %q", ErrHardwareFault, name)
		}
		if err := p.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("%w: configure output %s: %v", ErrHardwareFault, name, err)
		}
		return p, nil
	}

	hw := &Hardware{}
	var err error
	if hw.FaceTrigger, err = input(pins.FaceTrigger); err != nil {
		return nil, err
	}
	if hw.Reset, err = input(pins.Reset); err != nil {
		return nil, err
	}
	if hw.Shutdown, err = input(pins.Shutdown); err != nil {
		return nil, err
	}
	if hw.Relay, err = output(pins.Relay); err != nil {
		return nil, err
	}
	if hw.Buzzer, err = output(pins.Buzzer); err != nil {
		return nil, err
	}
	return hw, nil
}

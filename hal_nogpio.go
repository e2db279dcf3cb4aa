//go:build disablegpio

package main

import "fmt"

// openHardware is unavailable in builds without periph; use --simulate.
func openHardware(pins PinConfig) (*Hardware, error) {
	return nil, fmt.Errorf("%w: built with disablegpio, run with --simulate", ErrHardwareFault)
}

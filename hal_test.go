package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

func TestHardware_ReleaseDrivesOutputsLowAndHalts(t *testing.T) {
	hw := NewSimHardware()
	require.NoError(t, hw.Relay.Out(gpio.High))
	require.NoError(t, hw.Buzzer.Out(gpio.High))

	require.NoError(t, hw.Release())
	for _, out := range []DigitalOutput{hw.Relay, hw.Buzzer} {
		require.Equal(t, gpio.Low, out.Read(), out.Name())
	}
	for _, pin := range []any{hw.FaceTrigger, hw.Reset, hw.Shutdown, hw.Relay, hw.Buzzer} {
		require.True(t, pin.(*SimPin).Halted())
	}
	require.NoError(t, hw.Release())
}

func TestHardware_ReleaseContinuesPastFault(t *testing.T) {
	hw := NewSimHardware()
	hw.Relay.(*SimPin).SetFault(errors.New("stuck"))
	require.NoError(t, hw.Buzzer.Out(gpio.High))

	err := hw.Release()
	require.ErrorIs(t, err, ErrHardwareFault)
	require.Equal(t, gpio.Low, hw.Buzzer.Read())
	require.True(t, hw.Shutdown.(*SimPin).Halted())
	require.Equal(t, err, hw.Release())
}

func TestSimPin_Edges(t *testing.T) {
	pin := NewSimPin("SIM")
	require.False(t, pin.WaitForEdge(time.Millisecond))
	require.True(t, pin.Trigger())
	require.True(t, pin.WaitForEdge(time.Second))

	for i := 0; i < cap(pin.edges); i++ {
		require.True(t, pin.Trigger())
	}
	require.False(t, pin.Trigger())
}

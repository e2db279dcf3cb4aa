package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultDebounce is the minimum spacing between two accepted edges on the
// same input.
const DefaultDebounce = 500 * time.Millisecond

// edgePollInterval bounds how long a watcher blocks in WaitForEdge before it
// re-checks for cancellation.
const edgePollInterval = 250 * time.Millisecond

// EventSource watches the three button inputs and delivers one notification
// per qualifying edge.  Edges closer than the debounce window to the last
// accepted edge on the same input are dropped as switch bounce.
type EventSource struct {
	inputs   map[Input]DigitalInput
	debounce time.Duration
	log      *logrus.Logger
}

// NewEventSource watches inputs.  A non-positive debounce selects
// DefaultDebounce.
func NewEventSource(inputs map[Input]DigitalInput, debounce time.Duration, log *logrus.Logger) *EventSource {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &EventSource{inputs: inputs, debounce: debounce, log: log}
}

// Run starts one watcher per input and blocks until ctx is cancelled.
// handle is invoked from the watcher goroutines, once per accepted edge.
func (es *EventSource) Run(ctx context.Context, handle func(Input)) {
	var wg sync.WaitGroup
	for in, pin := range es.inputs {
		if pin == nil {
			continue
		}
		wg.Add(1)
		go func(in Input, pin DigitalInput) {
			defer wg.Done()
			es.watch(ctx, in, pin, handle)
		}(in, pin)
	}
	wg.Wait()
}

func (es *EventSource) watch(ctx context.Context, in Input, pin DigitalInput, handle func(Input)) {
	gate := &rate.Sometimes{Interval: es.debounce}
	entry := es.log.WithFields(logrus.Fields{"input": in.String(), "pin": pin.Name()})
	entry.Debug("watching input")
	for ctx.Err() == nil {
		if !pin.WaitForEdge(edgePollInterval) {
			continue
		}
		accepted := false
		gate.Do(func() { accepted = true })
		if !accepted {
			entry.Debug("edge suppressed by debounce")
			continue
		}
		entry.Debug("edge")
		handle(in)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Defaults for ControllerSettings.
const (
	DefaultMaxAttempts  = 3
	DefaultLockDuration = 300 * time.Second
	DefaultRelayHold    = 5 * time.Second
	DefaultShortBuzz    = 500 * time.Millisecond
	DefaultLongBuzz     = 2 * time.Second
)

// ControllerSettings are the security policy knobs.  Zero fields take the
// defaults above.
type ControllerSettings struct {
	MaxAttempts  int
	LockDuration time.Duration
	RelayHold    time.Duration
	ShortBuzz    time.Duration
	LongBuzz     time.Duration
}

func (s ControllerSettings) withDefaults() ControllerSettings {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.LockDuration <= 0 {
		s.LockDuration = DefaultLockDuration
	}
	if s.RelayHold <= 0 {
		s.RelayHold = DefaultRelayHold
	}
	if s.ShortBuzz <= 0 {
		s.ShortBuzz = DefaultShortBuzz
	}
	if s.LongBuzz <= 0 {
		s.LongBuzz = DefaultLongBuzz
	}
	return s
}

// ControllerDeps are the collaborators the controller drives.
type ControllerDeps struct {
	Face     FaceAuthenticator
	Operator Operator
	Password PasswordChecker
	Relay    *Actuator
	Buzzer   *Actuator
	Clock    clockwork.Clock
	Logger   *logrus.Logger
	Events   *EventLogger
	Alerts   []AlertHandler
}

type eventKind int

const (
	evInput eventKind = iota
	evVerdict
	evRetryAnswer
	evPassword
	evActuated
	evLockExpired
	evShutdownAnswer
)

func (k eventKind) String() string {
	return [...]string{"input", "verdict", "retry-answer", "password", "actuated", "lock-expired", "shutdown-answer"}[k]
}

// event is the single message type of the controller queue.  gen ties a step
// result to the workflow (or lockout) that started it.
type event struct {
	kind    eventKind
	input   Input
	gen     uint64
	verdict Verdict
	answer  string
	ok      bool
	err     error
}

// Controller is the access-control state machine.  All security state is
// mutated by the goroutine executing Run, one event at a time.  Slow work
// (face requests, operator prompts, actuator pulses) runs in step goroutines
// that post their result back to the queue, so a reset or shutdown is always
// handled promptly.  At most one authentication workflow is active.
type Controller struct {
	settings ControllerSettings
	face     FaceAuthenticator
	operator Operator
	password PasswordChecker
	relay    *Actuator
	buzzer   *Actuator
	clock    clockwork.Clock
	log      *logrus.Logger
	events   *EventLogger
	alerts   []AlertHandler

	queue chan event
	done  chan struct{}
	steps sync.WaitGroup

	// mu guards the snapshot fields for Status; only Run writes them.
	mu          sync.RWMutex
	state       State
	locked      bool
	attempts    int
	lockedUntil time.Time
	busy        bool

	// Owned by Run.
	runCtx     context.Context
	workCtx    context.Context
	cancelWork context.CancelFunc
	workflow   string
	gen        uint64
	lockTimer  clockwork.Timer
	lockSeq    uint64
	confirming bool
}

// NewController builds a controller in Idle with zero attempts.
func NewController(settings ControllerSettings, deps ControllerDeps) *Controller {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Controller{
		settings: settings.withDefaults(),
		face:     deps.Face,
		operator: deps.Operator,
		password: deps.Password,
		relay:    deps.Relay,
		buzzer:   deps.Buzzer,
		clock:    deps.Clock,
		log:      deps.Logger,
		events:   deps.Events,
		alerts:   deps.Alerts,
		queue:    make(chan event, 32),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
}

// Post delivers a button event.  It blocks while the queue is full and
// returns false once the controller has stopped.
func (c *Controller) Post(in Input) bool {
	return c.post(event{kind: evInput, input: in})
}

func (c *Controller) post(ev event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- ev:
		return true
	case <-c.done:
		return false
	}
}

// Status returns a snapshot of the security state and output levels.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		State:       c.state,
		Locked:      c.locked,
		Attempts:    c.attempts,
		MaxAttempts: c.settings.MaxAttempts,
		LockedUntil: c.lockedUntil,
		Busy:        c.busy,
		Relay:       c.relay.On(),
		Buzzer:      c.buzzer.On(),
	}
}

// Run processes events until ctx is cancelled (returning nil) or an
// emergency shutdown is confirmed (returning ErrShutdown).  On return any
// workflow in progress is cancelled, the lockout timer is stopped and the
// relay is forced off.  Run must be called at most once.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	c.runCtx = runCtx
	defer func() {
		c.stopAll()
		cancelRun()
		close(c.done)
		c.steps.Wait()
	}()

	c.status("security system initialized (max attempts %d, lockout %s)", c.settings.MaxAttempts, c.settings.LockDuration)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.queue:
			if err := c.handle(ev); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) handle(ev event) error {
	switch ev.kind {
	case evInput:
		switch ev.input {
		case InputFaceTrigger:
			c.onFaceTrigger()
		case InputReset:
			c.status("system reset triggered")
			c.resetSystem()
		case InputShutdown:
			c.onShutdownRequest()
		}
		return nil
	case evShutdownAnswer:
		return c.onShutdownAnswer(ev)
	case evLockExpired:
		c.onLockExpired(ev)
		return nil
	}

	if c.workflow == "" || ev.gen != c.gen {
		c.log.WithField("event", ev.kind.String()).Debug("dropping result of cancelled workflow")
		return nil
	}
	switch ev.kind {
	case evVerdict:
		c.onVerdict(ev)
	case evRetryAnswer:
		c.onRetryAnswer(ev)
	case evPassword:
		c.onPassword(ev)
	case evActuated:
		c.endWorkflow()
	}
	return nil
}

func (c *Controller) onFaceTrigger() {
	if c.locked {
		c.entry().WithError(ErrLockoutActive).Warn("face trigger ignored")
		c.record("face trigger ignored: system is locked, reset required")
		return
	}
	if c.workflow != "" {
		c.entry().Info("face trigger ignored")
		c.record("face trigger ignored: authentication already in progress")
		return
	}
	c.beginWorkflow()
	c.setState(StateAwaitingFaceResult)
	c.status("face recognition request received")
	c.requestFace()
}

func (c *Controller) requestFace() {
	c.spawn(func(ctx context.Context) event {
		v, err := c.face.RequestFaceUnlock(ctx)
		return event{kind: evVerdict, verdict: v, err: err}
	})
}

func (c *Controller) onVerdict(ev event) {
	switch ev.verdict {
	case VerdictSuccess:
		c.status("face recognized successfully")
		c.grantAccess(false)
	case VerdictFailure:
		c.status("face not recognized")
		c.spawn(func(ctx context.Context) event {
			answer, err := c.operator.Ask(ctx, "Retry face recognition? (y/n): ")
			return event{kind: evRetryAnswer, answer: answer, err: err}
		})
	default:
		err := ev.err
		if err == nil {
			err = ErrRemoteAuth
		}
		c.entry().WithError(err).Warn("face recognition unavailable")
		c.setState(StateIdle)
		c.endWorkflow()
		c.status("face recognition error, no attempt charged: %v", err)
	}
}

func (c *Controller) onRetryAnswer(ev event) {
	if ev.err != nil {
		c.operatorUnavailable(ev.err)
		return
	}
	if isYes(ev.answer) {
		c.status("retrying face recognition")
		c.requestFace()
		return
	}
	c.passwordFallback()
}

func (c *Controller) passwordFallback() {
	if c.attempts >= c.settings.MaxAttempts {
		c.lockout(c.attempts, false)
		return
	}
	c.setState(StateAwaitingPassword)
	c.status("requesting password authentication")
	c.askPassword(false)
}

// askPassword prompts for the password and checks it off the event loop, so
// the bcrypt comparison never delays a reset.  A short buzz acknowledging the
// previous wrong entry is played first when buzzFirst is set.
func (c *Controller) askPassword(buzzFirst bool) {
	c.spawn(func(ctx context.Context) event {
		if buzzFirst {
			c.pulse(ctx, c.buzzer, c.settings.ShortBuzz)
		}
		pw, err := c.operator.AskSecret(ctx, "Enter password: ")
		if err != nil {
			return event{kind: evPassword, err: err}
		}
		return event{kind: evPassword, ok: c.password.Check(pw)}
	})
}

func (c *Controller) onPassword(ev event) {
	if ev.err != nil {
		c.operatorUnavailable(ev.err)
		return
	}
	if ev.ok {
		c.status("password accepted")
		c.grantAccess(true)
		return
	}
	attempts := c.attempts + 1
	c.entry().WithError(ErrAuthenticationFailure).WithField("attempts", attempts).Warn("incorrect password")
	if attempts >= c.settings.MaxAttempts {
		c.record("incorrect password (attempt %d of %d)", attempts, c.settings.MaxAttempts)
		c.lockout(attempts, true)
		return
	}
	c.mu.Lock()
	c.attempts = attempts
	c.mu.Unlock()
	c.status("incorrect password (attempt %d of %d)", attempts, c.settings.MaxAttempts)
	c.askPassword(true)
}

// grantAccess clears the attempt counter and pulses the relay, preceded by a
// short buzz for password unlocks.
func (c *Controller) grantAccess(buzz bool) {
	c.mu.Lock()
	c.attempts = 0
	c.state = StateIdle
	c.mu.Unlock()
	c.status("access granted, unlocking ignition for %s", c.settings.RelayHold)
	c.spawn(func(ctx context.Context) event {
		if buzz {
			c.pulse(ctx, c.buzzer, c.settings.ShortBuzz)
		}
		c.pulse(ctx, c.relay, c.settings.RelayHold)
		return event{kind: evActuated}
	})
}

// lockout enters Locked with the given attempt count in one step, starts the
// lockout timer and sounds the long buzz.
func (c *Controller) lockout(attempts int, shortBuzzFirst bool) {
	until := c.clock.Now().Add(c.settings.LockDuration)
	c.mu.Lock()
	c.attempts = attempts
	c.locked = true
	c.state = StateLocked
	c.lockedUntil = until
	c.mu.Unlock()

	c.lockSeq++
	seq := c.lockSeq
	c.lockTimer = c.clock.AfterFunc(c.settings.LockDuration, func() {
		c.post(event{kind: evLockExpired, gen: seq})
	})
	msg := fmt.Sprintf("system locked due to multiple failed attempts, locked for %s", c.settings.LockDuration)
	c.entry().WithError(ErrLockoutActive).Warn(msg)
	c.record("%s", msg)
	go c.sendAlerts(Alert{Kind: AlertLockout, Message: msg, At: c.clock.Now()})

	c.spawn(func(ctx context.Context) event {
		if shortBuzzFirst {
			c.pulse(ctx, c.buzzer, c.settings.ShortBuzz)
		}
		c.pulse(ctx, c.buzzer, c.settings.LongBuzz)
		return event{kind: evActuated}
	})
}

func (c *Controller) onLockExpired(ev event) {
	if !c.locked || ev.gen != c.lockSeq {
		return
	}
	c.lockTimer = nil
	c.status("lock duration elapsed")
	c.resetSystem()
}

// resetSystem returns to Idle from any state: the active workflow and the
// lockout timer are cancelled, the counters cleared and the relay forced off.
func (c *Controller) resetSystem() {
	c.endWorkflow()
	c.stopLockTimer()
	c.mu.Lock()
	c.state = StateIdle
	c.locked = false
	c.attempts = 0
	c.lockedUntil = time.Time{}
	c.mu.Unlock()
	if err := c.relay.Set(false); err != nil {
		c.entry().WithError(err).Error("relay release failed")
		c.record("relay release failed: %v", err)
	}
	c.status("system reset")
}

func (c *Controller) onShutdownRequest() {
	if c.confirming {
		c.log.Debug("shutdown confirmation already pending")
		return
	}
	c.confirming = true
	c.status("emergency shutdown requested, awaiting confirmation")
	ctx := c.runCtx
	c.steps.Add(1)
	go func() {
		defer c.steps.Done()
		answer, err := c.operator.Ask(ctx, "Are you sure you want to shut down? (yes/no): ")
		c.post(event{kind: evShutdownAnswer, answer: answer, err: err})
	}()
}

func (c *Controller) onShutdownAnswer(ev event) error {
	c.confirming = false
	if ev.err != nil {
		c.entry().WithError(ev.err).Warn("shutdown confirmation unavailable")
		c.record("emergency shutdown canceled: %v", ev.err)
		return nil
	}
	if strings.ToLower(strings.TrimSpace(ev.answer)) != "yes" {
		c.status("emergency shutdown canceled")
		return nil
	}
	c.status("emergency shutdown initiated")
	c.stopAll()
	c.sendAlerts(Alert{Kind: AlertShutdown, Message: "emergency shutdown confirmed by operator", At: c.clock.Now()})
	return ErrShutdown
}

// stopAll cancels everything in flight and forces both outputs off.
func (c *Controller) stopAll() {
	c.endWorkflow()
	c.stopLockTimer()
	for _, a := range []*Actuator{c.relay, c.buzzer} {
		if err := a.Set(false); err != nil {
			c.entry().WithError(err).Error("output release failed")
		}
	}
}

func (c *Controller) operatorUnavailable(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.entry().WithError(err).Warn("operator input unavailable")
	c.setState(StateIdle)
	c.endWorkflow()
	c.status("authentication abandoned, operator input unavailable: %v", err)
}

func (c *Controller) beginWorkflow() {
	c.gen++
	c.workCtx, c.cancelWork = context.WithCancel(c.runCtx)
	c.workflow = uuid.NewString()
	c.mu.Lock()
	c.busy = true
	c.mu.Unlock()
}

func (c *Controller) endWorkflow() {
	if c.cancelWork != nil {
		c.cancelWork()
		c.cancelWork = nil
	}
	c.workflow = ""
	c.gen++
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Controller) stopLockTimer() {
	if c.lockTimer != nil {
		c.lockTimer.Stop()
		c.lockTimer = nil
	}
	c.lockSeq++
}

// spawn runs one workflow step in its own goroutine and posts its result,
// stamped with the current generation, back to the queue.
func (c *Controller) spawn(step func(ctx context.Context) event) {
	ctx, gen := c.workCtx, c.gen
	c.steps.Add(1)
	go func() {
		defer c.steps.Done()
		ev := step(ctx)
		ev.gen = gen
		c.post(ev)
	}()
}

// pulse drives a, reporting hardware faults.  Cancellation is not a fault.
func (c *Controller) pulse(ctx context.Context, a *Actuator, d time.Duration) {
	if err := a.Pulse(ctx, d); err != nil && ctx.Err() == nil {
		c.entry().WithError(err).WithField("output", a.Name()).Error("actuator pulse failed")
		c.record("%s pulse failed: %v", a.Name(), err)
	}
}

func (c *Controller) sendAlerts(alert Alert) {
	for _, h := range c.alerts {
		if err := h.Send(alert, c.events); err != nil {
			c.log.WithError(err).WithField("handler", h.Name()).Error("alert delivery failed")
		}
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// entry returns a log entry carrying the current state.  Step goroutines may
// call it; the snapshot is read under mu.
func (c *Controller) entry() *logrus.Entry {
	c.mu.RLock()
	fields := logrus.Fields{"state": c.state.String(), "attempts": c.attempts}
	c.mu.RUnlock()
	return c.log.WithFields(fields)
}

// status emits a human-readable transition message to both logs.
func (c *Controller) status(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e := c.entry()
	if c.workflow != "" {
		e = e.WithField("workflow", c.workflow)
	}
	e.Info(msg)
	c.record("%s", msg)
}

// record writes only to the event log.
func (c *Controller) record(format string, args ...any) {
	if c.events != nil {
		c.events.Log(format, args...)
	}
}

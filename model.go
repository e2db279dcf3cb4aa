package main

import (
	"fmt"
	"time"
)

// State enumerates the access controller's authentication states.
type State int

const (
	StateIdle State = iota
	StateAwaitingFaceResult
	StateAwaitingPassword
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingFaceResult:
		return "AwaitingFaceResult"
	case StateAwaitingPassword:
		return "AwaitingPassword"
	case StateLocked:
		return "Locked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name in API responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Verdict is the outcome of a single remote face-unlock attempt.  The zero
// value is VerdictError so that anything the client cannot classify is never
// mistaken for a judgment.
type Verdict int

const (
	VerdictError Verdict = iota
	VerdictSuccess
	VerdictFailure
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "SUCCESS"
	case VerdictFailure:
		return "FAILURE"
	default:
		return "ERROR"
	}
}

// Input identifies one of the three push-button channels.
type Input int

const (
	InputFaceTrigger Input = iota
	InputReset
	InputShutdown
)

func (i Input) String() string {
	switch i {
	case InputFaceTrigger:
		return "face"
	case InputReset:
		return "reset"
	case InputShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("input(%d)", int(i))
	}
}

// ParseInput maps the API name of an input ("face", "reset", "shutdown") back
// to its Input value.
func ParseInput(name string) (Input, error) {
	for _, in := range []Input{InputFaceTrigger, InputReset, InputShutdown} {
		if in.String() == name {
			return in, nil
		}
	}
	return 0, fmt.Errorf("unknown input %q", name)
}

// Status is a point-in-time snapshot of the controller's security state.
type Status struct {
	State       State     `json:"state"`
	Locked      bool      `json:"locked"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LockedUntil time.Time `json:"locked_until"`
	// Busy is true while an authentication workflow (including its
	// actuator pulses) is running.
	Busy   bool `json:"busy"`
	Relay  bool `json:"relay"`
	Buzzer bool `json:"buzzer"`
}

// User represents an account that can log in to the admin API.
// Passwords are stored as bcrypt hashes.
type User struct {
	Username     string `toml:"username" yaml:"username" json:"username"`
	PasswordHash string `toml:"password_hash" yaml:"password_hash" json:"password_hash"`
	Admin        bool   `toml:"admin" yaml:"admin" json:"admin"`
}

// PinConfig names the GPIO lines by their periph names (BCM numbering, e.g.
// "GPIO16").
type PinConfig struct {
	FaceTrigger string `toml:"face_trigger" yaml:"face_trigger" json:"face_trigger"`
	Reset       string `toml:"reset" yaml:"reset" json:"reset"`
	Shutdown    string `toml:"shutdown" yaml:"shutdown" json:"shutdown"`
	Relay       string `toml:"relay" yaml:"relay" json:"relay"`
	Buzzer      string `toml:"buzzer" yaml:"buzzer" json:"buzzer"`
}

// FaceServiceConfig locates the remote face-recognition service.
type FaceServiceConfig struct {
	URL         string `toml:"url" yaml:"url" json:"url"`
	TimeoutSecs int    `toml:"timeout_secs" yaml:"timeout_secs" json:"timeout_secs"`
}

// LogConfig controls the operational log and the event log file.
type LogConfig struct {
	Level     string `toml:"level" yaml:"level" json:"level"`
	Format    string `toml:"format" yaml:"format" json:"format"` // "text" or "json"
	EventFile string `toml:"event_file" yaml:"event_file" json:"event_file"`
}

// AdminConfig configures the optional admin HTTP API.  An empty Listen
// disables it.  When both CertFile and KeyFile are set the API is served over
// TLS.
type AdminConfig struct {
	Listen   string `toml:"listen" yaml:"listen" json:"listen"`
	CertFile string `toml:"cert_file" yaml:"cert_file" json:"cert_file"`
	KeyFile  string `toml:"key_file" yaml:"key_file" json:"key_file"`
	Users    []User `toml:"users" yaml:"users" json:"users"`
}

// AlertConfig describes one alert handler.  Type is "log" or "email"; the
// SMTP fields are only read for email.
type AlertConfig struct {
	Type       string `toml:"type" yaml:"type" json:"type"`
	SMTPServer string `toml:"smtp_server,omitempty" yaml:"smtp_server,omitempty" json:"smtp_server,omitempty"`
	SMTPPort   int    `toml:"smtp_port,omitempty" yaml:"smtp_port,omitempty" json:"smtp_port,omitempty"`
	Username   string `toml:"username,omitempty" yaml:"username,omitempty" json:"username,omitempty"`
	Password   string `toml:"password,omitempty" yaml:"password,omitempty" json:"password,omitempty"`
	From       string `toml:"from,omitempty" yaml:"from,omitempty" json:"from,omitempty"`
	To         string `toml:"to,omitempty" yaml:"to,omitempty" json:"to,omitempty"`
	Subject    string `toml:"subject,omitempty" yaml:"subject,omitempty" json:"subject,omitempty"`
}

// Config is the top-level structure serialized to the config file.  It holds
// settings only; the controller's security state is never persisted.
type Config struct {
	// Password is accepted on load for convenience and replaced by
	// PasswordHash before anything is written back.
	Password     string `toml:"password,omitempty" yaml:"password,omitempty" json:"password,omitempty"`
	PasswordHash string `toml:"password_hash" yaml:"password_hash" json:"password_hash"`

	MaxAttempts      int `toml:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	LockDurationSecs int `toml:"lock_duration_secs" yaml:"lock_duration_secs" json:"lock_duration_secs"`
	RelayHoldMS      int `toml:"relay_hold_ms" yaml:"relay_hold_ms" json:"relay_hold_ms"`
	ShortBuzzMS      int `toml:"short_buzz_ms" yaml:"short_buzz_ms" json:"short_buzz_ms"`
	LongBuzzMS       int `toml:"long_buzz_ms" yaml:"long_buzz_ms" json:"long_buzz_ms"`
	DebounceMS       int `toml:"debounce_ms" yaml:"debounce_ms" json:"debounce_ms"`

	FaceService FaceServiceConfig `toml:"face_service" yaml:"face_service" json:"face_service"`
	Pins        PinConfig         `toml:"pins" yaml:"pins" json:"pins"`
	Log         LogConfig         `toml:"log" yaml:"log" json:"log"`
	Admin       AdminConfig       `toml:"admin" yaml:"admin" json:"admin"`
	Alerts      []AlertConfig     `toml:"alerts" yaml:"alerts" json:"alerts"`
}

// ControllerSettings converts the millisecond/second config fields into the
// durations the controller works with.
func (c Config) ControllerSettings() ControllerSettings {
	return ControllerSettings{
		MaxAttempts:  c.MaxAttempts,
		LockDuration: time.Duration(c.LockDurationSecs) * time.Second,
		RelayHold:    time.Duration(c.RelayHoldMS) * time.Millisecond,
		ShortBuzz:    time.Duration(c.ShortBuzzMS) * time.Millisecond,
		LongBuzz:     time.Duration(c.LongBuzzMS) * time.Millisecond,
	}
}

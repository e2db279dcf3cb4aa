package main

import "errors"

// Error taxonomy of the access controller.  Only ErrAuthenticationFailure is
// ever charged against the attempt counter.
var (
	// ErrRemoteAuth covers transport failures, timeouts, non-2xx replies and
	// malformed payloads from the face-recognition service.
	ErrRemoteAuth = errors.New("remote auth error")
	// ErrAuthenticationFailure is an identity or password mismatch.
	ErrAuthenticationFailure = errors.New("authentication failure")
	// ErrLockoutActive is reported when a trigger arrives during lockout.
	ErrLockoutActive = errors.New("lockout active")
	// ErrHardwareFault wraps errors from GPIO outputs.
	ErrHardwareFault = errors.New("hardware fault")
	// ErrShutdown is returned by Controller.Run after a confirmed emergency
	// shutdown.
	ErrShutdown = errors.New("emergency shutdown")
)

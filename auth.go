package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

// hashPassword returns the bcrypt hash of password at the default cost.
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// checkPasswordHash returns nil when password matches hash.
func checkPasswordHash(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// PasswordChecker decides whether an entered unlock password is correct.
type PasswordChecker interface {
	Check(password string) bool
}

// HashedPassword is a PasswordChecker backed by a bcrypt hash, so the shared
// secret never sits in memory or on disk in clear text.
type HashedPassword struct {
	hash string
}

// NewHashedPassword validates hash and wraps it.
func NewHashedPassword(hash string) (*HashedPassword, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.New("password_hash is not a bcrypt hash")
	}
	return &HashedPassword{hash: hash}, nil
}

// Check implements PasswordChecker.
func (h *HashedPassword) Check(password string) bool {
	return checkPasswordHash(password, h.hash) == nil
}

// Session is an admin API login.  Sessions live in memory only; a restart
// logs everyone out.
type Session struct {
	Username string
	Expires  time.Time
}

func (s Session) expired(now time.Time) bool { return !now.Before(s.Expires) }

// SessionManager issues bearer tokens for the admin API and forgets them
// after a fixed TTL.
type SessionManager struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu     sync.RWMutex
	active map[string]Session
}

// NewSessionManager returns an empty store whose sessions last ttl as
// measured on clock.
func NewSessionManager(clock clockwork.Clock, ttl time.Duration) *SessionManager {
	return &SessionManager{clock: clock, ttl: ttl, active: make(map[string]Session)}
}

// Create opens a session for username and returns its token.
func (sm *SessionManager) Create(username string) (string, Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", Session{}, fmt.Errorf("session token: %w", err)
	}
	s := Session{Username: username, Expires: sm.clock.Now().Add(sm.ttl)}
	sm.mu.Lock()
	sm.active[token] = s
	sm.mu.Unlock()
	return token, s, nil
}

// Lookup returns the live session for token.
func (sm *SessionManager) Lookup(token string) (Session, bool) {
	sm.mu.RLock()
	s, ok := sm.active[token]
	sm.mu.RUnlock()
	if !ok || s.expired(sm.clock.Now()) {
		return Session{}, false
	}
	return s, true
}

// Revoke ends a session.  It reports whether the token was known.
func (sm *SessionManager) Revoke(token string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, ok := sm.active[token]
	delete(sm.active, token)
	return ok
}

// Len returns the number of stored sessions, expired ones included until the
// next purge.
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.active)
}

func (sm *SessionManager) purge() {
	now := sm.clock.Now()
	sm.mu.Lock()
	for token, s := range sm.active {
		if s.expired(now) {
			delete(sm.active, token)
		}
	}
	sm.mu.Unlock()
}

// RunPurge drops expired sessions every interval until ctx is cancelled.
func (sm *SessionManager) RunPurge(ctx context.Context, interval time.Duration) {
	t := sm.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			sm.purge()
		}
	}
}

// newSessionToken returns 32 random bytes, base64url encoded.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

package main

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashedPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	require.NoError(t, err)

	pw, err := NewHashedPassword(string(hash))
	require.NoError(t, err)
	require.True(t, pw.Check("1234"))
	require.False(t, pw.Check("12345"))
	require.False(t, pw.Check(""))

	_, err = NewHashedPassword("1234")
	require.Error(t, err)
}

func TestSessionManager(t *testing.T) {
	sm := NewSessionManager(clockwork.NewFakeClock(), time.Hour)
	token, sess, err := sm.Create("admin")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "admin", sess.Username)

	got, ok := sm.Lookup(token)
	require.True(t, ok)
	require.Equal(t, "admin", got.Username)

	require.True(t, sm.Revoke(token))
	require.False(t, sm.Revoke(token))
	_, ok = sm.Lookup(token)
	require.False(t, ok)
}

func TestSessionManager_Expiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sm := NewSessionManager(clock, time.Hour)
	token, _, err := sm.Create("admin")
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, ok := sm.Lookup(token)
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok = sm.Lookup(token)
	require.False(t, ok)
	require.Equal(t, 1, sm.Len())
}

func TestSessionManager_RunPurge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sm := NewSessionManager(clock, time.Minute)
	_, _, err := sm.Create("admin")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sm.RunPurge(ctx, time.Hour)
		close(done)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return sm.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

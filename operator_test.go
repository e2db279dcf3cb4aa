package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type askResult struct {
	line string
	err  error
}

func askAsync(ctx context.Context, op Operator, question string, secret bool) <-chan askResult {
	ch := make(chan askResult, 1)
	go func() {
		var r askResult
		if secret {
			r.line, r.err = op.AskSecret(ctx, question)
		} else {
			r.line, r.err = op.Ask(ctx, question)
		}
		ch <- r
	}()
	return ch
}

func receive(t *testing.T, ch <-chan askResult) askResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never answered")
		return askResult{}
	}
}

func TestConsoleOperator_AnswersPrompt(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}
	op := NewConsoleOperator(pr, out)

	ch := askAsync(context.Background(), op, "Enter password: ", true)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Enter password: ") }, time.Second, time.Millisecond)
	_, err := io.WriteString(pw, "1234\r\n")
	require.NoError(t, err)

	r := receive(t, ch)
	require.NoError(t, r.err)
	require.Equal(t, "1234", r.line)
}

func TestConsoleOperator_NewestPromptAnsweredFirst(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}
	op := NewConsoleOperator(pr, out)

	password := askAsync(context.Background(), op, "Enter password: ", true)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Enter password: ") }, time.Second, time.Millisecond)
	confirm := askAsync(context.Background(), op, "Confirm shutdown? ", false)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Confirm shutdown? ") }, time.Second, time.Millisecond)

	_, err := io.WriteString(pw, "no\n")
	require.NoError(t, err)
	r := receive(t, confirm)
	require.NoError(t, r.err)
	require.Equal(t, "no", r.line)

	// The pending password prompt is shown again.
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "Enter password: ") == 2
	}, time.Second, time.Millisecond)

	_, err = io.WriteString(pw, "secret\n")
	require.NoError(t, err)
	r = receive(t, password)
	require.NoError(t, r.err)
	require.Equal(t, "secret", r.line)
}

func TestConsoleOperator_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	op := NewConsoleOperator(pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	ch := askAsync(ctx, op, "Retry? ", false)
	cancel()
	r := receive(t, ch)
	require.ErrorIs(t, r.err, context.Canceled)

	_, err := op.Ask(ctx, "Retry? ")
	require.ErrorIs(t, err, context.Canceled)
}

func TestConsoleOperator_EOF(t *testing.T) {
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	op := NewConsoleOperator(pr, out)

	ch := askAsync(context.Background(), op, "Retry? ", false)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Retry? ") }, time.Second, time.Millisecond)
	require.NoError(t, pw.Close())

	r := receive(t, ch)
	require.ErrorIs(t, r.err, io.EOF)
}

func TestConsoleOperator_FinalLineWithoutNewline(t *testing.T) {
	op := NewConsoleOperator(strings.NewReader("yes"), io.Discard)
	line, err := op.Ask(context.Background(), "Confirm shutdown? ")
	require.NoError(t, err)
	require.Equal(t, "yes", line)
}

func TestIsYes(t *testing.T) {
	for answer, want := range map[string]bool{
		"y":     true,
		"Y":     true,
		"yes":   true,
		" YES ": true,
		"n":     false,
		"no":    false,
		"":      false,
		"yess":  false,
		"sure":  false,
	} {
		require.Equal(t, want, isYes(answer), "answer %q", answer)
	}
}

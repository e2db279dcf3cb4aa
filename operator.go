package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Operator is the blocking "ask the operator" capability used for the retry
// question, password entry and shutdown confirmation.  Both calls return
// ctx.Err() if ctx is cancelled before an answer arrives.
type Operator interface {
	Ask(ctx context.Context, question string) (string, error)
	AskSecret(ctx context.Context, question string) (string, error)
}

// ConsoleOperator serves prompts over a line-oriented input such as stdin.
// Several prompts may be open at once (e.g. a shutdown confirmation while a
// password is pending); the most recently opened prompt receives the next
// line and the previous one is shown again afterwards.
type ConsoleOperator struct {
	in       *bufio.Reader
	out      io.Writer
	fd       int
	terminal bool

	mu      sync.Mutex
	waiters []*promptWaiter
	reading bool
}

type promptWaiter struct {
	question string
	secret   bool
	reply    chan promptReply
}

type promptReply struct {
	line string
	err  error
}

// NewConsoleOperator reads answers from in and writes questions to out.
// When in is a terminal, secrets are read without echo.
func NewConsoleOperator(in io.Reader, out io.Writer) *ConsoleOperator {
	o := &ConsoleOperator{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		o.fd = int(f.Fd())
		o.terminal = true
	}
	return o
}

// Ask implements Operator.
func (o *ConsoleOperator) Ask(ctx context.Context, question string) (string, error) {
	return o.ask(ctx, question, false)
}

// AskSecret implements Operator.
func (o *ConsoleOperator) AskSecret(ctx context.Context, question string) (string, error) {
	return o.ask(ctx, question, true)
}

func (o *ConsoleOperator) ask(ctx context.Context, question string, secret bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	w := &promptWaiter{question: question, secret: secret, reply: make(chan promptReply, 1)}
	o.mu.Lock()
	o.waiters = append(o.waiters, w)
	fmt.Fprint(o.out, question)
	if !o.reading {
		o.reading = true
		go o.readLoop()
	}
	o.mu.Unlock()

	select {
	case r := <-w.reply:
		return r.line, r.err
	case <-ctx.Done():
		o.remove(w)
		return "", ctx.Err()
	}
}

func (o *ConsoleOperator) remove(w *promptWaiter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, x := range o.waiters {
		if x == w {
			o.waiters = append(o.waiters[:i], o.waiters[i+1:]...)
			return
		}
	}
}

// readLoop reads one line per open prompt.  Only one readLoop runs at a time.
func (o *ConsoleOperator) readLoop() {
	for {
		o.mu.Lock()
		if len(o.waiters) == 0 {
			o.reading = false
			o.mu.Unlock()
			return
		}
		secret := o.waiters[len(o.waiters)-1].secret
		o.mu.Unlock()

		line, err := o.readLine(secret)

		o.mu.Lock()
		if err != nil {
			for _, w := range o.waiters {
				w.reply <- promptReply{err: err}
			}
			o.waiters = nil
			o.reading = false
			o.mu.Unlock()
			return
		}
		if n := len(o.waiters); n > 0 {
			top := o.waiters[n-1]
			o.waiters = o.waiters[:n-1]
			top.reply <- promptReply{line: line}
			if n > 1 {
				fmt.Fprint(o.out, o.waiters[n-2].question)
			}
		}
		o.mu.Unlock()
	}
}

func (o *ConsoleOperator) readLine(secret bool) (string, error) {
	if secret && o.terminal {
		b, err := term.ReadPassword(o.fd)
		fmt.Fprintln(o.out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := o.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// isYes interprets a yes/no answer.  Only "y" and "yes" (any case) count.
func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

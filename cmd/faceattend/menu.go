package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// menu is the interactive three-action control surface. Recognition runs on
// a background goroutine so the menu keeps reading input while it is active.
type menu struct {
	in    io.Reader
	out   io.Writer
	start func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func newMenu(in io.Reader, out io.Writer, start func(ctx context.Context) error) *menu {
	return &menu{in: in, out: &syncWriter{w: out}, start: start}
}

func (m *menu) printMenu() {
	fmt.Fprintln(m.out, "Face Recognition Attendance")
	fmt.Fprintln(m.out, "  1. Start recognition")
	fmt.Fprintln(m.out, "  2. How to use")
	fmt.Fprintln(m.out, "  3. Exit")
	fmt.Fprintln(m.out, "While recognition runs, type 's' to stop it.")
}

func (m *menu) prompt() {
	fmt.Fprint(m.out, "> ")
}

// run reads commands until exit, end of input or ctx cancellation. A running
// session is stopped before run returns.
func (m *menu) run(ctx context.Context) error {
	lines := make(chan string)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-quit:
				return
			}
		}
	}()

	m.printMenu()
	m.prompt()
	for {
		select {
		case <-ctx.Done():
			m.stop()
			return nil
		case line, ok := <-lines:
			if !ok {
				m.stop()
				return nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "1", "start":
				m.startSession(ctx)
			case "2", "help":
				printHowTo(m.out)
			case "3", "exit", "quit":
				m.stop()
				fmt.Fprintln(m.out, "Goodbye!")
				return nil
			case "s", "stop":
				if !m.stop() {
					fmt.Fprintln(m.out, "Recognition is not running.")
				}
			case "":
			default:
				fmt.Fprintln(m.out, "Invalid choice. Enter 1, 2 or 3.")
			}
			m.prompt()
		}
	}
}

func (m *menu) startSession(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		fmt.Fprintln(m.out, "Recognition is already running. Type 's' to stop it.")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	fmt.Fprintln(m.out, "Recognition started.")
	go func() {
		defer close(done)
		defer cancel()

		if err := m.start(ctx); err != nil {
			fmt.Fprintln(m.out, userError(err))
		} else {
			fmt.Fprintln(m.out, "Recognition stopped.")
		}

		m.mu.Lock()
		if m.done == done {
			m.done = nil
			m.cancel = nil
		}
		m.mu.Unlock()
	}()
}

// stop cancels a running session and waits for it to finish. It reports
// whether a session was running.
func (m *menu) stop() bool {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

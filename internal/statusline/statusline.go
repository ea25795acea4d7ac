// Package statusline renders one continuously-updated terminal line
// summarizing session progress, driven by the same contracts.Event
// stream the structured logger consumes. It never reads input and
// never takes over the terminal the way the teacher's full bubbletea
// program does; it is a thin EventSink that redraws in place with a
// bubbles/spinner frame and lipgloss styling.
package statusline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/ralphtui/ralph-tui/internal/contracts"
)

var (
	styleLabel = lipgloss.NewStyle().Bold(true)
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleTask  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// StatusLine is an EventSink that keeps a running tally of iteration
// progress and redraws a single terminal line to reflect it.
type StatusLine struct {
	mu      sync.Mutex
	out     io.Writer
	sp      spinner.Model
	closed  bool
	current string
	closedN int
	failedN int
	lastMsg string
}

// New builds a StatusLine writing to out. Every Emit writes the same
// carriage-return and clear-line prefixed redraw, with no trailing
// newline, whatever the writer; on a terminal such as os.Stdout this
// redraws over the current line.
func New(out io.Writer) *StatusLine {
	return &StatusLine{out: out, sp: spinner.New(spinner.WithSpinner(spinner.Dot))}
}

// Emit implements contracts.EventSink, updating the tallies and
// redrawing the line. It never returns an error: a status line must
// never be the thing that fails a session.
func (s *StatusLine) Emit(_ context.Context, event contracts.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	switch event.Type {
	case contracts.EventIterationStart:
		s.current = event.TaskID
	case contracts.EventTaskClosed:
		s.closedN++
	case contracts.EventConflictFailed:
		s.failedN++
	}
	s.lastMsg = event.Message
	s.render()
	return nil
}

// Tick advances the spinner frame and redraws, meant to be called on
// a small interval (e.g. 100ms) from a goroutine the caller owns so
// the line animates between events too.
func (s *StatusLine) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sp, _ = s.sp.Update(spinner.TickMsg{Time: time.Now(), ID: s.sp.ID()})
	s.render()
}

func (s *StatusLine) render() {
	if s.out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("\r\x1b[2K")
	b.WriteString(s.sp.View())
	b.WriteByte(' ')
	if s.current != "" {
		b.WriteString(styleTask.Render(s.current))
		b.WriteByte(' ')
	}
	b.WriteString(styleLabel.Render("closed"))
	b.WriteByte('=')
	b.WriteString(styleOK.Render(fmt.Sprintf("%d", s.closedN)))
	if s.failedN > 0 {
		b.WriteByte(' ')
		b.WriteString(styleLabel.Render("failed"))
		b.WriteByte('=')
		b.WriteString(styleWarn.Render(fmt.Sprintf("%d", s.failedN)))
	}
	if s.lastMsg != "" {
		b.WriteString("  ")
		b.WriteString(s.lastMsg)
	}
	fmt.Fprint(s.out, b.String())
}

// Close prints a final newline so the next line of output starts
// fresh, and stops accepting further updates.
func (s *StatusLine) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.out != nil {
		fmt.Fprintln(s.out)
	}
}

// Package sink defines consumers of incrementally arriving session output.
package sink

import (
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/codefionn/sessionbridge/internal/state"
)

// Sink consumes output lines in arrival order. The coordinator writes to it
// but does not own its rendering.
type Sink interface {
	WriteLine(line state.OutputLine)
}

// Func adapts a function to Sink
type Func func(line state.OutputLine)

// WriteLine calls f
func (f Func) WriteLine(line state.OutputLine) { f(line) }

// Discard drops everything
var Discard Sink = Func(func(state.OutputLine) {})

// Multi fans a line out to several sinks in order
func Multi(sinks ...Sink) Sink {
	return Func(func(line state.OutputLine) {
		for _, s := range sinks {
			if s != nil {
				s.WriteLine(line)
			}
		}
	})
}

// TerminalSink writes lines to a terminal-like writer. Remote output is passed
// through verbatim; system and error notices go on their own styled line.
type TerminalSink struct {
	mu          sync.Mutex
	w           io.Writer
	width       int
	atLineStart bool

	systemStyle lipgloss.Style
	errorStyle  lipgloss.Style
}

// NewTerminalSink creates a sink writing to w. Styling adapts to whether w is
// a color-capable terminal.
func NewTerminalSink(w io.Writer) *TerminalSink {
	r := lipgloss.NewRenderer(w)
	return &TerminalSink{
		w:           w,
		atLineStart: true,
		systemStyle: r.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		errorStyle:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

// SetWidth sets the wrap width for notices; zero disables wrapping
func (t *TerminalSink) SetWidth(width int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.width = width
}

// WriteLine renders one line
func (t *TerminalSink) WriteLine(line state.OutputLine) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if line.Kind == state.KindOutput {
		if line.Text == "" {
			return
		}
		_, _ = io.WriteString(t.w, line.Text)
		t.atLineStart = strings.HasSuffix(line.Text, "\n")
		return
	}

	var b strings.Builder
	if !t.atLineStart {
		b.WriteByte('\n')
	}
	b.WriteString(t.renderNotice(line))
	b.WriteByte('\n')
	_, _ = io.WriteString(t.w, b.String())
	t.atLineStart = true
}

func (t *TerminalSink) renderNotice(line state.OutputLine) string {
	text := strings.TrimRight(line.Text, "\n")
	style := t.systemStyle
	prefix := "── "
	if line.Kind == state.KindError {
		style = t.errorStyle
		prefix = "✗ "
	}
	text = prefix + text
	if t.width > 0 {
		text = wordwrap.String(text, t.width)
	}
	return style.Render(text)
}

package sink

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codefionn/sessionbridge/internal/state"
)

func line(kind state.OutputKind, text string) state.OutputLine {
	return state.OutputLine{Kind: kind, Text: text}
}

func TestTerminalSinkPassesOutputThrough(t *testing.T) {
	var buf bytes.Buffer
	s := NewTerminalSink(&buf)

	s.WriteLine(line(state.KindOutput, "$ pytest\n"))
	s.WriteLine(line(state.KindOutput, "collected 3 items"))
	s.WriteLine(line(state.KindSystem, "Session completed (exit code 0)"))
	s.WriteLine(line(state.KindError, "connection error: reset"))

	assert.Equal(t,
		"$ pytest\ncollected 3 items\n── Session completed (exit code 0)\n✗ connection error: reset\n",
		buf.String())
}

func TestTerminalSinkWrapsNotices(t *testing.T) {
	var buf bytes.Buffer
	s := NewTerminalSink(&buf)
	s.SetWidth(20)

	s.WriteLine(line(state.KindSystem, "Connected to workspace: a-rather-long-name here"))

	for _, l := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if strings.Contains(l, "a-rather-long-name") {
			continue // single words longer than the width are not split
		}
		assert.LessOrEqual(t, len([]rune(l)), 20, l)
	}
}

func TestMultiAndFunc(t *testing.T) {
	var got []string
	rec := Func(func(l state.OutputLine) { got = append(got, string(l.Kind)+":"+l.Text) })

	m := Multi(rec, nil, Discard, rec)
	m.WriteLine(line(state.KindOutput, "x"))

	assert.Equal(t, []string{"output:x", "output:x"}, got)
}

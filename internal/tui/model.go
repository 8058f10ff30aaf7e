// Package tui is the interactive attach frontend for a session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/codefionn/sessionbridge/internal/protocol"
	"github.com/codefionn/sessionbridge/internal/state"
)

const (
	headerHeight     = 2
	footerHeight     = 2
	reconnectTimeout = 10 * time.Second
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	errorLineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	errorBannerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("231")).
				Background(lipgloss.Color("124")).
				Padding(0, 1)

	permissionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)

	permissionTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Bold(true)
)

// Controller is the subset of the coordinator the UI drives
type Controller interface {
	SendInput(text string)
	RespondToPermission(approved bool)
	ResizeTerminal(rows, cols int)
	ClearError()
	Reconnect(ctx context.Context) error
}

// StateMsg carries a fresh state snapshot into the program
type StateMsg struct {
	State state.State
}

type reconnectResultMsg struct {
	err error
}

// Model is the attach screen: output pane, status, permission prompt, input line
type Model struct {
	ctrl      Controller
	workspace string

	viewport viewport.Model
	input    textinput.Model
	snap     state.State

	width  int
	height int
	ready  bool
	// notice is a transient status message, e.g. a failed reconnect
	notice string
}

// NewModel creates the attach screen for a workspace
func NewModel(ctrl Controller, workspace string) *Model {
	ti := textinput.New()
	ti.Placeholder = "Type input for the session and press Enter"
	ti.Prompt = "> "
	ti.CharLimit = 0
	ti.Focus()

	return &Model{
		ctrl:      ctrl,
		workspace: workspace,
		input:     ti,
		viewport:  viewport.New(0, 0),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.applySize(msg.Width, msg.Height)
		return m, nil

	case StateMsg:
		atBottom := m.viewport.AtBottom()
		m.snap = msg.State
		m.refreshViewport()
		if atBottom {
			m.viewport.GotoBottom()
		}
		return m, nil

	case reconnectResultMsg:
		if msg.err != nil {
			m.notice = "reconnect failed: " + msg.err.Error()
		} else {
			m.notice = ""
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+d":
		return m, tea.Quit
	case "ctrl+e":
		m.ctrl.ClearError()
		m.notice = ""
		return m, nil
	case "ctrl+r":
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
			defer cancel()
			return reconnectResultMsg{err: ctrl.Reconnect(ctx)}
		}
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	// The permission gate captures y/n until answered
	if m.snap.PendingPermission != nil {
		switch strings.ToLower(msg.String()) {
		case "y":
			m.ctrl.RespondToPermission(true)
		case "n":
			m.ctrl.RespondToPermission(false)
		}
		return m, nil
	}

	if msg.Type == tea.KeyEnter {
		m.ctrl.SendInput(m.input.Value() + "\n")
		m.input.Reset()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) applySize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = max(width-len(m.input.Prompt)-1, 1)

	vpHeight := max(height-headerHeight-footerHeight, 1)
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.ready = true
	m.refreshViewport()

	m.ctrl.ResizeTerminal(vpHeight, width)
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(RenderOutput(m.snap.Output, m.width))
}

// View implements tea.Model
func (m *Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("sessionbridge · " + m.workspace))
	sb.WriteString("  ")
	sb.WriteString(statusStyle.Render(statusLine(m.snap)))
	sb.WriteString("\n\n")

	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")

	if req := m.snap.PendingPermission; req != nil {
		sb.WriteString(renderPermission(*req, m.width))
		sb.WriteString("\n")
	}
	if m.snap.Error != "" {
		sb.WriteString(errorBannerStyle.Render(m.snap.Error + "  (ctrl+e to dismiss)"))
		sb.WriteString("\n")
	}
	if m.notice != "" {
		sb.WriteString(statusStyle.Render(m.notice))
		sb.WriteString("\n")
	}

	sb.WriteString(m.input.View())
	return sb.String()
}

func statusLine(s state.State) string {
	conn := "disconnected"
	switch {
	case s.Connecting:
		conn = "connecting"
	case s.Connected:
		conn = "connected"
	}

	sessionState := string(s.SessionState)
	if sessionState == "" {
		sessionState = "no session"
	}
	return fmt.Sprintf("%s · %s", sessionState, conn)
}

func renderPermission(req protocol.PermissionRequest, width int) string {
	var sb strings.Builder
	sb.WriteString(permissionTitleStyle.Render("Permission requested: " + req.ToolType))
	sb.WriteString("\n")
	sb.WriteString(req.Description)
	if req.Command != nil {
		sb.WriteString("\n$ " + *req.Command)
	}
	if req.FilePath != nil {
		sb.WriteString("\nfile: " + *req.FilePath)
	}
	sb.WriteString("\n[y] approve  [n] deny")

	style := permissionStyle
	if width > 4 {
		style = style.Width(width - 2)
	}
	return style.Render(sb.String())
}

// RenderOutput renders the output history for a pane width columns wide.
// Output text is shown as produced; notices start on their own line.
func RenderOutput(lines []state.OutputLine, width int) string {
	var sb strings.Builder
	atLineStart := true

	for _, line := range lines {
		if line.Kind == state.KindOutput {
			sb.WriteString(line.Text)
			if line.Text != "" {
				atLineStart = strings.HasSuffix(line.Text, "\n")
			}
			continue
		}

		if !atLineStart {
			sb.WriteString("\n")
		}
		text := line.Text
		if line.Kind == state.KindError {
			text = errorLineStyle.Render("✗ " + text)
		} else {
			text = systemStyle.Render("── " + text)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
		atLineStart = true
	}

	out := sb.String()
	if width > 0 {
		out = wordwrap.String(out, width)
	}
	return out
}

// Package chatui is a terminal chat client for a coaching session.
package chatui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	coachhttp "github.com/fyrsmithlabs/coachd/internal/http"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

const (
	defaultWidth  = 80
	defaultHeight = 24

	// Lines used by the header, status block, input and footer.
	chromeHeight = 9
)

// Coach is the server surface the chat needs.
type Coach interface {
	Send(ctx context.Context, sessionID, message string) (*coachhttp.MessageResponse, error)
	Session(ctx context.Context, sessionID string) (*coachhttp.SessionResponse, error)
}

type role int

const (
	roleUser role = iota
	roleCoach
	roleSystem
)

type entry struct {
	role role
	text string
}

// Model is the bubbletea model for one chat session.
type Model struct {
	coach       Coach
	sessionID   string
	turnTimeout time.Duration

	entries  []entry
	status   orchestrator.Status
	scores   []float64
	waiting  bool
	lastTurn time.Duration
	err      error
	quitting bool

	width    int
	input    textinput.Model
	viewport viewport.Model
	progress progress.Model
}

// Message types
type sessionMsg struct{ resp *coachhttp.SessionResponse }
type replyMsg struct {
	resp    *coachhttp.MessageResponse
	latency time.Duration
}
type errMsg struct{ err error }

// NewModel creates a chat model for sessionID.
func NewModel(coach Coach, sessionID string, turnTimeout time.Duration) Model {
	input := textinput.New()
	input.Placeholder = "Tell your coach about your business..."
	input.Prompt = "› "
	input.CharLimit = orchestrator.DefaultMaxMessageLength
	input.Width = defaultWidth - 4
	input.Focus()

	if turnTimeout <= 0 {
		turnTimeout = orchestrator.DefaultTurnTimeout
	}

	return Model{
		coach:       coach,
		sessionID:   sessionID,
		turnTimeout: turnTimeout,
		status:      orchestrator.Status{SessionID: sessionID, Phase: session.PhaseWhy},
		scores:      make([]float64, 0, historySize),
		width:       defaultWidth,
		input:       input,
		viewport:    viewport.New(defaultWidth, defaultHeight-chromeHeight),
		progress: progress.New(
			progress.WithGradient("#ffff00", "#00ff00"),
			progress.WithWidth(30),
		),
	}
}

// Init loads any existing history for the session.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, loadSession(m.coach, m.sessionID))
}

func loadSession(coach Coach, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := coach.Session(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return sessionMsg{resp}
	}
}

func sendMessage(coach Coach, id, text string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		resp, err := coach.Send(ctx, id, text)
		if err != nil {
			return errMsg{err}
		}
		return replyMsg{resp: resp, latency: time.Since(start)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case sessionMsg:
		m.loadHistory(msg.resp)
		m.refresh()
		return m, nil

	case replyMsg:
		m.applyReply(msg.resp)
		m.lastTurn = msg.latency
		m.waiting = false
		m.err = nil
		m.refresh()
		return m, nil

	case errMsg:
		m.waiting = false
		if isNotFound(msg.err) {
			// New session: the first message creates it.
			return m, nil
		}
		m.err = msg.err
		m.entries = append(m.entries, entry{role: roleSystem, text: "error: " + msg.err.Error()})
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.waiting || m.status.Done {
		return m, nil
	}
	m.input.Reset()
	m.waiting = true
	m.entries = append(m.entries, entry{role: roleUser, text: text})
	m.refresh()
	return m, sendMessage(m.coach, m.sessionID, text, m.turnTimeout)
}

func (m *Model) loadHistory(resp *coachhttp.SessionResponse) {
	m.status = resp.Status
	m.entries = m.entries[:0]
	m.scores = m.scores[:0]
	if resp.Session == nil {
		return
	}
	for _, t := range resp.Session.Turns {
		m.entries = append(m.entries, entry{role: roleUser, text: t.UserMessage})
		if t.Failed {
			m.entries = append(m.entries, entry{role: roleSystem, text: "coach unavailable: " + t.Error})
			continue
		}
		m.entries = append(m.entries, entry{role: roleCoach, text: t.AssistantReply})
		m.scores = appendToHistory(m.scores, t.Score)
	}
}

func (m *Model) applyReply(resp *coachhttp.MessageResponse) {
	m.entries = append(m.entries, entry{role: roleCoach, text: resp.Reply})
	m.scores = appendToHistory(m.scores, resp.Score)
	if resp.ExtractionMalformed {
		m.entries = append(m.entries, entry{role: roleSystem, text: "the coach's notes for this turn could not be read"})
	}
	if resp.Advanced {
		text := fmt.Sprintf("%s complete, moving on to %s", resp.Phase.Label(), resp.NextPhase.Label())
		if resp.NextPhase == session.PhaseDone {
			text = "All phases complete. Your strategy outline is ready."
		}
		m.entries = append(m.entries, entry{role: roleSystem, text: text})
	}
	m.status = resp.Status
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderEntries())
	m.viewport.GotoBottom()
}

func (m Model) renderEntries() string {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 20))
	var b strings.Builder
	for _, e := range m.entries {
		switch e.role {
		case roleUser:
			b.WriteString(userStyle.Render("You") + "\n")
			b.WriteString(wrap.Render(e.text) + "\n\n")
		case roleCoach:
			b.WriteString(coachStyle.Render("Coach") + "\n")
			b.WriteString(wrap.Render(e.text) + "\n\n")
		case roleSystem:
			b.WriteString(systemStyle.Render(wrap.Render("· "+e.text)) + "\n\n")
		}
	}
	if m.waiting {
		b.WriteString(dimStyle.Render("Coach is thinking..."))
	}
	return b.String()
}

// View renders the chat.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" coachd ") + "  " +
		dimStyle.Render("session ") + valueStyle.Render(m.sessionID) + "\n")
	b.WriteString(phaseLadder(m.status.Phase) + "\n")
	b.WriteString(m.renderStatus() + "\n\n")
	b.WriteString(m.viewport.View() + "\n")

	if m.status.Done {
		b.WriteString(doneStyle.Render("Session complete.") + "\n")
	} else {
		b.WriteString(m.input.View() + "\n")
	}

	footer := footerKeyStyle.Render("[enter]") + footerStyle.Render(" send  ") +
		footerKeyStyle.Render("[pgup/pgdn]") + footerStyle.Render(" scroll  ") +
		footerKeyStyle.Render("[esc]") + footerStyle.Render(" quit")
	if m.lastTurn > 0 {
		footer += footerStyle.Render("  last turn " + FormatLatency(m.lastTurn))
	}
	b.WriteString(footer)
	return b.String()
}

func (m Model) renderStatus() string {
	score := m.status.Score
	line := labelStyle.Render("Progress: ") + m.progress.ViewAs(score) +
		" " + valueStyle.Render(FormatPercentage(score)) +
		"  " + scoreSparkline(m.scores)
	if len(m.status.Missing) > 0 {
		line += "\n" + labelStyle.Render("Still to explore: ") + dimStyle.Render(strings.Join(m.status.Missing, ", "))
	} else if m.err != nil {
		line += "\n" + errorStyle.Render("⚠ "+m.err.Error())
	} else {
		line += "\n"
	}
	return line
}

// Package tui is the terminal front end for a voice session: the running
// transcript, a text prompt, the connection status and the speaker level.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"node.town/hark/conversation"
	"node.town/hark/realtime"
	"node.town/hark/session"
)

// Controller is the part of a session the UI drives.
type Controller interface {
	Start(ctx context.Context, voice string) error
	Stop()
	ToggleMic() bool
	SendText(text string) error
	Status() string
	Active() bool
	MicMuted() bool
	Volume() float64
	Conversation() []conversation.Entry
	RawMessages(since int) []session.RawMessage
	Epoch() uint64
	Updates() <-chan struct{}
}

var (
	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#268BD2"))
	botStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#859900"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC322F"))
)

type updateMsg struct{}

type startedMsg struct{ err error }

type stoppedMsg struct{}

type sentMsg struct{ err error }

type model struct {
	ctrl  Controller
	voice string
	log   *log.Logger

	viewport  viewport.Model
	textInput textinput.Model
	ready     bool
	showLog   bool

	entries []conversation.Entry
	raw     []session.RawMessage
	epoch   uint64
	lastSeq int
	status  string
	active  bool
	muted   bool
	volume  float64
	err     error
}

func initialModel(ctrl Controller, voice string, logger *log.Logger) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 80

	return model{
		ctrl:      ctrl,
		voice:     voice,
		log:       logger,
		textInput: ti,
		status:    ctrl.Status(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForUpdate(m.ctrl.Updates()),
		m.start(),
	)
}

func waitForUpdate(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-updates
		return updateMsg{}
	}
}

func (m model) start() tea.Cmd {
	ctrl, voice := m.ctrl, m.voice
	return func() tea.Msg {
		return startedMsg{err: ctrl.Start(context.Background(), voice)}
	}
}

func (m model) stop() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Stop()
		return stoppedMsg{}
	}
}

func (m model) send(text string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return sentMsg{err: ctrl.SendText(text)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.ctrl.Stop()
			return m, tea.Quit
		case "tab":
			m.showLog = !m.showLog
			m.refreshContent()
			return m, nil
		case "ctrl+s":
			m.err = nil
			if m.active {
				return m, m.stop()
			}
			return m, m.start()
		case "ctrl+t":
			m.muted = m.ctrl.ToggleMic()
			return m, nil
		case "pgup":
			m.viewport.HalfViewUp()
			return m, nil
		case "pgdown":
			m.viewport.HalfViewDown()
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.textInput.Value())
			if text == "" {
				return m, nil
			}
			m.textInput.SetValue("")
			return m, m.send(text)
		}
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		verticalMarginHeight := lipgloss.Height(m.headerView()) +
			lipgloss.Height(m.footerView()) + 1

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = lipgloss.Height(m.headerView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}
		m.textInput.Width = msg.Width - 4
		m.refreshContent()

	case updateMsg:
		m.refresh()
		cmds = append(cmds, waitForUpdate(m.ctrl.Updates()))

	case startedMsg:
		if msg.err != nil {
			m.log.Error("start", "err", msg.err)
			m.err = msg.err
		}
		m.refresh()

	case stoppedMsg:
		m.refresh()

	case sentMsg:
		if msg.err != nil {
			m.log.Warn("send", "err", msg.err)
			m.err = msg.err
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// refresh pulls a fresh snapshot out of the session.
func (m *model) refresh() {
	m.status = m.ctrl.Status()
	m.active = m.ctrl.Active()
	m.muted = m.ctrl.MicMuted()
	m.volume = m.ctrl.Volume()
	m.entries = m.ctrl.Conversation()

	if epoch := m.ctrl.Epoch(); epoch != m.epoch {
		m.epoch = epoch
		m.raw = nil
		m.lastSeq = 0
	}
	for _, msg := range m.ctrl.RawMessages(m.lastSeq) {
		// newer than the epoch just read; picked up on the next refresh
		if msg.Epoch != m.epoch {
			break
		}
		m.raw = append(m.raw, msg)
		m.lastSeq = msg.Seq
	}
	m.refreshContent()
}

func (m *model) refreshContent() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.contentView())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.textInput.View(),
		m.footerView(),
	)
}

func (m model) headerView() string {
	title := barStyle.Render("hark")
	status := " " + m.status + " "
	if m.err != nil {
		status = " " + errorStyle.Render(m.err.Error()) + " "
	}
	line := strings.Repeat(
		"─",
		max(0, m.viewport.Width-lipgloss.Width(title)-lipgloss.Width(status)),
	)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, status, line)
}

func (m model) footerView() string {
	mic := micLabel(m.muted)
	level := " " + volumeBar(m.volume, 12) + " "
	info := barStyle.Render("^S start/stop  ^T mute  Tab log  Esc quit")
	line := strings.Repeat(
		"─",
		max(0, m.viewport.Width-lipgloss.Width(mic)-lipgloss.Width(level)-lipgloss.Width(info)),
	)
	return lipgloss.JoinHorizontal(lipgloss.Center, mic, level, line, info)
}

func (m model) contentView() string {
	if m.showLog {
		return logView(m.raw)
	}
	return transcriptView(m.entries, m.viewport.Width)
}

// transcriptView renders one line per entry. Entries still being spoken
// or streamed are dimmed.
func transcriptView(entries []conversation.Entry, width int) string {
	var b strings.Builder
	for _, e := range entries {
		label := userStyle.Render("you")
		if e.Role == conversation.RoleAssistant {
			label = botStyle.Render(" ai")
		}

		text := e.Text
		if width > 8 {
			text = lipgloss.NewStyle().Width(width - 5).Render(text)
		}
		if !e.IsFinal {
			text = pendingStyle.Render(text)
		}

		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

func logView(raw []session.RawMessage) string {
	var b strings.Builder
	for _, msg := range raw {
		kind := "?"
		if ev, err := realtime.Decode(msg.Data); err == nil {
			kind = realtime.TypeOf(ev)
		}
		fmt.Fprintf(&b, "%4d %s %s\n", msg.Seq, msg.Received.Format("15:04:05.000"), kind)
	}
	return b.String()
}

func volumeBar(level float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(level*float64(width) + 0.5)
	filled = min(max(filled, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func micLabel(muted bool) string {
	if muted {
		return errorStyle.Render("mic muted")
	}
	return "mic on"
}

// Run shows the UI until the user quits or ctx is done. The session is
// started with voice as soon as the UI is up and stopped on exit.
func Run(ctx context.Context, ctrl Controller, voice string, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	p := tea.NewProgram(
		initialModel(ctrl, voice, logger),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	ctrl.Stop()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Package tui renders one conversation in the terminal. All chat state
// lives in the session controller; this layer only draws it and feeds
// input back.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/medilink-health/medilink-cli/internal/domain"
	"github.com/medilink-health/medilink-cli/internal/session"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	selfStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))
	peerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	expiredStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	unreadStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	toastStyles  = map[session.ToastLevel]lipgloss.Style{
		session.ToastInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		session.ToastSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		session.ToastError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

type ctrlEvent session.Event

type sendDone struct{ err error }

// Model is the bubbletea model for one chat surface.
type Model struct {
	ctrl     *session.Controller
	selfID   string
	peerName string

	vp    viewport.Model
	input textinput.Model
	ready bool

	toast      string
	toastLevel session.ToastLevel
}

func NewModel(ctrl *session.Controller, selfID, peerName string) Model {
	input := textinput.New()
	input.Placeholder = "Type a message, or /image <path>"
	input.CharLimit = 2000
	input.Focus()

	return Model{
		ctrl:     ctrl,
		selfID:   selfID,
		peerName: peerName,
		input:    input,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitEvent())
}

func (m Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.ctrl.Events()
		if !ok {
			return nil
		}
		return ctrlEvent(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		chrome := 5 // header, separator, unread/toast, input, help
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-chrome)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - chrome
		}
		m.vp.SetContent(m.renderMessages())
		m.vp.GotoBottom()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.ctrl.Close()
			return m, tea.Quit

		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("") // optimistic clear, before the RPC
			if text == "" {
				return m, nil
			}
			return m, m.submit(text)

		case "end":
			m.vp.GotoBottom()
			m.ctrl.JumpToLatest()

		default:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			cmds = append(cmds, cmd)
			m.ctrl.SetNearBottom(m.nearBottom())
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		cmds = append(cmds, cmd)
		m.ctrl.SetNearBottom(m.nearBottom())

	case ctrlEvent:
		m.applyEvent(session.Event(msg))
		cmds = append(cmds, m.waitEvent())

	case sendDone:
		// failures already surfaced as toasts by the controller
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) applyEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventMessages:
		follow := m.nearBottom()
		m.vp.SetContent(m.renderMessages())
		if follow {
			m.vp.GotoBottom()
		}
	case session.EventToast:
		m.toast = ev.Toast
		m.toastLevel = ev.ToastLevel
	case session.EventNotification:
		m.toast = notificationText(ev.Notification)
		m.toastLevel = session.ToastInfo
	}
}

// nearBottom mirrors the web client's "within 100px of the bottom" rule,
// in lines.
func (m *Model) nearBottom() bool {
	if !m.ready {
		return true
	}
	return m.vp.ScrollPercent() >= 1 ||
		m.vp.TotalLineCount()-m.vp.YOffset-m.vp.Height <= m.ctrl.NearBottomLines()
}

func (m Model) submit(text string) tea.Cmd {
	return func() tea.Msg {
		if path, ok := strings.CutPrefix(text, "/image "); ok {
			return sendDone{err: m.ctrl.SendImage(strings.TrimSpace(path))}
		}
		return sendDone{err: m.ctrl.SendText(text)}
	}
}

func (m Model) renderMessages() string {
	msgs := m.ctrl.Messages()
	if len(msgs) == 0 {
		return timeStyle.Render("No messages yet.")
	}

	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(m.renderMessage(msg))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) renderMessage(msg domain.ChatMessage) string {
	name := m.peerName
	style := peerStyle
	if msg.SelfAuthored(m.selfID) {
		name = "you"
		style = selfStyle
	}

	body := msg.Content
	if msg.ImageURL != "" {
		body = "[image] " + msg.ImageURL
	}
	return fmt.Sprintf("%s %s %s",
		timeStyle.Render(msg.Timestamp.Local().Format("15:04")),
		style.Render(name+":"),
		body)
}

func (m Model) View() string {
	if !m.ready {
		return "loading conversation..."
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("Chat with "+m.peerName) + "\n")
	b.WriteString(m.vp.View() + "\n")

	switch {
	case m.ctrl.UnreadBelow() > 0:
		b.WriteString(unreadStyle.Render(fmt.Sprintf("%d new message(s) below - press End to jump", m.ctrl.UnreadBelow())) + "\n")
	case m.toast != "":
		b.WriteString(toastStyles[m.toastLevel].Render(m.toast) + "\n")
	default:
		b.WriteString("\n")
	}

	if m.ctrl.Status() == domain.SessionExpired {
		b.WriteString(expiredStyle.Render("Session expired - pay to continue: medilink pay --doctor <id>") + "\n")
	} else if m.ctrl.Sending() {
		b.WriteString(timeStyle.Render("sending...") + "\n")
	} else {
		b.WriteString(m.input.View() + "\n")
	}

	b.WriteString(timeStyle.Render("enter send · /image <path> · end latest · esc quit"))
	return b.String()
}

func notificationText(n domain.Notification) string {
	switch n.Type {
	case domain.NotifyChatRequest:
		return "New chat request received"
	case domain.NotifyChatPayment:
		return "Payment received for a chat session"
	default:
		return "Notification: " + string(n.Type)
	}
}

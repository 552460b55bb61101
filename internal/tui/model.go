// Package tui is the terminal notification-settings view. It mounts the
// coordinator, offers the explicit "enable notifications" action and asks the
// permission question in-line.
package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinywideclouds/go-push-subscriber/internal/coordinator"
	"github.com/tinywideclouds/go-push-subscriber/internal/notice"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

const maxToasts = 3

// Subscriber is the part of the coordinator the view drives.
type Subscriber interface {
	Mount(ctx context.Context) error
	Subscribe(ctx context.Context, manual bool) error
	State() coordinator.State
}

type stateMsg coordinator.State

type noticeMsg subscription.Notice

type askMsg struct {
	reply chan<- subscription.PermissionState
}

type doneMsg struct{ err error }

var (
	headingStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	blockedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	activeButton  = lipgloss.NewStyle().Padding(0, 2).Background(lipgloss.Color("35")).Foreground(lipgloss.Color("255"))
	passiveButton = lipgloss.NewStyle().Padding(0, 2).Background(lipgloss.Color("238")).Foreground(lipgloss.Color("245"))
	promptStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Model is the root bubbletea model.
type Model struct {
	ctx      context.Context
	sub      Subscriber
	states   <-chan coordinator.State
	notices  <-chan subscription.Notice
	prompter *Prompter

	state   coordinator.State
	toasts  []subscription.Notice
	pending chan<- subscription.PermissionState
}

// New wires the view. states and notices are fed by the coordinator's
// listener and notifier.
func New(ctx context.Context, sub Subscriber, states <-chan coordinator.State, notices <-chan subscription.Notice, prompter *Prompter) Model {
	return Model{
		ctx:      ctx,
		sub:      sub,
		states:   states,
		notices:  notices,
		prompter: prompter,
		state:    sub.State(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.mount(), m.waitState(), m.waitNotice(), m.waitAsk())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case stateMsg:
		m.state = coordinator.State(msg)
		return m, m.waitState()
	case noticeMsg:
		m.toasts = append(m.toasts, subscription.Notice(msg))
		if len(m.toasts) > maxToasts {
			m.toasts = m.toasts[len(m.toasts)-maxToasts:]
		}
		return m, m.waitNotice()
	case askMsg:
		m.pending = msg.reply
		return m, nil
	case doneMsg:
		m.state = m.sub.State()
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.pending != nil {
		answer, ok := map[string]subscription.PermissionState{
			"y":   subscription.Granted,
			"n":   subscription.Denied,
			"esc": subscription.Undetermined,
		}[msg.String()]
		if !ok {
			return m, nil
		}
		m.pending <- answer
		m.pending = nil
		return m, m.waitAsk()
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "enter", " ":
		if !m.canEnable() {
			return m, nil
		}
		return m, m.subscribe()
	}
	return m, nil
}

// canEnable mirrors the settings screen: disabled while loading or once
// subscribed with permission granted.
func (m Model) canEnable() bool {
	s := m.state
	return !s.Loading && !(s.IsSubscribed && s.Permission == subscription.Granted)
}

func (m Model) View() string {
	var b strings.Builder
	s := m.state

	b.WriteString(headingStyle.Render("Push Notifications"))
	b.WriteString("\n")
	if s.IsSubscribed {
		b.WriteString(mutedStyle.Render("You are receiving daily insights and reminders."))
	} else {
		b.WriteString(mutedStyle.Render("Enable notifications to get daily insights."))
	}
	b.WriteString("\n")
	if s.Permission == subscription.Denied {
		b.WriteString(blockedStyle.Render("Notifications are blocked. Please enable them in your notification settings."))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	label := "Enable Notifications"
	switch {
	case s.Loading:
		label = "Working…"
	case s.IsSubscribed:
		label = "Notifications Active"
	}
	if m.canEnable() {
		b.WriteString(activeButton.Render(label))
	} else {
		b.WriteString(passiveButton.Render(label))
	}
	b.WriteString("\n")

	if m.pending != nil {
		b.WriteString("\n")
		b.WriteString(promptStyle.Render("Allow push notifications?  [y] allow  [n] block  [esc] not now"))
		b.WriteString("\n")
	}

	for _, t := range m.toasts {
		b.WriteString("\n")
		b.WriteString(notice.Render(t))
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("enter: enable • q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) mount() tea.Cmd {
	ctx, sub := m.ctx, m.sub
	return func() tea.Msg {
		return doneMsg{err: sub.Mount(ctx)}
	}
}

func (m Model) subscribe() tea.Cmd {
	ctx, sub := m.ctx, m.sub
	return func() tea.Msg {
		return doneMsg{err: sub.Subscribe(ctx, true)}
	}
}

func (m Model) waitState() tea.Cmd {
	if m.states == nil {
		return nil
	}
	ch := m.states
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func (m Model) waitNotice() tea.Cmd {
	if m.notices == nil {
		return nil
	}
	ch := m.notices
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func (m Model) waitAsk() tea.Cmd {
	if m.prompter == nil {
		return nil
	}
	asks := m.prompter.asks
	return func() tea.Msg {
		reply, ok := <-asks
		if !ok {
			return nil
		}
		return askMsg{reply: reply}
	}
}

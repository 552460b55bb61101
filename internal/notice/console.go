// Package notice renders user-visible notices (toasts) on a terminal.
package notice

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

var (
	titleStyles = map[subscription.NoticeLevel]lipgloss.Style{
		subscription.NoticeInfo:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		subscription.NoticeSuccess: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("35")),
		subscription.NoticeWarning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		subscription.NoticeError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
	descriptionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boxStyle         = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	icons = map[subscription.NoticeLevel]string{
		subscription.NoticeInfo:    "i",
		subscription.NoticeSuccess: "✓",
		subscription.NoticeWarning: "!",
		subscription.NoticeError:   "✗",
	}
)

// Render formats a notice as a bordered toast.
func Render(n subscription.Notice) string {
	title := titleStyles[n.Level].Render(icons[n.Level] + " " + n.Title)
	if n.Description == "" {
		return boxStyle.Render(title)
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, descriptionStyle.Render(n.Description)))
}

// Console writes toasts to a terminal stream.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Notify(n subscription.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, Render(n))
}

// Channel forwards notices to a channel, dropping them when it is full.
type Channel chan subscription.Notice

func (c Channel) Notify(n subscription.Notice) {
	select {
	case c <- n:
	default:
	}
}

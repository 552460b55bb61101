package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// TerminalPrompter asks on the controlling terminal. Without a terminal the
// prompt counts as dismissed.
type TerminalPrompter struct {
	in     *os.File
	reader *bufio.Reader
	out    io.Writer
}

func NewTerminalPrompter(in *os.File, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: in, reader: bufio.NewReader(in), out: out}
}

// Prompt reads one answer: y/yes grants, n/no/block denies, anything else
// (including an empty line) dismisses.
func (p *TerminalPrompter) Prompt(ctx context.Context) (subscription.PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return subscription.Undetermined, err
	}
	if !isTerminal(int(p.in.Fd())) {
		return subscription.Undetermined, nil
	}

	if _, err := fmt.Fprint(p.out, "Allow push notifications? [y]es / [n]o / Enter to decide later\n> "); err != nil {
		return subscription.Undetermined, err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		if errors.Is(err, io.EOF) {
			return subscription.Undetermined, nil
		}
		return subscription.Undetermined, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "allow":
		return subscription.Granted, nil
	case "n", "no", "block":
		return subscription.Denied, nil
	default:
		return subscription.Undetermined, nil
	}
}

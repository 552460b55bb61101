package tui

import (
	"context"

	"github.com/tinywideclouds/go-push-subscriber/internal/coordinator"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

// Prompter asks the permission question inside the running view instead of
// on the raw terminal, which bubbletea owns.
type Prompter struct {
	asks chan chan<- subscription.PermissionState
}

func NewPrompter() *Prompter {
	return &Prompter{asks: make(chan chan<- subscription.PermissionState)}
}

// Prompt blocks until the view answers or ctx ends.
func (p *Prompter) Prompt(ctx context.Context) (subscription.PermissionState, error) {
	reply := make(chan subscription.PermissionState, 1)
	select {
	case p.asks <- reply:
	case <-ctx.Done():
		return subscription.Undetermined, ctx.Err()
	}

	select {
	case answer := <-reply:
		return answer, nil
	case <-ctx.Done():
		return subscription.Undetermined, ctx.Err()
	}
}

// StateFeed adapts a buffered channel into a coordinator listener that never
// blocks the coordinator; stale snapshots are dropped in favour of newer ones.
func StateFeed(ch chan coordinator.State) func(coordinator.State) {
	if cap(ch) == 0 {
		panic("tui: StateFeed needs a buffered channel")
	}
	return func(s coordinator.State) {
		for {
			select {
			case ch <- s:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	}
}

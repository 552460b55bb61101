// Package permission is the local notification-permission platform: the
// user's decision lives in the state directory and is asked for at most once.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-subscriber/internal/platform/localstate"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

const decisionFile = "permission.json"

// Prompter presents the permission question to the user.
// Returning Undetermined means the prompt was dismissed.
type Prompter interface {
	Prompt(ctx context.Context) (subscription.PermissionState, error)
}

type decision struct {
	State     string    `json:"state"`
	DecidedAt time.Time `json:"decided_at"`
}

// Store implements subscription.Permissions over a state directory.
type Store struct {
	dir      *localstate.Dir
	prompter Prompter
	logger   *slog.Logger

	// Serializes prompts so two requests never ask twice.
	promptMu sync.Mutex
}

func NewStore(dir *localstate.Dir, prompter Prompter, logger *slog.Logger) *Store {
	return &Store{
		dir:      dir,
		prompter: prompter,
		logger:   logger.With("component", "PermissionStore"),
	}
}

// Current re-reads the decision on every call; it can change outside the
// application.
func (s *Store) Current(_ context.Context) (subscription.PermissionState, error) {
	if !s.dir.Supported() {
		return subscription.Undetermined, subscription.ErrUnsupportedPlatform
	}

	var d decision
	found, err := s.dir.Read(decisionFile, &d)
	if err != nil {
		return subscription.Undetermined, err
	}
	if !found {
		return subscription.Undetermined, nil
	}
	return subscription.ParsePermissionState(d.State)
}

// Request prompts only while no decision exists. A dismissed prompt is not
// recorded, so the next request asks again.
func (s *Store) Request(ctx context.Context) (subscription.PermissionState, error) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	current, err := s.Current(ctx)
	if err != nil || current != subscription.Undetermined {
		return current, err
	}

	answer, err := s.prompter.Prompt(ctx)
	if err != nil {
		return subscription.Undetermined, fmt.Errorf("permission prompt: %w", err)
	}
	if answer == subscription.Undetermined {
		s.logger.Debug("Permission prompt dismissed")
		return answer, nil
	}

	if err := s.Set(ctx, answer); err != nil {
		return subscription.Undetermined, err
	}
	return answer, nil
}

// Set records a decision directly, as a settings change would.
// Setting Undetermined resets the decision.
func (s *Store) Set(_ context.Context, state subscription.PermissionState) error {
	if !s.dir.Supported() {
		return subscription.ErrUnsupportedPlatform
	}
	if err := s.dir.Write(decisionFile, decision{State: state.String(), DecidedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("failed to record permission: %w", err)
	}
	s.logger.Info("Permission recorded", "state", state.String())
	return nil
}

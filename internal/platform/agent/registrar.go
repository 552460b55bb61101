// Package agent registers the background delivery agent that receives push
// messages while the application is not in the foreground.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

// Installer is the platform primitive that actually installs an agent.
type Installer interface {
	Supported() bool
	Lookup(ctx context.Context, scope string) (*subscription.AgentHandle, error)
	Install(ctx context.Context, scriptURL, scope string) (subscription.AgentHandle, error)
}

// Registrar implements subscription.AgentRegistrar. It installs at most once
// per scope and is safe for concurrent use.
type Registrar struct {
	installer Installer
	scriptURL string
	scope     string
	logger    *slog.Logger

	mu     sync.Mutex
	handle *subscription.AgentHandle
}

func NewRegistrar(installer Installer, scriptURL, scope string, logger *slog.Logger) *Registrar {
	if scope == "" {
		scope = "/"
	}
	return &Registrar{
		installer: installer,
		scriptURL: scriptURL,
		scope:     scope,
		logger:    logger.With("component", "AgentRegistrar", "scope", scope),
	}
}

func (r *Registrar) Supported() bool {
	return r.installer != nil && r.installer.Supported()
}

func (r *Registrar) Lookup(ctx context.Context) (*subscription.AgentHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil {
		h := *r.handle
		return &h, nil
	}
	if !r.Supported() {
		return nil, nil
	}
	return r.installer.Lookup(ctx, r.scope)
}

// Register returns the installed agent, installing it first if necessary.
func (r *Registrar) Register(ctx context.Context) (subscription.AgentHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil {
		return *r.handle, nil
	}
	if !r.Supported() {
		return subscription.AgentHandle{}, subscription.ErrUnsupportedPlatform
	}

	existing, err := r.installer.Lookup(ctx, r.scope)
	if err != nil {
		return subscription.AgentHandle{}, fmt.Errorf("agent lookup failed: %w", err)
	}
	if existing != nil {
		r.logger.Debug("Delivery agent already installed", "agent_id", existing.ID)
		r.handle = existing
		return *existing, nil
	}

	installed, err := r.installer.Install(ctx, r.scriptURL, r.scope)
	if err != nil {
		return subscription.AgentHandle{}, fmt.Errorf("agent install failed: %w", err)
	}
	r.logger.Info("Delivery agent installed", "agent_id", installed.ID, "script_url", installed.ScriptURL)
	r.handle = &installed
	return installed, nil
}

// Package subscription contains the public contracts and domain models for the
// push-subscription coordinator: the platform collaborators it drives and the
// backend it synchronizes with.
package subscription

import (
	"context"
)

// PermissionProbe reads the current platform notification permission.
// It must not prompt or otherwise change state.
type PermissionProbe interface {
	// Current returns the platform permission. When the platform has no
	// notification capability it returns Undetermined and ErrUnsupportedPlatform.
	Current(ctx context.Context) (PermissionState, error)
}

// PermissionRequester asks the platform for notification permission.
// Once a decision exists, Request resolves immediately without prompting.
type PermissionRequester interface {
	Request(ctx context.Context) (PermissionState, error)
}

// Permissions is the full platform permission surface.
type Permissions interface {
	PermissionProbe
	PermissionRequester
}

// AgentRegistrar ensures the background delivery agent is installed exactly
// once per origin.
type AgentRegistrar interface {
	// Supported reports whether the platform can host a delivery agent at all.
	Supported() bool

	// Lookup returns the installed agent, or nil if none is installed yet.
	// It never installs.
	Lookup(ctx context.Context) (*AgentHandle, error)

	// Register installs the agent if needed and returns its handle.
	// Registering an already-installed agent returns the existing handle.
	Register(ctx context.Context) (AgentHandle, error)
}

// Store queries and creates push subscriptions held by a delivery agent.
// Create must only be called after GetExisting returned nil.
type Store interface {
	GetExisting(ctx context.Context, agent AgentHandle) (*Record, error)
	Create(ctx context.Context, agent AgentHandle, applicationServerKey []byte) (*Record, error)
}

// BackendSync durably stores a subscription record for the authenticated caller.
// Repeated calls with the same endpoint are upserts.
type BackendSync interface {
	Persist(ctx context.Context, req PersistRequest) error
}

// Notifier presents a user-visible notice (a toast).
type Notifier interface {
	Notify(n Notice)
}

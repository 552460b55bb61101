// Package coordinator drives the push-subscription flow: permission, delivery
// agent registration, subscription reuse or creation, and backend persistence.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
	"github.com/tinywideclouds/go-push-subscriber/pkg/vapid"
)

// Phase is the coordinator's position in its state machine.
type Phase int

const (
	Idle Phase = iota
	Checking
	Subscribed
	Unsubscribed
	Blocked
	Error
)

func (p Phase) String() string {
	switch p {
	case Checking:
		return "checking"
	case Subscribed:
		return "subscribed"
	case Unsubscribed:
		return "unsubscribed"
	case Blocked:
		return "blocked"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// State is a snapshot of the coordinator.
type State struct {
	Phase Phase
	subscription.UIState
}

// Outcome labels for a finished subscribe attempt.
const (
	OutcomeSubscribed    = "subscribed"
	OutcomeBlocked       = "blocked"
	OutcomeDismissed     = "dismissed"
	OutcomeUnsupported   = "unsupported"
	OutcomeMisconfigured = "misconfigured"
	OutcomeFailed        = "failed"
)

// Recorder receives one observation per subscribe attempt that actually ran.
type Recorder interface {
	RecordAttempt(ctx context.Context, outcome string, manual bool, elapsed time.Duration)
}

// Deps are the collaborators the coordinator drives.
type Deps struct {
	Permissions subscription.Permissions
	Registrar   subscription.AgentRegistrar
	Store       subscription.Store
	Backend     subscription.BackendSync
	Notifier    subscription.Notifier

	// PublicKey is the deploy-time application server key (base64url).
	PublicKey string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithListener registers fn to receive every state change.
func WithListener(fn func(State)) Option {
	return func(c *Coordinator) {
		c.listeners = append(c.listeners, fn)
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// Coordinator owns the subscription UI state. Only its own steps mutate it.
type Coordinator struct {
	deps      Deps
	logger    *slog.Logger
	recorder  Recorder
	listeners []func(State)

	mu    sync.Mutex
	state State
	// gen counts check cycles. A mount only writes while its cycle is current.
	gen uint64
}

// New creates a coordinator in the Idle phase.
func New(deps Deps, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		deps:   deps,
		logger: logger.With("component", "SubscriptionCoordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mount runs the passive "am I already subscribed" check. It never prompts,
// never notifies the user and never contacts the backend.
func (c *Coordinator) Mount(ctx context.Context) error {
	_, gen, ok := c.enter(false)
	if !ok {
		return nil
	}

	perm, err := c.deps.Permissions.Current(ctx)
	if err != nil {
		c.logger.Debug("Permission probe unavailable", "err", err)
		c.updateIf(gen, func(s *State) {
			s.Phase = Error
			s.Permission = subscription.Undetermined
			s.IsSubscribed = false
		})
		return err
	}
	if !c.updateIf(gen, func(s *State) { s.Permission = perm }) {
		return nil
	}

	idle := func() {
		c.updateIf(gen, func(s *State) {
			s.IsSubscribed = false
			if perm == subscription.Denied {
				s.Phase = Blocked
			} else {
				s.Phase = Unsubscribed
			}
		})
	}

	if !c.deps.Registrar.Supported() {
		idle()
		return nil
	}

	agent, err := c.deps.Registrar.Lookup(ctx)
	if err != nil {
		c.logger.Warn("Delivery agent lookup failed", "err", err)
		c.updateIf(gen, func(s *State) { s.Phase = Error })
		return fmt.Errorf("agent lookup: %w", err)
	}
	if agent == nil {
		idle()
		return nil
	}

	rec, err := c.deps.Store.GetExisting(ctx, *agent)
	if err != nil {
		c.logger.Warn("Existing subscription lookup failed", "err", err)
		c.updateIf(gen, func(s *State) { s.Phase = Error })
		return fmt.Errorf("subscription lookup: %w", err)
	}
	if rec == nil {
		idle()
		return nil
	}

	c.logger.Debug("Existing subscription found", "endpoint", rec.Endpoint)
	if !c.updateIf(gen, func(s *State) {
		s.Phase = Subscribed
		s.IsSubscribed = true
	}) {
		c.logger.Debug("Mount result discarded, a subscribe attempt took over")
	}
	return nil
}

// Subscribe runs one subscribe attempt. manual marks a user-initiated call;
// automatic calls stay silent on the unsupported, blocked and dismissed paths.
// While an attempt is in flight further calls return ErrSubscribeInFlight
// and do nothing.
func (c *Coordinator) Subscribe(ctx context.Context, manual bool) error {
	prev, _, ok := c.enter(true)
	if !ok {
		c.logger.Debug("Subscribe dropped, attempt already in flight", "manual", manual)
		return subscription.ErrSubscribeInFlight
	}
	// An overtaken mount never finished its check.
	if prev == Checking {
		prev = Idle
	}

	start := time.Now()
	outcome, err := c.subscribe(ctx, manual, prev)
	c.update(func(s *State) { s.Loading = false })

	if c.recorder != nil {
		c.recorder.RecordAttempt(ctx, outcome, manual, time.Since(start))
	}
	return err
}

func (c *Coordinator) subscribe(ctx context.Context, manual bool, prev Phase) (string, error) {
	// 1. Delivery agent.
	agent, err := c.deps.Registrar.Register(ctx)
	if err != nil {
		c.update(func(s *State) { s.Phase = Error })
		c.report(subscription.NoticeError, "Push notifications are not supported on this device", "", err, manual)
		if errors.Is(err, subscription.ErrUnsupportedPlatform) {
			return OutcomeUnsupported, err
		}
		return OutcomeFailed, fmt.Errorf("register delivery agent: %w", err)
	}
	c.logger.Debug("Delivery agent ready", "agent_id", agent.ID)

	// 2. Current permission.
	perm, err := c.deps.Permissions.Current(ctx)
	if err != nil {
		c.update(func(s *State) { s.Phase = Error })
		c.report(subscription.NoticeError, "Push notifications are not supported on this device", "", err, manual)
		return OutcomeUnsupported, err
	}

	// 3. Ask only while undetermined.
	if perm == subscription.Undetermined {
		perm, err = c.deps.Permissions.Request(ctx)
		if err != nil {
			return c.fail(fmt.Errorf("request permission: %w", err))
		}
	}
	c.update(func(s *State) { s.Permission = perm })

	// 4. Anything but granted stops here.
	switch perm {
	case subscription.Denied:
		c.update(func(s *State) {
			s.Phase = Blocked
			s.IsSubscribed = false
		})
		c.report(subscription.NoticeWarning, "Notifications are blocked",
			"Please enable them in your notification settings.", nil, manual)
		return OutcomeBlocked, subscription.ErrPermissionDenied
	case subscription.Undetermined:
		c.update(func(s *State) { s.Phase = prev })
		c.report(subscription.NoticeInfo, "Permission was ignored", "", nil, manual)
		return OutcomeDismissed, subscription.ErrPermissionDismissed
	}

	// 5. Application server key. A bad key is a deploy fault: log, never toast.
	key, err := vapid.DecodePublicKey(c.deps.PublicKey)
	if err != nil {
		c.update(func(s *State) {
			s.Phase = Error
			s.IsSubscribed = false
		})
		c.logger.Error("Application server key misconfigured", "err", err)
		return OutcomeMisconfigured, err
	}

	// 6. Reuse before create.
	rec, err := c.deps.Store.GetExisting(ctx, agent)
	if err != nil {
		return c.fail(fmt.Errorf("get existing subscription: %w", err))
	}
	if rec == nil {
		rec, err = c.deps.Store.Create(ctx, agent, key)
		if err != nil {
			return c.fail(fmt.Errorf("create subscription: %w", err))
		}
		c.logger.Info("Push subscription created", "endpoint", rec.Endpoint)
	}

	// 7. Subscribed only once the backend has acknowledged.
	if err := c.deps.Backend.Persist(ctx, subscription.NewPersistRequest(*rec)); err != nil {
		return c.fail(fmt.Errorf("persist subscription: %w", err))
	}

	c.update(func(s *State) {
		s.Phase = Subscribed
		s.IsSubscribed = true
	})
	c.logger.Info("Push notification subscribed", "endpoint", rec.Endpoint, "manual", manual)
	c.report(subscription.NoticeSuccess, "Notifications enabled successfully!", "", nil, manual)
	return OutcomeSubscribed, nil
}

// fail handles step 8: any unexpected failure after permission was granted.
func (c *Coordinator) fail(err error) (string, error) {
	c.update(func(s *State) {
		s.Phase = Error
		s.IsSubscribed = false
	})
	c.report(subscription.NoticeError, "Failed to enable notifications", "", err, true)
	return OutcomeFailed, err
}

// report logs every outcome and shows a notice only when notifyUser is set.
func (c *Coordinator) report(level subscription.NoticeLevel, title, description string, err error, notifyUser bool) {
	attrs := []any{"notify_user", notifyUser}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	switch level {
	case subscription.NoticeError:
		c.logger.Error(title, attrs...)
	case subscription.NoticeWarning:
		c.logger.Warn(title, attrs...)
	default:
		c.logger.Info(title, attrs...)
	}

	if !notifyUser || c.deps.Notifier == nil {
		return
	}
	c.deps.Notifier.Notify(subscription.Notice{Level: level, Title: title, Description: description})
}

// enter moves to Checking and starts a new check cycle unless a subscribe
// attempt is in flight. It returns the phase it replaced and the cycle.
func (c *Coordinator) enter(loading bool) (Phase, uint64, bool) {
	c.mu.Lock()
	if c.state.Loading {
		c.mu.Unlock()
		return 0, 0, false
	}
	prev := c.state.Phase
	c.gen++
	gen := c.gen
	c.state.Phase = Checking
	c.state.Loading = loading
	snapshot := c.state
	c.mu.Unlock()

	c.emit(snapshot)
	return prev, gen, true
}

// updateIf applies fn only while gen is still the current cycle.
func (c *Coordinator) updateIf(gen uint64, fn func(s *State)) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	fn(&c.state)
	snapshot := c.state
	c.mu.Unlock()

	c.emit(snapshot)
	return true
}

func (c *Coordinator) update(fn func(s *State)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := c.state
	c.mu.Unlock()

	c.emit(snapshot)
}

func (c *Coordinator) emit(s State) {
	for _, fn := range c.listeners {
		fn(s)
	}
}

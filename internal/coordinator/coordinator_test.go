package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-subscriber/internal/coordinator"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
	"github.com/tinywideclouds/go-push-subscriber/pkg/vapid"
)

// A realistic VAPID public key (uncompressed P-256 point).
const testPublicKey = "BEl62iUYgUivxIkv69yViEuiBIa-Ib9-SkvMeAtA3LFgDzkrxZJjSgSnfckjBJuBkr3qBUYIHBQFLXYp5Nksh8U"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockPermissions struct {
	mock.Mock
}

func (m *mockPermissions) Current(ctx context.Context) (subscription.PermissionState, error) {
	args := m.Called(ctx)
	return args.Get(0).(subscription.PermissionState), args.Error(1)
}

func (m *mockPermissions) Request(ctx context.Context) (subscription.PermissionState, error) {
	args := m.Called(ctx)
	return args.Get(0).(subscription.PermissionState), args.Error(1)
}

type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) Supported() bool {
	return m.Called().Bool(0)
}

func (m *mockRegistrar) Lookup(ctx context.Context) (*subscription.AgentHandle, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.AgentHandle), args.Error(1)
}

func (m *mockRegistrar) Register(ctx context.Context) (subscription.AgentHandle, error) {
	args := m.Called(ctx)
	return args.Get(0).(subscription.AgentHandle), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetExisting(ctx context.Context, agent subscription.AgentHandle) (*subscription.Record, error) {
	args := m.Called(ctx, agent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Record), args.Error(1)
}

func (m *mockStore) Create(ctx context.Context, agent subscription.AgentHandle, key []byte) (*subscription.Record, error) {
	args := m.Called(ctx, agent, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Record), args.Error(1)
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Persist(ctx context.Context, req subscription.PersistRequest) error {
	return m.Called(ctx, req).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(n subscription.Notice) {
	m.Called(n)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *fakeRecorder) RecordAttempt(_ context.Context, outcome string, _ bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

// --- Setup ---

type fixture struct {
	perms    *mockPermissions
	registry *mockRegistrar
	store    *mockStore
	backend  *mockBackend
	notifier *mockNotifier
	recorder *fakeRecorder
	coord    *coordinator.Coordinator
}

var (
	testAgent  = subscription.AgentHandle{ID: "agent-1", ScriptURL: "/sw.js", Scope: "/"}
	testRecord = &subscription.Record{
		Endpoint: "https://push.example.com/send/abc",
		P256dh:   []byte{0x04, 0x01, 0x02},
		Auth:     []byte{0xCA, 0xFE},
	}
)

func setup(t *testing.T, publicKey string, opts ...coordinator.Option) *fixture {
	t.Helper()
	f := &fixture{
		perms:    new(mockPermissions),
		registry: new(mockRegistrar),
		store:    new(mockStore),
		backend:  new(mockBackend),
		notifier: new(mockNotifier),
		recorder: &fakeRecorder{},
	}
	opts = append(opts, coordinator.WithRecorder(f.recorder))
	f.coord = coordinator.New(coordinator.Deps{
		Permissions: f.perms,
		Registrar:   f.registry,
		Store:       f.store,
		Backend:     f.backend,
		Notifier:    f.notifier,
		PublicKey:   publicKey,
	}, newTestLogger(), opts...)
	return f
}

// --- Tests ---

func TestSubscribe_FullScenario(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var phases []coordinator.Phase
	f := setup(t, testPublicKey, coordinator.WithListener(func(s coordinator.State) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, s.Phase)
	}))

	key, err := vapid.DecodePublicKey(testPublicKey)
	require.NoError(t, err)

	f.registry.On("Register", mock.Anything).Return(testAgent, nil).Once()
	f.perms.On("Current", mock.Anything).Return(subscription.Undetermined, nil).Once()
	f.perms.On("Request", mock.Anything).Return(subscription.Granted, nil).Once()
	f.store.On("GetExisting", mock.Anything, testAgent).Return(nil, nil).Once()
	f.store.On("Create", mock.Anything, testAgent, key).Return(testRecord, nil).Once()
	f.backend.On("Persist", mock.Anything, subscription.NewPersistRequest(*testRecord)).Return(nil).Once()
	f.notifier.On("Notify", mock.MatchedBy(func(n subscription.Notice) bool {
		return n.Level == subscription.NoticeSuccess
	})).Return().Once()

	err = f.coord.Subscribe(ctx, true)
	require.NoError(t, err)

	state := f.coord.State()
	assert.Equal(t, coordinator.Subscribed, state.Phase)
	assert.True(t, state.IsSubscribed)
	assert.False(t, state.Loading)
	assert.Equal(t, subscription.Granted, state.Permission)

	f.registry.AssertNumberOfCalls(t, "Register", 1)
	f.perms.AssertNumberOfCalls(t, "Request", 1)
	f.store.AssertNumberOfCalls(t, "Create", 1)
	f.backend.AssertNumberOfCalls(t, "Persist", 1)
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, phases)
	assert.Equal(t, coordinator.Checking, phases[0])
	assert.Equal(t, coordinator.Subscribed, phases[len(phases)-1])
	assert.Equal(t, []string{coordinator.OutcomeSubscribed}, f.recorder.outcomes)
}

func TestSubscribe_ReusesExistingRecord(t *testing.T) {
	ctx := context.Background()
	f := setup(t, testPublicKey)

	f.registry.On("Register", mock.Anything).Return(testAgent, nil)
	f.perms.On("Current", mock.Anything).Return(subscription.Granted, nil)
	f.store.On("GetExisting", mock.Anything, testAgent).Return(testRecord, nil)
	f.backend.On("Persist", mock.Anything, subscription.NewPersistRequest(*testRecord)).Return(nil)

	// Automatic call: no success toast.
	require.NoError(t, f.coord.Subscribe(ctx, false))
	// Re-invoking while subscribed is safe: reuse and re-post.
	require.NoError(t, f.coord.Subscribe(ctx, false))

	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	f.perms.AssertNotCalled(t, "Request", mock.Anything)
	f.backend.AssertNumberOfCalls(t, "Persist", 2)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
	assert.Equal(t, coordinator.Subscribed, f.coord.State().Phase)
}

func TestSubscribe_DeniedPermission(t *testing.T) {
	ctx := context.Background()

	t.Run("automatic call stays silent", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.registry.On("Register", mock.Anything).Return(testAgent, nil)
		f.perms.On("Current", mock.Anything).Return(subscription.Denied, nil)

		err := f.coord.Subscribe(ctx, false)

		assert.ErrorIs(t, err, subscription.ErrPermissionDenied)
		assert.Equal(t, coordinator.Blocked, f.coord.State().Phase)
		assert.Equal(t, subscription.Denied, f.coord.State().Permission)
		assert.False(t, f.coord.State().Loading)
		f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
		f.perms.AssertNotCalled(t, "Request", mock.Anything)
	})

	t.Run("manual call warns the user", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.registry.On("Register", mock.Anything).Return(testAgent, nil)
		f.perms.On("Current", mock.Anything).Return(subscription.Denied, nil)
		f.notifier.On("Notify", mock.MatchedBy(func(n subscription.Notice) bool {
			return n.Level == subscription.NoticeWarning && n.Title == "Notifications are blocked"
		})).Return().Once()

		err := f.coord.Subscribe(ctx, true)

		assert.ErrorIs(t, err, subscription.ErrPermissionDenied)
		assert.Equal(t, coordinator.Blocked, f.coord.State().Phase)
		f.notifier.AssertNumberOfCalls(t, "Notify", 1)
	})

	t.Run("denied at the prompt", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.registry.On("Register", mock.Anything).Return(testAgent, nil)
		f.perms.On("Current", mock.Anything).Return(subscription.Undetermined, nil)
		f.perms.On("Request", mock.Anything).Return(subscription.Denied, nil)

		err := f.coord.Subscribe(ctx, false)

		assert.ErrorIs(t, err, subscription.ErrPermissionDenied)
		assert.Equal(t, coordinator.Blocked, f.coord.State().Phase)
		f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
	})
}

func TestSubscribe_DismissedPrompt(t *testing.T) {
	ctx := context.Background()
	f := setup(t, testPublicKey)

	f.registry.On("Register", mock.Anything).Return(testAgent, nil)
	f.perms.On("Current", mock.Anything).Return(subscription.Undetermined, nil)
	f.perms.On("Request", mock.Anything).Return(subscription.Undetermined, nil)
	f.notifier.On("Notify", mock.MatchedBy(func(n subscription.Notice) bool {
		return n.Level == subscription.NoticeInfo
	})).Return().Once()

	err := f.coord.Subscribe(ctx, true)

	assert.ErrorIs(t, err, subscription.ErrPermissionDismissed)
	assert.Equal(t, coordinator.Idle, f.coord.State().Phase)
	assert.False(t, f.coord.State().IsSubscribed)
	f.store.AssertNotCalled(t, "GetExisting", mock.Anything, mock.Anything)
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
	assert.Equal(t, []string{coordinator.OutcomeDismissed}, f.recorder.outcomes)
}

func TestSubscribe_UnsupportedPlatform(t *testing.T) {
	ctx := context.Background()

	t.Run("automatic", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.registry.On("Register", mock.Anything).Return(subscription.AgentHandle{}, subscription.ErrUnsupportedPlatform)

		err := f.coord.Subscribe(ctx, false)

		assert.ErrorIs(t, err, subscription.ErrUnsupportedPlatform)
		assert.Equal(t, coordinator.Error, f.coord.State().Phase)
		assert.False(t, f.coord.State().Loading)
		f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
		f.perms.AssertNotCalled(t, "Current", mock.Anything)
	})

	t.Run("manual", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.registry.On("Register", mock.Anything).Return(subscription.AgentHandle{}, subscription.ErrUnsupportedPlatform)
		f.notifier.On("Notify", mock.Anything).Return().Once()

		err := f.coord.Subscribe(ctx, true)

		assert.ErrorIs(t, err, subscription.ErrUnsupportedPlatform)
		f.notifier.AssertNumberOfCalls(t, "Notify", 1)
	})

	t.Run("any registration failure reads as unsupported", func(t *testing.T) {
		f := setup(t, testPublicKey)
		installErr := errors.New("agent install failed")
		f.registry.On("Register", mock.Anything).Return(subscription.AgentHandle{}, installErr)
		f.notifier.On("Notify", mock.MatchedBy(func(n subscription.Notice) bool {
			return n.Level == subscription.NoticeError && n.Title == "Push notifications are not supported on this device"
		})).Return().Once()

		err := f.coord.Subscribe(ctx, true)

		assert.ErrorIs(t, err, installErr)
		assert.Equal(t, coordinator.Error, f.coord.State().Phase)
		f.notifier.AssertNumberOfCalls(t, "Notify", 1)
		f.perms.AssertNotCalled(t, "Current", mock.Anything)
		assert.Equal(t, []string{coordinator.OutcomeFailed}, f.recorder.outcomes)
	})
}

func TestSubscribe_MissingKeyIsLoggedNotToasted(t *testing.T) {
	ctx := context.Background()

	for _, key := range []string{"", "%%%not-base64%%%"} {
		f := setup(t, key)
		f.registry.On("Register", mock.Anything).Return(testAgent, nil)
		f.perms.On("Current", mock.Anything).Return(subscription.Granted, nil)

		err := f.coord.Subscribe(ctx, true)

		require.Error(t, err)
		assert.True(t, errors.Is(err, subscription.ErrMissingKey) || errors.Is(err, subscription.ErrInvalidKeyFormat))
		assert.Equal(t, coordinator.Error, f.coord.State().Phase)
		f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
		f.store.AssertNotCalled(t, "GetExisting", mock.Anything, mock.Anything)
		assert.Equal(t, []string{coordinator.OutcomeMisconfigured}, f.recorder.outcomes)
	}
}

func TestSubscribe_FailuresAfterGrant(t *testing.T) {
	ctx := context.Background()
	key, err := vapid.DecodePublicKey(testPublicKey)
	require.NoError(t, err)

	t.Run("rejected create", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.registry.On("Register", mock.Anything).Return(testAgent, nil)
		f.perms.On("Current", mock.Anything).Return(subscription.Granted, nil)
		f.store.On("GetExisting", mock.Anything, testAgent).Return(nil, nil)
		f.store.On("Create", mock.Anything, testAgent, key).Return(nil, subscription.ErrSubscriptionRejected)
		f.notifier.On("Notify", mock.Anything).Return().Once()

		err := f.coord.Subscribe(ctx, false)

		assert.ErrorIs(t, err, subscription.ErrSubscriptionRejected)
		assert.Equal(t, coordinator.Error, f.coord.State().Phase)
		f.backend.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
		// The generic failure notice is shown even on automatic calls.
		f.notifier.AssertNumberOfCalls(t, "Notify", 1)
	})

	t.Run("backend persist failure never claims subscribed", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.registry.On("Register", mock.Anything).Return(testAgent, nil)
		f.perms.On("Current", mock.Anything).Return(subscription.Granted, nil)
		f.store.On("GetExisting", mock.Anything, testAgent).Return(testRecord, nil)
		f.backend.On("Persist", mock.Anything, mock.Anything).Return(subscription.ErrBackendPersist)
		f.notifier.On("Notify", mock.MatchedBy(func(n subscription.Notice) bool {
			return n.Level == subscription.NoticeError
		})).Return().Once()

		err := f.coord.Subscribe(ctx, true)

		assert.ErrorIs(t, err, subscription.ErrBackendPersist)
		state := f.coord.State()
		assert.Equal(t, coordinator.Error, state.Phase)
		assert.False(t, state.IsSubscribed)
		assert.False(t, state.Loading)
		assert.Equal(t, []string{coordinator.OutcomeFailed}, f.recorder.outcomes)
	})
}

func TestSubscribe_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	f := setup(t, testPublicKey)

	started := make(chan struct{})
	release := make(chan struct{})

	f.registry.On("Register", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(testAgent, nil)
	f.perms.On("Current", mock.Anything).Return(subscription.Granted, nil)
	f.store.On("GetExisting", mock.Anything, testAgent).Return(testRecord, nil)
	f.backend.On("Persist", mock.Anything, mock.Anything).Return(nil)

	done := make(chan error, 1)
	go func() { done <- f.coord.Subscribe(ctx, false) }()

	<-started
	assert.True(t, f.coord.State().Loading)

	// Dropped, not queued.
	assert.ErrorIs(t, f.coord.Subscribe(ctx, true), subscription.ErrSubscribeInFlight)
	assert.ErrorIs(t, f.coord.Subscribe(ctx, false), subscription.ErrSubscribeInFlight)
	// Mount does not interrupt an attempt either.
	require.NoError(t, f.coord.Mount(ctx))

	close(release)
	require.NoError(t, <-done)

	f.registry.AssertNumberOfCalls(t, "Register", 1)
	f.perms.AssertNumberOfCalls(t, "Current", 1)
	f.backend.AssertNumberOfCalls(t, "Persist", 1)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
	assert.Equal(t, []string{coordinator.OutcomeSubscribed}, f.recorder.outcomes)
}

func TestMount(t *testing.T) {
	ctx := context.Background()

	t.Run("existing subscription is subscribed without network", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.perms.On("Current", mock.Anything).Return(subscription.Granted, nil)
		f.registry.On("Supported").Return(true)
		f.registry.On("Lookup", mock.Anything).Return(&testAgent, nil)
		f.store.On("GetExisting", mock.Anything, testAgent).Return(testRecord, nil)

		require.NoError(t, f.coord.Mount(ctx))

		state := f.coord.State()
		assert.Equal(t, coordinator.Subscribed, state.Phase)
		assert.True(t, state.IsSubscribed)
		assert.False(t, state.Loading)
		f.backend.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
		f.registry.AssertNotCalled(t, "Register", mock.Anything)
		f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
	})

	t.Run("no agent yet", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.perms.On("Current", mock.Anything).Return(subscription.Undetermined, nil)
		f.registry.On("Supported").Return(true)
		f.registry.On("Lookup", mock.Anything).Return(nil, nil)

		require.NoError(t, f.coord.Mount(ctx))

		assert.Equal(t, coordinator.Unsubscribed, f.coord.State().Phase)
		f.store.AssertNotCalled(t, "GetExisting", mock.Anything, mock.Anything)
	})

	t.Run("blocked", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.perms.On("Current", mock.Anything).Return(subscription.Denied, nil)
		f.registry.On("Supported").Return(true)
		f.registry.On("Lookup", mock.Anything).Return(&testAgent, nil)
		f.store.On("GetExisting", mock.Anything, testAgent).Return(nil, nil)

		require.NoError(t, f.coord.Mount(ctx))

		assert.Equal(t, coordinator.Blocked, f.coord.State().Phase)
		f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
	})

	t.Run("no notification capability", func(t *testing.T) {
		f := setup(t, testPublicKey)
		f.perms.On("Current", mock.Anything).Return(subscription.Undetermined, subscription.ErrUnsupportedPlatform)

		err := f.coord.Mount(ctx)

		assert.ErrorIs(t, err, subscription.ErrUnsupportedPlatform)
		assert.Equal(t, coordinator.Error, f.coord.State().Phase)
		f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
	})
}

// blockLookup makes the mount's agent lookup wait until release is closed.
func blockLookup(f *fixture) (started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	f.registry.On("Supported").Return(true)
	f.registry.On("Lookup", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil, nil).Once()
	return started, release
}

func TestMount_OvertakenBySubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("late mount keeps the subscribed result", func(t *testing.T) {
		f := setup(t, testPublicKey)
		started, release := blockLookup(f)
		f.perms.On("Current", mock.Anything).Return(subscription.Granted, nil)
		f.registry.On("Register", mock.Anything).Return(testAgent, nil)
		f.store.On("GetExisting", mock.Anything, testAgent).Return(testRecord, nil)
		f.backend.On("Persist", mock.Anything, mock.Anything).Return(nil)

		mounted := make(chan error, 1)
		go func() { mounted <- f.coord.Mount(ctx) }()
		<-started

		require.NoError(t, f.coord.Subscribe(ctx, false))
		f.backend.AssertNumberOfCalls(t, "Persist", 1)
		assert.Equal(t, coordinator.Subscribed, f.coord.State().Phase)

		close(release)
		require.NoError(t, <-mounted)

		state := f.coord.State()
		assert.Equal(t, coordinator.Subscribed, state.Phase)
		assert.True(t, state.IsSubscribed)
		assert.False(t, state.Loading)
	})

	t.Run("dismissal never restores checking", func(t *testing.T) {
		f := setup(t, testPublicKey)
		started, release := blockLookup(f)
		f.perms.On("Current", mock.Anything).Return(subscription.Undetermined, nil)
		f.perms.On("Request", mock.Anything).Return(subscription.Undetermined, nil)
		f.registry.On("Register", mock.Anything).Return(testAgent, nil)

		mounted := make(chan error, 1)
		go func() { mounted <- f.coord.Mount(ctx) }()
		<-started
		require.Equal(t, coordinator.Checking, f.coord.State().Phase)

		err := f.coord.Subscribe(ctx, false)
		assert.ErrorIs(t, err, subscription.ErrPermissionDismissed)
		assert.Equal(t, coordinator.Idle, f.coord.State().Phase)

		close(release)
		require.NoError(t, <-mounted)

		state := f.coord.State()
		assert.Equal(t, coordinator.Idle, state.Phase)
		assert.False(t, state.IsSubscribed)
		f.notifier.AssertNotCalled(t, "Notify", mock.Anything)
	})
}

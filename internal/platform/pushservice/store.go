// Package pushservice creates push subscriptions with a push service and keeps
// them per delivery agent, so an existing one is always reused.
package pushservice

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-subscriber/internal/platform/localstate"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
	"github.com/tinywideclouds/go-push-subscriber/pkg/vapid"
)

const authSecretLen = 16

// storedSubscription is the on-disk form. The private key stays with the
// agent; only the public half ever leaves it.
type storedSubscription struct {
	Endpoint             string    `json:"endpoint"`
	P256dh               []byte    `json:"p256dh"`
	Auth                 []byte    `json:"auth"`
	PrivateKey           []byte    `json:"private_key"`
	ApplicationServerKey string    `json:"application_server_key"`
	CreatedAt            time.Time `json:"created_at"`
}

type registerRequest struct {
	AgentID              string `json:"agent_id"`
	ApplicationServerKey string `json:"application_server_key"`
}

type registerResponse struct {
	Endpoint string `json:"endpoint"`
}

// Store implements subscription.Store.
type Store struct {
	dir        *localstate.Dir
	perms      subscription.PermissionProbe
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu sync.Mutex
}

func NewStore(
	dir *localstate.Dir,
	perms subscription.PermissionProbe,
	pushServiceURL string,
	httpClient *http.Client,
	logger *slog.Logger,
) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Store{
		dir:        dir,
		perms:      perms,
		baseURL:    strings.TrimRight(pushServiceURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "PushSubscriptionStore"),
	}
}

func (s *Store) GetExisting(_ context.Context, agent subscription.AgentHandle) (*subscription.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(agent)
}

// Create registers a new subscription. It is refused unless notification
// permission is granted at the time of the call.
func (s *Store) Create(ctx context.Context, agent subscription.AgentHandle, applicationServerKey []byte) (*subscription.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perm, err := s.perms.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", subscription.ErrSubscriptionRejected, err)
	}
	if perm != subscription.Granted {
		return nil, fmt.Errorf("%w: permission is %s", subscription.ErrSubscriptionRejected, perm)
	}
	if err := vapid.ValidateApplicationServerKey(applicationServerKey); err != nil {
		return nil, fmt.Errorf("%w: %w", subscription.ErrSubscriptionRejected, err)
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate subscription key: %w", err)
	}
	auth := make([]byte, authSecretLen)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}

	serverKey := vapid.EncodePublicKey(applicationServerKey)
	endpoint, err := s.register(ctx, agent, serverKey)
	if err != nil {
		return nil, err
	}

	stored := storedSubscription{
		Endpoint:             endpoint,
		P256dh:               priv.PublicKey().Bytes(),
		Auth:                 auth,
		PrivateKey:           priv.Bytes(),
		ApplicationServerKey: serverKey,
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.dir.Write(fileFor(agent), stored); err != nil {
		return nil, fmt.Errorf("store subscription: %w", err)
	}

	s.logger.Info("Subscription registered with push service", "agent_id", agent.ID, "endpoint", endpoint)
	return toRecord(stored), nil
}

func (s *Store) register(ctx context.Context, agent subscription.AgentHandle, serverKey string) (string, error) {
	body, err := json.Marshal(registerRequest{AgentID: agent.ID, ApplicationServerKey: serverKey})
	if err != nil {
		return "", fmt.Errorf("failed to marshal register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/subscriptions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("push service transport error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		s.logger.Warn("Push service rejected subscription", "status", resp.StatusCode)
		return "", fmt.Errorf("%w: push service returned %d", subscription.ErrSubscriptionRejected, resp.StatusCode)
	default:
		return "", fmt.Errorf("push service unavailable: status %d", resp.StatusCode)
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode push service response: %w", err)
	}
	if out.Endpoint == "" {
		return "", fmt.Errorf("%w: push service returned no endpoint", subscription.ErrSubscriptionRejected)
	}
	return out.Endpoint, nil
}

func (s *Store) load(agent subscription.AgentHandle) (*subscription.Record, error) {
	var stored storedSubscription
	found, err := s.dir.Read(fileFor(agent), &stored)
	if err != nil || !found {
		return nil, err
	}
	return toRecord(stored), nil
}

func toRecord(s storedSubscription) *subscription.Record {
	return &subscription.Record{
		Endpoint: s.Endpoint,
		P256dh:   s.P256dh,
		Auth:     s.Auth,
	}
}

func fileFor(agent subscription.AgentHandle) string {
	return "subscription-" + agent.ID + ".json"
}

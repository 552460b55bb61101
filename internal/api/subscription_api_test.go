package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-subscriber/internal/api"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

// --- Mocks ---
type MockSubscriptionStore struct {
	mock.Mock
}

func (m *MockSubscriptionStore) RegisterWeb(ctx context.Context, u urn.URN, sub notification.WebPushSubscription) error {
	return m.Called(ctx, u, sub).Error(0)
}
func (m *MockSubscriptionStore) UnregisterWeb(ctx context.Context, u urn.URN, endpoint string) error {
	return m.Called(ctx, u, endpoint).Error(0)
}
func (m *MockSubscriptionStore) ListWeb(ctx context.Context, u urn.URN) ([]notification.WebPushSubscription, error) {
	args := m.Called(ctx, u)
	subs, _ := args.Get(0).([]notification.WebPushSubscription)
	return subs, args.Error(1)
}

// --- Setup ---
func setupAPI(t *testing.T) (*api.SubscriptionAPI, *MockSubscriptionStore) {
	t.Helper()
	mockStore := new(MockSubscriptionStore)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewSubscriptionAPI(mockStore, logger), mockStore
}

// withUser simulates the auth middleware.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

func webSub(endpoint string) notification.WebPushSubscription {
	var sub notification.WebPushSubscription
	sub.Endpoint = endpoint
	sub.Keys.P256dh = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	sub.Keys.Auth = []byte{0xCA, 0xFE, 0xBA, 0xBE}
	return sub
}

// --- Tests ---

func TestRegisterWeb(t *testing.T) {
	targetURN, _ := urn.Parse("urn:test:user:123")
	validSub := webSub("https://fcm.googleapis.com/fcm/send/xyz")

	t.Run("Success - base64url keys", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		body := `{"endpoint":"https://fcm.googleapis.com/fcm/send/xyz","p256dh":"3q2-7w","auth":"yv66vg"}`
		req := withUser(httptest.NewRequest("POST", "/api/v1/register/web", bytes.NewBufferString(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("RegisterWeb", mock.Anything, targetURN, validSub).Return(nil)

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Success - padded standard base64 keys", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		body := `{"endpoint":"https://fcm.googleapis.com/fcm/send/xyz","p256dh":"3q2+7w==","auth":"yv66vg=="}`
		req := withUser(httptest.NewRequest("POST", "/api/v1/register/web", bytes.NewBufferString(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("RegisterWeb", mock.Anything, targetURN, validSub).Return(nil)

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Missing Keys (Invalid Object)", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest("POST", "/api/v1/register/web", bytes.NewBufferString(`{"endpoint": "https://valid.com"}`)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockStore.AssertNotCalled(t, "RegisterWeb", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects Undecodable Keys", func(t *testing.T) {
		apiHandler, _ := setupAPI(t)
		body := `{"endpoint":"https://valid.com","p256dh":"not*base64!","auth":"yv66vg"}`
		req := withUser(httptest.NewRequest("POST", "/api/v1/register/web", bytes.NewBufferString(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Anonymous Caller", func(t *testing.T) {
		apiHandler, _ := setupAPI(t)
		req := httptest.NewRequest("POST", "/api/v1/register/web", bytes.NewBufferString(`{}`))
		w := httptest.NewRecorder()

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Storage Failure", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		body := `{"endpoint":"https://fcm.googleapis.com/fcm/send/xyz","p256dh":"3q2-7w","auth":"yv66vg"}`
		req := withUser(httptest.NewRequest("POST", "/api/v1/register/web", bytes.NewBufferString(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("RegisterWeb", mock.Anything, targetURN, validSub).Return(assert.AnError)

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestUnregisterWeb(t *testing.T) {
	targetURN, _ := urn.Parse("urn:test:user:123")

	t.Run("Success", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		body, _ := json.Marshal(api.UnregisterWebRequest{Endpoint: "https://old.endpoint"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/unregister/web", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("UnregisterWeb", mock.Anything, targetURN, "https://old.endpoint").Return(nil)

		apiHandler.UnregisterWeb(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Missing Endpoint", func(t *testing.T) {
		apiHandler, _ := setupAPI(t)
		req := withUser(httptest.NewRequest("POST", "/api/v1/unregister/web", bytes.NewBufferString(`{}`)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.UnregisterWeb(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListWeb(t *testing.T) {
	targetURN, _ := urn.Parse("urn:test:user:123")

	t.Run("Returns flat base64url subscriptions", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest("GET", "/api/v1/subscriptions/web", nil), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("ListWeb", mock.Anything, targetURN).
			Return([]notification.WebPushSubscription{webSub("https://push.example/a")}, nil)

		apiHandler.ListWeb(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var got []subscription.PersistRequest
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, []subscription.PersistRequest{
			{Endpoint: "https://push.example/a", P256dh: "3q2-7w", Auth: "yv66vg"},
		}, got)
	})

	t.Run("Empty list is an empty array", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest("GET", "/api/v1/subscriptions/web", nil), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("ListWeb", mock.Anything, targetURN).Return(nil, nil)

		apiHandler.ListWeb(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-subscriber/pkg/registry"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
	"github.com/tinywideclouds/go-push-subscriber/pkg/vapid"
)

type SubscriptionAPI struct {
	Store  registry.SubscriptionStore
	Logger *slog.Logger
}

func NewSubscriptionAPI(store registry.SubscriptionStore, logger *slog.Logger) *SubscriptionAPI {
	return &SubscriptionAPI{
		Store:  store,
		Logger: logger,
	}
}

// RegisterWeb accepts the flat {endpoint, p256dh, auth} body sent by subscribers.
// Keys may be base64url or standard base64, padded or not.
func (api *SubscriptionAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req subscription.PersistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Error("RegisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	sub, err := toWebPushSubscription(req)
	if err != nil {
		api.Logger.Warn("RegisterWeb: Validation failed", "reason", err.Error())
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	if err := api.Store.RegisterWeb(ctx, userURN, sub); err != nil {
		api.Logger.Error("failed to register web", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterWeb: Subscription registered", "user", userURN, "endpoint", sub.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

type UnregisterWebRequest struct {
	Endpoint string `json:"endpoint"`
}

func (api *SubscriptionAPI) UnregisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req UnregisterWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Error("UnregisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	// The endpoint alone identifies the row.
	if req.Endpoint == "" {
		api.Logger.Warn("UnregisterWeb: Validation failed", "reason", "missing endpoint")
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Store.UnregisterWeb(ctx, userURN, req.Endpoint); err != nil {
		api.Logger.Warn("failed to unregister web", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister web")
		return
	}
	api.Logger.Info("UnregisterWeb: Subscription unregistered", "user", userURN, "endpoint", req.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

// ListWeb returns the caller's subscriptions in the same flat shape RegisterWeb accepts.
func (api *SubscriptionAPI) ListWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.caller(w, r)
	if !ok {
		return
	}

	subs, err := api.Store.ListWeb(ctx, userURN)
	if err != nil {
		api.Logger.Error("failed to list web", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	out := make([]subscription.PersistRequest, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscription.NewPersistRequest(subscription.Record{
			Endpoint: sub.Endpoint,
			P256dh:   sub.Keys.P256dh,
			Auth:     sub.Keys.Auth,
		}))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		api.Logger.Warn("ListWeb: response write failed", "err", err)
	}
}

func (api *SubscriptionAPI) caller(w http.ResponseWriter, r *http.Request) (urn.URN, bool) {
	var none urn.URN
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return none, false
	}
	userURN, err := urn.Parse(userID)
	if err != nil {
		api.Logger.Warn("caller handle is not a URN", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return none, false
	}
	return userURN, true
}

var errIncomplete = errors.New("missing endpoint or keys")

func toWebPushSubscription(req subscription.PersistRequest) (notification.WebPushSubscription, error) {
	var sub notification.WebPushSubscription
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		return sub, errIncomplete
	}
	p256dh, err := vapid.DecodePublicKey(req.P256dh)
	if err != nil {
		return sub, err
	}
	auth, err := vapid.DecodePublicKey(req.Auth)
	if err != nil {
		return sub, err
	}
	sub.Endpoint = req.Endpoint
	sub.Keys.P256dh = p256dh
	sub.Keys.Auth = auth
	return sub, nil
}

// --- File: pkg/registry/interfaces.go ---
package registry

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// SubscriptionStore defines the contract for remembering "where" to push to a user.
// Web subscriptions are keyed by endpoint, so registering the same endpoint twice
// is an upsert.
type SubscriptionStore interface {
	RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error
	UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error
	// ListWeb returns every web subscription held for the user, possibly none.
	ListWeb(ctx context.Context, user urn.URN) ([]notification.WebPushSubscription, error)
}

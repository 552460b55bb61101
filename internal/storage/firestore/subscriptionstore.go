package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

const platformWeb = "web"

// SubscriptionStore implements registry.SubscriptionStore using Google Cloud Firestore.
type SubscriptionStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewSubscriptionStore(client *firestore.Client, logger *slog.Logger) *SubscriptionStore {
	return &SubscriptionStore{
		client: client,
		logger: logger.With("component", "firestore_subscription_store"),
	}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Platform        string                            `firestore:"platform"`
	WebSubscription *notification.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                         `firestore:"updated_at"`
}

// RegisterWeb upserts the subscription. The endpoint URL is the unique identifier,
// so re-registering refreshes the keys in place.
func (s *SubscriptionStore) RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error {
	record := deviceRecord{
		Platform:        platformWeb,
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}

	if _, err := s.deviceRef(user, hashEndpoint(sub.Endpoint)).Set(ctx, record); err != nil {
		return fmt.Errorf("firestore set failed: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if _, err := s.deviceRef(user, hashEndpoint(endpoint)).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete failed: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) ListWeb(ctx context.Context, user urn.URN) ([]notification.WebPushSubscription, error) {
	iter := s.devicesCollection(user).Where("platform", "==", platformWeb).Documents(ctx)
	defer iter.Stop()

	subs := make([]notification.WebPushSubscription, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped rather than failing the whole listing.
			s.logger.Warn("Skipping unreadable device record", "doc", doc.Ref.ID, "err", err)
			continue
		}
		if record.WebSubscription != nil {
			subs = append(subs, *record.WebSubscription)
		}
	}

	return subs, nil
}

// deviceRef: users/{userID}/devices/{endpointHash}
func (s *SubscriptionStore) deviceRef(user urn.URN, docID string) *firestore.DocumentRef {
	return s.devicesCollection(user).Doc(docID)
}

func (s *SubscriptionStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("devices")
}

// hashEndpoint keeps doc IDs fixed-length and avoids hot-spotting on endpoint prefixes.
func hashEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}

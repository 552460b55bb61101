package subscription

import "errors"

var (
	// ErrUnsupportedPlatform means the platform lacks notification or
	// delivery-agent capability. Fatal, never retried.
	ErrUnsupportedPlatform = errors.New("platform does not support push notifications")

	// ErrPermissionDenied means the user blocked notifications.
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrPermissionDismissed means the permission prompt closed without a decision.
	ErrPermissionDismissed = errors.New("notification permission request dismissed")

	// ErrMissingKey means no application server key is configured.
	ErrMissingKey = errors.New("application server key is not configured")

	// ErrInvalidKeyFormat means the configured key is not valid base64url.
	ErrInvalidKeyFormat = errors.New("invalid application server key format")

	// ErrSubscriptionRejected means the platform refused to create a subscription.
	ErrSubscriptionRejected = errors.New("push subscription rejected")

	// ErrBackendPersist means the backend did not acknowledge the subscription.
	ErrBackendPersist = errors.New("failed to persist subscription to backend")

	// ErrSubscribeInFlight is returned when a subscribe attempt is already running.
	// The call that receives it did nothing.
	ErrSubscribeInFlight = errors.New("subscribe already in progress")
)

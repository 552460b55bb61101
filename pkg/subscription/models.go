package subscription

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/SherClockHolmes/webpush-go"
)

// PermissionState is the platform notification permission.
type PermissionState int

const (
	Undetermined PermissionState = iota
	Granted
	Denied
)

// String returns the platform vocabulary for the state.
func (p PermissionState) String() string {
	switch p {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "default"
	}
}

// ParsePermissionState maps the platform vocabulary back to a PermissionState.
func ParsePermissionState(s string) (PermissionState, error) {
	switch s {
	case "granted":
		return Granted, nil
	case "denied":
		return Denied, nil
	case "default", "":
		return Undetermined, nil
	default:
		return Undetermined, fmt.Errorf("unknown permission state %q", s)
	}
}

// Record is one device's registration with a push service.
// The application holds it read-only and only forwards it.
type Record struct {
	Endpoint string `json:"endpoint"`
	Auth     []byte `json:"auth"`
	P256dh   []byte `json:"p256dh"`
}

// WebPush returns the record in the standard subscription JSON form
// (unpadded base64url keys), as consumed by web-push senders.
func (r Record) WebPush() webpush.Subscription {
	return webpush.Subscription{
		Endpoint: r.Endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(r.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(r.Auth),
		},
	}
}

// PersistRequest is the body sent to the backend persistence endpoint.
type PersistRequest struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// NewPersistRequest flattens a record into the backend wire shape.
func NewPersistRequest(r Record) PersistRequest {
	wp := r.WebPush()
	return PersistRequest{
		Endpoint: wp.Endpoint,
		P256dh:   wp.Keys.P256dh,
		Auth:     wp.Keys.Auth,
	}
}

// AgentHandle identifies an installed delivery agent.
type AgentHandle struct {
	ID          string    `json:"id"`
	ScriptURL   string    `json:"script_url"`
	Scope       string    `json:"scope"`
	InstalledAt time.Time `json:"installed_at"`
}

// UIState is the presentation-facing view of the coordinator.
type UIState struct {
	Permission   PermissionState
	IsSubscribed bool
	Loading      bool
}

// NoticeLevel is the severity of a user-visible notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeWarning
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeSuccess:
		return "success"
	case NoticeWarning:
		return "warning"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// Notice is a user-visible message.
type Notice struct {
	Level       NoticeLevel
	Title       string
	Description string
}

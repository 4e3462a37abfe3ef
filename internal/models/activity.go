// Package models provides data model definitions for timeaudit.
package models

import (
	"strings"
	"time"
)

// MaxRetries is the number of failed delivery attempts after which a
// queued activity is no longer retried.
const MaxRetries = 3

// ConfirmedRetention is how long a confirmed activity stays in the local
// queue (by CreatedAt) before cleanup removes it.
const ConfirmedRetention = 24 * time.Hour

// ActivityStatus is the delivery status of a locally queued activity.
type ActivityStatus string

const (
	StatusPending   ActivityStatus = "pending"
	StatusConfirmed ActivityStatus = "confirmed"
	StatusFailed    ActivityStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ActivityStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// PendingActivity is an activity entry held in the local queue until the
// remote store has durably accepted it.
type PendingActivity struct {
	LocalID    string         `json:"localId"`
	OwnerID    string         `json:"ownerId"`
	Text       string         `json:"text"`
	LoggedAt   time.Time      `json:"loggedAt"`
	CreatedAt  time.Time      `json:"createdAt"`
	Status     ActivityStatus `json:"status"`
	RetryCount int            `json:"retryCount"`
}

// IsSyncable reports whether the activity should be offered for delivery.
func (a *PendingActivity) IsSyncable() bool {
	switch a.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return a.RetryCount < MaxRetries
	}
	return false
}

// IsExhausted reports whether the activity failed MaxRetries times and
// will never be attempted again.
func (a *PendingActivity) IsExhausted() bool {
	return a.Status == StatusFailed && a.RetryCount >= MaxRetries
}

// PendingActivityInput carries the caller-supplied fields of a new queue entry.
type PendingActivityInput struct {
	LocalID   string
	OwnerID   string
	Text      string
	LoggedAt  time.Time
	CreatedAt time.Time
}

// Validate checks the input before it may be queued.
func (in *PendingActivityInput) Validate() error {
	switch {
	case strings.TrimSpace(in.LocalID) == "":
		return errInvalid("local id is required")
	case strings.TrimSpace(in.OwnerID) == "":
		return errInvalid("owner id is required")
	case strings.TrimSpace(in.Text) == "":
		return errInvalid("activity text is empty")
	case in.LoggedAt.IsZero():
		return errInvalid("logged_at is required")
	case in.CreatedAt.IsZero():
		return errInvalid("created_at is required")
	}
	return nil
}

// RemoteActivity is an activity confirmed by the remote store. ID is
// assigned by the remote store and is opaque to the client.
type RemoteActivity struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"user_id"`
	Text      string    `json:"activity_text"`
	LoggedAt  time.Time `json:"logged_at"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// TableName returns the remote table name for RemoteActivity.
func (RemoteActivity) TableName() string {
	return "activities"
}

// NewActivity is the payload of a remote insert.
type NewActivity struct {
	OwnerID  string    `json:"user_id"`
	Text     string    `json:"activity_text"`
	LoggedAt time.Time `json:"logged_at"`
}

// ValidationError reports an invalid model value.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func errInvalid(reason string) error {
	return &ValidationError{Reason: reason}
}

package sync

import (
	"time"

	"github.com/kimhsiao/timeaudit/internal/models"
)

// EventType names a synchronizer notification.
type EventType string

const (
	EventActivityQueued    EventType = "activity.queued"
	EventActivityConfirmed EventType = "activity.confirmed"
	EventActivityDeferred  EventType = "activity.deferred"
	EventActivityAbandoned EventType = "activity.abandoned"
	EventSyncStarted       EventType = "sync.started"
	EventSyncCompleted     EventType = "sync.completed"
)

// Event is emitted as activities move through the queue.
type Event struct {
	Type      EventType               `json:"type"`
	Activity  *models.PendingActivity `json:"activity,omitempty"`
	Result    *SyncResult             `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Notifier receives synchronizer events. Notify must not block for long;
// it is called on the delivering goroutine.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(event Event)

func (f NotifierFunc) Notify(event Event) { f(event) }

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) Notify(event Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(event)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

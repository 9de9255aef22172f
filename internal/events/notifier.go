package events

import (
	"log/slog"
	"sync"

	"github.com/worq1337/parcer-sub000/internal/model"
)

// NotificationKind distinguishes bus messages.
type NotificationKind string

// Bus message kinds.
const (
	NotifyRecordAdded     NotificationKind = "record_added"
	NotifyDuplicateFound  NotificationKind = "duplicate_found"
	NotifyRecordConfirmed NotificationKind = "record_confirmed"
)

// Notification is one in-process bus message about a pipeline outcome.
type Notification struct {
	Record *model.Record
	Kind   NotificationKind
	Source model.Source
}

// Notifier is a bounded in-process pub/sub bus. Publishing never blocks:
// when a subscriber falls behind, its oldest pending message is dropped.
type Notifier struct {
	logger *slog.Logger
	subs   []chan Notification
	mu     sync.Mutex
	closed bool
}

const subscriberBuffer = 64

// NewNotifier creates an empty bus.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

// Subscribe registers a new subscriber channel.
func (n *Notifier) Subscribe() <-chan Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Notification, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch
	}
	n.subs = append(n.subs, ch)
	return ch
}

// Publish delivers the notification to every subscriber without blocking.
func (n *Notifier) Publish(notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	for _, ch := range n.subs {
		select {
		case ch <- notification:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- notification:
			default:
				n.logger.Warn("dropped bus notification", "kind", notification.Kind)
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for _, ch := range n.subs {
		close(ch)
	}
	n.subs = nil
}

package notifications

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the severity of a notification.
type Status string

const (
	StatusError Status = "error"
	StatusInfo  Status = "info"
	StatusOK    Status = "ok"
)

const defaultCapacity = 100

// Notifier accepts user-facing messages. Calls are fire-and-forget.
type Notifier interface {
	Error(message string)
	Info(message string)
	OK(message string)
}

// Notification is one message shown to the user.
type Notification struct {
	ID        int64     `json:"id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Center keeps the most recent notifications in a bounded buffer for the
// presentation layer to poll, and mirrors every message to the log.
type Center struct {
	mu       sync.RWMutex
	items    []Notification
	capacity int
	nextID   int64
	logger   zerolog.Logger
}

// NewCenter creates a notification center holding up to capacity messages.
func NewCenter(capacity int, logger zerolog.Logger) *Center {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Center{capacity: capacity, logger: logger}
}

func (c *Center) Error(message string) { c.add(StatusError, message) }
func (c *Center) Info(message string)  { c.add(StatusInfo, message) }
func (c *Center) OK(message string)    { c.add(StatusOK, message) }

func (c *Center) add(status Status, message string) {
	c.mu.Lock()
	c.nextID++
	n := Notification{ID: c.nextID, Status: status, Message: message, Timestamp: time.Now()}
	c.items = append(c.items, n)
	if len(c.items) > c.capacity {
		c.items = c.items[len(c.items)-c.capacity:]
	}
	c.mu.Unlock()

	ev := c.logger.Info()
	if status == StatusError {
		ev = c.logger.Warn()
	}
	ev.Str("status", string(status)).Int64("id", n.ID).Msg(message)
}

// List returns notifications with an id greater than since, oldest first.
func (c *Center) List(since int64) []Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		if n.ID > since {
			out = append(out, n)
		}
	}
	return out
}

// Dismiss removes a notification by id.
func (c *Center) Dismiss(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

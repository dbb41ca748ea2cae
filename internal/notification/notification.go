// Package notification stores and delivers worker notifications: an
// in-process backlog with live subscribers, plus optional push delivery.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type categorizes a notification.
type Type string

const (
	TypeSystem    Type = "system"
	TypeTimetable Type = "timetable"
	TypeError     Type = "error"
)

// Priority orders notifications for clients.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Notification is one delivered message. Tag groups repeated notifications
// (clients replace an existing one with the same tag); TargetURL is the
// click-through destination.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Priority  Priority  `json:"priority"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Tag       string    `json:"tag,omitempty"`
	TargetURL string    `json:"target_url,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	Badge     string    `json:"badge,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// New creates a notification with a fresh ID and timestamp.
func New(typ Type, priority Priority, title, message string) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		Priority:  priority,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}

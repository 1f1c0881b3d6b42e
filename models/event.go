package models

import (
	"database/sql/driver"
	"time"
)

type EventType string

const (
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventReply       EventType = "reply"
	EventBounce      EventType = "bounce"
	EventUnsubscribe EventType = "unsubscribe"
)

func ParseEventType(s string) (EventType, error) {
	return parseEnum("event type", s, EventOpen, EventClick, EventReply, EventBounce, EventUnsubscribe)
}

func (e *EventType) Scan(src any) error          { return scanEnum(e, src, ParseEventType) }
func (e EventType) Value() (driver.Value, error) { return enumValue(e, ParseEventType) }

// CampaignEvent is an engagement signal for one lead of one campaign.
type CampaignEvent struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	BounceType string    `json:"bounce_type,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	URL        string    `json:"url,omitempty"`
	Source     string    `json:"source,omitempty"`
}

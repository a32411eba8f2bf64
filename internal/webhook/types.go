package webhook

import (
	"time"
)

type EventType string

const (
	EventConnectionQR        EventType = "connection.qr"
	EventConnectionOpen      EventType = "connection.open"
	EventConnectionClosed    EventType = "connection.closed"
	EventConnectionLoggedOut EventType = "connection.logged_out"
)

type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

type Config struct {
	URLs          []string
	Secret        string
	Events        []EventType
	RetryLimit    int
	RetryDelay    time.Duration
	Workers       int
	AllowInsecure bool
}

type WebhookEvent struct {
	EventType EventType              `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

type DeliveryLog struct {
	ID           int64          `json:"id"`
	URL          string         `json:"url"`
	EventType    EventType      `json:"event_type"`
	Status       DeliveryStatus `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

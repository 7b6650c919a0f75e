// Package store provides the EventRepo interface for inbound webhook deduplication.
package store

import "time"

// EventRecord represents one recorded inbound webhook delivery.
type EventRecord struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// EventRepo is the idempotency ledger for inbound webhook events. The event
// ID is the content hash of the raw payload; recording it a second time must
// report a duplicate rather than create a second row.
type EventRepo interface {
	// RecordEvent inserts a new inbound event record. It returns false if the
	// event ID was already recorded (duplicate delivery).
	RecordEvent(eventID, eventType string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for an event.
	MarkProcessed(eventID string) error
}

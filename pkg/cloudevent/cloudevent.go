// Package cloudevent holds the message envelope used as the key of every
// Kafka record the probe produces or expects. The correlation id is the
// lookup handle for consumed events.
package cloudevent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const SpecVersion = "1.0"

type CloudEvent struct {
	ID                   string    `json:"id"`
	Source               string    `json:"source"`
	SpecVersion          string    `json:"specversion"`
	Type                 string    `json:"type"`
	Subject              string    `json:"subject,omitempty"`
	CorrelationID        string    `json:"correlationid"`
	PayloadVersion       string    `json:"payloadversion,omitempty"`
	DataContentType      string    `json:"datacontenttype,omitempty"`
	Time                 time.Time `json:"time,omitempty"`
	TimeEpochMicroSource int64     `json:"time_epoch_micro_source,omitempty"`
}

// New returns an envelope with a fresh id and the current time.
func New(source, eventType, correlationID string) CloudEvent {
	now := time.Now().UTC()
	return CloudEvent{
		ID:                   uuid.New().String(),
		Source:               source,
		SpecVersion:          SpecVersion,
		Type:                 eventType,
		CorrelationID:        correlationID,
		Time:                 now,
		TimeEpochMicroSource: now.UnixMicro(),
	}
}

// Validate checks the required envelope fields.
func (e CloudEvent) Validate() error {
	for _, f := range []struct{ name, val string }{
		{"id", e.ID},
		{"source", e.Source},
		{"specversion", e.SpecVersion},
		{"type", e.Type},
		{"correlationid", e.CorrelationID},
	} {
		if f.val == "" {
			return fmt.Errorf("cloudevent: missing required field %q", f.name)
		}
	}
	return nil
}

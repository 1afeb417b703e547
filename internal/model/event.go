package model

import (
	"time"
)

// Event is an inbound request to run a pipeline. EventID is optional; when
// absent the engine assigns a generated decision id. The payload is opaque to
// the pipeline beyond canonical encoding.
type Event struct {
	EventID     string         `json:"event_id,omitempty"`
	Pipeline    string         `json:"pipeline"`
	Payload     map[string]any `json:"payload"`
	SubmittedAt time.Time      `json:"submitted_at,omitempty"`
}

// Decision is the structured result of running an analyzer on an event.
type Decision struct {
	Payload         map[string]any `json:"payload"`
	ProducedAt      time.Time      `json:"produced_at"`
	AnalyzerVersion string         `json:"analyzer_version"`
}

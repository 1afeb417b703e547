package model

import (
	"encoding/json"
	"time"
)

// State represents the current stage of a receipt in the anchoring lifecycle.
type State string

const (
	StatePending    State = "PENDING"
	StateSubmitting State = "SUBMITTING"
	StateSubmitted  State = "SUBMITTED"
	StateConfirmed  State = "CONFIRMED"
	StateFailed     State = "FAILED"
	StateAbandoned  State = "ABANDONED"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid checks whether the state is a known value.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateSubmitting, StateSubmitted, StateConfirmed, StateFailed, StateAbandoned:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateAbandoned:
		return true
	}
	return false
}

// allowedTransitions encodes the receipt state machine. SUBMITTING allows a
// self-transition so attempt counts and precomputed tx hashes can be recorded
// while a submission is in flight. Terminal states have no outgoing edges.
var allowedTransitions = map[State][]State{
	StatePending:    {StateSubmitting, StateConfirmed, StateFailed, StateAbandoned},
	StateSubmitting: {StateSubmitting, StateSubmitted, StateFailed, StateAbandoned},
	StateSubmitted:  {StateConfirmed, StateFailed, StateAbandoned},
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
func (s State) CanTransitionTo(next State) bool {
	for _, t := range allowedTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Receipt is the durable record of a decision's journey from intake to the
// ledger. Fingerprints are lowercase hex. The event payload is retained so a
// PENDING receipt can be re-processed after a restart, and the decision
// payload is retained for audit once the analyzer has run.
type Receipt struct {
	DecisionID       string          `json:"decision_id"`
	Pipeline         string          `json:"pipeline"`
	State            State           `json:"state"`
	EventFingerprint string          `json:"event_fingerprint,omitempty"`
	Fingerprint      string          `json:"fingerprint,omitempty"`
	Event            json.RawMessage `json:"event,omitempty"`
	Decision         json.RawMessage `json:"decision,omitempty"`
	AnalyzerVersion  string          `json:"analyzer_version,omitempty"`
	TxID             string          `json:"tx_id,omitempty"`
	Attempts         int             `json:"attempts"`
	LastError        string          `json:"last_error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Key returns the store key, unique per (pipeline, decision_id).
func (r *Receipt) Key() string {
	return r.Pipeline + "/" + r.DecisionID
}

// Clone returns a deep copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	c := *r
	if r.Event != nil {
		c.Event = append(json.RawMessage(nil), r.Event...)
	}
	if r.Decision != nil {
		c.Decision = append(json.RawMessage(nil), r.Decision...)
	}
	return &c
}

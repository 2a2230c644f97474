package history

import "time"

// Outcome classifies how a workflow ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

// Event is one journaled workflow outcome.
type Event struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Account      string    `json:"account"`
	Kind         string    `json:"kind"`
	Outcome      Outcome   `json:"outcome"`
	Code         int       `json:"code"`
	Detail       string    `json:"detail"`
	ConnectionID string    `json:"connection_id"`
}

// Filter narrows List results. A zero Limit uses DefaultListLimit.
type Filter struct {
	Account string
	Kind    string
	Limit   int
}

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 50

// Stats summarizes the journal.
type Stats struct {
	Total     int
	Failed    int
	LastEvent time.Time
}

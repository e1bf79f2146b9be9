package domain

import "time"

// Delivery outcomes recorded in the delivery log.
const (
	OutcomeCounted      = "counted"
	OutcomeIgnored      = "ignored"
	OutcomePong         = "pong"
	OutcomeUnrecognized = "unrecognized"
	OutcomeMalformed    = "malformed"
)

// Delivery is one webhook request as seen by the ingestor.
type Delivery struct {
	ID         string
	Kind       string
	Source     string
	Repo       string
	Action     string
	Status     string
	Outcome    string
	OccurredAt *time.Time
	ReceivedAt time.Time
}

package domain

import "time"

// Webhook event kinds understood by the ingestor.
const (
	EventPing       = "ping"
	EventCheckRun   = "check_run"
	EventCheckSuite = "check_suite"
)

// StatusCompleted is the only check status that is counted.
const StatusCompleted = "completed"

// CheckEvent is the normalised form of a check_run or check_suite delivery.
type CheckEvent struct {
	DeliveryID  string
	Kind        string
	Source      string
	Repo        string
	Action      string
	Status      string
	Conclusion  string
	CompletedAt time.Time
}

// Completed reports whether the event describes a finished check.
func (e CheckEvent) Completed() bool {
	return e.Status == StatusCompleted
}

// CounterUpdate is published to live subscribers after an event was counted.
type CounterUpdate struct {
	Source      string    `json:"source"`
	Repo        string    `json:"repo"`
	Bucket      int64     `json:"bucket"`
	BucketStart time.Time `json:"bucket_start"`
	RateCount   int64     `json:"rate_count"`
	RepoCount   int64     `json:"repo_count"`
	CountedAt   time.Time `json:"counted_at"`
}

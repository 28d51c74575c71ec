package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Message is one customer-support message, optionally embedded.
type Message struct {
	ID         string
	Text       string
	CreatedAt  *time.Time
	Embedding  []float32
	ImportedAt time.Time
}

// FAQ is one knowledge-base entry. The embedding is computed from Question.
type FAQ struct {
	ID        string
	Question  string
	Answer    string
	Embedding []float32
	UpdatedAt time.Time
}

// RunState is the lifecycle state of a cluster run.
type RunState string

const (
	RunNew       RunState = "new"
	RunClustered RunState = "clustered"
	RunMatched   RunState = "matched"
	RunScored    RunState = "scored"
	RunPersisted RunState = "persisted"
	RunFailed    RunState = "failed"
)

type Run struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Notes         string     `json:"notes"`
	State         RunState   `json:"state"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ClusterMap    []MapPoint `json:"cluster_map,omitempty"`
}

// MapPoint is one point of the 2-D visualization projection.
type MapPoint struct {
	ItemID       string  `json:"item_id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	ClusterLabel int     `json:"cluster_label"`
}

type Membership struct {
	RunID        string
	ItemID       string
	ClusterLabel int
}

type FAQSuggestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ClusterResult is the persisted analysis of one non-noise cluster within a run.
// MatchedFAQID/Similarity hold the centroid cosine top-1; ScoredFAQID is the
// FAQ the resolution score was computed against.
type ClusterResult struct {
	RunID              string         `json:"run_id"`
	ClusterLabel       int            `json:"cluster_label"`
	MessageCount       int            `json:"message_count"`
	RepresentativeText string         `json:"representative_text"`
	MatchedFAQID       string         `json:"matched_faq_id,omitempty"`
	Similarity         float64        `json:"similarity"`
	ScoredFAQID        string         `json:"scored_faq_id,omitempty"`
	CoverageLabel      string         `json:"coverage_label"`
	ResolutionScore    int            `json:"resolution_score"`
	ResolutionReason   string         `json:"resolution_reason"`
	Suggestion         *FAQSuggestion `json:"faq_suggestion,omitempty"`
	Sentiment          string         `json:"sentiment"`
	Keywords           []string       `json:"keywords"`
	TopicPhrases       []string       `json:"topic_phrases"`
	Summary            string         `json:"summary"`
	TopicLabel         string         `json:"topic_label"`
	CreatedAt          time.Time      `json:"created_at"`
	MemberIDs          []string       `json:"member_ids,omitempty"`
}

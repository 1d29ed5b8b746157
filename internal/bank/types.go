package bank

import (
	"database/sql"
	"errors"
	"time"

	"github.com/bowerhall/contextbank/internal/config"
)

// ObjectType discriminates the five embeddable object kinds. Chunks
// reference their owning object by (type, id) convention, not a hard join.
type ObjectType string

const (
	ObjectEvent  ObjectType = "event"
	ObjectNote   ObjectType = "note"
	ObjectThread ObjectType = "thread"
	ObjectDraft  ObjectType = "draft"
	ObjectEntity ObjectType = "entity"
)

func ValidObjectType(t ObjectType) bool {
	switch t {
	case ObjectEvent, ObjectNote, ObjectThread, ObjectDraft, ObjectEntity:
		return true
	}
	return false
}

// ErrDimensionMismatch is a caller contract violation: the vector does not
// match the store's configured dimension. Fail fast, never retried.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrUnknownObjectType is a caller contract violation.
var ErrUnknownObjectType = errors.New("unknown object type")

// Store is the per-deployment context bank: embedded chunks, their ANN
// index, and the event rows the time/source filters join against.
type Store struct {
	db      *sql.DB
	ranking config.RankingConfig
	dim     int
	now     func() time.Time
}

// ChunkUpsert is one embeddable chunk headed for storage.
type ChunkUpsert struct {
	UserID      string
	ObjectType  ObjectType
	ObjectID    string
	ChunkIndex  int
	Vector      []float32
	Model       string
	ContentHash string
	Metadata    map[string]any
	OccurredAt  *time.Time
}

// RankedResult is one candidate surviving Stage A, scored by Stage B.
type RankedResult struct {
	ChunkID    int64
	ObjectType ObjectType
	ObjectID   string
	ChunkIndex int
	Distance   float64
	Semantic   float64
	Recency    float64
	Final      float64
	Metadata   map[string]any
}

// SearchOptions narrows a search. Time and source predicates only apply to
// event-backed chunks, through the join to their event rows.
type SearchOptions struct {
	TopK        int
	ObjectTypes []ObjectType
	TimeStart   *time.Time
	TimeEnd     *time.Time
	Sources     []string
	QueryText   string
}

// Event is an ingested external activity record. It never carries message
// bodies; the embeddable text is handed to the store separately and
// discarded after embedding.
type Event struct {
	ID         string
	UserID     string
	Source     string
	ExternalID string
	EventType  string
	Title      string
	URL        string
	Importance float64
	OccurredAt time.Time
	ExpiresAt  time.Time
	Metadata   map[string]any
	CreatedAt  time.Time
}

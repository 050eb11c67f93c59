// Package service holds the client registry and ingestion use cases that the
// HTTP handlers call into.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/akave-ai/tracectrl/internal/model"
)

var (
	// ErrUnknownClient means the client id was well-formed but never registered.
	ErrUnknownClient = errors.New("unknown client")
	// ErrInvalidPayload wraps validation failures of an inbound report.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrNotFound means no log with that id is visible to the requesting client.
	ErrNotFound = errors.New("log not found")
	// ErrStorage wraps failures of the database; callers should retry.
	ErrStorage = errors.New("storage failure")
)

// Ingest outcomes reported to the Recorder.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type ClientStore interface {
	Register(ctx context.Context, requested *int32) (int32, error)
	Exists(ctx context.Context, id int32) (bool, error)
}

type LogStore interface {
	Persist(ctx context.Context, log *model.Log) error
	List(ctx context.Context, clientID *int32) ([]model.Log, error)
	Get(ctx context.Context, id uuid.UUID, clientID int32) (*model.Log, error)
}

// Publisher is the broadcast side of the hub.
type Publisher interface {
	Publish(log *model.Log) (int, error)
}

// LogCache is an optional read-through cache for single-log lookups.
type LogCache interface {
	Get(ctx context.Context, clientID int32, id uuid.UUID) (*model.Log, error)
	Set(ctx context.Context, log *model.Log) error
}

// Recorder observes ingestion results.
type Recorder interface {
	ObserveIngest(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveIngest(string, time.Duration) {}

// Now is the default clock. Postgres keeps microseconds, so the broadcast copy
// of a log matches what is read back later.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

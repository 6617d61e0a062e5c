// Package domain provides the shared building blocks used across specloom's
// internal packages: typed identifiers, timestamps, and the domain event
// system that lets the pipeline, checkpoint store, and notifier stay
// decoupled from one another.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityID is a typed identifier. Message and run identifiers use the
// chain-seq scheme defined by the message package; EntityID is reserved for
// objects that have no natural domain key, such as log correlation ids and
// notification events.
type EntityID string

// NewID generates a fresh random identifier.
func NewID() EntityID {
	return EntityID(uuid.New().String())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }

// Timestamp wraps time.Time with UTC normalization.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC timestamp.
func Now() Timestamp { return Timestamp{time.Now().UTC()} }

// ZeroTime returns the zero-value timestamp.
func ZeroTime() Timestamp { return Timestamp{} }

// TimestampFrom wraps an existing time.Time, normalizing to UTC.
func TimestampFrom(t time.Time) Timestamp { return Timestamp{t.UTC()} }

// Package sessions persists conversations and their message history.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/tinker/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// Message history, ordered by ordinal
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]models.Message, error)

	// Close releases underlying resources.
	Close() error
}

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// Sink adapts a Store to the loop's history sink. Messages flow into the
// session's persisted transcript as the loop appends them.
type Sink struct {
	store     Store
	sessionID string
}

// NewSink creates a history sink writing to store under sessionID.
func NewSink(store Store, sessionID string) *Sink {
	return &Sink{store: store, sessionID: sessionID}
}

// Append persists one message.
func (s *Sink) Append(ctx context.Context, msg models.Message) error {
	return s.store.AppendMessage(ctx, s.sessionID, &msg)
}

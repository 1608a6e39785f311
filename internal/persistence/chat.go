package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a chat session or message does not exist.
var ErrNotFound = errors.New("persistence: not found")

// ErrForbidden is returned when userID does not own the requested session.
var ErrForbidden = errors.New("persistence: forbidden")

// ChatSession is a persisted conversation owned by an optional user, carrying
// the rolling summary state used by conversation memory compression.
type ChatSession struct {
	ID                 string
	Name               string
	UserID             *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessagePreview string
	Model              string
	Summary            string
	SummarizedCount    int
}

// ChatMessage is one turn of a ChatSession. RetrievalMetadata records the
// chunk ids an assistant message cited, if any, so citations are re-auditable.
type ChatMessage struct {
	ID                string
	SessionID         string
	Role              string // "user" | "assistant"
	Content            string
	CreatedAt          time.Time
	RetrievalMetadata map[string]any
}

// ChatStore persists chat sessions and their messages, scoped by an optional
// user id. A nil userID denotes an unauthenticated/single-tenant caller and
// bypasses ownership checks.
type ChatStore interface {
	Init(ctx context.Context) error
	EnsureSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]ChatSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (ChatSession, error)
	CreateSession(ctx context.Context, userID *int64, name string) (ChatSession, error)
	RenameSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	DeleteSession(ctx context.Context, userID *int64, id string) error
	ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]ChatMessage, error)
	AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []ChatMessage, preview string, model string) error
	UpdateSummary(ctx context.Context, userID *int64, sessionID string, summary string, summarizedCount int) error
}

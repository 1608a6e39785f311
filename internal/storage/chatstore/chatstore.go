// Package chatstore exposes the chat session/message storage conversation
// memory and the orchestrator depend on. It is a thin facade over
// internal/persistence's ChatStore contract rather than a second
// implementation, so the memory backend stays single-sourced.
package chatstore

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/persistence"
	"ragcore/internal/persistence/databases"
)

// Store is the chat session/message persistence contract.
type Store = persistence.ChatStore

// Session is one persisted conversation.
type Session = persistence.ChatSession

// Message is one turn of a Session.
type Message = persistence.ChatMessage

// ErrNotFound is returned when a session or message does not exist.
var ErrNotFound = persistence.ErrNotFound

// ErrForbidden is returned when a caller does not own the requested session.
var ErrForbidden = persistence.ErrForbidden

// NewMemory returns an in-process Store, suitable for tests and
// single-instance deployments without a database.
func NewMemory() Store { return databases.NewMemoryChatStore() }

// NewPostgres returns a Postgres-backed Store using pool.
func NewPostgres(pool *pgxpool.Pool) Store { return databases.NewPostgresChatStore(pool) }

package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"ragcore/internal/llm"
	"ragcore/internal/persistence"
	"ragcore/internal/persistence/databases"
)

// fakeSummarizer returns a deterministic "summary" by concatenating the
// folded message contents, so tests can assert on entity survival without
// depending on a real model.
type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Chat(_ context.Context, msgs []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	f.calls++
	// msgs[1] is the user turn carrying "existing summary" + "new messages".
	return llm.Message{Role: "assistant", Content: "summary: " + msgs[1].Content}, nil
}

func (f *fakeSummarizer) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return fmt.Errorf("not used")
}

type failingSummarizer struct{}

func (failingSummarizer) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return llm.Message{}, fmt.Errorf("upstream unavailable")
}
func (failingSummarizer) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return fmt.Errorf("not used")
}

func newStore(t *testing.T, sessionID string) persistence.ChatStore {
	t.Helper()
	s := databases.NewMemoryChatStore()
	ctx := context.Background()
	if _, err := s.EnsureSession(ctx, nil, sessionID, "test"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	return s
}

func TestAppend_CompressesAfterWindowOverflow(t *testing.T) {
	const sessionID = "sess-1"
	store := newStore(t, sessionID)
	sum := &fakeSummarizer{}
	m := New(store, sum, "test-model", 10)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msg := persistence.ChatMessage{Role: role, Content: fmt.Sprintf("message-%d mentions entity-%d", i, i)}
		if err := m.Append(ctx, sessionID, msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if i == 10 { // the 11th append (0-indexed)
			summary, recent, err := m.Load(ctx, sessionID)
			if err != nil {
				t.Fatalf("load after 11th append: %v", err)
			}
			if summary == "" {
				t.Fatalf("expected non-empty summary after window overflow")
			}
			if len(recent) != 10 {
				t.Fatalf("expected 10 recent messages, got %d", len(recent))
			}
		}
	}

	summary, recent, err := m.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("load after 25 appends: %v", err)
	}
	if len(recent) != 10 {
		t.Fatalf("expected 10 recent messages after 25 appends, got %d", len(recent))
	}
	if !strings.Contains(summary, "entity-0") {
		t.Fatalf("expected summary to retain an entity from the first 15 messages, got: %s", summary)
	}
	if sum.calls == 0 {
		t.Fatalf("expected at least one compression call")
	}
}

func TestAppend_NeverLosesMessagesWhenCompressionFails(t *testing.T) {
	const sessionID = "sess-2"
	store := newStore(t, sessionID)
	m := New(store, failingSummarizer{}, "test-model", 10)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		msg := persistence.ChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)}
		if err := m.Append(ctx, sessionID, msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	summary, recent, err := m.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if summary != "" {
		t.Fatalf("expected no summary once compression always fails, got %q", summary)
	}
	if len(recent) != 12 {
		t.Fatalf("expected all 12 messages retained verbatim when compression fails, got %d", len(recent))
	}
}

func TestLoad_NewestMessageIsMostRecent(t *testing.T) {
	const sessionID = "sess-3"
	store := newStore(t, sessionID)
	m := New(store, &fakeSummarizer{}, "test-model", 10)
	ctx := context.Background()

	if err := m.Append(ctx, sessionID, persistence.ChatMessage{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, recent, err := m.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recent) != 1 || recent[len(recent)-1].Content != "hello" {
		t.Fatalf("expected newest message to be 'hello', got %#v", recent)
	}
}

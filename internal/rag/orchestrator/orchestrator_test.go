package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"ragcore/internal/config"
	"ragcore/internal/llm"
	"ragcore/internal/persistence"
	"ragcore/internal/persistence/databases"
	"ragcore/internal/rag/generator"
	"ragcore/internal/rag/memory"
	"ragcore/internal/rag/planner"
	"ragcore/internal/rag/retrieve"
)

type fakeRetriever struct {
	calls int
	resps []retrieve.RetrieveResponse
}

func (f *fakeRetriever) Retrieve(_ context.Context, q string, _ retrieve.RetrieveOptions) (retrieve.RetrieveResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.resps) {
		return f.resps[i], nil
	}
	return retrieve.RetrieveResponse{Query: q}, nil
}

type fakeGenerator struct{ text string }

func (f fakeGenerator) Generate(_ context.Context, _ config.TenantPersona, _ string, _ []retrieve.RetrievedItem, _ string, _ []persistence.ChatMessage, _ string) <-chan generator.Event {
	ch := make(chan generator.Event, 4)
	go func() {
		defer close(ch)
		ch <- generator.Event{Kind: generator.TextDelta, Text: f.text}
		ch <- generator.Event{Kind: generator.End, MessageID: "msg-1"}
	}()
	return ch
}

type fakeLLM struct {
	chatResp llm.Message
	chatErr  error
}

func (f fakeLLM) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return f.chatResp, f.chatErr
}
func (f fakeLLM) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return fmt.Errorf("not used")
}

func newMemory(t *testing.T, sessionID string) *memory.Manager {
	t.Helper()
	store := databases.NewMemoryChatStore()
	if _, err := store.EnsureSession(context.Background(), nil, sessionID, "test"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	return memory.New(store, fakeLLM{}, "test-model", 10)
}

func drainChat(ch <-chan generator.Event) string {
	var out string
	for e := range ch {
		if e.Kind == generator.TextDelta {
			out += e.Text
		}
	}
	return out
}

func TestChat_GreetingSkipsRetrieval(t *testing.T) {
	const sessionID = "sess-greet"
	mem := newMemory(t, sessionID)
	retr := &fakeRetriever{}
	pl := plannerStub{decision: planner.PlanDecision{Kind: planner.Greeting, Guidance: "say hi"}}
	o := New(mem, pl, retr, fakeGenerator{text: "hello!"}, nil, "test-model", config.RAGConfig{}, func(string) config.TenantPersona { return config.TenantPersona{} })

	text := drainChat(o.Chat(context.Background(), ChatRequest{SessionID: sessionID, Query: "hi"}))
	if text != "hello!" {
		t.Fatalf("unexpected text: %q", text)
	}
	if retr.calls != 0 {
		t.Fatalf("expected no retrieval calls for a greeting, got %d", retr.calls)
	}
}

func TestChat_KnowledgeRetrievesAndPersists(t *testing.T) {
	const sessionID = "sess-know"
	mem := newMemory(t, sessionID)
	retr := &fakeRetriever{resps: []retrieve.RetrieveResponse{
		{Items: []retrieve.RetrievedItem{{ID: "chunk:doc-1:0", DocID: "doc-1", Text: "answer text"}}},
	}}
	pl := plannerStub{decision: planner.PlanDecision{Kind: planner.Knowledge, RewrittenQuery: "resolved query"}}
	o := New(mem, pl, retr, fakeGenerator{text: "here is the answer [1]"}, nil, "test-model", config.RAGConfig{}, func(string) config.TenantPersona { return config.TenantPersona{} })

	text := drainChat(o.Chat(context.Background(), ChatRequest{SessionID: sessionID, Query: "what is it?"}))
	if text != "here is the answer [1]" {
		t.Fatalf("unexpected text: %q", text)
	}
	if retr.calls != 1 {
		t.Fatalf("expected exactly one retrieval call, got %d", retr.calls)
	}

	_, recent, err := mem.Load(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected user + assistant messages persisted, got %d", len(recent))
	}
	if recent[1].Role != "assistant" || recent[1].Content != "here is the answer [1]" {
		t.Fatalf("unexpected persisted assistant message: %#v", recent[1])
	}
	if recent[1].RetrievalMetadata["chunk_ids"] == nil {
		t.Fatalf("expected assistant message to carry retrieval metadata")
	}
}

func TestChat_EmptyRetrievalExpandsQuery(t *testing.T) {
	const sessionID = "sess-expand"
	mem := newMemory(t, sessionID)
	retr := &fakeRetriever{resps: []retrieve.RetrieveResponse{
		{},
		{Items: []retrieve.RetrievedItem{{ID: "chunk:doc-2:0", DocID: "doc-2", Score: 0.9}}},
	}}
	pl := plannerStub{decision: planner.PlanDecision{Kind: planner.Knowledge, RewrittenQuery: "original"}}
	llmStub := fakeLLM{chatResp: llm.Message{Content: "paraphrase one\nparaphrase two"}}
	cfg := config.RAGConfig{EnableQueryExpansion: true, MaxRetries: 2}
	o := New(mem, pl, retr, fakeGenerator{text: "answer"}, llmStub, "test-model", cfg, func(string) config.TenantPersona { return config.TenantPersona{} })

	drainChat(o.Chat(context.Background(), ChatRequest{SessionID: sessionID, Query: "q"}))

	if retr.calls < 2 {
		t.Fatalf("expected the orchestrator to retry retrieval after an empty first result, got %d calls", retr.calls)
	}
}

func TestChat_SerializesPerSession(t *testing.T) {
	const sessionID = "sess-serial"
	mem := newMemory(t, sessionID)
	retr := &fakeRetriever{}
	pl := plannerStub{decision: planner.PlanDecision{Kind: planner.Chitchat}}
	o := New(mem, pl, retr, fakeGenerator{text: "ok"}, nil, "test-model", config.RAGConfig{}, func(string) config.TenantPersona { return config.TenantPersona{} })

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			drainChat(o.Chat(context.Background(), ChatRequest{SessionID: sessionID, Query: fmt.Sprintf("turn-%d", n)}))
			done <- struct{}{}
		}(i)
	}
	<-done
	<-done

	_, recent, err := mem.Load(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("expected 2 turns x (user+assistant) = 4 messages, got %d", len(recent))
	}
}

type plannerStub struct{ decision planner.PlanDecision }

func (p plannerStub) ClassifyAndRewrite(context.Context, string, string, []persistence.ChatMessage) planner.PlanDecision {
	return p.decision
}

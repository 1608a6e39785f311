package generator

import (
	"context"
	"fmt"
	"testing"

	"ragcore/internal/config"
	"ragcore/internal/llm"
	"ragcore/internal/rag/retrieve"
)

// streamingProvider implements llm.Provider by replaying a fixed sequence of
// deltas through ChatStream, mimicking internal/llm/openai's ChatStream loop.
type streamingProvider struct {
	deltas []string
	err    error
}

func (p streamingProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return llm.Message{}, fmt.Errorf("not used")
}

func (p streamingProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, h llm.StreamHandler) error {
	if p.err != nil {
		return p.err
	}
	for _, d := range p.deltas {
		h.OnDelta(d)
	}
	return nil
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestGenerate_EmitsTextThenSourcesThenEnd(t *testing.T) {
	chunks := []retrieve.RetrievedItem{
		{ID: "chunk:doc-1:0", DocID: "doc-1", Text: "Refunds are processed within 30 days.", Doc: retrieve.DocumentMeta{Title: "Refund Policy"}},
		{ID: "chunk:doc-2:0", DocID: "doc-2", Text: "Extended warranty covers 90 days.", Doc: retrieve.DocumentMeta{Title: "Warranty"}},
	}
	provider := streamingProvider{deltas: []string{"Per our policy [1], ", "refunds take 30 days."}}
	g := New(provider, "test-model")

	events := drain(g.Generate(context.Background(), config.TenantPersona{Tenant: "acme"}, "how long do refunds take?", chunks, "", nil, ""))

	var text string
	var sources []Source
	var end *Event
	for i := range events {
		switch events[i].Kind {
		case TextDelta:
			text += events[i].Text
		case SourceDelta:
			sources = append(sources, events[i].Source)
		case End:
			e := events[i]
			end = &e
		}
	}

	if text != "Per our policy [1], refunds take 30 days." {
		t.Fatalf("unexpected assembled text: %q", text)
	}
	if len(sources) != 1 || sources[0].DocID != "doc-1" {
		t.Fatalf("expected exactly source doc-1 cited, got %#v", sources)
	}
	if end == nil || end.MessageID == "" || end.Err != nil {
		t.Fatalf("expected a terminal End event with a message id, got %#v", end)
	}
}

func TestGenerate_DedupesRepeatedCitations(t *testing.T) {
	chunks := []retrieve.RetrievedItem{
		{ID: "chunk:doc-1:0", DocID: "doc-1", Text: "A"},
	}
	provider := streamingProvider{deltas: []string{"See [1]. Also see [1] again."}}
	g := New(provider, "test-model")

	events := drain(g.Generate(context.Background(), config.TenantPersona{}, "q", chunks, "", nil, ""))

	count := 0
	for _, e := range events {
		if e.Kind == SourceDelta {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected citation [1] to be deduplicated to a single source event, got %d", count)
	}
}

func TestGenerate_NoChunksStillStreamsAndEnds(t *testing.T) {
	provider := streamingProvider{deltas: []string{"I don't have information on that."}}
	g := New(provider, "test-model")

	events := drain(g.Generate(context.Background(), config.TenantPersona{}, "q", nil, "", nil, ""))

	var sawText, sawEnd bool
	for _, e := range events {
		if e.Kind == TextDelta {
			sawText = true
		}
		if e.Kind == SourceDelta {
			t.Fatalf("expected no source events when there are no chunks")
		}
		if e.Kind == End {
			sawEnd = true
		}
	}
	if !sawText || !sawEnd {
		t.Fatalf("expected both text and end events, got %#v", events)
	}
}

func TestGenerate_StreamErrorSurfacesOnEnd(t *testing.T) {
	provider := streamingProvider{err: fmt.Errorf("upstream unavailable")}
	g := New(provider, "test-model")

	events := drain(g.Generate(context.Background(), config.TenantPersona{}, "q", nil, "", nil, ""))

	if len(events) != 1 || events[0].Kind != End || events[0].Err == nil {
		t.Fatalf("expected a single End event carrying the stream error, got %#v", events)
	}
}

func TestGenerate_IgnoresOutOfRangeCitation(t *testing.T) {
	chunks := []retrieve.RetrievedItem{
		{ID: "chunk:doc-1:0", DocID: "doc-1", Text: "A"},
	}
	provider := streamingProvider{deltas: []string{"See [7] for details."}}
	g := New(provider, "test-model")

	events := drain(g.Generate(context.Background(), config.TenantPersona{}, "q", chunks, "", nil, ""))

	for _, e := range events {
		if e.Kind == SourceDelta {
			t.Fatalf("expected no source event for an out-of-range citation, got %#v", e)
		}
	}
}

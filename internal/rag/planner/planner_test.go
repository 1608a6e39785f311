package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"ragcore/internal/llm"
	"ragcore/internal/persistence"
)

type fakeProvider struct {
	msg llm.Message
	err error
}

func (f fakeProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return f.msg, f.err
}
func (f fakeProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return fmt.Errorf("not used")
}

func toolCallMsg(intent, rewritten string) llm.Message {
	args, _ := json.Marshal(classifyResult{Intent: intent, RewrittenQuery: rewritten})
	return llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{Name: classifyToolName, Args: args},
		},
	}
}

func TestClassifyAndRewrite_Greeting(t *testing.T) {
	p := New(fakeProvider{msg: toolCallMsg("greeting", "")}, "test-model")
	d := p.ClassifyAndRewrite(context.Background(), "hey there!", "", nil)
	if d.Kind != Greeting {
		t.Fatalf("expected Greeting, got %v", d.Kind)
	}
	if d.Guidance == "" {
		t.Fatalf("expected non-empty guidance for greeting")
	}
}

func TestClassifyAndRewrite_KnowledgeResolvesAnaphora(t *testing.T) {
	recent := []persistence.ChatMessage{
		{Role: "user", Content: "what refund policies do you have?"},
		{Role: "assistant", Content: "We have a 30-day policy and a 90-day extended policy."},
	}
	p := New(fakeProvider{msg: toolCallMsg("knowledge", "tell me about the 90-day extended refund policy")}, "test-model")
	d := p.ClassifyAndRewrite(context.Background(), "and the second one?", "", recent)
	if d.Kind != Knowledge {
		t.Fatalf("expected Knowledge, got %v", d.Kind)
	}
	if d.RewrittenQuery != "tell me about the 90-day extended refund policy" {
		t.Fatalf("unexpected rewrite: %q", d.RewrittenQuery)
	}
}

func TestClassifyAndRewrite_UpstreamErrorFallsBackToKnowledge(t *testing.T) {
	p := New(fakeProvider{err: fmt.Errorf("timeout")}, "test-model")
	d := p.ClassifyAndRewrite(context.Background(), "original query", "", nil)
	if d.Kind != Knowledge || d.RewrittenQuery != "original query" {
		t.Fatalf("expected Knowledge(original query) fallback, got %#v", d)
	}
}

func TestClassifyAndRewrite_ParseFailureFallsBackToKnowledge(t *testing.T) {
	p := New(fakeProvider{msg: llm.Message{Content: "not json at all"}}, "test-model")
	d := p.ClassifyAndRewrite(context.Background(), "original query", "", nil)
	if d.Kind != Knowledge || d.RewrittenQuery != "original query" {
		t.Fatalf("expected Knowledge(original query) fallback, got %#v", d)
	}
}

func TestClassifyAndRewrite_UnknownIntentFallsBack(t *testing.T) {
	p := New(fakeProvider{msg: toolCallMsg("unicorn", "")}, "test-model")
	d := p.ClassifyAndRewrite(context.Background(), "original query", "", nil)
	if d.Kind != Knowledge || d.RewrittenQuery != "original query" {
		t.Fatalf("expected Knowledge(original query) fallback, got %#v", d)
	}
}

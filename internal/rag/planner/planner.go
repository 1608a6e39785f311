// Package planner implements intent classification and anaphora-resolving
// query rewriting per SPEC_FULL.md §4.7, the first stage of a chat turn
// after conversation memory has been loaded.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ragcore/internal/llm"
	"ragcore/internal/persistence"
	"ragcore/internal/rag/service"
)

// Kind is the tagged-union discriminant for PlanDecision.
type Kind int

const (
	// Greeting is a trivial social exchange; no retrieval is performed.
	Greeting Kind = iota
	// Chitchat is general conversation; no retrieval is performed.
	Chitchat
	// Knowledge requires retrieval using RewrittenQuery.
	Knowledge
	// Fallback is ambiguous input, treated as Knowledge with the original query.
	Fallback
)

func (k Kind) String() string {
	switch k {
	case Greeting:
		return "greeting"
	case Chitchat:
		return "chitchat"
	case Knowledge:
		return "knowledge"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// PlanDecision is the Planner's tagged-union output. RewrittenQuery is only
// meaningful for Knowledge/Fallback; Guidance carries canned-response
// guidance for Greeting that the Generator should follow.
type PlanDecision struct {
	Kind           Kind
	RewrittenQuery string
	Guidance       string
}

// classifyToolName is the function-calling tool used to force structured
// JSON output from the chat model, mirroring how internal/llm/openai adapts
// llm.ToolSchema into real tool-call parameters.
const classifyToolName = "classify_and_rewrite"

var classifyTool = llm.ToolSchema{
	Name:        classifyToolName,
	Description: "Classify the user's message and, if it requires knowledge retrieval, rewrite it into a self-contained query.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type": "string",
				"enum": []string{"greeting", "chitchat", "knowledge", "fallback"},
			},
			"rewritten_query": map[string]any{
				"type":        "string",
				"description": "Only for intent=knowledge: the user's question rewritten to resolve pronouns/anaphora using the conversation history, fully self-contained.",
			},
		},
		"required": []string{"intent"},
	},
}

// Planner classifies a user message and, for knowledge-seeking messages,
// rewrites it so retrieval doesn't depend on conversational context.
type Planner struct {
	llm   llm.Provider
	model string
	log   service.Logger
}

// Option configures a Planner during construction.
type Option func(*Planner)

// WithLogger sets a custom logger.
func WithLogger(l service.Logger) Option { return func(p *Planner) { p.log = l } }

// New constructs a Planner backed by provider, using model for the
// classification call.
func New(provider llm.Provider, model string, opts ...Option) *Planner {
	p := &Planner{llm: provider, model: model, log: noopLogger{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

type classifyResult struct {
	Intent         string `json:"intent"`
	RewrittenQuery string `json:"rewritten_query"`
}

// ClassifyAndRewrite is the Planner's single contract method. On any parse
// or upstream failure it defaults to Knowledge(original query), per §4.7.
func (p *Planner) ClassifyAndRewrite(ctx context.Context, query string, summary string, recent []persistence.ChatMessage) PlanDecision {
	fallback := PlanDecision{Kind: Knowledge, RewrittenQuery: query}
	if p.llm == nil || strings.TrimSpace(query) == "" {
		return fallback
	}

	msgs := buildClassifyMessages(query, summary, recent)
	out, err := p.llm.Chat(ctx, msgs, []llm.ToolSchema{classifyTool}, p.model)
	if err != nil {
		p.log.Error("planner_classify_failed", map[string]any{"err": err.Error()})
		return fallback
	}

	raw, ok := extractArgs(out)
	if !ok {
		p.log.Debug("planner_classify_no_structured_output", map[string]any{"content": out.Content})
		return fallback
	}

	var res classifyResult
	if err := json.Unmarshal(raw, &res); err != nil {
		p.log.Debug("planner_classify_parse_failed", map[string]any{"err": err.Error()})
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(res.Intent)) {
	case "greeting":
		return PlanDecision{Kind: Greeting, Guidance: "Respond with a brief, friendly greeting. Do not fabricate information."}
	case "chitchat":
		return PlanDecision{Kind: Chitchat, Guidance: "Respond conversationally without referencing any document corpus."}
	case "knowledge":
		rq := strings.TrimSpace(res.RewrittenQuery)
		if rq == "" {
			rq = query
		}
		return PlanDecision{Kind: Knowledge, RewrittenQuery: rq}
	default:
		return fallback
	}
}

// extractArgs pulls the classify tool call's JSON arguments out of the
// provider's response, falling back to parsing the raw content as JSON for
// providers that answer in-line instead of via a tool call.
func extractArgs(msg llm.Message) (json.RawMessage, bool) {
	for _, tc := range msg.ToolCalls {
		if tc.Name == classifyToolName && len(tc.Args) > 0 {
			return tc.Args, true
		}
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, false
	}
	if !json.Valid([]byte(content)) {
		return nil, false
	}
	return json.RawMessage(content), true
}

func buildClassifyMessages(query, summary string, recent []persistence.ChatMessage) []llm.Message {
	var sys strings.Builder
	sys.WriteString("You classify a chat message's intent and, for knowledge-seeking messages, rewrite it so it stands alone.\n")
	sys.WriteString("intent is one of: greeting, chitchat, knowledge, fallback.\n")
	sys.WriteString("Use knowledge whenever the user asks a question that could be answered from a document corpus.\n")
	sys.WriteString("When rewriting, resolve pronouns and references (\"it\", \"the second one\") using the conversation history below.\n")
	sys.WriteString("Always call the classify_and_rewrite tool with your answer.")

	var history strings.Builder
	if summary != "" {
		history.WriteString("Conversation summary: ")
		history.WriteString(summary)
		history.WriteString("\n")
	}
	for _, m := range recent {
		fmt.Fprintf(&history, "%s: %s\n", m.Role, m.Content)
	}
	history.WriteString("Current message: ")
	history.WriteString(query)

	return []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: history.String()},
	}
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

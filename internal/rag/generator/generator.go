// Package generator implements answer synthesis per SPEC_FULL.md §4.8:
// prompt assembly from retrieved chunks and conversation memory, a streaming
// call to the chat model, and citation extraction from the emitted text.
package generator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/config"
	"ragcore/internal/llm"
	"ragcore/internal/persistence"
	"ragcore/internal/rag/retrieve"
	"ragcore/internal/rag/service"
)

// EventKind is the tagged-union discriminant for Event.
type EventKind int

const (
	// TextDelta carries one incremental slice of generated answer text.
	TextDelta EventKind = iota
	// SourceDelta announces one chunk that the answer cited, deduplicated by
	// chunk id, emitted after the text stream completes.
	SourceDelta
	// End closes the stream and carries the persisted assistant message id.
	End
)

// Source describes a cited chunk's metadata for the caller to render.
type Source struct {
	ChunkID string
	DocID   string
	Title   string
	URL     string
	Ordinal int
}

// Event is one item of the Generator's output stream.
type Event struct {
	Kind      EventKind
	Text      string // set when Kind == TextDelta
	Source    Source // set when Kind == SourceDelta
	MessageID string // set when Kind == End
	Err       error  // set when the stream terminated abnormally
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Generator assembles a grounded prompt and streams the chat model's answer.
type Generator struct {
	llm   llm.Provider
	model string
	log   service.Logger
}

// Option configures a Generator during construction.
type Option func(*Generator)

// WithLogger sets a custom logger.
func WithLogger(l service.Logger) Option { return func(g *Generator) { g.log = l } }

// New constructs a Generator backed by provider, using model for generation.
func New(provider llm.Provider, model string, opts ...Option) *Generator {
	g := &Generator{llm: provider, model: model, log: noopLogger{}}
	for _, o := range opts {
		o(g)
	}
	return g
}

// streamTee implements llm.StreamHandler, forwarding text deltas onto events
// and accumulating the full text for citation extraction afterward.
type streamTee struct {
	events chan<- Event
	full   strings.Builder
}

func (t *streamTee) OnDelta(content string) {
	if content == "" {
		return
	}
	t.full.WriteString(content)
	t.events <- Event{Kind: TextDelta, Text: content}
}

func (t *streamTee) OnToolCall(llm.ToolCall)    {}
func (t *streamTee) OnImage(llm.GeneratedImage)  {}
func (t *streamTee) OnThoughtSummary(string)     {}

// Generate streams a grounded answer for query given chunks (may be empty)
// and conversation memory, following the persona's tone/constraints. The
// returned channel is closed after an End (or error) event.
func (g *Generator) Generate(ctx context.Context, persona config.TenantPersona, query string, chunks []retrieve.RetrievedItem, summary string, recent []persistence.ChatMessage, guidance string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		if g.llm == nil {
			out <- Event{Kind: End, Err: fmt.Errorf("generator: no chat provider configured")}
			return
		}

		msgs := buildPrompt(persona, query, chunks, summary, recent, guidance)
		tee := &streamTee{events: out}
		if err := g.llm.ChatStream(ctx, msgs, nil, g.model, tee); err != nil {
			g.log.Error("generator_stream_failed", map[string]any{"err": err.Error()})
			out <- Event{Kind: End, Err: err}
			return
		}

		for _, src := range extractCitedSources(tee.full.String(), chunks) {
			out <- Event{Kind: SourceDelta, Source: src}
		}
		out <- Event{Kind: End, MessageID: uuid.NewString()}
	}()
	return out
}

// buildPrompt assembles the system preamble, numbered context block, and
// conversation history per §4.8.
func buildPrompt(persona config.TenantPersona, query string, chunks []retrieve.RetrievedItem, summary string, recent []persistence.ChatMessage, guidance string) []llm.Message {
	var sys strings.Builder
	fmt.Fprintf(&sys, "Today's date is %s.\n", time.Now().Format("2006-01-02"))
	if persona.Industry != "" {
		fmt.Fprintf(&sys, "You operate in the %s industry.\n", persona.Industry)
	}
	if persona.BrandTone != "" {
		fmt.Fprintf(&sys, "Brand tone: %s.\n", persona.BrandTone)
	}
	if len(persona.Languages) > 0 {
		fmt.Fprintf(&sys, "Permitted languages: %s.\n", strings.Join(persona.Languages, ", "))
	}
	if len(persona.Capabilities) > 0 {
		fmt.Fprintf(&sys, "Capabilities: %s.\n", strings.Join(persona.Capabilities, ", "))
	}
	if len(persona.Constraints) > 0 {
		fmt.Fprintf(&sys, "You must not: %s.\n", strings.Join(persona.Constraints, "; "))
	}
	if guidance != "" {
		sys.WriteString(guidance)
		sys.WriteString("\n")
	}
	if len(chunks) > 0 {
		sys.WriteString("Answer only using the numbered context below. Cite the chunks you use inline like [1], [2].\n")
		sys.WriteString("If the context does not contain the answer, say so plainly instead of guessing.\n\n")
		sys.WriteString("Context:\n")
		for i, c := range chunks {
			fmt.Fprintf(&sys, "[%d] (%s) %s\n", i+1, sourceLabel(c), c.Text)
		}
	} else {
		sys.WriteString("No relevant context was found in the corpus for this question. ")
		sys.WriteString("State plainly that the available materials do not cover it.\n")
	}

	msgs := make([]llm.Message, 0, len(recent)+3)
	msgs = append(msgs, llm.Message{Role: "system", Content: sys.String()})
	if summary != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: "Conversation summary so far: " + summary})
	}
	for _, m := range recent {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: query})
	return msgs
}

func sourceLabel(c retrieve.RetrievedItem) string {
	title := c.Doc.Title
	if title == "" {
		title = c.Metadata["source"]
	}
	if title == "" {
		title = c.DocID
	}
	if ord, ok := ordinalOf(c); ok {
		return fmt.Sprintf("%s, chunk %d", title, ord)
	}
	return title
}

// ordinalOf recovers a chunk's ordinal from its deterministic "chunk:<doc>:<n>" id.
func ordinalOf(c retrieve.RetrievedItem) (int, bool) {
	parts := strings.Split(c.ID, ":")
	if len(parts) < 2 {
		return 0, false
	}
	last := parts[len(parts)-1]
	n := 0
	for _, r := range last {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// extractCitedSources parses [n] tokens from text, maps them to their
// position in the context block, deduplicates by chunk id, and preserves
// first-citation order. Unknown citation numbers are silently dropped.
func extractCitedSources(text string, chunks []retrieve.RetrievedItem) []Source {
	seen := make(map[string]bool)
	var out []Source
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		n := 0
		for _, r := range m[1] {
			n = n*10 + int(r-'0')
		}
		if n < 1 || n > len(chunks) {
			continue
		}
		c := chunks[n-1]
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		ord, _ := ordinalOf(c)
		out = append(out, Source{
			ChunkID: c.ID,
			DocID:   c.DocID,
			Title:   c.Doc.Title,
			URL:     c.Doc.URL,
			Ordinal: ord,
		})
	}
	return out
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

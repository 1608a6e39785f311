// Package memory implements conversation memory per SPEC_FULL.md §4.6: a
// rolling verbatim window of recent messages plus an LLM-compressed summary
// of everything older, so the Planner and Generator can see a bounded amount
// of history regardless of how long a session runs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ragcore/internal/llm"
	"ragcore/internal/persistence"
	"ragcore/internal/rag/service"
)

// DefaultWindow is MEMORY_WINDOW's default: verbatim-retained messages.
const DefaultWindow = 10

// MaxSummaryChars approximates the spec's "<=500 tokens" bound on compressed
// summaries using the same chars-per-token heuristic the embedder/chunker use.
const MaxSummaryChars = 500 * 4

// Manager loads and appends conversation history for a session, compressing
// the oldest messages into a running summary once the verbatim window
// overflows. The zero value is not usable; construct with New.
type Manager struct {
	store  persistence.ChatStore
	llm    llm.Provider
	model  string
	window int

	log     service.Logger
	metrics service.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Manager during construction.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l service.Logger) Option { return func(m *Manager) { m.log = l } }

// WithMetrics sets a custom metrics collector.
func WithMetrics(me service.Metrics) Option { return func(m *Manager) { m.metrics = me } }

// New constructs a Manager. window <= 0 defaults to DefaultWindow.
func New(store persistence.ChatStore, provider llm.Provider, model string, window int, opts ...Option) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	m := &Manager{
		store:   store,
		llm:     provider,
		model:   model,
		window:  window,
		log:     noopLogger{},
		metrics: service.NoopMetrics{},
		locks:   make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) lockFor(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load returns the session's compressed summary (empty if none yet) and the
// verbatim messages not yet folded into it, oldest first.
func (m *Manager) Load(ctx context.Context, sessionID string) (summary string, recent []persistence.ChatMessage, err error) {
	unlock := m.lockFor(sessionID)
	defer unlock()

	sess, err := m.store.GetSession(ctx, nil, sessionID)
	if err != nil {
		return "", nil, err
	}
	msgs, err := m.store.ListMessages(ctx, nil, sessionID, 0)
	if err != nil {
		return "", nil, err
	}
	cut := sess.SummarizedCount
	if cut < 0 || cut > len(msgs) {
		cut = 0
	}
	return sess.Summary, msgs[cut:], nil
}

// Append records msg and, if the verbatim window would overflow, compresses
// the oldest overflowing messages into the session summary via one LLM call.
// Messages are never dropped: if compression fails the window is simply
// allowed to grow, and the next Append retries folding in the backlog.
func (m *Manager) Append(ctx context.Context, sessionID string, msg persistence.ChatMessage) error {
	unlock := m.lockFor(sessionID)
	defer unlock()

	if err := m.store.AppendMessages(ctx, nil, sessionID, []persistence.ChatMessage{msg}, previewOf(msg), ""); err != nil {
		return err
	}

	sess, err := m.store.GetSession(ctx, nil, sessionID)
	if err != nil {
		return err
	}
	msgs, err := m.store.ListMessages(ctx, nil, sessionID, 0)
	if err != nil {
		return err
	}
	cut := sess.SummarizedCount
	if cut < 0 || cut > len(msgs) {
		cut = 0
	}
	recentCount := len(msgs) - cut
	overflow := recentCount - m.window
	if overflow <= 0 {
		return nil
	}

	toFold := msgs[cut : cut+overflow]
	newSummary, err := m.compress(ctx, sess.Summary, toFold)
	if err != nil {
		m.log.Error("memory_compress_failed", map[string]any{"session_id": sessionID, "err": err.Error()})
		m.metrics.IncCounter("memory_compress_failures", nil)
		// Messages stay uncompressed; next Append sees a larger overflow and retries.
		return nil
	}
	if err := m.store.UpdateSummary(ctx, nil, sessionID, newSummary, cut+overflow); err != nil {
		return err
	}
	m.metrics.IncCounter("memory_compress_total", nil)
	return nil
}

func previewOf(msg persistence.ChatMessage) string {
	c := strings.TrimSpace(msg.Content)
	if len(c) > 200 {
		c = c[:200]
	}
	return c
}

// compress folds toFold into existingSummary via a single chat-model call
// instructed to preserve intents, preferences, named entities and unresolved
// questions, drop pleasantries, and stay within MaxSummaryChars.
func (m *Manager) compress(ctx context.Context, existingSummary string, toFold []persistence.ChatMessage) (string, error) {
	if m.llm == nil {
		return "", fmt.Errorf("memory: no chat provider configured for compression")
	}
	var sb strings.Builder
	sb.WriteString("You maintain a running summary of a conversation so later turns keep context.\n")
	sb.WriteString("Preserve user intents, stated preferences, named entities, and unresolved questions.\n")
	sb.WriteString("Drop greetings and pleasantries. Keep the summary under 500 tokens (~")
	fmt.Fprintf(&sb, "%d characters).\n", MaxSummaryChars)
	sb.WriteString("Respond with only the updated summary text, no preamble.")

	var body strings.Builder
	if existingSummary != "" {
		body.WriteString("Existing summary:\n")
		body.WriteString(existingSummary)
		body.WriteString("\n\n")
	}
	body.WriteString("New messages to fold in:\n")
	for _, msg := range toFold {
		fmt.Fprintf(&body, "%s: %s\n", msg.Role, msg.Content)
	}

	msgs := []llm.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: body.String()},
	}
	out, err := m.llm.Chat(ctx, msgs, nil, m.model)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out.Content)
	if summary == "" {
		return "", fmt.Errorf("memory: empty summary from compression call")
	}
	if len(summary) > MaxSummaryChars {
		summary = summary[:MaxSummaryChars]
	}
	return summary, nil
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

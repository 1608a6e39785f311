// Package orchestrator implements the chat turn pipeline per SPEC_FULL.md
// §4.9: it wires conversation memory, the planner, retrieval, and the
// generator together, applying per-session turn serialization, a per-turn
// deadline, and a retry-with-query-expansion path when retrieval comes back
// empty.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ragcore/internal/config"
	"ragcore/internal/llm"
	"ragcore/internal/persistence"
	"ragcore/internal/rag/generator"
	"ragcore/internal/rag/planner"
	"ragcore/internal/rag/retrieve"
	"ragcore/internal/rag/service"
)

// Retriever is the narrow retrieval contract the Orchestrator depends on,
// satisfied structurally by *service.Service.
type Retriever interface {
	Retrieve(ctx context.Context, q string, opt retrieve.RetrieveOptions) (retrieve.RetrieveResponse, error)
}

// Memory is the narrow conversation-memory contract the Orchestrator depends
// on, satisfied structurally by *memory.Manager.
type Memory interface {
	Load(ctx context.Context, sessionID string) (summary string, recent []persistence.ChatMessage, err error)
	Append(ctx context.Context, sessionID string, msg persistence.ChatMessage) error
}

// Planner is the narrow planning contract the Orchestrator depends on,
// satisfied structurally by *planner.Planner.
type Planner interface {
	ClassifyAndRewrite(ctx context.Context, query string, summary string, recent []persistence.ChatMessage) planner.PlanDecision
}

// Generator is the narrow generation contract the Orchestrator depends on,
// satisfied structurally by *generator.Generator.
type Generator interface {
	Generate(ctx context.Context, persona config.TenantPersona, query string, chunks []retrieve.RetrievedItem, summary string, recent []persistence.ChatMessage, guidance string) <-chan generator.Event
}

// Orchestrator drives one chat turn end to end.
type Orchestrator struct {
	memory    Memory
	planner   Planner
	retriever Retriever
	generator Generator
	llm       llm.Provider
	model     string
	cfg       config.RAGConfig
	personaOf func(tenant string) config.TenantPersona

	log service.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Orchestrator during construction.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(l service.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// New constructs an Orchestrator. personaOf resolves a tenant's persona,
// typically config.Config.PersonaFor.
func New(mem Memory, pl Planner, retr Retriever, gen Generator, provider llm.Provider, model string, cfg config.RAGConfig, personaOf func(string) config.TenantPersona, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		memory: mem, planner: pl, retriever: retr, generator: gen,
		llm: provider, model: model, cfg: cfg, personaOf: personaOf,
		log:   noopLogger{},
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lockFor(sessionID string) func() {
	o.mu.Lock()
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[sessionID] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ChatRequest is one turn's input.
type ChatRequest struct {
	Tenant    string
	SessionID string
	Query     string
}

// Chat runs the full Planner->Retriever->Generator pipeline for one turn,
// serialized per session, under the configured turn deadline. The returned
// channel is forwarded directly from the Generator and is closed on End.
// The caller's ctx governs streaming; persistence of the final assistant
// message is given its own grace period so a client disconnect doesn't lose
// the answer that was already generated.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) <-chan generator.Event {
	unlock := o.lockFor(req.SessionID)

	deadline := time.Duration(o.cfg.TurnDeadlineSeconds) * time.Second
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	turnCtx, cancel := context.WithTimeout(ctx, deadline)

	out := make(chan generator.Event, 16)
	go func() {
		defer close(out)
		defer cancel()
		defer unlock()
		o.runTurn(turnCtx, req, out)
	}()
	return out
}

func (o *Orchestrator) runTurn(ctx context.Context, req ChatRequest, out chan<- generator.Event) {
	persona := config.TenantPersona{Tenant: req.Tenant}
	if o.personaOf != nil {
		persona = o.personaOf(req.Tenant)
	}

	if err := o.memory.Append(ctx, req.SessionID, persistence.ChatMessage{Role: "user", Content: req.Query}); err != nil {
		o.log.Error("orchestrator_append_user_failed", map[string]any{"err": err.Error()})
		out <- generator.Event{Kind: generator.End, Err: err}
		return
	}

	summary, recent, err := o.memory.Load(ctx, req.SessionID)
	if err != nil {
		o.log.Error("orchestrator_load_memory_failed", map[string]any{"err": err.Error()})
		out <- generator.Event{Kind: generator.End, Err: err}
		return
	}

	decision := o.planner.ClassifyAndRewrite(ctx, req.Query, summary, recent)

	var chunks []retrieve.RetrievedItem
	switch decision.Kind {
	case planner.Greeting, planner.Chitchat:
		// No retrieval for social turns.
	default:
		chunks = o.retrieveWithExpansion(ctx, req.Tenant, decision.RewrittenQuery, summary, recent)
	}

	full, messageID := o.streamAndPersist(ctx, persona, req, decision, chunks, summary, recent, out)
	o.persistAssistantMessage(req.SessionID, messageID, full, chunks)
}

// retrieveWithExpansion performs one retrieval, and if it returns no chunks,
// falls back to query expansion (per §4.9 step 5): the chat model proposes a
// small number of paraphrases, each retrieved concurrently, results unioned
// and deduplicated by chunk id keeping the highest score.
func (o *Orchestrator) retrieveWithExpansion(ctx context.Context, tenant, query, summary string, recent []persistence.ChatMessage) []retrieve.RetrievedItem {
	opt := o.retrieveOptions(tenant)
	resp, err := o.retriever.Retrieve(ctx, query, opt)
	if err != nil {
		o.log.Error("orchestrator_retrieve_failed", map[string]any{"err": err.Error()})
		return nil
	}
	if len(resp.Items) > 0 || !o.cfg.EnableQueryExpansion || o.llm == nil {
		return resp.Items
	}

	paraphrases := o.expandQuery(ctx, query, summary, recent)
	if len(paraphrases) == 0 {
		return nil
	}

	retries := o.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	if len(paraphrases) > retries {
		paraphrases = paraphrases[:retries]
	}

	var mu sync.Mutex
	byID := make(map[string]retrieve.RetrievedItem)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paraphrases {
		p := p
		g.Go(func() error {
			r, err := o.retriever.Retrieve(gctx, p, opt)
			if err != nil {
				o.log.Error("orchestrator_expansion_retrieve_failed", map[string]any{"err": err.Error()})
				return nil
			}
			mu.Lock()
			for _, item := range r.Items {
				if existing, ok := byID[item.ID]; !ok || item.Score > existing.Score {
					byID[item.ID] = item
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]retrieve.RetrievedItem, 0, len(byID))
	for _, item := range byID {
		merged = append(merged, item)
	}
	return merged
}

func (o *Orchestrator) retrieveOptions(tenant string) retrieve.RetrieveOptions {
	k := o.cfg.FinalTopK
	if k <= 0 {
		k = o.cfg.RetrievalTopK
	}
	if k <= 0 {
		k = 10
	}
	return retrieve.RetrieveOptions{
		K:              k,
		FtK:            o.cfg.RetrievalTopK,
		VecK:           o.cfg.RetrievalTopK,
		Alpha:          o.cfg.Alpha,
		UseRRF:         true,
		RRFK:           o.cfg.RRFK,
		IncludeText:    true,
		IncludeSnippet: true,
		Rerank:         o.cfg.RerankTopK > 0,
		Tenant:         tenant,
	}
}

// expandQuery asks the chat model for 2-3 paraphrases of query that might
// retrieve differently worded matches from the corpus.
func (o *Orchestrator) expandQuery(ctx context.Context, query, summary string, recent []persistence.ChatMessage) []string {
	var sys strings.Builder
	sys.WriteString("The following query returned no results from a document search. ")
	sys.WriteString("Propose 2 to 3 alternative phrasings that might match differently worded documents. ")
	sys.WriteString("Respond with one paraphrase per line, no numbering, no other text.")

	msgs := []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: query},
	}
	resp, err := o.llm.Chat(ctx, msgs, nil, o.model)
	if err != nil {
		o.log.Error("orchestrator_expand_query_failed", map[string]any{"err": err.Error()})
		return nil
	}
	var out []string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// streamAndPersist tees the generator's stream to out while accumulating the
// full answer text and message id for persistence.
func (o *Orchestrator) streamAndPersist(ctx context.Context, persona config.TenantPersona, req ChatRequest, decision planner.PlanDecision, chunks []retrieve.RetrievedItem, summary string, recent []persistence.ChatMessage, out chan<- generator.Event) (string, string) {
	query := req.Query
	if decision.RewrittenQuery != "" {
		query = decision.RewrittenQuery
	}
	var full strings.Builder
	var messageID string
	for ev := range o.generator.Generate(ctx, persona, query, chunks, summary, recent, decision.Guidance) {
		if ev.Kind == generator.TextDelta {
			full.WriteString(ev.Text)
		}
		if ev.Kind == generator.End && ev.MessageID != "" {
			messageID = ev.MessageID
		}
		out <- ev
	}
	return full.String(), messageID
}

// persistAssistantMessage saves the generated answer on a detached context so
// a caller disconnect during streaming doesn't lose the turn, per §4.9's
// cancellation grace.
func (o *Orchestrator) persistAssistantMessage(sessionID, messageID, content string, chunks []retrieve.RetrievedItem) {
	if content == "" {
		return
	}
	grace := time.Duration(o.cfg.CancelGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	meta := map[string]any{}
	if len(chunks) > 0 {
		ids := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ids = append(ids, c.ID)
		}
		meta["chunk_ids"] = ids
	}
	msg := persistence.ChatMessage{ID: messageID, Role: "assistant", Content: content, RetrievalMetadata: meta}
	if err := o.memory.Append(ctx, sessionID, msg); err != nil {
		o.log.Error("orchestrator_persist_assistant_failed", map[string]any{"err": err.Error(), "session_id": sessionID})
	}
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

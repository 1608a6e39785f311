// Package chunker splits ingested document text into retrieval-sized chunks.
//
// Token counts are approximated at four characters per token (the same
// heuristic the teacher's chunker used) since no tokenizer library appears
// anywhere in the reference corpus; the approximation is calibrated against
// CHUNK_SIZE/CHUNK_OVERLAP, not against any specific model's real tokenizer.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"ragcore/internal/rag/ingest"
)

// Chunk represents a produced chunk of text, addressable by its document and
// ordinal position so that re-ingestion produces the same IDs (idempotency).
type Chunk struct {
	Index int
	Text  string
}

// ID derives the deterministic chunk identifier "chunk:<doc-id>:<ordinal>".
func (c Chunk) ID(docID string) string {
	return fmt.Sprintf("chunk:%s:%d", docID, c.Index)
}

// Chunker splits text into chunks using a strategy hint from ChunkingOptions.
type Chunker interface {
	Chunk(text string, opt ingest.ChunkingOptions) ([]Chunk, error)
}

// SimpleChunker implements the fixed/markdown/code strategies.
type SimpleChunker struct{}

// Chunk splits text into chunks using strategy hints in options.
func (SimpleChunker) Chunk(text string, opt ingest.ChunkingOptions) ([]Chunk, error) {
	strategy := strings.ToLower(opt.Strategy)
	if strategy == "" {
		strategy = "fixed"
	}
	var chunks []Chunk
	switch strategy {
	case "fixed", "tokens", "sentences", "":
		chunks = fixedChunk(text, opt)
	case "markdown", "md":
		chunks = markdownChunk(text, opt)
	case "code":
		chunks = codeChunk(text, opt)
	default:
		chunks = fixedChunk(text, opt)
	}
	return mergeTinyTail(chunks, opt), nil
}

// charsPerToken is the heuristic conversion factor from spec token budgets to
// the byte offsets the splitter actually operates on.
const charsPerToken = 4

func targetLen(opt ingest.ChunkingOptions) int {
	n := opt.MaxTokens
	if n <= 0 {
		n = 512
	}
	return n * charsPerToken
}

// EstimateTokens gives an approximate token count for text, using the same
// heuristic as targetLen so chunk-size accounting stays internally consistent.
func EstimateTokens(text string) int {
	n := len(text) / charsPerToken
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

var sentenceBoundaryRe = regexp.MustCompile(`[.!?]["')\]]?\s`)

// fixedChunk makes contiguous chunks of target size with optional overlap.
// Within the last 10% of the window it prefers cutting at a sentence
// terminator, falling back to a whitespace boundary, and finally a hard cut.
func fixedChunk(text string, opt ingest.ChunkingOptions) []Chunk {
	tgt := targetLen(opt)
	if tgt < 32 {
		tgt = 32
	}
	ov := opt.Overlap
	if ov < 0 {
		ov = 0
	}
	ovChars := ov * charsPerToken
	var out []Chunk
	start := 0
	idx := 0
	for start < len(text) {
		end := start + tgt
		if end >= len(text) {
			end = len(text)
		} else {
			softStart := start + int(float64(tgt)*0.9)
			window := text[softStart:end]
			if loc := lastSentenceBoundary(window); loc >= 0 {
				end = softStart + loc
			} else if i := strings.LastIndex(text[start:end], " "); i > tgt/2 {
				end = start + i
			}
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			out = append(out, Chunk{Index: idx, Text: chunk})
			idx++
		}
		if end >= len(text) {
			break
		}
		next := end - ovChars
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// lastSentenceBoundary returns the byte offset just past the last sentence
// terminator in window, or -1 if none is found.
func lastSentenceBoundary(window string) int {
	matches := sentenceBoundaryRe.FindAllStringIndex(window, -1)
	if len(matches) == 0 {
		return -1
	}
	last := matches[len(matches)-1]
	return last[1]
}

// mergeTinyTail folds a trailing chunk into its predecessor when it is
// smaller than min(32, overlap) tokens, avoiding near-empty final chunks.
func mergeTinyTail(chunks []Chunk, opt ingest.ChunkingOptions) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	threshold := opt.Overlap
	if threshold > 32 {
		threshold = 32
	}
	if threshold <= 0 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if EstimateTokens(last.Text) >= threshold {
		return chunks
	}
	merged := chunks[:len(chunks)-1]
	prev := merged[len(merged)-1]
	prev.Text = strings.TrimSpace(prev.Text + " " + last.Text)
	merged[len(merged)-1] = prev
	return merged
}

// markdownChunk prefers splitting on headings and paragraph breaks and preserves headings.
func markdownChunk(text string, opt ingest.ChunkingOptions) []Chunk {
	tgt := targetLen(opt)
	lines := strings.Split(text, "\n")
	var out []Chunk
	var buf strings.Builder
	idx := 0
	writeFlush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, Chunk{Index: idx, Text: s})
			idx++
			buf.Reset()
		}
	}
	for i, ln := range lines {
		isHeading := strings.HasPrefix(ln, "#")
		isParaBreak := strings.TrimSpace(ln) == "" && i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != ""
		if isHeading && buf.Len() > 0 {
			writeFlush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(ln)
		if (isHeading || isParaBreak) && buf.Len() >= tgt {
			writeFlush()
		}
	}
	writeFlush()
	return out
}

var codeSplitRe = regexp.MustCompile(`(?m)^\s*(func |class |def |#[#\s]|//)`)

// codeChunk attempts to respect function/class boundaries and comments.
func codeChunk(text string, opt ingest.ChunkingOptions) []Chunk {
	tgt := targetLen(opt)
	lines := strings.Split(text, "\n")
	var out []Chunk
	var buf strings.Builder
	idx := 0
	for i, ln := range lines {
		if codeSplitRe.MatchString(ln) && buf.Len() > 0 && (buf.Len()+len(ln)+1 > tgt || strings.Contains(buf.String(), "func ")) {
			out = append(out, Chunk{Index: idx, Text: strings.TrimRight(buf.String(), "\n")})
			idx++
			buf.Reset()
		}
		buf.WriteString(ln)
		if i < len(lines)-1 {
			buf.WriteString("\n")
		}
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		out = append(out, Chunk{Index: idx, Text: s})
	}
	return out
}

// stableDigest returns a short content fingerprint of s: the hex encoding of
// the first 8 bytes of its SHA-256 hash.
func stableDigest(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}

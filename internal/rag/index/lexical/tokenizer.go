package lexical

import (
	"strings"
	"unicode"
)

// stopWords is a small, fixed English stopword list; the tokenizer applies
// no stemming, so morphological variants are treated as distinct terms.
var stopWords = buildStopWordMap([]string{
	"a", "about", "above", "after", "again", "all", "am", "an", "and", "any",
	"are", "as", "at", "be", "because", "been", "before", "being", "below",
	"between", "both", "but", "by", "can", "did", "do", "does", "doing",
	"down", "during", "each", "few", "for", "from", "further", "had", "has",
	"have", "having", "he", "her", "here", "hers", "herself", "him",
	"himself", "his", "how", "i", "if", "in", "into", "is", "it", "its",
	"itself", "me", "more", "most", "my", "myself", "no", "nor", "not", "of",
	"off", "on", "once", "only", "or", "other", "our", "ours", "ourselves",
	"out", "over", "own", "same", "she", "should", "so", "some", "such",
	"than", "that", "the", "their", "theirs", "them", "themselves", "then",
	"there", "these", "they", "this", "those", "through", "to", "too",
	"under", "until", "up", "very", "was", "we", "were", "what", "when",
	"where", "which", "while", "who", "whom", "why", "will", "with", "you",
	"your", "yours", "yourself", "yourselves",
})

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Tokenize splits text into lowercase terms, stripping punctuation and
// filtering stopwords. It is Unicode-aware (splits on any non-letter,
// non-digit rune) and applies no stemming, per the lexical index contract.
func Tokenize(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		term := strings.ToLower(cur.String())
		cur.Reset()
		if _, stop := stopWords[term]; stop {
			return
		}
		out = append(out, term)
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// TermFrequencies counts occurrences of each term in tokens.
func TermFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}

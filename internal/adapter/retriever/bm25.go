package retriever

import (
	"math"
	"strings"

	"docindex/internal/adapter/analyzer"
	"docindex/internal/index"
)

type BM25Retriever struct {
	tokenizer       *analyzer.Tokenizer
	k1              float64
	b               float64
	pathBoostWeight float64
}

func NewBM25Retriever(tokenizer *analyzer.Tokenizer, k1, b, pathBoostWeight float64) *BM25Retriever {
	return &BM25Retriever{
		tokenizer:       tokenizer,
		k1:              k1,
		b:               b,
		pathBoostWeight: pathBoostWeight,
	}
}

// Search scores every admitted chunk of snap against query and returns the
// best k. A chunk containing the whole query as a phrase scores double and
// ranks ahead of chunks that only share terms.
func (r *BM25Retriever) Search(snap *index.Snapshot, query string, filter Filter, k int) []Hit {
	if snap.TotalChunks() == 0 {
		return nil
	}

	queryTokens := uniqueTokens(r.tokenizer.Tokenize(query))
	phrase := normalizePhrase(query)
	if len(queryTokens) == 0 && phrase == "" {
		return nil
	}

	N := float64(snap.TotalChunks())
	avgDl := snap.AvgChunkLen()
	idf := make(map[string]float64, len(queryTokens))
	for _, term := range queryTokens {
		n := float64(snap.DocFreq(term))
		idf[term] = math.Log((N-n+0.5)/(n+0.5) + 1)
	}

	queryTokenSet := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		queryTokenSet[t] = struct{}{}
	}
	docPathBoosts := make(map[string]float64)

	var hits []Hit
	for _, c := range snap.Chunks() {
		if !filter.allows(c) {
			continue
		}

		score := 0.0
		dl := float64(c.Length)
		for _, term := range queryTokens {
			tf := float64(c.TF[term])
			if tf == 0 {
				continue
			}
			norm := 1.0
			if avgDl > 0 {
				norm = 1 - r.b + r.b*dl/avgDl
			}
			score += idf[term] * (tf * (r.k1 + 1)) / (tf + r.k1*norm)
		}

		isPhrase := phrase != "" && strings.Contains(normalizePhrase(c.Chunk.Text), phrase)
		if isPhrase {
			if score == 0 {
				score = 1
			}
			score *= 2
		}
		if score == 0 {
			continue
		}

		if r.pathBoostWeight > 0 && len(queryTokenSet) > 0 {
			docID := c.Chunk.DocID
			boost, ok := docPathBoosts[docID]
			if !ok {
				if dv, found := snap.Doc(docID); found {
					boost = calculatePathBoost(dv.Doc.Path, queryTokenSet)
				}
				docPathBoosts[docID] = boost
			}
			score *= 1 + boost*r.pathBoostWeight
		}

		hits = append(hits, Hit{Chunk: c, Score: score, Lexical: score, Phrase: isPhrase})
	}

	return topK(hits, k)
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// normalizePhrase lowercases s and collapses whitespace runs to one space.
func normalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func calculatePathBoost(path string, queryTokenSet map[string]struct{}) float64 {
	pathTokens := tokenizePath(path)
	if len(pathTokens) == 0 || len(queryTokenSet) == 0 {
		return 0
	}

	matches := 0
	for _, pt := range pathTokens {
		if _, exists := queryTokenSet[pt]; exists {
			matches++
		}
	}

	return float64(matches) / float64(len(queryTokenSet))
}

// tokenizePath splits a slash-separated document path into lowercase words.
func tokenizePath(path string) []string {
	var tokens []string
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		for _, sp := range strings.Split(part, ".") {
			for _, token := range strings.FieldsFunc(sp, func(r rune) bool {
				return r == '_' || r == '-' || r == ' '
			}) {
				token = strings.ToLower(token)
				if len(token) >= 2 {
					tokens = append(tokens, token)
				}
			}
		}
	}
	return tokens
}

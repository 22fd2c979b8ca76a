package memory

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// NoResult is the explicit empty-result indicator returned when nothing
// scores above zero. Recall never fails; it answers.
const NoResult = "No relevant memories found."

var (
	tokenRe = regexp.MustCompile(`[a-z0-9]+`)
	paraRe  = regexp.MustCompile(`\n\n+`)
)

// Recall scores paragraph chunks across all four stores with BM25 and
// returns the top k. A trained embedding model would introduce an
// uncontrolled retrieval bias, so ranking is purely lexical. Identical
// store content and query always produce identical ranked output; ties
// keep store-then-paragraph order.
func Recall(dir, query string, k int) []string {
	chunks := loadChunks(dir)
	if len(chunks) == 0 {
		return []string{NoResult}
	}

	scores := bm25(chunks, query)

	idx := make([]int, len(chunks))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	var out []string
	for _, i := range idx {
		if scores[i] <= 0 || len(out) == k {
			break
		}
		out = append(out, chunks[i])
	}
	if len(out) == 0 {
		return []string{NoResult}
	}
	return out
}

// loadChunks splits every store into paragraph chunks, in canonical
// store order.
func loadChunks(dir string) []string {
	var chunks []string
	for _, store := range StoreOrder {
		for _, p := range paraRe.Split(Read(dir, store), -1) {
			if p = strings.TrimSpace(p); p != "" {
				chunks = append(chunks, p)
			}
		}
	}
	return chunks
}

func tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// bm25 scores each chunk against the query (k1=1.5, b=0.75).
func bm25(chunks []string, query string) []float64 {
	const k1, b = 1.5, 0.75

	scores := make([]float64, len(chunks))
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return scores
	}

	n := len(chunks)
	chunkTokens := make([][]string, n)
	var totalLen int
	for i, c := range chunks {
		chunkTokens[i] = tokenize(c)
		totalLen += len(chunkTokens[i])
	}
	avgLen := float64(totalLen) / float64(n)
	if avgLen < 1 {
		avgLen = 1
	}

	df := make(map[string]int)
	for _, tokens := range chunkTokens {
		unique := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			unique[t] = true
		}
		for _, qt := range queryTokens {
			if unique[qt] {
				df[qt]++
			}
		}
	}

	for i, tokens := range chunkTokens {
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		dl := float64(len(tokens))
		for _, qt := range queryTokens {
			if df[qt] == 0 {
				continue
			}
			idf := math.Log((float64(n)-float64(df[qt])+0.5)/(float64(df[qt])+0.5) + 1)
			freq := float64(tf[qt])
			norm := (freq * (k1 + 1)) / (freq + k1*(1-b+b*dl/avgLen))
			scores[i] += idf * norm
		}
	}
	return scores
}

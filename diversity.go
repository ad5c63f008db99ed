package conductor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Diversity validation keeps batched search queries from collapsing onto the
// same ground. Similarity is lexical: TF-IDF over word 1–2 grams (stopwords
// removed) and over boundary-padded character 2–4 grams, each vocabulary
// capped at maxFeatures terms. A pair's similarity is the larger of the two
// cosines, so near-duplicate wording is caught even when token overlap is
// low and vice versa.

const (
	// DefaultDiversityThreshold fails a pair whose similarity reaches it.
	// The comparison is strict: sim >= threshold is too similar.
	DefaultDiversityThreshold = 0.8

	defaultMaxFeatures = 500
)

// perspectives are the rewrite angles applied to redundant queries, chosen
// by index rotation.
var perspectives = []string{
	"technical implementation details",
	"recent developments and trends",
	"practical applications and use cases",
	"theoretical foundations and principles",
	"performance and optimization aspects",
	"security and best practices",
	"comparison with alternatives",
	"future implications and roadmap",
}

// DiversityValidator scores query sets for lexical redundancy and rewrites
// offenders. The zero value is not usable; call NewDiversityValidator.
type DiversityValidator struct {
	threshold   float64
	maxFeatures int
	folder      cases.Caser
}

// DiversityOption configures a DiversityValidator.
type DiversityOption func(*DiversityValidator)

// DiversityThreshold overrides the similarity threshold (default 0.8).
func DiversityThreshold(t float64) DiversityOption {
	return func(v *DiversityValidator) { v.threshold = t }
}

// NewDiversityValidator creates a validator with the default threshold and
// feature caps.
func NewDiversityValidator(opts ...DiversityOption) *DiversityValidator {
	v := &DiversityValidator{
		threshold:   DefaultDiversityThreshold,
		maxFeatures: defaultMaxFeatures,
		folder:      cases.Fold(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Threshold returns the configured similarity threshold.
func (v *DiversityValidator) Threshold() float64 { return v.threshold }

// Diverse reports whether no pair of queries reaches the threshold.
// Empty and single-element sets are always diverse.
func (v *DiversityValidator) Diverse(queries []string) bool {
	if len(queries) < 2 {
		return true
	}
	sim := v.Similarity(queries)
	for i := range queries {
		for j := i + 1; j < len(queries); j++ {
			if sim[i][j] >= v.threshold {
				return false
			}
		}
	}
	return true
}

// Similarity returns the pairwise similarity matrix for queries. The matrix
// is symmetric with 1.0 on the diagonal (for non-empty queries).
func (v *DiversityValidator) Similarity(queries []string) [][]float64 {
	n := len(queries)
	word := v.vectorize(queries, v.wordGrams)
	char := v.vectorize(queries, v.charGrams)

	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := math.Max(cosine(word[i], word[j]), cosine(char[i], char[j]))
			sim[i][j] = s
			sim[j][i] = s
		}
	}
	return sim
}

// Diversify returns a copy of queries where each query too similar to an
// earlier kept one is rewritten under a rotating perspective, escalating
// until the rewrite clears the threshold against everything kept so far.
// The first query is always kept verbatim. Diverse(Diversify(q)) holds for
// any input that leaves at least one clearing rewrite, which the truncation
// ladder guarantees for all but adversarial query sets.
func (v *DiversityValidator) Diversify(queries []string) []string {
	if len(queries) < 2 {
		return append([]string(nil), queries...)
	}
	kept := make([]string, 0, len(queries))
	kept = append(kept, queries[0])
	for i := 1; i < len(queries); i++ {
		kept = append(kept, v.rewrite(queries[i], i, kept))
	}
	return kept
}

// rewrite returns q unchanged when it is already distinct from kept, or the
// first candidate that clears the threshold. Candidates escalate: a
// perspective prefix, a bracketed tag, then tagged truncations shedding half
// the tokens per step. Long near-duplicates swamp any prefix in both gram
// spaces, so the shared text itself has to go.
func (v *DiversityValidator) rewrite(q string, i int, kept []string) string {
	if !v.tooSimilar(q, kept) {
		return q
	}
	p := perspectives[(i-1)%len(perspectives)]
	if c := fmt.Sprintf("Focusing on %s: %s", p, q); !v.tooSimilar(c, kept) {
		return c
	}
	tokens := strings.Fields(q)
	for n := len(tokens); ; n /= 2 {
		c := strings.TrimSpace(fmt.Sprintf("[Query %d - %s] %s", i+1, p, strings.Join(tokens[:n], " ")))
		if !v.tooSimilar(c, kept) {
			return c
		}
		if n == 0 {
			// Bare tag still collides: try the remaining perspectives.
			for off := 1; off < len(perspectives); off++ {
				alt := perspectives[(i-1+off)%len(perspectives)]
				c = fmt.Sprintf("[Query %d - %s]", i+1, alt)
				if !v.tooSimilar(c, kept) {
					return c
				}
			}
			return c
		}
	}
}

// tooSimilar reports whether q reaches the threshold against any of kept.
func (v *DiversityValidator) tooSimilar(q string, kept []string) bool {
	set := append(append(make([]string, 0, len(kept)+1), kept...), q)
	sim := v.Similarity(set)
	last := len(set) - 1
	for i := 0; i < last; i++ {
		if sim[i][last] >= v.threshold {
			return true
		}
	}
	return false
}

// --- analyzers ---

// tokenize normalizes to NFC, case-folds, and splits on anything that is not
// a letter or digit.
func (v *DiversityValidator) tokenize(s string) []string {
	s = v.folder.String(norm.NFC.String(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// wordGrams emits unigrams and bigrams over non-stopword tokens.
func (v *DiversityValidator) wordGrams(s string) []string {
	tokens := v.tokenize(s)
	kept := tokens[:0]
	for _, t := range tokens {
		if !stopwords[t] {
			kept = append(kept, t)
		}
	}
	grams := make([]string, 0, len(kept)*2)
	grams = append(grams, kept...)
	for i := 0; i+1 < len(kept); i++ {
		grams = append(grams, kept[i]+" "+kept[i+1])
	}
	return grams
}

// charGrams emits character 2–4 grams inside word boundaries, with each
// token padded by a leading and trailing space so edges carry signal.
func (v *DiversityValidator) charGrams(s string) []string {
	var grams []string
	for _, tok := range v.tokenize(s) {
		padded := []rune(" " + tok + " ")
		for size := 2; size <= 4; size++ {
			if len(padded) < size {
				continue
			}
			for i := 0; i+size <= len(padded); i++ {
				grams = append(grams, string(padded[i:i+size]))
			}
		}
	}
	return grams
}

// --- TF-IDF ---

// vectorize builds L2-normalized TF-IDF vectors for docs under the given
// analyzer, with the vocabulary capped at maxFeatures terms by collection
// frequency (ties broken lexicographically for determinism).
func (v *DiversityValidator) vectorize(docs []string, analyze func(string) []string) []map[string]float64 {
	counts := make([]map[string]int, len(docs))
	total := make(map[string]int)
	df := make(map[string]int)
	for i, d := range docs {
		c := make(map[string]int)
		for _, g := range analyze(d) {
			c[g]++
		}
		counts[i] = c
		for g, n := range c {
			total[g] += n
			df[g]++
		}
	}

	vocab := selectFeatures(total, v.maxFeatures)

	n := float64(len(docs))
	vecs := make([]map[string]float64, len(docs))
	for i, c := range counts {
		vec := make(map[string]float64)
		var sumSq float64
		for g := range vocab {
			tf := float64(c[g])
			if tf == 0 {
				continue
			}
			// Smoothed idf, as in standard TF-IDF formulations.
			idf := math.Log((1+n)/(1+float64(df[g]))) + 1
			w := tf * idf
			vec[g] = w
			sumSq += w * w
		}
		if sumSq > 0 {
			l2 := math.Sqrt(sumSq)
			for g := range vec {
				vec[g] /= l2
			}
		}
		vecs[i] = vec
	}
	return vecs
}

// selectFeatures keeps the max most frequent terms across the collection.
func selectFeatures(total map[string]int, max int) map[string]struct{} {
	if len(total) <= max {
		keep := make(map[string]struct{}, len(total))
		for g := range total {
			keep[g] = struct{}{}
		}
		return keep
	}
	terms := make([]string, 0, len(total))
	for g := range total {
		terms = append(terms, g)
	}
	sort.Slice(terms, func(i, j int) bool {
		if total[terms[i]] != total[terms[j]] {
			return total[terms[i]] > total[terms[j]]
		}
		return terms[i] < terms[j]
	})
	keep := make(map[string]struct{}, max)
	for _, g := range terms[:max] {
		keep[g] = struct{}{}
	}
	return keep
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for g, wa := range a {
		dot += wa * b[g]
	}
	return dot
}

// stopwords is a compact English stopword list applied to word grams only.
var stopwords = func() map[string]bool {
	list := []string{
		"a", "about", "above", "after", "again", "against", "all", "am", "an",
		"and", "any", "are", "as", "at", "be", "because", "been", "before",
		"being", "below", "between", "both", "but", "by", "can", "did", "do",
		"does", "doing", "down", "during", "each", "few", "for", "from",
		"further", "had", "has", "have", "having", "he", "her", "here", "hers",
		"him", "his", "how", "i", "if", "in", "into", "is", "it", "its",
		"itself", "just", "me", "more", "most", "my", "no", "nor", "not",
		"now", "of", "off", "on", "once", "only", "or", "other", "our",
		"ours", "out", "over", "own", "same", "she", "should", "so", "some",
		"such", "than", "that", "the", "their", "theirs", "them", "then",
		"there", "these", "they", "this", "those", "through", "to", "too",
		"under", "until", "up", "very", "was", "we", "were", "what", "when",
		"where", "which", "while", "who", "whom", "why", "will", "with",
		"you", "your", "yours",
	}
	m := make(map[string]bool, len(list))
	for _, w := range list {
		m[w] = true
	}
	return m
}()

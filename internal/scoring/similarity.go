package scoring

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Heuristic weights of the enhanced score
const (
	editDistanceWeight = 0.5
	jaccardWeight      = 0.3
	lengthRatioWeight  = 0.2
)

// Levenshtein returns the edit distance between a and b, counted in runes
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// EditDistanceScore is 1 - levenshtein(a,b)/max(len(a),len(b))
func EditDistanceScore(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// JaccardScore is the token-set overlap of a and b, case-folded and whitespace-split
func JaccardScore(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}

	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// LengthRatioScore is min(len)/max(len)
func LengthRatioScore(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return float64(min(la, lb)) / float64(longest)
}

// EnhancedScore blends edit distance, token overlap and length ratio, capped at 1
func EnhancedScore(a, b string) float64 {
	if a == b {
		return 1
	}
	score := editDistanceWeight*EditDistanceScore(a, b) +
		jaccardWeight*JaccardScore(a, b) +
		lengthRatioWeight*LengthRatioScore(a, b)
	return clamp(score)
}

// TermDifferences describes the terms present in only one of expected and actual
func TermDifferences(expected, actual string) string {
	te, ta := tokenSet(expected), tokenSet(actual)

	missing := difference(te, ta)
	extra := difference(ta, te)

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing terms: "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		parts = append(parts, "unexpected terms: "+strings.Join(extra, ", "))
	}
	if len(parts) == 0 {
		return "no term-level differences"
	}
	return strings.Join(parts, "; ")
}

const maxListedTerms = 10

func difference(a, b map[string]struct{}) []string {
	var out []string
	for tok := range a {
		if _, ok := b[tok]; !ok {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	if len(out) > maxListedTerms {
		out = out[:maxListedTerms]
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

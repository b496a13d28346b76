package search

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// qualityThreshold is the symbol count above which the matcher switches from
// the slower better-ranked variant to the fast variant.
const qualityThreshold = 20000

// FuzzyQuery filters and bounds a fuzzy symbol search.
type FuzzyQuery struct {
	Name     string
	Kind     SymbolKind // optional filter
	Language string     // optional filter
	Limit    int
}

// FuzzyResult is one scored match.
type FuzzyResult struct {
	Symbol Symbol  `json:"symbol"`
	Score  float64 `json:"score"`
}

// FuzzySearch scores every symbol name against the query and returns the
// top-k. The ranking algorithm adapts to corpus size: a subsequence +
// edit-distance scorer below qualityThreshold, a cheaper substring scorer
// above it.
func (idx *Index) FuzzySearch(ctx context.Context, q FuzzyQuery) ([]FuzzyResult, error) {
	symbols, err := idx.Symbols(ctx)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	score := qualityScore
	if len(symbols) > qualityThreshold {
		score = fastScore
	}

	query := strings.ToLower(q.Name)
	var results []FuzzyResult
	for _, sym := range symbols {
		if q.Kind != "" && sym.Kind != q.Kind {
			continue
		}
		if q.Language != "" && sym.Language != q.Language {
			continue
		}
		s := score(query, strings.ToLower(sym.Name))
		if s <= 0 {
			continue
		}
		results = append(results, FuzzyResult{Symbol: sym, Score: s})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// qualityScore combines exact/prefix/substring tiers with subsequence
// matching and a levenshtein penalty for ranking.
func qualityScore(query, name string) float64 {
	if query == "" || name == "" {
		return 0
	}
	if name == query {
		return 1.0
	}
	if strings.HasPrefix(name, query) {
		return 0.9 - lengthPenalty(query, name)
	}
	if strings.Contains(name, query) {
		return 0.7 - lengthPenalty(query, name)
	}
	if !isSubsequence(query, name) {
		return 0
	}
	dist := levenshtein.ComputeDistance(query, name)
	denom := len(name)
	if len(query) > denom {
		denom = len(query)
	}
	score := 0.5 * (1.0 - float64(dist)/float64(denom))
	if score < 0.05 {
		return 0
	}
	return score
}

// fastScore is the cheap variant: exact, prefix, and substring tiers only.
func fastScore(query, name string) float64 {
	if query == "" || name == "" {
		return 0
	}
	if name == query {
		return 1.0
	}
	if strings.HasPrefix(name, query) {
		return 0.8 - lengthPenalty(query, name)
	}
	if strings.Contains(name, query) {
		return 0.5 - lengthPenalty(query, name)
	}
	return 0
}

func lengthPenalty(query, name string) float64 {
	extra := len(name) - len(query)
	if extra <= 0 {
		return 0
	}
	p := float64(extra) * 0.005
	if p > 0.3 {
		p = 0.3
	}
	return p
}

func isSubsequence(needle, haystack string) bool {
	i := 0
	for j := 0; j < len(haystack) && i < len(needle); j++ {
		if needle[i] == haystack[j] {
			i++
		}
	}
	return i == len(needle)
}

package pipeline

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"catmatch/internal/catalog"
	"catmatch/internal/util"
)

// Candidate is one catalog entry proposed for a line of text.
type Candidate struct {
	EntryID string
	Code    string
	Name    string
	Score   float64
}

// Matcher proposes catalog entries for a description, best first. Scores are
// in [0,100]; an empty result means nothing plausible was found.
type Matcher interface {
	Match(ctx context.Context, text string) ([]Candidate, error)
}

type MatcherFunc func(ctx context.Context, text string) ([]Candidate, error)

func (f MatcherFunc) Match(ctx context.Context, text string) ([]Candidate, error) {
	return f(ctx, text)
}

// IndexSource hands out the current catalog snapshot. *catalog.Service
// satisfies it.
type IndexSource interface {
	Index(ctx context.Context) (*catalog.Index, error)
}

type staticIndex struct{ idx *catalog.Index }

func (s staticIndex) Index(context.Context) (*catalog.Index, error) { return s.idx, nil }

const (
	scoreCodeHit  = 100.0
	scoreExactHit = 95.0
	fuzzyCredit   = 0.8
)

// TokenMatcher scores active catalog entries by character-pair similarity and
// token overlap. Query tokens of five or more runes also match indexed tokens
// one edit away, at reduced credit.
type TokenMatcher struct {
	source        IndexSource
	maxCandidates int
}

func NewTokenMatcher(source IndexSource, maxCandidates int) *TokenMatcher {
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	return &TokenMatcher{source: source, maxCandidates: maxCandidates}
}

// NewIndexMatcher matches against a fixed snapshot.
func NewIndexMatcher(idx *catalog.Index, maxCandidates int) *TokenMatcher {
	return NewTokenMatcher(staticIndex{idx: idx}, maxCandidates)
}

func (m *TokenMatcher) Match(ctx context.Context, text string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := m.source.Index(ctx)
	if err != nil {
		return nil, err
	}

	normalized := util.NormalizeHeader(text)
	if normalized == "" {
		return []Candidate{}, nil
	}
	scores := map[string]float64{}
	raise := func(id string, score float64) {
		if !idx.EntriesByID[id].Active {
			return
		}
		if score > scores[id] {
			scores[id] = score
		}
	}

	for _, code := range codeCandidates(text) {
		for _, e := range idx.ByCode[code] {
			raise(e.ID, scoreCodeHit)
		}
	}
	for _, e := range idx.ByName[normalized] {
		raise(e.ID, scoreExactHit)
	}

	queryTokens := util.Tokenize(text)
	credits := tokenCredits(idx, queryTokens)
	ids := make([]string, 0, len(credits))
	for id := range credits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		overlap := 0.0
		for _, c := range credits[id] {
			overlap += c
		}
		dice := util.DiceCoefficient(normalized, idx.NormalizedNameByID[id])
		score := 100 * (0.65*dice + 0.35*overlap/float64(len(queryTokens)))
		raise(id, math.Min(round2(score), scoreExactHit-1))
	}

	out := make([]Candidate, 0, len(scores))
	for id, score := range scores {
		e := idx.EntriesByID[id]
		out = append(out, Candidate{EntryID: e.ID, Code: e.Code, Name: e.Name, Score: score})
	}
	sortCandidates(out)
	if len(out) > m.maxCandidates {
		out = out[:m.maxCandidates]
	}
	return out, nil
}

// tokenCredits maps entry id to the best credit earned by each query token
// position: 1 for an exact token or keyword, fuzzyCredit for a near miss.
func tokenCredits(idx *catalog.Index, queryTokens []string) map[string][]float64 {
	credits := map[string][]float64{}
	give := func(id string, pos int, credit float64) {
		c, ok := credits[id]
		if !ok {
			c = make([]float64, len(queryTokens))
			credits[id] = c
		}
		if credit > c[pos] {
			c[pos] = credit
		}
	}
	for pos, token := range queryTokens {
		for id := range idx.TokenToEntryIDs[token] {
			give(id, pos, 1)
		}
		for _, near := range idx.TokensNear(token, 1, levenshtein.ComputeDistance) {
			for id := range idx.TokenToEntryIDs[near] {
				give(id, pos, fuzzyCredit)
			}
		}
	}
	return credits
}

// codeCandidates returns the normalized forms of the whole text and of each
// word in it that looks like a catalog code.
func codeCandidates(text string) []string {
	var out []string
	if util.LooksLikeCode(text) {
		out = append(out, util.NormalizeCode(text))
	}
	for _, field := range strings.Fields(text) {
		if util.LooksLikeCode(field) {
			out = append(out, util.NormalizeCode(field))
		}
	}
	return out
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		if c[i].Code != c[j].Code {
			return c[i].Code < c[j].Code
		}
		return c[i].EntryID < c[j].EntryID
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package catalog

import (
	"sort"
	"strings"

	"catmatch/internal"
	"catmatch/internal/util"
)

// Index is an immutable snapshot of the catalog. Build a new one to pick up
// changes; readers never need locking.
type Index struct {
	EntriesByID        map[string]internal.CatalogEntry
	ByCode             map[string][]internal.CatalogEntry
	ByName             map[string][]internal.CatalogEntry
	TokenToEntryIDs    map[string]map[string]struct{}
	NormalizedNameByID map[string]string
	TokensByID         map[string][]string
	KeywordsByID       map[string]map[string]struct{}

	ordered []internal.CatalogEntry
}

func BuildIndex(entries []internal.CatalogEntry) *Index {
	idx := &Index{
		EntriesByID:        map[string]internal.CatalogEntry{},
		ByCode:             map[string][]internal.CatalogEntry{},
		ByName:             map[string][]internal.CatalogEntry{},
		TokenToEntryIDs:    map[string]map[string]struct{}{},
		NormalizedNameByID: map[string]string{},
		TokensByID:         map[string][]string{},
		KeywordsByID:       map[string]map[string]struct{}{},
	}

	ordered := append([]internal.CatalogEntry(nil), entries...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Code != ordered[j].Code {
			return ordered[i].Code < ordered[j].Code
		}
		return ordered[i].ID < ordered[j].ID
	})
	idx.ordered = ordered

	for _, e := range ordered {
		idx.EntriesByID[e.ID] = e
		normName := util.NormalizeHeader(e.Name)
		idx.NormalizedNameByID[e.ID] = normName
		idx.ByName[normName] = append(idx.ByName[normName], e)

		if code := util.NormalizeCode(e.Code); code != "" {
			idx.ByCode[code] = append(idx.ByCode[code], e)
		}

		tokens := util.Tokenize(e.Name)
		keywords := map[string]struct{}{}
		for _, kw := range e.Keywords {
			for _, token := range util.Tokenize(kw) {
				keywords[token] = struct{}{}
				tokens = append(tokens, token)
			}
		}
		idx.KeywordsByID[e.ID] = keywords
		idx.TokensByID[e.ID] = tokens

		for _, token := range tokens {
			if _, ok := idx.TokenToEntryIDs[token]; !ok {
				idx.TokenToEntryIDs[token] = map[string]struct{}{}
			}
			idx.TokenToEntryIDs[token][e.ID] = struct{}{}
		}
	}

	return idx
}

func (idx *Index) Len() int { return len(idx.ordered) }

// Entries returns the snapshot ordered by code.
func (idx *Index) Entries() []internal.CatalogEntry { return idx.ordered }

// CandidateIDs collects entries sharing at least one token with the query,
// sorted so callers iterate deterministically.
func (idx *Index) CandidateIDs(tokens []string) []string {
	set := map[string]struct{}{}
	for _, token := range tokens {
		for id := range idx.TokenToEntryIDs[token] {
			set[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TokensNear returns indexed tokens within one edit of token. Only tokens of
// five or more runes take part; shorter ones are too ambiguous.
func (idx *Index) TokensNear(token string, maxDist int, dist func(a, b string) int) []string {
	if len([]rune(token)) < 5 {
		return nil
	}
	var out []string
	for candidate := range idx.TokenToEntryIDs {
		if candidate == token {
			continue
		}
		lc, lt := len([]rune(candidate)), len([]rune(token))
		if lc < 5 || lc-lt > maxDist || lt-lc > maxDist || candidate[0] != token[0] {
			continue
		}
		if dist(candidate, token) <= maxDist {
			out = append(out, candidate)
		}
	}
	sort.Strings(out)
	return out
}

// SearchHit is an entry with its relevance to a catalog search.
type SearchHit struct {
	Entry internal.CatalogEntry
	Score float64
}

// Search ranks active entries against free text. An exact code hit ranks
// first, then entries whose name contains the query, then token relevance.
func (idx *Index) Search(query, categoryID string, limit int) []SearchHit {
	normQuery := util.NormalizeHeader(query)
	if normQuery == "" {
		return nil
	}
	queryTokens := util.Tokenize(query)
	scores := map[string]float64{}

	consider := func(e internal.CatalogEntry, score float64) {
		if !e.Active || (categoryID != "" && e.CategoryID != categoryID) {
			return
		}
		if current, seen := scores[e.ID]; !seen || score > current {
			scores[e.ID] = score
		}
	}

	for _, e := range idx.ByCode[util.NormalizeCode(query)] {
		consider(e, 100)
	}
	for _, id := range idx.CandidateIDs(queryTokens) {
		e := idx.EntriesByID[id]
		consider(e, 100*tokenRelevance(normQuery, idx.NormalizedNameByID[id], queryTokens, idx.TokensByID[id]))
	}
	for _, e := range idx.ordered {
		name := idx.NormalizedNameByID[e.ID]
		if strings.Contains(name, normQuery) {
			relevance := tokenRelevance(normQuery, name, queryTokens, idx.TokensByID[e.ID])
			consider(e, 60+39*relevance)
		}
	}

	hits := make([]SearchHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, SearchHit{Entry: idx.EntriesByID[id], Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Entry.Name != hits[j].Entry.Name {
			return hits[i].Entry.Name < hits[j].Entry.Name
		}
		return hits[i].Entry.Code < hits[j].Entry.Code
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func tokenRelevance(query, candidate string, queryTokens, candidateTokens []string) float64 {
	dice := util.DiceCoefficient(query, candidate)
	if len(queryTokens) == 0 || len(candidateTokens) == 0 {
		return dice
	}
	set := map[string]struct{}{}
	for _, t := range candidateTokens {
		set[t] = struct{}{}
	}
	overlap := 0
	for _, t := range queryTokens {
		if _, ok := set[t]; ok {
			overlap++
		}
	}
	return 0.65*dice + 0.35*float64(overlap)/float64(len(queryTokens))
}

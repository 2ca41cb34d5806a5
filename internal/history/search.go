package history

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// previewLen caps how much of the first message takes part in matching.
const previewLen = 300

// SearchResult is a matched session and its rank.
type SearchResult struct {
	Session Session `json:"session"`
	Score   int     `json:"score"`
	Exact   bool    `json:"exact"`
}

type sessionSource []Session

func (s sessionSource) String(i int) string {
	return searchText(s[i])
}

func (s sessionSource) Len() int { return len(s) }

func searchText(s Session) string {
	first := s.FirstMessage
	if len(first) > previewLen {
		first = first[:previewLen]
	}
	return strings.Join([]string{s.Summary, s.Repository, s.Branch, s.Cwd, first, s.ID}, " ")
}

// Search ranks sessions against query. Case-insensitive substring hits come
// first in input order, followed by fuzzy matches by score. An empty query
// returns every session.
func Search(sessions []Session, query string) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		out := make([]SearchResult, len(sessions))
		for i, s := range sessions {
			out[i] = SearchResult{Session: s}
		}
		return out
	}

	lq := strings.ToLower(query)
	seen := make(map[int]bool)
	var out []SearchResult
	for i, s := range sessions {
		if strings.Contains(strings.ToLower(searchText(s)), lq) {
			seen[i] = true
			out = append(out, SearchResult{Session: s, Exact: true})
		}
	}

	// FindFrom returns matches best first.
	for _, m := range fuzzy.FindFrom(query, sessionSource(sessions)) {
		if seen[m.Index] {
			continue
		}
		out = append(out, SearchResult{Session: sessions[m.Index], Score: m.Score})
	}
	return out
}

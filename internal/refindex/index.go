// Package refindex holds the in-memory ID Manual reference list and the
// tiered lookups used to resolve user descriptions locally.
package refindex

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Status string

const (
	StatusActive  Status = "A"
	StatusDeleted Status = "D"
)

// Entry is one row of the reference dataset.
type Entry struct {
	TermID      string `json:"termId"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

func (e Entry) Deleted() bool { return e.Status == StatusDeleted }

// Normalize returns the comparable key for a description: NFKC folded,
// lowercased and trimmed.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

type indexed struct {
	key   string
	entry Entry
}

// Index is read-only after Build and safe for concurrent lookups.
type Index struct {
	exact   map[string]Entry
	ordered []indexed
}

func Build(entries []Entry) *Index {
	idx := &Index{
		exact:   make(map[string]Entry, len(entries)),
		ordered: make([]indexed, 0, len(entries)),
	}
	for _, e := range entries {
		key := Normalize(e.Description)
		if key == "" {
			continue
		}
		idx.exact[key] = e
		idx.ordered = append(idx.ordered, indexed{key: key, entry: e})
	}
	return idx
}

func (idx *Index) Len() int { return len(idx.ordered) }

func (idx *Index) LookupExact(key string) (Entry, bool) {
	key = Normalize(key)
	if key == "" {
		return Entry{}, false
	}
	e, ok := idx.exact[key]
	return e, ok
}

// LookupPrefix returns the first entry, in dataset order, whose normalized
// description starts with key. First hit wins, not the shortest.
func (idx *Index) LookupPrefix(key string) (Entry, bool) {
	return idx.scan(key, strings.HasPrefix)
}

// LookupSubstring returns the first entry, in dataset order, whose
// normalized description contains key.
func (idx *Index) LookupSubstring(key string) (Entry, bool) {
	return idx.scan(key, strings.Contains)
}

func (idx *Index) scan(key string, match func(s, sub string) bool) (Entry, bool) {
	key = Normalize(key)
	if key == "" {
		return Entry{}, false
	}
	for _, it := range idx.ordered {
		if match(it.key, key) {
			return it.entry, true
		}
	}
	return Entry{}, false
}

package tmsearch

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// CategoryOf returns the display bucket for a normalized item, together with
// the relabelled copy that should be shown in it. Precedence:
// exact local, local template/partial, USPTO, MGS, unknown.
func CategoryOf(item Item) (Category, Item) {
	switch {
	case item.OriginalSource.IsLocalExact():
		status := item.OriginalStatus
		if item.MatchType == MatchDeleted || (item.IsDeleted != nil && *item.IsDeleted) || strings.EqualFold(status, "D") {
			if status == "" {
				status = "D"
			}
			item.MatchType = MatchDeleted
			item.Status = fmt.Sprintf("Deleted (Local List - Status: %s)", status)
			return CategoryOther, item
		}
		if status == "" {
			status = "A"
		}
		item.MatchType = MatchFull
		item.Status = fmt.Sprintf("Full Match (Local List - Status: %s)", status)
		return CategoryFull, item

	case item.OriginalSource.IsLocalInexact():
		return byVagueness(item), item

	case item.OriginalSource == SourceUSPTO:
		switch item.MatchType {
		case MatchFull:
			return CategoryFull, item
		case MatchDeleted:
			return CategoryOther, item
		default:
			return byVagueness(item), item
		}

	case item.OriginalSource.IsMGS():
		if item.MatchType == MatchFull {
			return CategoryFull, item
		}
		return CategoryOther, item
	}

	log.Printf("tmsearch classify_unknown_source term=%q source=%q", item.Term, item.OriginalSource)
	return CategoryOther, item
}

func byVagueness(item Item) Category {
	if item.IsVague != nil && *item.IsVague {
		return CategoryVague
	}
	return CategoryAcceptable
}

// Classify appends item to exactly one bucket of into.
func Classify(item Item, into *CategorySet) {
	cat, shown := CategoryOf(item)
	b := into.bucket(cat)
	*b = append(*b, shown)
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := strings.ToLower(items[i].Term), strings.ToLower(items[j].Term)
		if a != b {
			return a < b
		}
		if items[i].Source != items[j].Source {
			return items[i].Source < items[j].Source
		}
		return items[i].Term < items[j].Term
	})
}

// ResultSet is the session's record collection, keyed by lowercased
// term plus source tag. Safe for concurrent use.
type ResultSet struct {
	mu      sync.RWMutex
	records map[string]RawRecord
	errs    []RawRecord
}

func NewResultSet() *ResultSet {
	return &ResultSet{records: map[string]RawRecord{}}
}

// Upsert stores raw under its key. A stored full match is never replaced by a
// less specific record; otherwise the latest write wins. It reports whether
// the set changed.
func (s *ResultSet) Upsert(raw RawRecord) bool {
	term := raw.TermValue()
	if term == "" || raw.Source == "" {
		log.Printf("tmsearch upsert_skip reason=missing_fields term=%q source=%q", term, raw.Source)
		return false
	}
	key := raw.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[key]; ok && isFull(prev) && !isFull(raw) {
		log.Printf("tmsearch upsert_keep_full key=%s incoming_match_type=%s", key, raw.MatchType)
		return false
	}
	s.records[key] = raw
	return true
}

func isFull(r RawRecord) bool {
	if r.Source.IsLocalExact() {
		return false
	}
	if mt, ok := parseMatchType(r.MatchType); ok {
		return mt == MatchFull
	}
	return r.MatchType == "" && InferMatchType(r.StatusText) == MatchFull && strings.TrimSpace(r.StatusText) != ""
}

// RecordError keeps a per-term error event for audit. Errors never reach the
// categories.
func (s *ResultSet) RecordError(raw RawRecord) {
	s.mu.Lock()
	s.errs = append(s.errs, raw)
	s.mu.Unlock()
}

func (s *ResultSet) Errors() []RawRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RawRecord(nil), s.errs...)
}

func (s *ResultSet) Get(term string, source Source) (RawRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordKey(term, source)]
	return r, ok
}

func (s *ResultSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Categorize normalizes and classifies the whole set. When terms is non-empty
// only records whose lowercased term is in it are included.
func (s *ResultSet) Categorize(terms map[string]struct{}) CategorySet {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	raws := make([]RawRecord, 0, len(keys))
	for _, k := range keys {
		raws = append(raws, s.records[k])
	}
	s.mu.RUnlock()

	out := CategorySet{FullMatches: []Item{}, Acceptable: []Item{}, Vague: []Item{}, Other: []Item{}}
	for _, raw := range raws {
		if len(terms) > 0 {
			if _, ok := terms[strings.ToLower(raw.TermValue())]; !ok {
				continue
			}
		}
		item, ok := Normalize(raw)
		if !ok {
			continue
		}
		Classify(item, &out)
	}
	sortItems(out.FullMatches)
	sortItems(out.Acceptable)
	sortItems(out.Vague)
	sortItems(out.Other)
	return out
}

// TermSet builds the lowercase filter used by Categorize.
func TermSet(terms []string) map[string]struct{} {
	out := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		out[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return out
}

package tmsearch

import (
	"context"
	"crypto/rand"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Suggester interface {
	Suggest(ctx context.Context, term, reason, example string) ([]Suggestion, error)
}

type SessionConfig struct {
	Cache        MatchCache
	Tokens       TokenProvider
	AI           Suggester
	TokenTimeout time.Duration
	CacheTimeout time.Duration
}

// Session holds the records and suggestions of one search. A new search gets
// a new Session.
type Session struct {
	ID      string
	results *ResultSet
	cfg     SessionConfig
	now     func() time.Time

	mu          sync.Mutex
	terms       []string
	suggestions map[string]SuggestionRecord
	stores      sync.WaitGroup
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = DefaultTokenTimeout
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = DefaultCacheTimeout
	}
	return &Session{
		ID:          ulid.MustNew(ulid.Now(), rand.Reader).String(),
		results:     NewResultSet(),
		cfg:         cfg,
		now:         time.Now,
		suggestions: map[string]SuggestionRecord{},
	}
}

// Load seeds the session with a preparation's terms and records.
func (s *Session) Load(prep Preparation) {
	s.mu.Lock()
	s.terms = append([]string(nil), prep.Terms...)
	s.mu.Unlock()
	for _, rec := range prep.Records {
		s.results.Upsert(rec)
	}
	log.Printf("tmsearch session_loaded id=%s terms=%d records=%d", s.ID, len(prep.Terms), len(prep.Records))
}

func (s *Session) Results() *ResultSet { return s.results }

func (s *Session) Terms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.terms...)
}

// Accept upserts a live record. New full matches from USPTO or MGS are also
// written back to the cache in the background.
func (s *Session) Accept(raw RawRecord) {
	if !s.results.Upsert(raw) {
		return
	}
	if raw.Source != SourceUSPTO && !raw.Source.IsMGS() {
		return
	}
	if !isFull(raw) || s.cfg.Cache == nil {
		return
	}
	if strings.TrimSpace(raw.SearchDate) == "" {
		raw.SearchDate = s.now().UTC().Format(time.RFC3339)
	}
	s.stores.Add(1)
	go func() {
		defer s.stores.Done()
		s.store(raw)
	}()
}

func (s *Session) store(raw RawRecord) {
	if s.cfg.Tokens == nil {
		log.Printf("tmsearch cache_store_skipped term=%q source=%s reason=no_token_provider", raw.TermValue(), raw.Source)
		return
	}
	tctx, cancel := context.WithTimeout(context.Background(), s.cfg.TokenTimeout)
	token, err := s.cfg.Tokens.Token(tctx)
	cancel()
	if err != nil || strings.TrimSpace(token) == "" {
		log.Printf("tmsearch cache_store_skipped term=%q source=%s reason=not_authenticated", raw.TermValue(), raw.Source)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CacheTimeout)
	defer cancel()
	if _, err := s.cfg.Cache.StoreMatch(ctx, token, raw); err != nil {
		log.Printf("tmsearch cache_store_failed term=%q source=%s err=%q", raw.TermValue(), raw.Source, err.Error())
		return
	}
	log.Printf("tmsearch cache_stored term=%q source=%s", raw.TermValue(), raw.Source)
}

func (s *Session) RecordError(raw RawRecord) {
	s.results.RecordError(raw)
}

// Categories classifies every record belonging to the session's terms.
func (s *Session) Categories() CategorySet {
	return s.results.Categorize(TermSet(s.Terms()))
}

// Suggestions asks the AI service for rewordings of term and remembers the
// outcome under the lowercased term.
func (s *Session) Suggestions(ctx context.Context, term, reason, example string) (SuggestionRecord, error) {
	key := strings.ToLower(strings.TrimSpace(term))
	s.mu.Lock()
	s.suggestions[key] = SuggestionRecord{Term: term, Suggestions: []Suggestion{}, IsLoading: true}
	s.mu.Unlock()

	rec := SuggestionRecord{Term: term, Suggestions: []Suggestion{}}
	var err error
	if s.cfg.AI == nil {
		err = NewUnavailableError("AI suggestions not configured", nil)
	} else {
		var got []Suggestion
		got, err = s.cfg.AI.Suggest(ctx, term, reason, example)
		if got != nil {
			rec.Suggestions = got
		}
	}
	if err != nil {
		log.Printf("tmsearch suggestions_failed term=%q err=%q", term, err.Error())
		rec.Error = err.Error()
	}

	s.mu.Lock()
	s.suggestions[key] = rec
	s.mu.Unlock()
	return rec, err
}

func (s *Session) Suggestion(term string) (SuggestionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.suggestions[strings.ToLower(strings.TrimSpace(term))]
	return rec, ok
}

// Close waits for pending cache writes.
func (s *Session) Close() {
	s.stores.Wait()
}

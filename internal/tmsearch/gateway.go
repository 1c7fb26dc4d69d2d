package tmsearch

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TokenProvider returns the identity token for cache calls. An empty token
// means not authenticated.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

type CacheStatus struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

// MatchCache is the remote store of previously searched terms.
type MatchCache interface {
	GetMatch(ctx context.Context, token, term string) (map[string]RawRecord, error)
	StoreMatch(ctx context.Context, token string, rec RawRecord) (RawRecord, error)
	Status(ctx context.Context, token string) (CacheStatus, error)
}

type GatewayResult struct {
	Records    []RawRecord
	USPTOTerms []string
	MGSTasks   []SearchTask
}

type GatewayConfig struct {
	TokenTimeout    time.Duration
	CacheTimeout    time.Duration
	StalenessWindow time.Duration
}

// Gateway decides which unresolved terms still need live searches.
type Gateway struct {
	cache  MatchCache
	tokens TokenProvider
	cfg    GatewayConfig
	now    func() time.Time
}

func NewGateway(cache MatchCache, tokens TokenProvider, cfg GatewayConfig) *Gateway {
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = DefaultTokenTimeout
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = DefaultCacheTimeout
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultStalenessWindow
	}
	return &Gateway{cache: cache, tokens: tokens, cfg: cfg, now: time.Now}
}

type termCheck struct {
	records      []RawRecord
	needsUSPTO   bool
	needsNiceOn  bool
	needsNiceOff bool
	err          error
}

// Check queries the cache for every term concurrently. Failing to obtain a
// token, or an unauthorized reply for any term, fails the whole batch. Any
// other per-term failure marks that term as needing every live search.
func (g *Gateway) Check(ctx context.Context, terms []string) (GatewayResult, error) {
	ctx, span := tracer.Start(ctx, "tmsearch.gateway_check")
	defer span.End()
	span.SetAttributes(attribute.Int("terms", len(terms)))

	out := GatewayResult{Records: []RawRecord{}, USPTOTerms: []string{}, MGSTasks: []SearchTask{}}
	if len(terms) == 0 {
		return out, nil
	}

	token, err := g.token(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		return GatewayResult{}, err
	}

	results := make([]termCheck, len(terms))
	var wg sync.WaitGroup
	for i, term := range terms {
		wg.Add(1)
		go func(i int, term string) {
			defer wg.Done()
			results[i] = g.checkTerm(ctx, token, term)
		}(i, term)
	}
	wg.Wait()

	seen := map[string]struct{}{}
	for i, term := range terms {
		res := results[i]
		if errors.Is(res.err, ErrUnauthorized) {
			log.Printf("tmsearch cache_unauthorized term=%q err=%q", term, res.err.Error())
			span.RecordError(res.err)
			span.SetStatus(codes.Error, "unauthorized")
			return GatewayResult{}, res.err
		}
		out.Records = append(out.Records, res.records...)
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if res.needsUSPTO {
			out.USPTOTerms = append(out.USPTOTerms, term)
		}
		if res.needsNiceOn || res.needsNiceOff {
			out.MGSTasks = append(out.MGSTasks, SearchTask{Term: term, NeedsNiceOn: res.needsNiceOn, NeedsNiceOff: res.needsNiceOff})
		}
	}
	log.Printf("tmsearch gateway_check terms=%d cached_records=%d uspto_needed=%d mgs_tasks=%d", len(terms), len(out.Records), len(out.USPTOTerms), len(out.MGSTasks))
	span.SetAttributes(attribute.Int("uspto_needed", len(out.USPTOTerms)), attribute.Int("mgs_tasks", len(out.MGSTasks)))
	return out, nil
}

func (g *Gateway) token(ctx context.Context) (string, error) {
	if g.tokens == nil {
		return "", NewUnauthorizedError("no token provider configured", nil)
	}
	tctx, cancel := context.WithTimeout(ctx, g.cfg.TokenTimeout)
	defer cancel()
	token, err := g.tokens.Token(tctx)
	if err != nil {
		log.Printf("tmsearch token_failed err=%q", err.Error())
		return "", NewUnauthorizedError("could not obtain authentication token", err)
	}
	if strings.TrimSpace(token) == "" {
		log.Printf("tmsearch token_missing")
		return "", NewUnauthorizedError("not authenticated", nil)
	}
	return token, nil
}

func (g *Gateway) checkTerm(ctx context.Context, token, term string) termCheck {
	all := termCheck{needsUSPTO: true, needsNiceOn: true, needsNiceOff: true}
	if g.cache == nil {
		return all
	}
	cctx, cancel := context.WithTimeout(ctx, g.cfg.CacheTimeout)
	defer cancel()
	matches, err := g.cache.GetMatch(cctx, token, term)
	if err != nil {
		log.Printf("tmsearch cache_lookup_failed term=%q err=%q", term, err.Error())
		all.err = err
		return all
	}
	if len(matches) == 0 {
		return all
	}

	res := termCheck{}
	for _, source := range []Source{SourceUSPTO, SourceMGSNiceOn, SourceMGSNiceOff} {
		rec, ok := matches[string(source)]
		if !ok {
			continue
		}
		if rec.Source == "" {
			rec.Source = source
		}
		if rec.TermValue() == "" {
			rec.Term = term
		}
		res.records = append(res.records, rec)
	}
	res.needsUSPTO = !g.fresh(matches, SourceUSPTO)
	onFresh := g.fresh(matches, SourceMGSNiceOn)
	offFresh := g.fresh(matches, SourceMGSNiceOff)
	if !onFresh || !offFresh {
		res.needsNiceOn = !onFresh
		res.needsNiceOff = !offFresh
	}
	return res
}

func (g *Gateway) fresh(matches map[string]RawRecord, source Source) bool {
	rec, ok := matches[string(source)]
	if !ok {
		return false
	}
	at := rec.SearchedAt()
	if at.IsZero() {
		return false
	}
	return g.now().Sub(at) < g.cfg.StalenessWindow
}

package tmsearch

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/joelkehle/tmsearch/internal/tmsearch")

const cacheFallbackMessage = "Database check failed; proceeding with live searches."

// ParseTerms splits a semicolon separated description list, trimming each
// entry and dropping empties. Duplicates are kept.
func ParseTerms(raw string) []string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Preparation is everything known before live searches start.
type Preparation struct {
	Terms      []string
	Records    []RawRecord
	USPTOTerms []string
	MGSTasks   []SearchTask
	// CacheMGSTasks is what cache freshness alone would have asked for.
	CacheMGSTasks []SearchTask
	CacheErr      error
	Status        Status
}

type Preparer struct {
	resolver *Resolver
	gateway  *Gateway
}

func NewPreparer(resolver *Resolver, gateway *Gateway) *Preparer {
	return &Preparer{resolver: resolver, gateway: gateway}
}

// Prepare resolves terms locally then asks the cache about the rest. A batch
// failure in the cache step falls back to searching every term live.
func (p *Preparer) Prepare(ctx context.Context, raw string) (Preparation, error) {
	ctx, span := tracer.Start(ctx, "tmsearch.prepare")
	defer span.End()

	if strings.TrimSpace(raw) == "" {
		return Preparation{Status: Status{Type: StatusError, Message: "Please enter search terms."}}, NewValidationError("no search terms")
	}
	terms := ParseTerms(raw)
	if len(terms) == 0 {
		return Preparation{Status: Status{Type: StatusError, Message: "No valid terms found in input."}}, NewValidationError("no valid terms")
	}
	span.SetAttributes(attribute.Int("terms", len(terms)))
	log.Printf("tmsearch prepare_start terms=%d", len(terms))

	resolved, err := p.resolver.Resolve(ctx, terms)
	if err != nil {
		return Preparation{Terms: terms, Status: Status{Type: StatusError, Message: err.Error()}}, fmt.Errorf("resolve terms: %w", err)
	}

	prep := Preparation{
		Terms:      terms,
		Records:    append([]RawRecord{}, resolved.Records...),
		USPTOTerms: []string{},
		// MGS is always run for every parsed term; cache freshness only
		// narrows the USPTO list.
		MGSTasks: fullMGSTasks(terms),
	}

	gw, err := p.gateway.Check(ctx, resolved.Unresolved)
	if err != nil {
		log.Printf("tmsearch prepare_cache_fallback err=%q", err.Error())
		span.RecordError(err)
		prep.CacheErr = err
		prep.USPTOTerms = append(prep.USPTOTerms, terms...)
		prep.CacheMGSTasks = fullMGSTasks(terms)
		prep.Status = Status{Type: StatusSuccess, Message: cacheFallbackMessage}
		return prep, nil
	}

	prep.Records = append(prep.Records, gw.Records...)
	prep.USPTOTerms = gw.USPTOTerms
	prep.CacheMGSTasks = gw.MGSTasks
	prep.Status = Status{Type: StatusSuccess, Message: fmt.Sprintf("Prepared %d terms: %d local, %d cached, %d need USPTO search.", len(terms), len(resolved.Records), len(gw.Records), len(gw.USPTOTerms))}
	log.Printf("tmsearch prepare_done terms=%d local=%d cached=%d uspto=%d mgs=%d", len(terms), len(resolved.Records), len(gw.Records), len(prep.USPTOTerms), len(prep.MGSTasks))
	return prep, nil
}

package tmsearch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/joelkehle/tmsearch/internal/refindex"
	"go.opentelemetry.io/otel/attribute"
)

// VaguenessChecker is the AI check run on terms resolved only as a template
// or partial local hit.
type VaguenessChecker interface {
	CheckVagueness(ctx context.Context, term string) (Vagueness, error)
}

type ResolveResult struct {
	Records    []RawRecord
	Unresolved []string
}

// Resolver resolves terms against the local reference index.
type Resolver struct {
	index   *refindex.Index
	checker VaguenessChecker
	timeout time.Duration
	now     func() time.Time
}

func NewResolver(index *refindex.Index, checker VaguenessChecker, timeout time.Duration) *Resolver {
	if index == nil {
		index = refindex.Build(nil)
	}
	if timeout <= 0 {
		timeout = DefaultAITimeout
	}
	return &Resolver{index: index, checker: checker, timeout: timeout, now: time.Now}
}

// Resolve walks exact, prefix then substring lookups per term. Records and
// unresolved terms keep input order. Vagueness checks for inexact hits run
// concurrently and are all awaited; a failed check stays on its record.
func (r *Resolver) Resolve(ctx context.Context, terms []string) (ResolveResult, error) {
	ctx, span := tracer.Start(ctx, "tmsearch.resolve")
	defer span.End()

	out := ResolveResult{Records: make([]RawRecord, 0, len(terms)), Unresolved: []string{}}
	var pending []int
	searchDate := r.now().UTC().Format(time.RFC3339)

	for _, term := range terms {
		if e, ok := r.index.LookupExact(term); ok {
			rec := RawRecord{
				Term:        term,
				Source:      SourceLocalExact,
				MatchType:   MatchFull,
				TermID:      e.TermID,
				Description: e.Description,
				Status:      string(e.Status),
				SearchDate:  searchDate,
				IsDeleted:   boolPtr(e.Deleted()),
			}
			if e.Deleted() {
				rec.MatchType = MatchDeleted
			}
			out.Records = append(out.Records, rec)
			continue
		}

		source := SourceLocalTemplate
		e, ok := r.index.LookupPrefix(term)
		if !ok {
			source = SourceLocalPartial
			e, ok = r.index.LookupSubstring(term)
		}
		if !ok {
			out.Unresolved = append(out.Unresolved, term)
			continue
		}
		pending = append(pending, len(out.Records))
		out.Records = append(out.Records, RawRecord{
			Term:               term,
			Source:             source,
			MatchType:          MatchPartial,
			TermID:             e.TermID,
			DescriptionExample: e.Description,
			Status:             string(e.Status),
			SearchDate:         searchDate,
			IsDeleted:          boolPtr(e.Deleted()),
		})
	}

	log.Printf("tmsearch resolve_local terms=%d local=%d unresolved=%d vagueness_checks=%d", len(terms), len(out.Records), len(out.Unresolved), len(pending))
	span.SetAttributes(
		attribute.Int("terms", len(terms)),
		attribute.Int("unresolved", len(out.Unresolved)),
		attribute.Int("vagueness_checks", len(pending)),
	)
	r.checkVagueness(ctx, out.Records, pending)
	return out, nil
}

func (r *Resolver) checkVagueness(ctx context.Context, records []RawRecord, pending []int) {
	if len(pending) == 0 {
		return
	}
	if r.checker == nil {
		for _, i := range pending {
			records[i].VaguenessReasoning = "AI check failed: vagueness checker not configured"
		}
		return
	}

	var wg sync.WaitGroup
	for _, i := range pending {
		wg.Add(1)
		go func(rec *RawRecord) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			v, err := r.checker.CheckVagueness(cctx, rec.Term)
			if err != nil {
				log.Printf("tmsearch vagueness_check_failed term=%q err=%q", rec.Term, err.Error())
				rec.VaguenessReasoning = "AI check failed: " + err.Error()
				return
			}
			rec.IsVague = boolPtr(v.IsVague)
			rec.VaguenessReasoning = v.Reasoning
		}(&records[i])
	}
	wg.Wait()
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/joelkehle/tmsearch/internal/auth"
	"github.com/joelkehle/tmsearch/internal/config"
	"github.com/joelkehle/tmsearch/internal/matchcache"
	"github.com/joelkehle/tmsearch/internal/refindex"
	"github.com/joelkehle/tmsearch/internal/tmsearch"
)

func newCLIApp(cfg config.Config, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "tmsearch",
		Usage:   "Prepare and run trademark description searches",
		Version: Version,
		Writer:  out,
		Commands: []*cli.Command{
			searchCmd(cfg, out),
			suggestCmd(cfg, out),
			statusCmd(cfg, out),
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// searchOutput is what the search command prints once the workflow ends.
type searchOutput struct {
	SessionID    string                 `json:"sessionId"`
	Terms        []string               `json:"terms"`
	Prepare      tmsearch.Status        `json:"prepare"`
	Workflow     tmsearch.WorkflowState `json:"workflow"`
	USPTOElapsed string                 `json:"usptoElapsed,omitempty"`
	MGSElapsed   string                 `json:"mgsElapsed,omitempty"`
	Categories   tmsearch.CategorySet   `json:"categories"`
	Errors       []tmsearch.RawRecord   `json:"errors,omitempty"`
}

func searchCmd(cfg config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search semicolon separated descriptions",
		ArgsUsage: "<term; term; ...>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reference", Aliases: []string{"r"}, Value: cfg.ReferenceFile, Usage: "Reference dataset (JSON)"},
			&cli.StringFlag{Name: "cache-url", Value: cfg.CacheURL, Usage: "Match cache base URL"},
			&cli.StringFlag{Name: "uspto-cmd", Value: cfg.USPTOCommand, Usage: "USPTO stage command"},
			&cli.StringFlag{Name: "mgs-cmd", Value: cfg.MGSCommand, Usage: "MGS stage command"},
			&cli.BoolFlag{Name: "no-ai", Usage: "Skip AI vagueness checks"},
		},
		Action: func(c *cli.Context) error {
			raw := strings.Join(c.Args().Slice(), " ")
			idx, err := refindex.Load(c.String("reference"))
			if err != nil {
				return err
			}
			var checker tmsearch.VaguenessChecker
			var suggester tmsearch.Suggester
			if !c.Bool("no-ai") {
				if ai := newAIService(cfg); ai != nil {
					checker, suggester = ai, ai
				}
			}
			tokens := auth.New(cfg.Token, cfg.TokenCommand, cfg.TokenTimeout)
			var cache tmsearch.MatchCache
			if url := c.String("cache-url"); url != "" {
				cache = matchcache.NewClient(url)
			}

			preparer := tmsearch.NewPreparer(
				tmsearch.NewResolver(idx, checker, cfg.AITimeout),
				tmsearch.NewGateway(cache, tokens, tmsearch.GatewayConfig{
					TokenTimeout:    cfg.TokenTimeout,
					CacheTimeout:    cfg.CacheTimeout,
					StalenessWindow: cfg.StalenessWindow,
				}),
			)
			session := tmsearch.NewSession(tmsearch.SessionConfig{
				Cache:        cache,
				Tokens:       tokens,
				AI:           suggester,
				TokenTimeout: cfg.TokenTimeout,
				CacheTimeout: cfg.CacheTimeout,
			})

			prep, err := preparer.Prepare(c.Context, raw)
			if err != nil {
				return fmt.Errorf("%s: %w", prep.Status.Message, err)
			}
			log.Printf("tmsearch session_start id=%s %s", session.ID, prep.Status.Message)
			session.Load(prep)

			launcher := tmsearch.NewProcessLauncher(tmsearch.ProcessConfig{
				USPTOCommand: c.String("uspto-cmd"),
				MGSCommand:   c.String("mgs-cmd"),
				CancelFile:   cfg.CancelFile,
			})
			ctrl := tmsearch.NewController(launcher, session)
			ctrl.OnStateChange(func(s tmsearch.WorkflowState) {
				log.Printf("tmsearch workflow phase=%s progress=%.0f term=%q status=%q", s.Phase, s.Progress, s.ActiveTerm, s.Status.Message)
			})
			if err := ctrl.Start(c.Context, prep.USPTOTerms, prep.MGSTasks); err != nil {
				return err
			}
			state, runErr := ctrl.Run(c.Context)
			session.Close()

			if err := outputJSON(out, searchOutput{
				SessionID:    session.ID,
				Terms:        session.Terms(),
				Prepare:      prep.Status,
				Workflow:     state,
				USPTOElapsed: tmsearch.FormatElapsed(state.USPTOElapsed),
				MGSElapsed:   tmsearch.FormatElapsed(state.MGSElapsed),
				Categories:   session.Categories(),
				Errors:       session.Results().Errors(),
			}); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if state.Phase == tmsearch.PhaseError {
				return fmt.Errorf("%s", state.Status.Message)
			}
			return nil
		},
	}
}

func suggestCmd(cfg config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "suggest",
		Usage:     "Ask for more specific alternatives to a vague description",
		ArgsUsage: "<term>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Why the description was judged vague", Required: true},
			&cli.StringFlag{Name: "example", Usage: "Reference example the alternatives must start with"},
		},
		Action: func(c *cli.Context) error {
			term := strings.Join(c.Args().Slice(), " ")
			var suggester tmsearch.Suggester
			if ai := newAIService(cfg); ai != nil {
				suggester = ai
			}
			session := tmsearch.NewSession(tmsearch.SessionConfig{AI: suggester})
			rec, err := session.Suggestions(c.Context, term, c.String("reason"), c.String("example"))
			if err != nil {
				return err
			}
			return outputJSON(out, rec)
		},
	}
}

func statusCmd(cfg config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check match cache connectivity",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cache-url", Value: cfg.CacheURL, Usage: "Match cache base URL"},
		},
		Action: func(c *cli.Context) error {
			client := matchcache.NewClient(c.String("cache-url"))
			st, err := cacheStatus(c.Context, cfg, client)
			if err != nil {
				return err
			}
			return outputJSON(out, st)
		},
	}
}

func cacheStatus(ctx context.Context, cfg config.Config, client *matchcache.Client) (tmsearch.CacheStatus, error) {
	tctx, cancel := context.WithTimeout(ctx, cfg.TokenTimeout)
	token, err := auth.New(cfg.Token, cfg.TokenCommand, 0).Token(tctx)
	cancel()
	if err != nil {
		return tmsearch.CacheStatus{Message: "Authentication error: " + err.Error()}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.CacheTimeout)
	defer cancel()
	return client.Status(cctx, token)
}

// newAIService returns nil when no API key is available.
func newAIService(cfg config.Config) *tmsearch.AIService {
	caller, err := tmsearch.NewAnthropicCaller(cfg.AnthropicAPIKey, cfg.LLMModel)
	if err != nil {
		log.Printf("tmsearch ai_disabled err=%q", err.Error())
		return nil
	}
	return tmsearch.NewAIService(caller, cfg.AITimeout)
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

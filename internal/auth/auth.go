// Package auth supplies identity tokens for match cache calls.
package auth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Provider returns a bearer token. An empty token means not signed in.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

type Static string

func (s Static) Token(context.Context) (string, error) { return strings.TrimSpace(string(s)), nil }

// Env reads the named variable on every call so a refreshed token is picked up.
type Env string

func (e Env) Token(context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// Command runs a helper program and uses its trimmed stdout as the token.
type Command struct {
	Args []string
}

func NewCommand(cmdline string) Command {
	return Command{Args: strings.Fields(cmdline)}
}

func (c Command) Token(ctx context.Context) (string, error) {
	if len(c.Args) == 0 {
		return "", fmt.Errorf("token command is empty")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("token command: %w", ctx.Err())
		}
		return "", fmt.Errorf("token command failed: %w stderr=%s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// WithTimeout bounds every Token call on p.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return timeoutProvider{inner: p, timeout: d}
}

func (t timeoutProvider) Token(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	type result struct {
		token string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := t.inner.Token(ctx)
		ch <- result{tok, err}
	}()
	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("timeout waiting for token: %w", ctx.Err())
	}
}

// New picks the helper command when set, then a static token, then the
// TMSEARCH_TOKEN variable.
func New(token, command string, timeout time.Duration) Provider {
	var p Provider
	switch {
	case strings.TrimSpace(command) != "":
		p = NewCommand(command)
	case strings.TrimSpace(token) != "":
		p = Static(token)
	default:
		p = Env("TMSEARCH_TOKEN")
	}
	return WithTimeout(p, timeout)
}

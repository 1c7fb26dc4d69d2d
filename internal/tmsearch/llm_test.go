package tmsearch

import (
	"context"
	"errors"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestAI(llm LLMCaller) *AIService {
	s := NewAIService(llm, time.Second)
	s.sleep = noSleep
	return s
}

func TestParseVaguenessClassificationLine(t *testing.T) {
	v := ParseVagueness("**Classification: Vague**\nReasoning: Too broad to identify goods.")
	require.True(t, v.IsVague)
	require.Equal(t, "Too broad to identify goods.", v.Reasoning)

	v = ParseVagueness("Classification: Not Vague\nReasoning: [AI's Explanation] Names a specific good.")
	require.False(t, v.IsVague)
	require.Equal(t, "Names a specific good.", v.Reasoning)
}

func TestParseVaguenessKeywordFallback(t *testing.T) {
	require.False(t, ParseVagueness("This is not vague at all; it is vague-proof.").IsVague)
	require.True(t, ParseVagueness("This reads as vague.").IsVague)
	v := ParseVagueness("Perfectly specific.")
	require.False(t, v.IsVague)
	require.Equal(t, "No reasoning provided.", v.Reasoning)
}

func TestParseSuggestions(t *testing.T) {
	raw := "Here you go:\n```json\n[{\"suggestion\": \"Downloadable software for editing videos\", \"class\": 9}, {\"suggestion\": \"Consulting\", \"class\": 99}, {\"suggestion\": \"Hats\", \"class\": null}, {\"nope\": 1}]\n```"
	got, err := ParseSuggestions(raw)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "Downloadable software for editing videos", got[0].Text)
	require.NotNil(t, got[0].Class)
	require.Equal(t, 9, *got[0].Class)
	require.Nil(t, got[1].Class)
	require.Nil(t, got[2].Class)

	_, err = ParseSuggestions("I cannot help with that.")
	require.Error(t, err)
}

func TestCheckVaguenessRetriesTransientErrors(t *testing.T) {
	llm := &fakeLLM{
		errs:      []error{errors.New("status 529 overloaded"), nil},
		responses: []string{"", "Classification: Vague\nReasoning: Broad."},
	}
	v, err := newTestAI(llm).CheckVagueness(context.Background(), "services")
	require.NoError(t, err)
	require.True(t, v.IsVague)
	require.Len(t, llm.prompts, 2)
	require.Contains(t, llm.prompts[0], "Trademark Description: services")
}

func TestCheckVaguenessClientErrorIsNotRetried(t *testing.T) {
	llm := &fakeLLM{errs: []error{errors.New("status 400 bad request")}}
	_, err := newTestAI(llm).CheckVagueness(context.Background(), "services")
	require.Error(t, err)
	require.Len(t, llm.prompts, 1)
}

func TestCheckVaguenessGivesUpAfterThreeAttempts(t *testing.T) {
	llm := &fakeLLM{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}}
	_, err := newTestAI(llm).CheckVagueness(context.Background(), "services")
	require.Error(t, err)
	require.Equal(t, CodeTimeout, ErrorCode(err))
	require.Len(t, llm.prompts, 3)
}

func TestSuggestRequiresTermAndReason(t *testing.T) {
	_, err := newTestAI(&fakeLLM{}).Suggest(context.Background(), "software", " ", "")
	require.Equal(t, CodeValidation, ErrorCode(err))
}

func TestSuggestPromptIncludesExample(t *testing.T) {
	llm := &fakeLLM{responses: []string{`[{"suggestion": "Shoe laces made of leather", "class": 25}]`}}
	got, err := newTestAI(llm).Suggest(context.Background(), "laces", "too broad", "Shoe laces")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Contains(t, llm.prompts[0], `MUST start with the exact phrase: "Shoe laces"`)
	require.Equal(t, suggestionSystemPrompt, llm.systems[0])
}

func TestClassifyTransportError(t *testing.T) {
	require.Equal(t, failureTimeout, classifyTransportError(context.DeadlineExceeded))
	require.Equal(t, failureRateLimit, classifyTransportError(errors.New("status code: 429")))
	require.Equal(t, failureServer, classifyTransportError(errors.New("status=503")))
	require.Equal(t, failureClient, classifyTransportError(errors.New("status 401 unauthorized")))
	require.Equal(t, failureServer, classifyTransportError(errors.New("connection reset")))
}

type fakeMessager struct {
	params anthropic.MessageNewParams
	text   string
}

func (f *fakeMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = params
	return &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: f.text}}}, nil
}

func TestAnthropicCallerUsesConfiguredModel(t *testing.T) {
	fm := &fakeMessager{text: "Classification: Not Vague"}
	prev := newAnthropicClient
	newAnthropicClient = func(string) AnthropicMessager { return fm }
	t.Cleanup(func() { newAnthropicClient = prev })

	caller, err := NewAnthropicCaller("key", "claude-test")
	require.NoError(t, err)
	require.Equal(t, "claude-test", caller.ModelName())

	out, err := caller.Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	require.Equal(t, "Classification: Not Vague", out)
	require.Equal(t, anthropic.Model("claude-test"), fm.params.Model)
	require.Len(t, fm.params.System, 1)
}

func TestNewAnthropicCallerNeedsKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicCaller("", "")
	require.Error(t, err)
}

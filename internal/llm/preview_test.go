package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/switchyard/internal/diff"
)

// stubGenerator returns a canned response and records the prompt.
type stubGenerator struct {
	response string
	err      error
	prompt   string
}

func (s *stubGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func readyContext(diffOutput string) *diff.PreviewContext {
	return &diff.PreviewContext{
		Ready:      true,
		BaseCommit: strings.Repeat("a", 40),
		HeadCommit: strings.Repeat("b", 40),
		DiffOutput: diffOutput,
		DiffStats:  diff.Summarize(diffOutput),
		DiffSource: diff.SourceLocalGit,
	}
}

func TestSummarizeDisabled(t *testing.T) {
	t.Parallel()

	client := NewPreviewClient(nil, 4000)
	preview := client.Summarize(context.Background(), readyContext("M\tsrc/app.ts"))

	assert.Equal(t, "preview LLM is not configured", preview.Summary)
	assert.Empty(t, preview.Highlights)
	assert.Empty(t, preview.Risks)
}

func TestSummarizeNotReadyContext(t *testing.T) {
	t.Parallel()

	client := NewPreviewClient(&stubGenerator{response: "{}"}, 4000)
	preview := client.Summarize(context.Background(), &diff.PreviewContext{
		Ready:  false,
		Reason: "no previous successful deploy on branch deploy",
	})

	assert.Equal(t, "no previous successful deploy on branch deploy", preview.Summary)
	assert.Empty(t, preview.Highlights)
	assert.Empty(t, preview.Risks)
}

func TestSummarizeGeneratorFailure(t *testing.T) {
	t.Parallel()

	client := NewPreviewClient(&stubGenerator{err: errors.New("quota exceeded")}, 4000)
	preview := client.Summarize(context.Background(), readyContext("M\tsrc/app.ts"))

	assert.Contains(t, preview.Summary, "quota exceeded")
	assert.Empty(t, preview.Highlights)
	assert.Empty(t, preview.Risks)
}

func TestSummarizeParsesRawJSON(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{response: `{"summary":"Ships the login rework","highlights":["new login form"],"risks":["session invalidation"]}`}
	client := NewPreviewClient(gen, 4000)

	preview := client.Summarize(context.Background(), readyContext("M\tsrc/login.ts"))

	assert.Equal(t, "Ships the login rework", preview.Summary)
	assert.Equal(t, []string{"new login form"}, preview.Highlights)
	assert.Equal(t, []string{"session invalidation"}, preview.Risks)
}

func TestSummarizeParsesFencedJSON(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{response: "Here you go:\n```json\n{\"summary\":\"fenced\",\"highlights\":[],\"risks\":[]}\n```\nthanks"}
	client := NewPreviewClient(gen, 4000)

	preview := client.Summarize(context.Background(), readyContext("M\tsrc/app.ts"))
	assert.Equal(t, "fenced", preview.Summary)
}

func TestSummarizeLineFallback(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{response: "Login rework for the dashboard\n- new login form\n- risk: sessions may be invalidated\n- cleaner routing"}
	client := NewPreviewClient(gen, 4000)

	preview := client.Summarize(context.Background(), readyContext("M\tsrc/app.ts"))

	assert.Equal(t, "Login rework for the dashboard", preview.Summary)
	assert.Contains(t, preview.Highlights, "new login form")
	assert.Contains(t, preview.Highlights, "cleaner routing")
	require.Len(t, preview.Risks, 1)
	assert.Contains(t, preview.Risks[0], "sessions may be invalidated")
}

func TestSummarizeClampsLists(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{response: `{"summary":"big","highlights":["1","2","3","4","5"],"risks":["a","b","c","d"]}`}
	client := NewPreviewClient(gen, 4000)

	preview := client.Summarize(context.Background(), readyContext("M\tsrc/app.ts"))
	assert.Len(t, preview.Highlights, 3)
	assert.Len(t, preview.Risks, 3)
}

func TestSummarizeTruncatesDiff(t *testing.T) {
	t.Parallel()

	longDiff := "M\t" + strings.Repeat("x", 500)
	gen := &stubGenerator{response: `{"summary":"ok","highlights":[],"risks":[]}`}
	client := NewPreviewClient(gen, 100)

	_ = client.Summarize(context.Background(), readyContext(longDiff))

	assert.Contains(t, gen.prompt, "... [diff truncated]")
	assert.NotContains(t, gen.prompt, strings.Repeat("x", 200))
}

func TestPreviewMetadata(t *testing.T) {
	t.Parallel()

	preview := &Preview{Summary: "s", Highlights: []string{"h"}, Risks: []string{"r"}}
	metadata := preview.Metadata()

	assert.Equal(t, "s", metadata["summary"])
	assert.Equal(t, []any{"h"}, metadata["highlights"])
	assert.Equal(t, []any{"r"}, metadata["risks"])
}

func TestParseResponseEmpty(t *testing.T) {
	t.Parallel()

	preview := parseResponse("   ")
	assert.Equal(t, "LLM returned an empty response", preview.Summary)
}

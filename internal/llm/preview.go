// Package llm provides the best-effort preview summarizer. It asks a
// generative model for a fixed JSON-shape digest of the upcoming diff
// and always returns a structurally identical envelope: on any failure
// the summary carries the reason and the arrays are empty.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/ctxutil"
	"github.com/mrz1836/switchyard/internal/diff"
)

// maxListItems caps highlights and risks in a preview.
const maxListItems = 3

// truncationMarker is appended when the diff is cut to fit the model.
const truncationMarker = "\n... [diff truncated]"

// Preview is the structured summary contract. Highlights and Risks
// carry at most three items each.
type Preview struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
	Risks      []string `json:"risks"`
}

// reasonOnly builds the degraded envelope.
func reasonOnly(reason string) *Preview {
	return &Preview{Summary: reason, Highlights: []string{}, Risks: []string{}}
}

// Metadata renders the preview for storage in preflight snapshots.
func (p *Preview) Metadata() map[string]any {
	highlights := make([]any, len(p.Highlights))
	for i, h := range p.Highlights {
		highlights[i] = h
	}
	risks := make([]any, len(p.Risks))
	for i, r := range p.Risks {
		risks[i] = r
	}
	return map[string]any{
		"summary":    p.Summary,
		"highlights": highlights,
		"risks":      risks,
	}
}

// Generator produces text from a prompt. Implemented by the langchaingo
// adapter in production and by stubs in tests.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// PreviewClient turns a preview context into a structured summary.
type PreviewClient struct {
	generator    Generator
	diffMaxChars int
	timeout      time.Duration
	logger       zerolog.Logger
}

// PreviewOption configures a PreviewClient.
type PreviewOption func(*PreviewClient)

// WithPreviewLogger sets the client logger.
func WithPreviewLogger(logger zerolog.Logger) PreviewOption {
	return func(c *PreviewClient) {
		c.logger = logger
	}
}

// WithPreviewTimeout bounds the model call.
func WithPreviewTimeout(timeout time.Duration) PreviewOption {
	return func(c *PreviewClient) {
		c.timeout = timeout
	}
}

// NewPreviewClient creates a preview client. A nil generator disables
// the LLM path; Summarize then degrades with a reason.
func NewPreviewClient(generator Generator, diffMaxChars int, opts ...PreviewOption) *PreviewClient {
	if diffMaxChars <= 0 {
		diffMaxChars = constants.DefaultDiffMaxChars
	}
	c := &PreviewClient{
		generator:    generator,
		diffMaxChars: diffMaxChars,
		timeout:      constants.DefaultLLMTimeout,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summarize produces the structured preview for a diff context. It
// never returns an error: disabled, not-ready, and failed calls all
// yield a reason-only envelope.
func (c *PreviewClient) Summarize(ctx context.Context, pctx *diff.PreviewContext) *Preview {
	if c.generator == nil {
		return reasonOnly("preview LLM is not configured")
	}
	if pctx == nil || !pctx.Ready {
		reason := "preview context unavailable"
		if pctx != nil && pctx.Reason != "" {
			reason = pctx.Reason
		}
		return reasonOnly(reason)
	}
	if err := ctxutil.Canceled(ctx); err != nil {
		return reasonOnly("preview canceled: " + err.Error())
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := c.buildPrompt(pctx)
	text, err := c.generator.GenerateText(callCtx, prompt)
	if err != nil {
		c.logger.Warn().Err(err).Msg("preview llm call failed")
		return reasonOnly("LLM preview unavailable: " + err.Error())
	}

	preview := parseResponse(text)
	clampLists(preview)
	return preview
}

// buildPrompt embeds the (possibly truncated) diff in the fixed
// JSON-shape instruction.
func (c *PreviewClient) buildPrompt(pctx *diff.PreviewContext) string {
	diffText := pctx.DiffOutput
	if len(diffText) > c.diffMaxChars {
		diffText = diffText[:c.diffMaxChars] + truncationMarker
	}

	var b strings.Builder
	b.WriteString("You are reviewing the changes about to be deployed.\n")
	fmt.Fprintf(&b, "Base commit: %s\nHead commit: %s\n", pctx.BaseCommit, pctx.HeadCommit)
	b.WriteString("Name-status diff:\n")
	b.WriteString(diffText)
	b.WriteString("\n\nRespond with JSON only, exactly this shape:\n")
	b.WriteString(`{ "summary": "...", "highlights": ["...","...","..."], "risks": ["...","...","..."] }`)
	b.WriteString("\nKeep highlights and risks to at most three short items each.")
	return b.String()
}

// parseResponse accepts raw JSON, fenced JSON blocks, and a line-based
// fallback that classifies lines containing "risk" into risks.
func parseResponse(text string) *Preview {
	text = strings.TrimSpace(text)
	if text == "" {
		return reasonOnly("LLM returned an empty response")
	}

	if preview, ok := tryParseJSON(text); ok {
		return preview
	}
	if fenced, ok := extractFencedBlock(text); ok {
		if preview, ok := tryParseJSON(fenced); ok {
			return preview
		}
	}
	return parseLines(text)
}

func tryParseJSON(text string) (*Preview, bool) {
	var preview Preview
	if err := json.Unmarshal([]byte(text), &preview); err != nil {
		return nil, false
	}
	if preview.Highlights == nil {
		preview.Highlights = []string{}
	}
	if preview.Risks == nil {
		preview.Risks = []string{}
	}
	return &preview, true
}

// extractFencedBlock pulls the body of the first ``` fence, tolerating
// a language tag on the opening line.
func extractFencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if newline := strings.Index(rest, "\n"); newline >= 0 {
		rest = rest[newline+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// parseLines is the last-resort classifier: the first non-empty line
// becomes the summary, "risk"-bearing lines become risks, and the rest
// become highlights.
func parseLines(text string) *Preview {
	preview := &Preview{Highlights: []string{}, Risks: []string{}}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if line == "" {
			continue
		}
		if preview.Summary == "" {
			preview.Summary = line
			continue
		}
		if strings.Contains(strings.ToLower(line), "risk") {
			preview.Risks = append(preview.Risks, line)
			continue
		}
		preview.Highlights = append(preview.Highlights, line)
	}
	if preview.Summary == "" {
		preview.Summary = "LLM response could not be parsed"
	}
	return preview
}

func clampLists(preview *Preview) {
	if len(preview.Highlights) > maxListItems {
		preview.Highlights = preview.Highlights[:maxListItems]
	}
	if len(preview.Risks) > maxListItems {
		preview.Risks = preview.Risks[:maxListItems]
	}
}

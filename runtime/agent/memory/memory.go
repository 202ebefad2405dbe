// Package memory keeps threads within the context window of their model by
// replacing old history with a model generated summary.
package memory

import (
	"context"
	"fmt"
	"math"

	"goa.design/symposium/runtime/agent/model"
)

type (
	// Summarizer is the model access the compressor needs. The engine
	// implements it on top of the thread's adapter.
	Summarizer interface {
		// CountTokens returns the number of tokens the thread messages use.
		CountTokens(ctx context.Context, thread *model.Thread) (int, error)
		// Summarize runs a completion on thread forcing a call to fn.
		Summarize(ctx context.Context, thread *model.Thread, fn *model.FunctionDefinition) ([]*model.Message, error)
	}

	// Compressor rewrites threads whose token count reaches Threshold of the
	// model window so that they fit SummaryLength of it.
	Compressor struct {
		// Threshold is the fraction of the context window that triggers
		// compression.
		Threshold float64
		// SummaryLength is the fraction of the context window the compressed
		// history aims for.
		SummaryLength float64
	}

	// Result describes a compression pass.
	Result struct {
		// Thread is the thread to use for the turn. It is the input thread
		// when nothing was compressed.
		Thread *model.Thread
		// Before is the token count of the input thread.
		Before int
		// Compressed reports whether a summary was spliced in.
		Compressed bool
	}
)

// Defaults.
const (
	DefaultThreshold     = 0.7
	DefaultSummaryLength = 0.5
)

const (
	// SummarizeFunction is the function the model is forced to call.
	SummarizeFunction = "summarize"

	summarizeInstruction = "Summarize the conversation up to this moment."
	summaryPrefix        = "This is what happened until now:\n"
)

// New returns a compressor with the given fractions. Zero values select the
// defaults.
func New(threshold, summaryLength float64) *Compressor {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if summaryLength == 0 {
		summaryLength = DefaultSummaryLength
	}
	return &Compressor{Threshold: threshold, SummaryLength: summaryLength}
}

// Compress returns thread unchanged when its token count is below the
// threshold of maxTokens. Otherwise it keeps the leading system messages and
// replaces the history up to the first user message past the target with a
// summary. Failures are reported as *model.SummarizationFailure together
// with the unchanged thread.
func (c *Compressor) Compress(ctx context.Context, thread *model.Thread, maxTokens int, s Summarizer) (Result, error) {
	res := Result{Thread: thread}
	if maxTokens <= 0 {
		return res, nil
	}
	tokens, err := s.CountTokens(ctx, thread)
	if err != nil {
		return res, &model.SummarizationFailure{Cause: fmt.Errorf("count tokens: %w", err)}
	}
	res.Before = tokens
	if float64(tokens) < float64(maxTokens)*c.Threshold {
		return res, nil
	}
	target := float64(maxTokens) * c.SummaryLength

	work := thread.Clone(false)
	leading := model.LeadingSystemCount(thread.Messages)
	summarized := false
	for i, m := range thread.Messages {
		if i > leading && !summarized && m.Role == model.RoleUser {
			n, err := s.CountTokens(ctx, work)
			if err != nil {
				return Result{Thread: thread, Before: tokens}, &model.SummarizationFailure{Cause: fmt.Errorf("count tokens: %w", err)}
			}
			if float64(n) > target {
				work, err = c.summarize(ctx, work, target, s)
				if err != nil {
					return Result{Thread: thread, Before: tokens}, &model.SummarizationFailure{Cause: err}
				}
				summarized = true
			}
		}
		work.AddMessage(m)
	}
	if !summarized {
		return res, nil
	}
	work.Planned = thread.Planned
	return Result{Thread: work, Before: tokens, Compressed: true}, nil
}

// summarize asks the model for a summary of work and returns a thread made
// of the leading system messages, previous summaries excluded, followed by
// the new summary.
func (c *Compressor) summarize(ctx context.Context, work *model.Thread, target float64, s Summarizer) (*model.Thread, error) {
	req := work.Clone(true)
	req.AddSystemMessage(summarizeInstruction)
	out, err := s.Summarize(ctx, req, SummaryFunction(target))
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}
	summary := ""
	for _, args := range model.ExtractFunctionArguments(out) {
		if v, ok := args["summary"].(string); ok && v != "" {
			summary = v
			break
		}
	}
	if summary == "" {
		return nil, fmt.Errorf("model did not produce a summary")
	}

	next := work.Clone(false)
	for _, m := range work.Messages {
		if m.Role != model.RoleSystem {
			break
		}
		if !m.HasTag(model.TagSummary) {
			next.AddMessage(m)
		}
	}
	next.AddSystemMessage(summaryPrefix+summary, model.TagSummary)
	return next, nil
}

// SummaryFunction returns the function the model must call to summarize a
// conversation into at most half of target words.
func SummaryFunction(target float64) *model.FunctionDefinition {
	words := int(math.Round(target / 2))
	return &model.FunctionDefinition{
		Name: SummarizeFunction,
		Description: fmt.Sprintf("Generate a summary of the conversation in %d words at most, in a way that it is easy for you "+
			"to keep track of the important info. Do not omit relevant information you need to remember in order to "+
			"continue the conversation.", words),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{"type": "string"},
			},
			"required": []string{"summary"},
		},
	}
}

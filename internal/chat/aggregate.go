package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/som-shahlab/chart-review-with-llms/internal/llm"
)

// noFindingsAnswer is the deterministic reply when no note was relevant. The
// model is not consulted in that case, so it cannot hallucinate a positive
// finding.
const noFindingsAnswer = "None of this patient's notes contain information relevant to this question."

func nullResult() *AggregateAnswer {
	return &AggregateAnswer{
		Reasoning: "No note-level response was marked relevant to the query.",
		Evidence:  []Evidence{},
		Answer:    noFindingsAnswer,
	}
}

// aggregate synthesizes the surviving per-note answers into one final answer.
// Failed and irrelevant slots are dropped first; the remaining answers keep
// their most-recent-first input order, which the synthesis prompt's recency
// tie-break relies on.
func aggregate(ctx context.Context, backend llm.Backend, conv []llm.Message, noteResults []NoteResult, opts Options, logger *slog.Logger) (*AggregateAnswer, error) {
	if len(conv) == 0 {
		return nil, ErrNoMessages
	}
	last := conv[len(conv)-1]
	if last.Role != llm.RoleUser {
		return nil, ErrLastNotUser
	}

	var relevant []NoteAnswer
	for _, r := range noteResults {
		if r.Err != nil || r.Answer == nil || !r.Answer.IsRelevant {
			continue
		}
		relevant = append(relevant, *r.Answer)
	}
	logger.Info("aggregating note responses", "received", len(noteResults), "relevant", len(relevant))

	if len(relevant) == 0 {
		return nullResult(), nil
	}

	responsesJSON, err := json.MarshalIndent(relevant, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal note responses: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildAggregatePrompt(last.Content, string(responsesJSON))},
	}

	out, err := llm.CompleteStructured[AggregateAnswer](ctx, backend, llm.Request{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		Schema:      &aggregateAnswerSchema,
		MaxRetries:  aggregateMaxRetries,
		Backoff:     opts.Backoff,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregationFailed, err)
	}
	return out, nil
}

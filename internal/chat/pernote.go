package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/som-shahlab/chart-review-with-llms/internal/llm"
	"github.com/som-shahlab/chart-review-with-llms/internal/pool"
	"github.com/som-shahlab/chart-review-with-llms/internal/records"
)

const (
	perNoteMaxRetries   = 2
	perNoteMaxWorkers   = 10
	aggregateMaxRetries = 1
)

// Options are the model parameters shared by both pipeline stages.
type Options struct {
	Model       string
	Temperature float64
	Backoff     time.Duration
}

// runPerNote fans the query out across every note, one completion per note,
// and returns one result slot per note in input order. A slot failure does
// not abort its siblings; the stage fails only when every slot failed.
func runPerNote(ctx context.Context, backend llm.Backend, ex pool.Executor, conv []llm.Message, notes []records.Note, opts Options, logger *slog.Logger) ([]NoteResult, error) {
	if len(conv) == 0 {
		return nil, ErrNoMessages
	}
	last := conv[len(conv)-1]
	if last.Role != llm.RoleUser {
		return nil, ErrLastNotUser
	}
	if len(notes) == 0 {
		return []NoteResult{}, nil
	}

	query := last.Content
	history := conv[:len(conv)-1]

	jobs := make([]pool.Job[*NoteAnswer], len(notes))
	for i := range notes {
		note := notes[i]

		messages := make([]llm.Message, 0, len(history)+2)
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
		messages = append(messages, history...)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: buildPerNotePrompt(query, note.Text)})

		jobs[i] = func(ctx context.Context) (*NoteAnswer, error) {
			return llm.CompleteStructured[NoteAnswer](ctx, backend, llm.Request{
				Model:       opts.Model,
				Messages:    messages,
				Temperature: opts.Temperature,
				Schema:      &noteAnswerSchema,
				MaxRetries:  perNoteMaxRetries,
				Backoff:     opts.Backoff,
			})
		}
	}

	workers := perNoteMaxWorkers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	results := pool.Collect(ctx, ex, jobs, workers)

	out := make([]NoteResult, len(notes))
	failed := 0
	for i, r := range results {
		out[i] = NoteResult{NoteID: notes[i].NoteID, Answer: r.Value, Err: r.Err}
		if r.Err != nil {
			failed++
			logger.Warn("per-note query failed", "note_id", notes[i].NoteID, "error", r.Err)
			continue
		}
		// The model is never trusted to self-report provenance: every quote
		// is re-attributed to the note it was asked about.
		for ei := range r.Value.Evidence {
			for qi := range r.Value.Evidence[ei].Quotes {
				r.Value.Evidence[ei].Quotes[qi].Source = notes[i].NoteID
			}
		}
	}

	logger.Info("per-note fan-out complete", "notes", len(notes), "failed", failed)
	if failed == len(notes) {
		return nil, ErrFanOutFailed
	}
	return out, nil
}

package chat

import (
	"encoding/json"
	"errors"

	"github.com/som-shahlab/chart-review-with-llms/internal/llm"
)

// Pipeline failure modes surfaced to the API layer.
var (
	ErrMissingPatientID  = errors.New("missing patient id")
	ErrNoMessages        = errors.New("conversation has no messages")
	ErrLastNotUser       = errors.New("last message must be a user message")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrFanOutFailed      = errors.New("every per-note query failed")
	ErrAggregationFailed = errors.New("failed to aggregate note responses")
)

// Quote is a verbatim citation from a note. Source is always a note id from
// the fan-out set; the model's self-reported value is overwritten.
type Quote struct {
	Text   string `json:"quote"`
	Source string `json:"source"`
}

// Evidence ties a claim to its supporting quotes.
type Evidence struct {
	Claim  string  `json:"claim"`
	Quotes []Quote `json:"quotes"`
}

// NoteAnswer is the model's answer to the query over one note.
type NoteAnswer struct {
	Reasoning  string     `json:"reasoning"`
	Reflection string     `json:"reflection"`
	IsRelevant bool       `json:"is_relevant"`
	Evidence   []Evidence `json:"evidence"`
	Answer     string     `json:"answer,omitempty"`
}

// AggregateAnswer is the synthesized answer across all relevant notes.
type AggregateAnswer struct {
	Reasoning  string     `json:"reasoning"`
	Reflection string     `json:"reflection"`
	Evidence   []Evidence `json:"evidence"`
	Answer     string     `json:"answer"`
}

func (a *AggregateAnswer) Validate() error {
	if a.Answer == "" {
		return errors.New("missing answer")
	}
	return nil
}

// NoteResult is one fan-out slot, index-aligned with the input notes. Either
// Answer or Err is set; a failed slot does not abort its siblings.
type NoteResult struct {
	NoteID string
	Answer *NoteAnswer
	Err    error
}

var noteAnswerSchema = llm.Schema{
	Name: "note_answer",
	Def: json.RawMessage(`{
		"type": "object",
		"properties": {
			"reasoning": {"type": "string"},
			"reflection": {"type": "string"},
			"is_relevant": {"type": "boolean"},
			"evidence": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"claim": {"type": "string"},
						"quotes": {
							"type": "array",
							"items": {
								"type": "object",
								"properties": {
									"quote": {"type": "string"},
									"source": {"type": "string"}
								},
								"required": ["quote", "source"],
								"additionalProperties": false
							}
						}
					},
					"required": ["claim", "quotes"],
					"additionalProperties": false
				}
			},
			"answer": {"type": ["string", "null"]}
		},
		"required": ["reasoning", "reflection", "is_relevant", "evidence", "answer"],
		"additionalProperties": false
	}`),
}

var aggregateAnswerSchema = llm.Schema{
	Name: "aggregate_answer",
	Def: json.RawMessage(`{
		"type": "object",
		"properties": {
			"reasoning": {"type": "string"},
			"reflection": {"type": "string"},
			"evidence": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"claim": {"type": "string"},
						"quotes": {
							"type": "array",
							"items": {
								"type": "object",
								"properties": {
									"quote": {"type": "string"},
									"source": {"type": "string"}
								},
								"required": ["quote", "source"],
								"additionalProperties": false
							}
						}
					},
					"required": ["claim", "quotes"],
					"additionalProperties": false
				}
			},
			"answer": {"type": "string"}
		},
		"required": ["reasoning", "reflection", "evidence", "answer"],
		"additionalProperties": false
	}`),
}

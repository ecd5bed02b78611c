// Package events publishes best-effort pipeline events to NATS. The service
// runs fine without a broker; a nil Publisher drops everything.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectQueryAnswered carries one event per answered chat query.
const SubjectQueryAnswered = "chart.query.answered"

// QueryAnswered describes a completed query, cached or computed.
type QueryAnswered struct {
	PatientID  string    `json:"patient_id"`
	Query      string    `json:"query"`
	MessageID  string    `json:"message_id"`
	Store      string    `json:"store"`
	Cached     bool      `json:"cached"`
	NoteCount  int       `json:"note_count"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc, logger: logger}, nil
}

// QueryAnswered publishes the event. Failures are logged and swallowed; event
// delivery never affects the answer returned to the caller.
func (p *Publisher) QueryAnswered(evt QueryAnswered) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("marshal event failed", "error", err)
		return
	}
	if err := p.conn.Publish(SubjectQueryAnswered, payload); err != nil {
		p.logger.Warn("publish event failed", "subject", SubjectQueryAnswered, "error", err)
	}
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}

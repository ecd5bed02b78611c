package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// AuditLog persists every successful raw completion to disk for later
// debugging. One JSON file per call, keyed by timestamp.
type AuditLog struct {
	dir string
	seq atomic.Uint64 // disambiguates same-nanosecond writes
}

func NewAuditLog(dir string) *AuditLog {
	return &AuditLog{dir: dir}
}

type auditEntry struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Response string    `json:"response"`
	LoggedAt time.Time `json:"logged_at"`
}

// Record writes one completion to the audit directory.
func (a *AuditLog) Record(model string, messages []Message, response string) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir audit dir: %w", err)
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("%s_%06d.json", now.Format("2006-01-02_15-04-05"), a.seq.Add(1)%1000000)

	data, err := json.MarshalIndent(auditEntry{
		Model:    model,
		Messages: messages,
		Response: response,
		LoggedAt: now,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	return os.WriteFile(filepath.Join(a.dir, name), data, 0o644)
}

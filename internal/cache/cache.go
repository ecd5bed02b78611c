// Package cache is a content-addressed on-disk store of final query answers.
// Entries are immutable and never expire; identical (patient, query) pairs
// short-circuit the whole pipeline.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Entry is one persisted answer. Response holds the serialized aggregate
// answer exactly as it was returned to the original caller.
type Entry struct {
	PatientID string          `json:"patient_id"`
	Query     string          `json:"query"`
	MessageID string          `json:"message_id"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key derives the deterministic cache key for a (patient, query) pair.
// Conversation history beyond the latest query is not part of the key, so the
// same question asked in different conversations resolves to one entry.
func Key(patientID, query string) string {
	h := sha256.Sum256([]byte(patientID + "\n" + query))
	return hex.EncodeToString(h[:])
}

// Cache stores one JSON file per key under dir.
type Cache struct {
	dir    string
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Cache {
	return &Cache{dir: dir, logger: logger}
}

// Get returns the entry for key, or ok=false on a miss. A corrupt file is
// treated as a miss, not an error.
func (c *Cache) Get(key string) (*Entry, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	return &e, true
}

// Put persists the entry. The write is atomic (temp file + rename) so
// concurrent writers to the same key leave a complete entry behind; last
// writer wins.
func (c *Cache) Put(key string, e Entry) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir cache dir: %w", err)
	}

	// Compact on purpose: Response must come back byte-for-byte, and indenting
	// the entry would reformat the raw payload inside it.
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

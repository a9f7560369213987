package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DeadLetterFile is created inside the log directory.
const DeadLetterFile = "undelivered_reports.jsonl"

// DeadLetterSchemaVersion is the current version of the dead-letter format.
const DeadLetterSchemaVersion = "1.0"

// DeadLetterEntry is a report no channel accepted.
type DeadLetterEntry struct {
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	RunID         string    `json:"run_id,omitempty"`
	Report        string    `json:"report"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	FallbackError string    `json:"fallback_error,omitempty"`
}

// DeadLetter appends undelivered reports to a JSON-lines file.
type DeadLetter struct {
	path string
	mu   sync.Mutex
}

func NewDeadLetter(path string) *DeadLetter {
	return &DeadLetter{path: path}
}

// Path returns the file entries are appended to.
func (d *DeadLetter) Path() string { return d.path }

// Write appends one entry, creating the file and its directory if needed.
func (d *DeadLetter) Write(entry DeadLetterEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry.SchemaVersion == "" {
		entry.SchemaVersion = DeadLetterSchemaVersion
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("failed to create dead letter directory: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open dead letter file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(entry); err != nil {
		return fmt.Errorf("failed to write dead letter entry: %w", err)
	}
	return nil
}

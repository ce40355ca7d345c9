package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neurostream-systems/neurostream/internal/logging"
	"github.com/neurostream-systems/neurostream/internal/model"
)

// FileSink writes dead-lettered envelopes to disk as one JSON file per
// entry, named so entries sort by arrival.
type FileSink struct {
	basePath string
	log      *logging.Logger
	mu       sync.Mutex
	written  uint64
}

// NewFileSink creates a sink rooted at basePath, creating it if needed.
func NewFileSink(basePath string, log *logging.Logger) (*FileSink, error) {
	if basePath == "" {
		basePath = "/var/lib/neurostream/deadletter"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create deadletter directory: %w", err)
	}
	if log == nil {
		log = logging.Default()
	}
	return &FileSink{basePath: basePath, log: log}, nil
}

// Write persists one entry.
func (s *FileSink) Write(ctx context.Context, env *model.DispatchEnvelope, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Envelope:  env,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal deadletter entry: %w", err)
	}

	filename := fmt.Sprintf("dead_%d_%d.json", time.Now().Unix(), s.written)
	if err := os.WriteFile(filepath.Join(s.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write deadletter entry: %w", err)
	}

	s.written++
	s.log.Warn("envelope dead-lettered", "file", filename, "reason", reason)
	return nil
}

// List returns up to limit entries from the sink directory.
func (s *FileSink) List(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("read deadletter directory: %w", err)
	}

	var entries []Entry
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if limit > 0 && len(entries) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, file.Name()))
		if err != nil {
			s.log.Error("read deadletter file", "file", file.Name(), "error", err)
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			s.log.Error("parse deadletter file", "file", file.Name(), "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stats reports sink counters for health output.
func (s *FileSink) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	if files, err := os.ReadDir(s.basePath); err == nil {
		pending = len(files)
	}
	return map[string]interface{}{
		"backend":       "file",
		"written":       s.written,
		"pending_files": pending,
		"base_path":     s.basePath,
	}
}

// Close is a no-op for the file sink.
func (s *FileSink) Close() error { return nil }

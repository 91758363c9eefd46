package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"civagent/pkg/agent/llm"
)

// FileStore writes one file per dialogue with one JSON message per line.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dialogue dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory dialogues are written to.
func (f *FileStore) Dir() string {
	return f.dir
}

// SaveTranscript implements TranscriptStore. The session id is not part of the file.
func (f *FileStore) SaveTranscript(_ context.Context, _, name string, msgs []llm.CompletionMessage) error {
	path := filepath.Join(f.dir, filepath.Base(name))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range msgs {
		if err := enc.Encode(record{Role: string(msgs[i].Role), Content: msgs[i].Content}); err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// LoadTranscript reads a dialogue written by SaveTranscript.
func (f *FileStore) LoadTranscript(name string) ([]llm.CompletionMessage, error) {
	path := filepath.Join(f.dir, filepath.Base(name))
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck // read-only

	var msgs []llm.CompletionMessage
	dec := json.NewDecoder(file)
	for dec.More() {
		var r record
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		msgs = append(msgs, llm.CompletionMessage{Role: llm.CompletionRole(r.Role), Content: r.Content})
	}
	return msgs, nil
}

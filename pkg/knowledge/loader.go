package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var separators = []string{"\n\n", "\n", " "}

// SplitText cuts text into chunks of at most size bytes, preferring paragraph, then line,
// then word boundaries.
func SplitText(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	for _, sep := range separators {
		parts := strings.Split(text, sep)
		if len(parts) > 1 {
			return merge(parts, sep, size)
		}
	}
	return hardSplit(text, size)
}

func merge(parts []string, sep string, size int) []string {
	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}
	for _, p := range parts {
		if len(p) > size {
			flush()
			chunks = append(chunks, SplitText(p, size)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(sep)+len(p) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

func hardSplit(text string, size int) []string {
	var chunks []string
	for len(text) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// LoadDir reads every .md and .txt file under dir and splits it into documents. Sources
// are paths relative to dir.
func LoadDir(dir string, chunkSize int) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		for i, chunk := range SplitText(string(data), chunkSize) {
			docs = append(docs, Document{Source: filepath.ToSlash(rel), Chunk: i, Content: chunk})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load manual from %s: %w", dir, err)
	}
	return docs, nil
}

// IndexDir loads dir and indexes it, returning the number of chunks written.
func (m *ManualIndex) IndexDir(ctx context.Context, dir string, chunkSize int) (int, error) {
	docs, err := LoadDir(dir, chunkSize)
	if err != nil {
		return 0, err
	}
	if err := m.IndexDocuments(ctx, docs); err != nil {
		return 0, err
	}
	m.logger.Info("indexed %d chunks from %s", len(docs), dir)
	return len(docs), nil
}

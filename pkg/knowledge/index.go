// Package knowledge indexes the game manual and the agents' own history in SQLite FTS5 and
// answers questions over it by stuffing the best matches into a model prompt.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"civagent/pkg/agent/llm"
	"civagent/pkg/logx"
)

const schema = `CREATE VIRTUAL TABLE IF NOT EXISTS manual_fts USING fts5(
	source UNINDEXED,
	chunk UNINDEXED,
	content,
	tokenize = 'porter unicode61'
)`

// HistorySource prefixes documents recorded from play rather than loaded from the manual.
const HistorySource = "history:"

// Document is one indexed chunk.
type Document struct {
	Source  string
	Content string
	Chunk   int
	Score   float64 // bm25, lower is better
}

// Prompter builds the question-answering prompt.
type Prompter interface {
	ManualQuestion(question string, docs []string) string
}

// ManualIndex is a full-text index over manual chunks.
type ManualIndex struct {
	db       *sql.DB
	client   llm.LLMClient
	prompter Prompter
	topK     int
	logger   *logx.Logger
}

// Open opens (or creates) the index database at path. Use ":memory:" for a throwaway index.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open manual index: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping manual index: %w", err)
	}
	// SQLite only supports one writer; an in-memory database only lives on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// NewManualIndex prepares the schema on db. client and prompter are only needed by Answer.
func NewManualIndex(db *sql.DB, client llm.LLMClient, prompter Prompter, topK int) (*ManualIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create manual index schema: %w", err)
	}
	if topK <= 0 {
		topK = 2
	}
	return &ManualIndex{
		db:       db,
		client:   client,
		prompter: prompter,
		topK:     topK,
		logger:   logx.NewLogger("knowledge"),
	}, nil
}

// IndexDocuments replaces every chunk of each document's source with the given ones.
func (m *ManualIndex) IndexDocuments(ctx context.Context, docs []Document) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is safe to call after commit

	cleared := map[string]bool{}
	for _, d := range docs {
		if !cleared[d.Source] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM manual_fts WHERE source = ?`, d.Source); err != nil {
				return fmt.Errorf("failed to clear %s: %w", d.Source, err)
			}
			cleared[d.Source] = true
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO manual_fts (source, chunk, content) VALUES (?, ?, ?)`,
			d.Source, d.Chunk, d.Content,
		); err != nil {
			return fmt.Errorf("failed to index %s#%d: %w", d.Source, d.Chunk, err)
		}
	}
	return tx.Commit()
}

// Remember appends a history note for actor. Unlike IndexDocuments it never replaces.
func (m *ManualIndex) Remember(ctx context.Context, actor, note string) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO manual_fts (source, chunk, content) VALUES (?, 0, ?)`,
		HistorySource+actor, note,
	)
	if err != nil {
		return fmt.Errorf("failed to record history for %s: %w", actor, err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (m *ManualIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT count(*) FROM manual_fts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// matchQuery turns free text into an FTS5 OR query of quoted terms.
func matchQuery(text string) string {
	terms := termPattern.FindAllString(strings.ToLower(text), -1)
	quoted := make([]string, 0, len(terms))
	seen := map[string]bool{}
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// SimilaritySearch returns up to k chunks ranked by bm25.
func (m *ManualIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	match := matchQuery(query)
	if match == "" {
		return nil, nil
	}
	if k <= 0 {
		k = m.topK
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT source, chunk, content, bm25(manual_fts) AS score
		FROM manual_fts
		WHERE manual_fts MATCH ?
		ORDER BY score
		LIMIT ?`, match, k)
	if err != nil {
		return nil, fmt.Errorf("FTS query failed: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Source, &d.Chunk, &d.Content, &d.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return docs, nil
}

// Answer retrieves the top matches for question and asks the model to answer from them.
func (m *ManualIndex) Answer(ctx context.Context, question string) (string, error) {
	if m.client == nil || m.prompter == nil {
		return "", fmt.Errorf("manual index has no model configured for answers")
	}
	docs, err := m.SimilaritySearch(ctx, question, m.topK)
	if err != nil {
		return "", err
	}
	contents := make([]string, len(docs))
	for i := range docs {
		contents[i] = docs[i].Content
	}
	logx.Debug(ctx, "knowledge", "question %q matched %d chunks", question, len(docs))

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewUserMessage(m.prompter.ManualQuestion(question, contents)),
	})
	resp, err := m.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("manual answer: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Document kinds. Documentation rows carry schema text, example rows carry a
// question with its known-good SQL in Meta.
const (
	KindDocumentation = "documentation"
	KindExample       = "example"
)

type Document struct {
	ID        string
	Kind      string
	Content   string
	Meta      map[string]string
	Embedding []float32
}

// Match is a document together with its cosine similarity to the query
// vector.
type Match struct {
	Document Document
	Score    float64
}

// Store keeps embedded documents in a single SQLite table and answers
// nearest-neighbour queries by scanning candidates of the requested kind.
// The corpus is small (one schema doc plus a gold set), a flat scan is
// plenty.
type Store struct {
	db *sql.DB
}

const createTableStmt = `
CREATE TABLE IF NOT EXISTS docs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	meta TEXT NOT NULL DEFAULT '{}',
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS docs_kind_idx ON docs (kind);`

func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("vector store path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableStmt); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init vector store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a document, assigning a fresh UUID when the ID is empty.
func (s *Store) Add(ctx context.Context, doc Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Kind != KindDocumentation && doc.Kind != KindExample {
		return "", fmt.Errorf("unknown document kind %q", doc.Kind)
	}
	if len(doc.Embedding) == 0 {
		return "", fmt.Errorf("document embedding is required")
	}
	meta := doc.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal document meta: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO docs (id, kind, content, meta, embedding) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Kind, doc.Content, string(metaJSON), EncodeEmbedding(doc.Embedding),
	)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return doc.ID, nil
}

// Search returns the topK documents of the given kind ranked by cosine
// similarity to the query vector.
func (s *Store) Search(ctx context.Context, query []float32, kind string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, content, meta, embedding FROM docs WHERE kind = ?`, kind)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var doc Document
		var metaJSON string
		var blob []byte
		if err := rows.Scan(&doc.ID, &doc.Kind, &doc.Content, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &doc.Meta); err != nil {
			return nil, fmt.Errorf("decode document meta: %w", err)
		}
		embedding, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decode document embedding: %w", err)
		}
		doc.Embedding = embedding
		matches = append(matches, Match{Document: doc, Score: CosineSimilarity(query, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context, kind string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs WHERE kind = ?`, kind).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Reset drops every document of the given kind, used before retraining.
func (s *Store) Reset(ctx context.Context, kind string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM docs WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("reset documents: %w", err)
	}
	return nil
}

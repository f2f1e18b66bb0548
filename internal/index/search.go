package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/textnorm"
)

// snippetRadius is the number of runes kept on each side of a hit.
const snippetRadius = 40

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Search performs a literal, case-insensitive search: every whitespace
// separated term of query must occur in the document title or body.
// Results are ordered by path.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	terms := strings.Fields(textnorm.Fold(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var (
		where []string
		args  []any
	)
	for _, t := range terms {
		where = append(where, `instr(folded, ?) > 0`)
		args = append(args, t)
	}
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, kind, title, body
		FROM documents
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY path
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			body string
		)
		if err := rows.Scan(&r.Path, &r.Kind, &r.Title, &body); err != nil {
			return nil, err
		}
		r.Snippet = excerpt(body, terms[0])
		out = append(out, r)
	}
	return out, rows.Err()
}

// Excerpt returns the text around the first occurrence of term in the
// document at path. It returns an empty string when term does not occur.
func (db *DB) Excerpt(ctx context.Context, path, term string) (string, error) {
	body, err := db.Body(ctx, path)
	if err != nil {
		return "", err
	}
	return excerpt(body, term), nil
}

// Body returns the indexed body of the document at path.
func (db *DB) Body(ctx context.Context, path string) (string, error) {
	var body string
	err := db.conn.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, path).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("file", path)
	}
	if err != nil {
		return "", fmt.Errorf("index: read body: %w", err)
	}
	return body, nil
}

func excerpt(body, term string) string {
	start, end := textnorm.Index(body, term)
	if start < 0 {
		return ""
	}
	return textnorm.Snippet(body, start, end, snippetRadius)
}

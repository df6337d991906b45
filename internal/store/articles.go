package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ArticlePublished = "PUBLISHED"

type Article struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ArticleFilter struct {
	Source string
	Limit  int
	Offset int
}

type Articles struct {
	db  *sql.DB
	now func() time.Time
}

func NewArticles(db *sql.DB) *Articles {
	return &Articles{db: db, now: utcNow}
}

const articleColumns = `id, url, title, summary, source, status, created_at, updated_at`

// Upsert inserts the article or refreshes title, summary and source of the
// existing row with the same URL. The URL must already be canonical.
func (s *Articles) Upsert(ctx context.Context, a Article) error {
	if a.URL == "" {
		return fmt.Errorf("upsert article: empty url")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = ArticlePublished
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO articles (`+articleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (url) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		a.ID, a.URL, a.Title, a.Summary, a.Source, a.Status, now)
	if err != nil {
		return fmt.Errorf("upsert article %s: %w", a.URL, err)
	}
	return nil
}

func (s *Articles) List(ctx context.Context, f ArticleFilter) ([]Article, error) {
	var (
		where []string
		args  []any
	)
	if f.Source != "" {
		args = append(args, f.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	q := `SELECT ` + articleColumns + ` FROM articles`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, clampLimit(f.Limit, 20, 100), offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, url ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()
	var out []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Summary, &a.Source, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list articles: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Articles) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

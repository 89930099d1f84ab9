package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/repochat/pkg/models"
)

// Entry is a registered repository plus where its upload lives on disk.
// ID is unique per upload; Name is not.
type Entry struct {
	ID         string
	Dir        string
	Repository models.Repository
}

// Store defines the methods that a repository store must implement.
type Store interface {
	CreateRepository(ctx context.Context, e Entry) error
	ListRepositories(ctx context.Context) ([]Entry, error)
	// GetRepository returns the most recently created entry with the given name.
	GetRepository(ctx context.Context, name string) (Entry, bool, error)
	UpsertDocument(ctx context.Context, d models.Document, vec []float32, contentHash string) error
	GetDocumentHash(ctx context.Context, repositoryID, path string) (string, bool, error)
	Documents(ctx context.Context, repositoryID string, limit int) ([]models.Document, error)
	Close()
}

// Postgres stores repositories and their documents in PostgreSQL with pgvector.
type Postgres struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres store connected to the given database URL.
func New(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: p}, nil
}

func (s *Postgres) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
// A dim of zero leaves the vector column unsized.
func (s *Postgres) Migrate(ctx context.Context, dim int) error {
	vectorType := "vector"
	if dim > 0 {
		vectorType = fmt.Sprintf("vector(%d)", dim)
	}
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repositories (
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL,
  path       TEXT NOT NULL,
  timestamp  TEXT NOT NULL,
  dir        TEXT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS repositories_name_idx
  ON repositories (name);

CREATE TABLE IF NOT EXISTS documents (
  repository_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
  path          TEXT NOT NULL,
  language      TEXT,
  content       TEXT,
  content_hash  TEXT,
  content_vec   %s,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now(),
  PRIMARY KEY (repository_id, path)
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, vectorType))
	return err
}

// CreateRepository registers an uploaded repository. Re-registering an ID is a no-op.
func (s *Postgres) CreateRepository(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO repositories (id, name, path, timestamp, dir)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, e.ID, e.Repository.Name, e.Repository.Path, e.Repository.Timestamp, e.Dir)
	return err
}

// ListRepositories returns every repository in creation order.
func (s *Postgres) ListRepositories(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, dir, name, path, timestamp FROM repositories ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Dir, &e.Repository.Name, &e.Repository.Path, &e.Repository.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) GetRepository(ctx context.Context, name string) (Entry, bool, error) {
	const q = `
		SELECT id, dir, name, path, timestamp
		FROM repositories
		WHERE name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	var e Entry
	err := s.pool.QueryRow(ctx, q, name).Scan(&e.ID, &e.Dir, &e.Repository.Name, &e.Repository.Path, &e.Repository.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

// UpsertDocument inserts or updates a document. A nil vec keeps the stored vector.
func (s *Postgres) UpsertDocument(ctx context.Context, d models.Document, vec []float32, contentHash string) error {
	var v any
	if vec != nil {
		v = pgvector.NewVector(vec)
	} else {
		v = (*pgvector.Vector)(nil)
	}

	const q = `
		INSERT INTO documents (repository_id, path, language, content, content_hash, content_vec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (repository_id, path) DO UPDATE SET
			language     = EXCLUDED.language,
			content      = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			content_vec  = COALESCE(EXCLUDED.content_vec, documents.content_vec),
			created_at   = documents.created_at;`

	_, err := s.pool.Exec(ctx, q, d.Repository, d.Path, d.Language, d.Content, contentHash, v)
	return err
}

func (s *Postgres) GetDocumentHash(ctx context.Context, repositoryID, path string) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(content_hash, '') FROM documents WHERE repository_id = $1 AND path = $2`,
		repositoryID, path).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return hash, true, nil
}

// Documents returns up to limit documents of a repository ordered by path.
// A limit <= 0 returns all of them.
func (s *Postgres) Documents(ctx context.Context, repositoryID string, limit int) ([]models.Document, error) {
	q := `
		SELECT repository_id, path, COALESCE(language, ''), COALESCE(content, ''), created_at
		FROM documents
		WHERE repository_id = $1
		ORDER BY path`
	args := []any{repositoryID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.Repository, &d.Path, &d.Language, &d.Content, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Ping checks the database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

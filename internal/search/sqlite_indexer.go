package search

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

const batchSize = 500

type SQLiteIndexer struct {
	mu         sync.Mutex
	db         *sql.DB
	insertStmt *sql.Stmt
	tx         *sql.Tx
	txStmt     *sql.Stmt
	count      int
}

func NewSQLiteIndexer(path string) (*SQLiteIndexer, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	// An upsert fires the update trigger, keeping the FTS table in step.
	stmt, err := db.Prepare(`INSERT INTO articles
		(path, slug, title, category, category_slug, excerpt, published, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			slug = excluded.slug,
			title = excluded.title,
			category = excluded.category,
			category_slug = excluded.category_slug,
			excerpt = excluded.excerpt,
			published = excluded.published,
			content = excluded.content`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &SQLiteIndexer{
		db:         db,
		insertStmt: stmt,
	}, nil
}

func (s *SQLiteIndexer) IndexArticle(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		s.tx = tx
		s.txStmt = tx.Stmt(s.insertStmt)
	}

	_, err := s.txStmt.ExecContext(ctx, doc.Path, doc.Slug, doc.Title, doc.Category, doc.CategorySlug,
		doc.Excerpt, formatPublished(doc.Published), doc.Content)
	if err != nil {
		return fmt.Errorf("index article %s: %w", doc.Path, err)
	}

	s.count++
	if s.count >= batchSize {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndexer) flush() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	s.txStmt = nil
	s.count = 0
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *SQLiteIndexer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flush(); err != nil {
		return err
	}
	_ = s.insertStmt.Close()
	return s.db.Close()
}

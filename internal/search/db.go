package search

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schema drops and recreates all tables. The index is rebuilt from scratch
// on each ingest so there is no need for migrations.
const schema = `
DROP TRIGGER IF EXISTS articles_au;
DROP TRIGGER IF EXISTS articles_ad;
DROP TRIGGER IF EXISTS articles_ai;
DROP TABLE IF EXISTS articles_fts;
DROP TABLE IF EXISTS articles;

CREATE TABLE articles (
	path TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	category_slug TEXT NOT NULL DEFAULT '',
	excerpt TEXT NOT NULL DEFAULT '',
	published TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL
);

CREATE INDEX articles_published ON articles (published DESC);
CREATE INDEX articles_category ON articles (category_slug, published DESC);

CREATE VIRTUAL TABLE articles_fts USING fts5(
	title, excerpt, content,
	content='articles',
	content_rowid='rowid',
	tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER articles_ai AFTER INSERT ON articles BEGIN
	INSERT INTO articles_fts(rowid, title, excerpt, content)
	VALUES (new.rowid, new.title, new.excerpt, new.content);
END;

CREATE TRIGGER articles_ad AFTER DELETE ON articles BEGIN
	INSERT INTO articles_fts(articles_fts, rowid, title, excerpt, content)
	VALUES ('delete', old.rowid, old.title, old.excerpt, old.content);
END;

CREATE TRIGGER articles_au AFTER UPDATE ON articles BEGIN
	INSERT INTO articles_fts(articles_fts, rowid, title, excerpt, content)
	VALUES ('delete', old.rowid, old.title, old.excerpt, old.content);
	INSERT INTO articles_fts(rowid, title, excerpt, content)
	VALUES (new.rowid, new.title, new.excerpt, new.content);
END;
`

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend 基于本地 SQLite 文件的长期记忆后端
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend 打开（必要时创建）数据库文件
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite memory backend: path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// 单连接避免 SQLITE_BUSY，写入本就由 LongTerm 串行化
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	const schema = `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS copilot_memory (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		owner       TEXT NOT NULL,
		text        TEXT NOT NULL,
		embedding   TEXT,
		provenance  TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_copilot_memory_owner ON copilot_memory(owner, kind);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Name 后端名称
func (s *SQLiteBackend) Name() string { return "sqlite" }

func (s *SQLiteBackend) Put(ctx context.Context, r *Record) error {
	emb, err := json.Marshal(r.Embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO copilot_memory (id, kind, owner, text, embedding, provenance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), r.Owner, r.Text, string(emb), string(r.Provenance), r.CreatedAt.UnixNano())
	return err
}

func (s *SQLiteBackend) Delete(ctx context.Context, kind Kind, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM copilot_memory WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteBackend) List(ctx context.Context, owner string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, owner, text, COALESCE(embedding, ''), provenance, created_at
		 FROM copilot_memory WHERE owner = ? ORDER BY created_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		var id, kind, own, text, emb, prov string
		var createdAt int64
		if err := rows.Scan(&id, &kind, &own, &text, &emb, &prov, &createdAt); err != nil {
			return nil, err
		}
		r := &Record{ID: id, Kind: Kind(kind), Owner: own, Text: text, Provenance: Provenance(prov), CreatedAt: time.Unix(0, createdAt).UTC()}
		if emb != "" {
			_ = json.Unmarshal([]byte(emb), &r.Embedding)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close 关闭数据库
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

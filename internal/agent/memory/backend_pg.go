// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS copilot_memory (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	owner       TEXT NOT NULL,
	text        TEXT NOT NULL,
	embedding   JSONB,
	provenance  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_copilot_memory_owner ON copilot_memory (owner, kind);
`

// PgBackend Postgres 实现
type PgBackend struct {
	pool *pgxpool.Pool
}

// NewPgBackend 创建基于 PostgreSQL 的长期记忆后端
func NewPgBackend(ctx context.Context, dsn string) (*PgBackend, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgBackend{pool: pool}, nil
}

// Name 后端名称
func (s *PgBackend) Name() string { return "postgres" }

// Close 关闭连接池
func (s *PgBackend) Close() error {
	s.pool.Close()
	return nil
}

func (s *PgBackend) Put(ctx context.Context, r *Record) error {
	emb, err := json.Marshal(r.Embedding)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO copilot_memory (id, kind, owner, text, embedding, provenance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET kind = $2, owner = $3, text = $4, embedding = $5, provenance = $6, created_at = $7`,
		r.ID, string(r.Kind), r.Owner, r.Text, emb, string(r.Provenance), r.CreatedAt)
	return err
}

func (s *PgBackend) Delete(ctx context.Context, kind Kind, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM copilot_memory WHERE kind = $1 AND id = ANY($2)`, string(kind), ids)
	return err
}

func (s *PgBackend) List(ctx context.Context, owner string) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, owner, text, COALESCE(embedding, 'null'::jsonb), provenance, created_at
		 FROM copilot_memory WHERE owner = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		var id, kind, own, text, prov string
		var emb []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &kind, &own, &text, &emb, &prov, &createdAt); err != nil {
			return nil, err
		}
		r := &Record{ID: id, Kind: Kind(kind), Owner: own, Text: text, Provenance: Provenance(prov), CreatedAt: createdAt.UTC()}
		if len(emb) > 0 {
			_ = json.Unmarshal(emb, &r.Embedding)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/clauselens/clauselens/internal/embedding"
	"github.com/clauselens/clauselens/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	origin     TEXT NOT NULL,
	name       TEXT NOT NULL,
	size       INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	content    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS spans (
	id          TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL REFERENCES artifacts(id),
	seq         INTEGER NOT NULL,
	path        TEXT NOT NULL,
	start_byte  INTEGER NOT NULL,
	end_byte    INTEGER NOT NULL,
	start_line  INTEGER NOT NULL,
	end_line    INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	vector      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spans_artifact ON spans(artifact_id, seq);
`

// Open returns a store backed by a SQLite database at path, loading every
// artifact already persisted there. Span text is not stored separately; it
// is re-sliced from artifact content on load.
func Open(ctx context.Context, path string, embedder embedding.Embedder, opts ...Option) (*Store, error) {
	s := New(embedder, opts...)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open evidence db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init evidence schema: %w", err)
	}
	if err := checkEmbedder(ctx, db, s.embedder); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Info("evidence store opened", zap.String("path", path), zap.Int("spans", s.Len()))
	return s, nil
}

// checkEmbedder refuses to mix vectors from different embedders in one db.
func checkEmbedder(ctx context.Context, db *sql.DB, e embedding.Embedder) error {
	want := fmt.Sprintf("%s/%d", e.Name(), e.Dimensions())
	var got string
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'embedder'`).Scan(&got)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('embedder', ?)`, want)
		return err
	case err != nil:
		return fmt.Errorf("read evidence meta: %w", err)
	case got != want:
		return fmt.Errorf("evidence db was built with embedder %s, not %s", got, want)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, art types.Artifact, content []byte, spans []types.EvidenceSpan, vecs [][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin evidence tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO artifacts(id, kind, origin, name, size, created_at, content) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		art.ID, string(art.Kind), string(art.Origin), art.Name, art.Size, art.CreatedAt.Format(time.RFC3339Nano), content)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}
	for i, sp := range spans {
		vec, err := json.Marshal(vecs[i])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO spans(id, artifact_id, seq, path, start_byte, end_byte, start_line, end_line, symbol, vector)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sp.ID, art.ID, i, sp.Path, sp.StartByte, sp.EndByte, sp.StartLine, sp.EndLine, sp.Symbol, string(vec)); err != nil {
			return fmt.Errorf("insert span: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, origin, name, size, created_at, content FROM artifacts ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	var arts []types.Artifact
	contents := map[string][]byte{}
	for rows.Next() {
		var a types.Artifact
		var kind, origin, created string
		var content []byte
		if err := rows.Scan(&a.ID, &kind, &origin, &a.Name, &a.Size, &created, &content); err != nil {
			rows.Close()
			return fmt.Errorf("scan artifact: %w", err)
		}
		a.Kind, a.Origin, a.Checksum = types.ArtifactKind(kind), types.Origin(origin), a.ID
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		arts = append(arts, a)
		contents[a.ID] = content
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, a := range arts {
		spans, vecs, err := s.loadSpans(ctx, a, contents[a.ID])
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.insertLocked(a, contents[a.ID], spans, vecs)
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) loadSpans(ctx context.Context, a types.Artifact, content []byte) ([]types.EvidenceSpan, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, start_byte, end_byte, start_line, end_line, symbol, vector FROM spans WHERE artifact_id = ? ORDER BY seq`, a.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load spans: %w", err)
	}
	defer rows.Close()
	var spans []types.EvidenceSpan
	var vecs [][]float32
	for rows.Next() {
		var sp types.EvidenceSpan
		var vec string
		if err := rows.Scan(&sp.ID, &sp.Path, &sp.StartByte, &sp.EndByte, &sp.StartLine, &sp.EndLine, &sp.Symbol, &vec); err != nil {
			return nil, nil, fmt.Errorf("scan span: %w", err)
		}
		if sp.StartByte < 0 || sp.EndByte > len(content) || sp.StartByte > sp.EndByte {
			return nil, nil, fmt.Errorf("span %s out of range for artifact %s", sp.ID, a.ID)
		}
		sp.DocumentID = a.ID
		sp.Text = string(content[sp.StartByte:sp.EndByte])
		var v []float32
		if err := json.Unmarshal([]byte(vec), &v); err != nil {
			return nil, nil, fmt.Errorf("decode vector of span %s: %w", sp.ID, err)
		}
		spans = append(spans, sp)
		vecs = append(vecs, v)
	}
	return spans, vecs, rows.Err()
}

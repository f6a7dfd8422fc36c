package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/agentic-research/mediatree/internal/track"
	_ "modernc.org/sqlite"
)

// SQLite persists file records and the content-change log in a SQLite
// database and mirrors searchable fields into a bleve index for FilesBy.
type SQLite struct {
	db  *sql.DB
	fts *ftsIndex
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the database at dbPath with a bleve index
// alongside it (dbPath + ".bleve").
func Open(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(2)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	fts, err := openFTS(dbPath + ".bleve")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLite{db: db, fts: fts}
	if err := s.init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory() (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	fts, err := openMemFTS()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLite{db: db, fts: fts}
	if err := s.init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			path  TEXT PRIMARY KEY,
			mtime INTEGER NOT NULL,
			metas TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tokens (
			id    INTEGER PRIMARY KEY CHECK (id = 1),
			token INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS changes (
			seq   INTEGER PRIMARY KEY AUTOINCREMENT,
			token INTEGER NOT NULL,
			op    TEXT NOT NULL,
			path  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS changes_token ON changes(token);
		INSERT OR IGNORE INTO tokens (id, token) VALUES (1, 0);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.fts != nil {
		_ = s.fts.Close()
	}
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// File records
// ---------------------------------------------------------------------------

func (s *SQLite) Files(ctx context.Context) ([]FileRecord, error) {
	return s.queryRecords(ctx, "SELECT path, mtime, metas FROM files ORDER BY path")
}

func (s *SQLite) FilesUnder(ctx context.Context, prefix string) ([]FileRecord, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return s.queryRecords(ctx,
		"SELECT path, mtime, metas FROM files WHERE path LIKE ? ESCAPE '\\' ORDER BY path",
		likePrefix(prefix))
}

func (s *SQLite) FilesBy(ctx context.Context, phrase string) ([]FileRecord, error) {
	paths, err := s.fts.search(phrase)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	var out []FileRecord
	for _, p := range paths {
		rec, err := s.record(ctx, p)
		if err == ErrNotFound {
			continue // index lag, record already deleted
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLite) record(ctx context.Context, path string) (FileRecord, error) {
	var rec FileRecord
	var blob string
	err := s.db.QueryRowContext(ctx,
		"SELECT path, mtime, metas FROM files WHERE path = ?", path).
		Scan(&rec.Path, &rec.Mtime, &blob)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("query file %s: %w", path, err)
	}
	rec.Metas = new(meta.Metas)
	if err := json.Unmarshal([]byte(blob), rec.Metas); err != nil {
		return rec, fmt.Errorf("decode metas %s: %w", path, err)
	}
	return rec, nil
}

func (s *SQLite) queryRecords(ctx context.Context, query string, args ...any) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FileRecord
	for rows.Next() {
		var rec FileRecord
		var blob string
		if err := rows.Scan(&rec.Path, &rec.Mtime, &blob); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		rec.Metas = new(meta.Metas)
		if err := json.Unmarshal([]byte(blob), rec.Metas); err != nil {
			return nil, fmt.Errorf("decode metas %s: %w", rec.Path, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Metas(ctx context.Context, path string, mtime int64) (*meta.Metas, error) {
	rec, err := s.record(ctx, path)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Mtime != mtime {
		return nil, nil // stale, caller re-extracts
	}
	return rec.Metas, nil
}

func (s *SQLite) PutMetas(ctx context.Context, path string, mtime int64, m *meta.Metas) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metas %s: %w", path, err)
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM files WHERE path = ?", path).Scan(&exists); err != nil {
		return fmt.Errorf("probe file %s: %w", path, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO files (path, mtime, metas) VALUES (?, ?, ?) "+
			"ON CONFLICT(path) DO UPDATE SET mtime = excluded.mtime, metas = excluded.metas",
		path, mtime, string(blob))
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", path, err)
	}

	op := "add"
	if exists > 0 {
		op = "update"
	}
	if err := s.logChange(ctx, op, path); err != nil {
		return err
	}
	if err := s.fts.index(path, m); err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	return nil
}

func (s *SQLite) DeleteMetas(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	if err := s.logChange(ctx, "delete", path); err != nil {
		return err
	}
	if err := s.fts.remove(path); err != nil {
		return fmt.Errorf("unindex %s: %w", path, err)
	}
	return nil
}

func (s *SQLite) GarbageFilesOutOfFolders(ctx context.Context, folders []string) ([]string, error) {
	recs, err := s.Files(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, rec := range recs {
		if underAny(rec.Path, folders) {
			continue
		}
		if err := s.DeleteMetas(ctx, rec.Path); err != nil {
			return removed, err
		}
		removed = append(removed, rec.Path)
	}
	return removed, nil
}

func underAny(path string, folders []string) bool {
	for _, f := range folders {
		if path == f {
			return true
		}
		if !strings.HasSuffix(f, "/") {
			f += "/"
		}
		if strings.HasPrefix(path, f) {
			return true
		}
	}
	return false
}

func likePrefix(prefix string) string {
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return esc + "%"
}

// ---------------------------------------------------------------------------
// Content-change tokens
// ---------------------------------------------------------------------------

// Changes are tagged with the token that will be minted next, so
// ContentChanges(t) returns exactly the mutations after token t was
// handed out.
func (s *SQLite) logChange(ctx context.Context, op, path string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO changes (token, op, path) SELECT token + 1, ?, ? FROM tokens WHERE id = 1",
		op, path)
	if err != nil {
		return fmt.Errorf("log change %s %s: %w", op, path, err)
	}
	return nil
}

func (s *SQLite) LastContentToken(ctx context.Context) (int64, error) {
	var tok int64
	err := s.db.QueryRowContext(ctx, "SELECT token FROM tokens WHERE id = 1").Scan(&tok)
	if err != nil {
		return 0, fmt.Errorf("load token: %w", err)
	}
	return tok, nil
}

func (s *SQLite) MintContentToken(ctx context.Context) (int64, error) {
	var tok int64
	err := s.db.QueryRowContext(ctx,
		"UPDATE tokens SET token = token + 1 WHERE id = 1 RETURNING token").Scan(&tok)
	if err != nil {
		return 0, fmt.Errorf("mint token: %w", err)
	}
	return tok, nil
}

func (s *SQLite) ContentChanges(ctx context.Context, since int64) ([]track.Change, error) {
	current, err := s.LastContentToken(ctx)
	if err != nil {
		return nil, err
	}
	if since > current || since < 0 {
		return nil, fmt.Errorf("token %d: %w", since, ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT token, op, path FROM changes WHERE token > ? ORDER BY seq", since)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []track.Change
	for rows.Next() {
		var c track.Change
		if err := rows.Scan(&c.Token, &c.Op, &c.Path); err != nil {
			return nil, fmt.Errorf("scan change row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

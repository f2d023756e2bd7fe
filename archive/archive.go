// Package archive stores translation runs in a SQLite database. IR is kept
// as CBOR blobs keyed by their xxh3 hash, so identical output across runs
// is stored once.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/registry"
	"github.com/chazu/ilgen/translate"
)

var log = commonlog.GetLogger("ilgen.archive")

// ErrNotFound indicates the requested run or method doesn't exist.
var ErrNotFound = errors.New("not found in archive")

var schema = []string{`CREATE TABLE IF NOT EXISTS runs (
	id      TEXT PRIMARY KEY,
	image   TEXT NOT NULL,
	started INTEGER NOT NULL
)`, `CREATE TABLE IF NOT EXISTS blobs (
	hash TEXT PRIMARY KEY,
	ir   BLOB NOT NULL
)`, `CREATE TABLE IF NOT EXISTS results (
	run       TEXT NOT NULL REFERENCES runs(id),
	token     INTEGER NOT NULL,
	method    TEXT NOT NULL,
	body_hash TEXT NOT NULL,
	ir_hash   TEXT REFERENCES blobs(hash),
	code      TEXT NOT NULL DEFAULT '',
	error     TEXT NOT NULL DEFAULT '',
	duration  INTEGER NOT NULL,
	PRIMARY KEY (run, token)
)`}

// Archive is an open archive database.
type Archive struct {
	db   *sql.DB
	path string
}

// Run summarizes one stored batch.
type Run struct {
	ID      string
	Image   string
	Started time.Time
	Methods int
	Failed  int
	// NewBlobs counts IR blobs this run added; the rest were already stored.
	NewBlobs int
}

// Entry is one stored method result.
type Entry struct {
	Token    uint32
	Method   string
	BodyHash uint64
	IRHash   uint64 // 0 when translation failed
	Code     string
	Error    string
	Duration time.Duration
}

// Failed reports whether the method did not translate.
func (e Entry) Failed() bool { return e.Error != "" }

// Open opens or creates the archive at path.
func Open(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}
	return &Archive{db: db, path: path}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database file.
func (a *Archive) Path() string { return a.path }

func hashKey(h uint64) string { return fmt.Sprintf("%016x", h) }

func parseKey(s string) uint64 {
	h, _ := strconv.ParseUint(s, 16, 64)
	return h
}

// Store records results as a new run of the named image.
func (a *Archive) Store(ctx context.Context, image string, results []registry.Result) (Run, error) {
	run := Run{
		ID:      uuid.New().String(),
		Image:   image,
		Started: time.Now().UTC(),
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, image, started) VALUES (?, ?, ?)",
		run.ID, run.Image, run.Started.UnixNano(),
	); err != nil {
		return Run{}, fmt.Errorf("saving run: %w", err)
	}

	for _, res := range results {
		if res.Method == nil {
			continue
		}
		run.Methods++
		var irKey any
		var code, msg string
		if res.Err != nil {
			run.Failed++
			msg = res.Err.Error()
			if c := translate.CodeOf(res.Err); c != 0 {
				code = c.String()
			}
		} else {
			blob, err := ir.MarshalMethod(res.IR)
			if err != nil {
				return Run{}, fmt.Errorf("encoding %s: %w", res.IR.Name, err)
			}
			key := hashKey(xxh3.Hash(blob))
			r, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO blobs (hash, ir) VALUES (?, ?)", key, blob)
			if err != nil {
				return Run{}, fmt.Errorf("saving IR of %s: %w", res.IR.Name, err)
			}
			if n, _ := r.RowsAffected(); n > 0 {
				run.NewBlobs++
			}
			irKey = key
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results (run, token, method, body_hash, ir_hash, code, error, duration)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, int64(res.Method.Token), res.Method.Name, hashKey(res.Hash),
			irKey, code, msg, int64(res.Duration),
		); err != nil {
			return Run{}, fmt.Errorf("saving result of %s: %w", res.Method.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("committing run: %w", err)
	}
	log.Infof("run %s: %d methods, %d failed, %d new blobs", run.ID, run.Methods, run.Failed, run.NewBlobs)
	return run, nil
}

// Runs lists stored runs, newest first.
func (a *Archive) Runs(ctx context.Context) ([]Run, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT r.id, r.image, r.started, COUNT(x.token), COALESCE(SUM(x.error != ''), 0)
		FROM runs r LEFT JOIN results x ON x.run = r.id
		GROUP BY r.id
		ORDER BY r.started DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started int64
		if err := rows.Scan(&run.ID, &run.Image, &started, &run.Methods, &run.Failed); err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		run.Started = time.Unix(0, started).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Entries lists the results of one run in token order.
func (a *Archive) Entries(ctx context.Context, runID string) ([]Entry, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT token, method, body_hash, COALESCE(ir_hash, ''), code, error, duration
		FROM results WHERE run = ? ORDER BY token`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var token, duration int64
		var body, irHash string
		if err := rows.Scan(&token, &e.Method, &body, &irHash, &e.Code, &e.Error, &duration); err != nil {
			return nil, fmt.Errorf("reading result: %w", err)
		}
		e.Token = uint32(token)
		e.BodyHash = parseKey(body)
		if irHash != "" {
			e.IRHash = parseKey(irHash)
		}
		e.Duration = time.Duration(duration)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return entries, nil
}

// Method loads the IR a run stored for the method with the given token.
func (a *Archive) Method(ctx context.Context, runID string, token uint32) (*ir.Method, error) {
	var blob []byte
	err := a.db.QueryRowContext(ctx, `
		SELECT b.ir FROM results x JOIN blobs b ON b.hash = x.ir_hash
		WHERE x.run = ? AND x.token = ?`, runID, int64(token)).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("method 0x%08x in run %s: %w", token, runID, ErrNotFound)
		}
		return nil, fmt.Errorf("querying IR: %w", err)
	}
	return ir.UnmarshalMethod(blob)
}

// Blobs returns the number of distinct IR blobs stored.
func (a *Archive) Blobs(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting blobs: %w", err)
	}
	return n, nil
}

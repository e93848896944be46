// Package repo is the repository façade: it owns the database file's
// lifecycle (creation, opening, migration, close) and wires the object
// store, reference container, codec and dictionary registry together
// behind the operations a caller actually needs.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gitobjdb/internal/codec"
	"github.com/prn-tf/gitobjdb/internal/config"
	"github.com/prn-tf/gitobjdb/internal/domain"
	"github.com/prn-tf/gitobjdb/internal/metrics"
	"github.com/prn-tf/gitobjdb/internal/objectstore"
	"github.com/prn-tf/gitobjdb/internal/obslog"
	"github.com/prn-tf/gitobjdb/internal/refs"
	"github.com/prn-tf/gitobjdb/internal/schema"
)

// ErrNotARepository is returned by Open when the target file exists but
// was not produced by this module (no readable schema_version).
var ErrNotARepository = errors.New("repo: not a repository")

// sharedMetrics registers the module's Prometheus collectors once per
// process; every Repo returned by Open reports into the same set.
var sharedMetrics = sync.OnceValue(metrics.New)

// Repo is a single opened repository: one database file, one connection
// pool capped at a single connection (SQLite's own single-writer model
// makes a larger pool pure contention), and the object/ref facades built
// on top of it.
type Repo struct {
	db      *sql.DB
	path    string
	codec   *codec.Codec
	cfg     *config.Options
	log     zerolog.Logger
	metrics *metrics.Metrics

	Objects *objectstore.Store
	Refs    *refs.Container
}

// InitBare creates a brand-new repository database file at path and
// opens it. It fails if the file already exists and is a readable
// repository; a fresh zero-length or absent file is fine.
func InitBare(ctx context.Context, path string, cfg *config.Options) (*Repo, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	log := obslog.New("info")

	db, err := openDB(path, cfg)
	if err != nil {
		return nil, err
	}

	if _, err := schema.ReadVersion(ctx, db); err == nil {
		db.Close()
		return nil, fmt.Errorf("repo: %s is already an initialized repository", path)
	}

	if err := schema.Init(ctx, db, cfg.DefaultCompression); err != nil {
		db.Close()
		return nil, err
	}

	return newRepo(db, path, cfg, log, nil), nil
}

// Open opens an existing repository database file, running any pending
// schema migrations before handing back a ready Repo.
func Open(ctx context.Context, path string, cfg *config.Options) (*Repo, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	log := obslog.New("info")
	m := sharedMetrics()

	db, err := openDB(path, cfg)
	if err != nil {
		return nil, err
	}

	if _, err := schema.ReadVersion(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrNotARepository, path, err)
	}

	if err := schema.Migrate(ctx, db, m); err != nil {
		db.Close()
		return nil, err
	}

	r := newRepo(db, path, cfg, log, m)

	compression, err := r.readStoredCompression(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.Objects.SetCompression(compression)

	if err := r.loadDictionaries(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

func newRepo(db *sql.DB, path string, cfg *config.Options, log zerolog.Logger, m *metrics.Metrics) *Repo {
	c := codec.New()
	objects := objectstore.New(db, c, cfg.DefaultCompression, log, m)
	objects.SetVerifyChunks(cfg.VerifyChunks)
	return &Repo{
		db:      db,
		path:    path,
		codec:   c,
		cfg:     cfg,
		log:     log,
		metrics: m,
		Objects: objects,
		Refs:    refs.New(db, m),
	}
}

func openDB(path string, cfg *config.Options) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repo: open %s: %w", path, err)
	}
	// A single shared writer connection matches SQLite's own
	// single-writer model; busy_timeout handles any residual contention
	// from readers on other handles to the same file.
	db.SetMaxOpenConns(1)

	if err := schema.ApplyPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo: set busy_timeout: %w", err)
	}
	return db, nil
}

func (r *Repo) readStoredCompression(ctx context.Context) (domain.Compression, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", domain.MetaCompression).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CompressionNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("repo: read compression: %w", err)
	}
	c := domain.Compression(raw)
	if !c.Valid() {
		return "", fmt.Errorf("repo: stored compression %q is not recognized", raw)
	}
	return c, nil
}

func (r *Repo) loadDictionaries(ctx context.Context) error {
	named := map[string]domain.DictKind{
		domain.NamedFileDictCommit: domain.DictCommit,
		domain.NamedFileDictTree:   domain.DictTree,
		domain.NamedFileDictChunk:  domain.DictChunk,
		domain.NamedFileDictLegacy: domain.DictLegacy,
	}
	for path, kind := range named {
		data, ok, err := r.GetNamedFile(ctx, path)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.codec.LoadDictionary(kind, data); err != nil {
			return fmt.Errorf("repo: load dictionary %s: %w", path, err)
		}
	}
	return nil
}

// Close releases the database handle. The Repo must not be used
// afterward.
func (r *Repo) Close() error {
	return r.db.Close()
}

// GetDescription returns the repository's free-text description, or
// "" if none has been set.
func (r *Repo) GetDescription(ctx context.Context) (string, error) {
	data, ok, err := r.GetNamedFile(ctx, domain.NamedFileDescription)
	if err != nil || !ok {
		return "", err
	}
	return string(data), nil
}

// SetDescription stores the repository's free-text description.
func (r *Repo) SetDescription(ctx context.Context, description string) error {
	return r.SetNamedFile(ctx, domain.NamedFileDescription, []byte(description))
}

// GetConfig returns the raw contents of the repository's Git-config-
// syntax "config" named file.
func (r *Repo) GetConfig(ctx context.Context) (string, error) {
	data, ok, err := r.GetNamedFile(ctx, domain.NamedFileConfig)
	if err != nil || !ok {
		return "", err
	}
	return string(data), nil
}

// SetConfig overwrites the repository's "config" named file verbatim.
func (r *Repo) SetConfig(ctx context.Context, contents string) error {
	return r.SetNamedFile(ctx, domain.NamedFileConfig, []byte(contents))
}

// GetNamedFile returns the contents of an arbitrary named file, and
// whether it exists at all.
func (r *Repo) GetNamedFile(ctx context.Context, path string) ([]byte, bool, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, "SELECT contents FROM named_files WHERE path = ?", path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("repo: get named file %s: %w", path, err)
	}
	return data, true, nil
}

// SetNamedFile writes an arbitrary named file, creating or replacing it.
func (r *Repo) SetNamedFile(ctx context.Context, path string, contents []byte) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO named_files (path, contents) VALUES (?, ?) ON CONFLICT(path) DO UPDATE SET contents = excluded.contents",
		path, contents,
	)
	if err != nil {
		return fmt.Errorf("repo: set named file %s: %w", path, err)
	}
	return nil
}

// RemoveNamedFile deletes a named file if present.
func (r *Repo) RemoveNamedFile(ctx context.Context, path string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM named_files WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("repo: remove named file %s: %w", path, err)
	}
	return nil
}

// EnableCompression switches new writes to method, persisting the
// choice to metadata so a future Open picks it back up.
func (r *Repo) EnableCompression(ctx context.Context, method domain.Compression) error {
	if !method.Valid() {
		return fmt.Errorf("repo: %w: %q", codec.ErrUnsupportedCompression, method)
	}
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		domain.MetaCompression, string(method),
	); err != nil {
		return fmt.Errorf("repo: enable compression: %w", err)
	}
	r.Objects.SetCompression(method)
	return nil
}

// DisableCompression is EnableCompression(domain.CompressionNone).
func (r *Repo) DisableCompression(ctx context.Context) error {
	return r.EnableCompression(ctx, domain.CompressionNone)
}

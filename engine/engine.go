// Package engine wraps the embedded DuckDB engine used to query the cached
// snapshot.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // load duckdb driver
	"github.com/google/uuid"
	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/models"
	"golang.org/x/sync/singleflight"
)

const snapshotAlias = "snapshot"

// OpenFunc constructs the underlying engine instance.
type OpenFunc func(ctx context.Context) (*sql.DB, error)

// Options configures an Engine.
type Options struct {
	// ScratchDir receives snapshots registered from memory. Defaults to a
	// directory under os.TempDir().
	ScratchDir string

	// CastBigIntToDouble converts integer, HUGEINT and DECIMAL results to
	// float64.
	CastBigIntToDouble bool

	// Open overrides how the engine instance is created.
	Open OpenFunc

	Logger log15.Logger
}

// Engine holds one engine instance and at most one connection. The zero
// value is not usable; create one with New.
type Engine struct {
	opts   Options
	logger log15.Logger
	init   singleflight.Group

	mu           sync.Mutex
	db           *sql.DB
	conn         *sql.Conn
	snapshotPath string
	scratchFiles []string
	state        models.DBState
}

// New returns an uninitialized Engine.
func New(opts Options) *Engine {
	if opts.Open == nil {
		opts.Open = OpenDuckDB
	}

	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(os.TempDir(), "viewcount")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}

	return &Engine{
		opts:   opts,
		logger: logger.New("component", "engine"),
		state:  models.DBState{Status: models.DBUninitialized},
	}
}

// OpenDuckDB opens an in-memory DuckDB instance and checks it responds.
func OpenDuckDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to connect to DuckDB: %w", err)
	}

	return db, nil
}

// State returns the current engine state.
func (e *Engine) State() models.DBState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	e.state = models.DBState{Status: models.DBError, Error: err.Error()}
	e.mu.Unlock()
}

// Initialize creates the engine instance. It returns immediately when
// already initialized; concurrent callers share one in-flight attempt. A
// failed attempt can be retried.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	ready := e.db != nil
	e.mu.Unlock()

	if ready {
		return nil
	}

	_, err, _ := e.init.Do("init", func() (any, error) {
		e.mu.Lock()
		if e.db != nil {
			e.mu.Unlock()

			return nil, nil
		}

		e.state = models.DBState{Status: models.DBInitializing}
		e.mu.Unlock()

		e.logger.Info("initializing engine")

		db, err := e.opts.Open(ctx)
		if err != nil {
			e.setError(err)

			return nil, err
		}

		e.mu.Lock()
		e.db = db
		e.state = models.DBState{Status: models.DBInitialized}
		e.mu.Unlock()

		return nil, nil
	})

	return err
}

// RegisterSnapshot makes the DuckDB file at path the snapshot to open.
func (e *Engine) RegisterSnapshot(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return &models.StateError{Op: "register snapshot", Need: "engine is not initialized"}
	}

	e.snapshotPath = path

	return nil
}

// RegisterSnapshotBytes writes data to the scratch directory and registers
// it as the snapshot.
func (e *Engine) RegisterSnapshotBytes(data []byte) error {
	e.mu.Lock()
	initialized := e.db != nil
	e.mu.Unlock()

	if !initialized {
		return &models.StateError{Op: "register snapshot", Need: "engine is not initialized"}
	}

	if err := os.MkdirAll(e.opts.ScratchDir, 0o750); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}

	path := filepath.Join(e.opts.ScratchDir, "snapshot-"+uuid.New().String()+".duckdb")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	e.mu.Lock()
	e.scratchFiles = append(e.scratchFiles, path)
	e.snapshotPath = path
	e.mu.Unlock()

	return nil
}

// Open attaches the registered snapshot read-only on a dedicated connection.
// It returns immediately when a connection is already open.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return &models.StateError{Op: "open", Need: "engine is not initialized"}
	}

	if e.conn != nil {
		return nil
	}

	if e.snapshotPath == "" {
		return &models.StateError{Op: "open", Need: "no snapshot registered"}
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return e.openFailed(fmt.Errorf("failed to get connection: %w", err))
	}

	attach := fmt.Sprintf("ATTACH %s AS %s (READ_ONLY)", quoteLiteral(e.snapshotPath), snapshotAlias)
	if _, err := conn.ExecContext(ctx, attach); err != nil {
		conn.Close()

		return e.openFailed(&models.FormatError{Op: "attach snapshot", Err: err})
	}

	if _, err := conn.ExecContext(ctx, "USE "+snapshotAlias); err != nil {
		conn.ExecContext(ctx, "DETACH "+snapshotAlias) //nolint:errcheck
		conn.Close()

		return e.openFailed(&models.FormatError{Op: "use snapshot", Err: err})
	}

	e.conn = conn
	e.state = models.DBState{Status: models.DBReady}
	e.logger.Info("snapshot opened", "path", e.snapshotPath)

	return nil
}

// openFailed records err as the engine state. e.mu must be held.
func (e *Engine) openFailed(err error) error {
	e.state = models.DBState{Status: models.DBError, Error: err.Error()}

	return err
}

// Close releases the connection and detaches the snapshot. It is safe to
// call when nothing is open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.closeConn()
}

func (e *Engine) closeConn() error {
	if e.conn == nil {
		return nil
	}

	ctx := context.Background()
	e.conn.ExecContext(ctx, "USE memory")             //nolint:errcheck
	e.conn.ExecContext(ctx, "DETACH "+snapshotAlias) //nolint:errcheck

	err := e.conn.Close()
	e.conn = nil
	e.state = models.DBState{Status: models.DBInitialized}

	return err
}

// Shutdown closes the connection and then the engine instance. Snapshots
// written to the scratch directory are removed. It is safe to call twice.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.closeConn()

	if e.db != nil {
		if cerr := e.db.Close(); err == nil {
			err = cerr
		}

		e.db = nil
	}

	for _, path := range e.scratchFiles {
		os.Remove(path)
	}

	e.scratchFiles = nil
	e.snapshotPath = ""
	e.state = models.DBState{Status: models.DBUninitialized}

	return err
}

// quoteLiteral quotes s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdent quotes s as a SQL identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteLiteral quotes s as a SQL string literal.
func QuoteLiteral(s string) string { return quoteLiteral(s) }

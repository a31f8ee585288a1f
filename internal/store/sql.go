// ABOUTME: database/sql implementation of HistoryStore for SQLite and MySQL
// ABOUTME: One pooled connection per operation, goose migrations applied at open

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/2389/coven-chat/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// timeLayout is fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore implements HistoryStore on database/sql
type SQLStore struct {
	db      *sql.DB
	driver  string
	dialect goose.Dialect
	logger  *slog.Logger
}

// Open connects to the database described by cfg, bounds the connection
// pool, and applies any pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dsn, dialect, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLStore{
		db:      db,
		driver:  cfg.Driver,
		dialect: dialect,
		logger:  logger,
	}

	if _, err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("history store initialized", "driver", cfg.Driver)
	return s, nil
}

// NewSQLiteStore opens a pure-Go SQLite store at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return Open(context.Background(), config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         path,
		MaxOpenConns: config.DefaultMaxOpenConns,
		MaxIdleConns: config.DefaultMaxIdleConns,
	}, nil)
}

// dataSource builds the driver DSN and picks the migration dialect
func dataSource(cfg config.DatabaseConfig) (string, goose.Dialect, error) {
	switch cfg.Driver {
	case "sqlite", "sqlite3":
		if err := ensureDir(cfg.Path); err != nil {
			return "", "", err
		}
		if cfg.Driver == "sqlite" {
			// modernc.org/sqlite
			q := "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
			return cfg.Path + "?" + q, goose.DialectSQLite3, nil
		}
		// mattn/go-sqlite3
		q := "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
		return "file:" + cfg.Path + "?" + q, goose.DialectSQLite3, nil

	case "mysql":
		mc := mysql.NewConfig()
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.DBName = cfg.Name
		mc.ParseTime = true
		return mc.FormatDSN(), goose.DialectMySQL, nil

	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}

// migrations builds a goose provider over the embedded migrations for the
// store's dialect.
func (s *SQLStore) migrations() (*goose.Provider, error) {
	sub := "migrations/sqlite"
	if s.dialect == goose.DialectMySQL {
		sub = "migrations/mysql"
	}
	fsys, err := fs.Sub(migrationsFS, sub)
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(s.dialect, s.db, fsys)
	if err != nil {
		return nil, fmt.Errorf("creating migration provider: %w", err)
	}
	return provider, nil
}

// Migrate applies pending schema migrations and returns the versions applied.
func (s *SQLStore) Migrate(ctx context.Context) ([]int64, error) {
	provider, err := s.migrations()
	if err != nil {
		return nil, err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, err
	}

	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
		s.logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration version
func (s *SQLStore) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := s.migrations()
	if err != nil {
		return 0, err
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// Load returns the stored record for threadID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLStore) Load(ctx context.Context, threadID string) (*ConversationRecord, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	rec := &ConversationRecord{ThreadID: threadID}

	err = conn.QueryRowContext(ctx, `SELECT heading FROM threads WHERE id = ?`, threadID).Scan(&rec.Heading)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT user_message, agent_reply, created_at
		FROM exchanges
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ex Exchange
		var createdAt string
		if err := rows.Scan(&ex.UserMessage, &ex.AgentReply, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		ex.CreatedAt = parseTime(createdAt)
		rec.Exchanges = append(rec.Exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchanges: %w", err)
	}

	return rec, nil
}

// Append writes the given exchanges after the thread's existing ones in a
// single transaction. The thread row, and with it the heading, is inserted
// on first write only; later calls just bump updated_at.
func (s *SQLStore) Append(ctx context.Context, threadID string, exchanges []Exchange, heading string) error {
	if len(exchanges) == 0 {
		return ErrEmptyAppend
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT heading FROM threads WHERE id = ?`, threadID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO threads (id, heading, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			threadID, heading, now, now,
		)
		if err != nil {
			return s.writeError("inserting thread", err)
		}
	case err != nil:
		return fmt.Errorf("querying thread: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, now, threadID); err != nil {
			return fmt.Errorf("touching thread: %w", err)
		}
	}

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM exchanges WHERE thread_id = ?`, threadID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("reading next sequence: %w", err)
	}

	for i, ex := range exchanges {
		createdAt := ex.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO exchanges (thread_id, seq, user_message, agent_reply, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, threadID, next+i, ex.UserMessage, ex.AgentReply, formatTime(createdAt))
		if err != nil {
			return s.writeError("inserting exchange", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.writeError("committing append", err)
	}

	s.logger.Debug("appended exchanges", "thread_id", threadID, "count", len(exchanges), "first_seq", next)
	return nil
}

// ListThreads returns a summary of every thread, most recently updated first
func (s *SQLStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT id, heading, updated_at
		FROM threads
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []ThreadSummary
	for rows.Next() {
		var t ThreadSummary
		var updatedAt string
		if err := rows.Scan(&t.ThreadID, &t.Heading, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		t.UpdatedAt = parseTime(updatedAt)
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating threads: %w", err)
	}

	return threads, nil
}

// Ping checks that a connection can be established
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// writeError maps key collisions to ErrConflict
func (s *SQLStore) writeError(op string, err error) error {
	if isConstraintViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isConstraintViolation checks for SQLite UNIQUE/PRIMARY KEY failures and
// MySQL duplicate-entry errors
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() {
		case sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlitelib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	// mattn/go-sqlite3 and drivers without extended codes only carry the text
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

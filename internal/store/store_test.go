// ABOUTME: Tests for the SQL history store against a temporary SQLite database
// ABOUTME: Covers append ordering, write-once headings, listing, migrations and driver DSNs

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/2389/coven-chat/internal/config"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func exchange(user, reply string) Exchange {
	return Exchange{UserMessage: user, AgentReply: reply}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestStore_LoadUnknownThread(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppendCreatesThread(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, "t1", []Exchange{exchange("What is the capital of France?", "Paris.")}, "Capital of France")
	require.NoError(t, err)

	rec, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.ThreadID)
	assert.Equal(t, "Capital of France", rec.Heading)
	require.Len(t, rec.Exchanges, 1)
	assert.Equal(t, "What is the capital of France?", rec.Exchanges[0].UserMessage)
	assert.Equal(t, "Paris.", rec.Exchanges[0].AgentReply)
	assert.False(t, rec.Exchanges[0].CreatedAt.IsZero())
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.Append(ctx, "t1", []Exchange{exchange(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))}, "Heading")
		require.NoError(t, err)
	}
	require.NoError(t, store.Append(ctx, "t1", []Exchange{exchange("q5", "a5"), exchange("q6", "a6")}, "Heading"))

	rec, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rec.Exchanges, 7)
	for i, ex := range rec.Exchanges {
		assert.Equal(t, fmt.Sprintf("q%d", i), ex.UserMessage)
		assert.Equal(t, fmt.Sprintf("a%d", i), ex.AgentReply)
	}
	assert.Len(t, rec.HumanMessages(), len(rec.AgentReplies()))
}

func TestStore_HeadingIsWriteOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "t1", []Exchange{exchange("plan a trip", "sure")}, "Trip Planning"))
	require.NoError(t, store.Append(ctx, "t1", []Exchange{exchange("to Rome", "ok")}, "Something Else"))
	require.NoError(t, store.Append(ctx, "t1", []Exchange{exchange("in May", "great")}, ""))

	rec, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Trip Planning", rec.Heading)
	assert.Len(t, rec.Exchanges, 3)
}

func TestStore_AppendRequiresExchanges(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, "t1", nil, "Heading")
	assert.ErrorIs(t, err, ErrEmptyAppend)

	_, err = store.Load(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound, "failed append must not create the thread")
}

func TestStore_ThreadsAreIsolated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "t1", []Exchange{exchange("budget", "ok")}, "Budget"))
	require.NoError(t, store.Append(ctx, "t2", []Exchange{exchange("travel", "ok")}, "Travel"))
	require.NoError(t, store.Append(ctx, "t2", []Exchange{exchange("more travel", "ok")}, "Travel"))

	t1, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	t2, err := store.Load(ctx, "t2")
	require.NoError(t, err)

	assert.Len(t, t1.Exchanges, 1)
	assert.Len(t, t2.Exchanges, 2)
}

func TestStore_ListThreads(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	threads, err := store.ListThreads(ctx)
	require.NoError(t, err)
	assert.Empty(t, threads)

	require.NoError(t, store.Append(ctx, "t1", []Exchange{exchange("budget", "ok")}, "Budget"))
	require.NoError(t, store.Append(ctx, "t2", []Exchange{exchange("travel", "ok")}, "Travel"))

	threads, err = store.ListThreads(ctx)
	require.NoError(t, err)

	got := map[string]string{}
	for _, th := range threads {
		got[th.ThreadID] = th.Heading
		assert.False(t, th.UpdatedAt.IsZero())
	}
	assert.Equal(t, map[string]string{"t1": "Budget", "t2": "Travel"}, got)
}

func TestStore_ListThreads_MostRecentFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "old", []Exchange{exchange("a", "b")}, "Old"))
	require.NoError(t, store.Append(ctx, "new", []Exchange{exchange("a", "b")}, "New"))
	require.NoError(t, store.Append(ctx, "old", []Exchange{exchange("c", "d")}, "Old"))

	threads, err := store.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "old", threads[0].ThreadID)
}

func TestStore_ConcurrentAppendsSameThread(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.Append(ctx, "busy", []Exchange{exchange(fmt.Sprintf("q%d", i), "a")}, "Busy")
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := store.Load(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, rec.Exchanges, n)
}

func TestStore_Migrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	applied, err := store.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied, "second migrate should be a no-op")
}

func TestStore_Ping(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestStore_CgoSQLiteDriver(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.DatabaseConfig{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "cgo.db"),
	}, nil)
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("go-sqlite3 requires cgo")
	}
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(ctx, "t1", []Exchange{exchange("hi", "hello")}, "Greeting"))
	rec, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Greeting", rec.Heading)
	assert.Len(t, rec.Exchanges, 1)
}

func TestDataSource(t *testing.T) {
	dsn, dialect, err := dataSource(config.DatabaseConfig{
		Driver:   "mysql",
		Host:     "db.internal",
		Port:     3306,
		User:     "chat",
		Password: "secret",
		Name:     "chatbot",
	})
	require.NoError(t, err)
	assert.Equal(t, goose.DialectMySQL, dialect)
	assert.Contains(t, dsn, "chat:secret@tcp(db.internal:3306)/chatbot")
	assert.Contains(t, dsn, "parseTime=true")

	dsn, dialect, err = dataSource(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.Equal(t, goose.DialectSQLite3, dialect)
	assert.Contains(t, dsn, "_pragma=foreign_keys(1)")

	_, _, err = dataSource(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestIsConstraintViolation(t *testing.T) {
	assert.False(t, isConstraintViolation(nil))
	assert.True(t, isConstraintViolation(errors.New("UNIQUE constraint failed: exchanges.thread_id, exchanges.seq")))
	assert.True(t, isConstraintViolation(fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})))
	assert.False(t, isConstraintViolation(&mysql.MySQLError{Number: 1045, Message: "Access denied"}))
	assert.False(t, isConstraintViolation(errors.New("disk I/O error")))
	assert.False(t, isConstraintViolation(errors.New("FOREIGN KEY constraint failed")))
	assert.False(t, isConstraintViolation(errors.New("NOT NULL constraint failed: exchanges.user_message")))
	assert.False(t, isConstraintViolation(errors.New("CHECK constraint failed: seq_positive")))
	assert.True(t, isConstraintViolation(errors.New("PRIMARY KEY constraint failed")))

	assert.True(t, isConstraintViolation(fmt.Errorf("exec: %w", codedError{code: sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY})))
	assert.True(t, isConstraintViolation(codedError{code: sqlitelib.SQLITE_CONSTRAINT_UNIQUE}))
	assert.False(t, isConstraintViolation(codedError{code: sqlitelib.SQLITE_CONSTRAINT_NOTNULL}))
	assert.False(t, isConstraintViolation(codedError{code: sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY}))
}

// codedError mimics a driver error that reports an extended result code
type codedError struct{ code int }

func (e codedError) Error() string { return "constraint failed" }
func (e codedError) Code() int     { return e.code }

func TestStore_NotNullIsNotConflict(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, "INSERT INTO exchanges (thread_id, seq, user_message, agent_reply, created_at) VALUES (?, ?, NULL, ?, ?)",
		"t1", 0, "reply", formatTime(time.Now()))
	require.Error(t, err)
	assert.False(t, isConstraintViolation(err))
	assert.NotErrorIs(t, s.writeError("insert exchange", err), ErrConflict)
}

func TestConversationRecord_Clone(t *testing.T) {
	rec := &ConversationRecord{ThreadID: "t1", Heading: "H", Exchanges: []Exchange{exchange("a", "b")}}
	c := rec.Clone()
	c.Exchanges[0].UserMessage = "changed"
	c.Exchanges = append(c.Exchanges, exchange("c", "d"))

	assert.Equal(t, "a", rec.Exchanges[0].UserMessage)
	assert.Len(t, rec.Exchanges, 1)
	assert.Equal(t, []string{"a"}, rec.HumanMessages())
	assert.Equal(t, []string{"b"}, rec.AgentReplies())
}

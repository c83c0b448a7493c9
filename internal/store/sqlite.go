package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"wordassoc/pkg/types"
)

// SQLite implements Store on a single SQLite database file.
//
// All writes are funneled through one writer goroutine: SQLite allows only
// one writer at a time, and serializing writes in-process also closes the
// check-then-write window between a status check and the following update.
// Reads run concurrently against the connection pool.
type SQLite struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at path and starts the
// writer goroutine.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Second)
	db.SetConnMaxIdleTime(10 * time.Second)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLite{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA encoding = 'UTF-8'",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func createTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			word TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ready',
			started_at DATETIME,
			finished_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			session_id TEXT UNIQUE,
			connection_id TEXT,
			test_id INTEGER,
			connected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			has_submitted BOOLEAN NOT NULL DEFAULT 0,
			FOREIGN KEY (test_id) REFERENCES tests(id)
		)`,
		`CREATE TABLE IF NOT EXISTS responses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			test_id INTEGER NOT NULL,
			word TEXT NOT NULL,
			position INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (test_id) REFERENCES tests(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_test_id ON responses(test_id)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_word ON responses(word)`,
		`CREATE INDEX IF NOT EXISTS idx_users_session_id ON users(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_test_id ON users(test_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// writeLoop processes all write operations in a single goroutine. Failed
// writes are never retried: retrying a submission or test creation could
// duplicate it.
func (s *SQLite) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				log.Printf("Database write failed: %v", err)
			}
			op.result <- err

		case <-s.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func (s *SQLite) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-s.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

// CreateTest inserts a new test in ready status and returns its ID.
func (s *SQLite) CreateTest(ctx context.Context, word string) (int64, error) {
	var id int64
	err := s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO tests (word, status) VALUES (?, ?)`,
			word, types.TestStatusReady,
		)
		if err != nil {
			return fmt.Errorf("failed to insert test: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

const testColumns = `id, word, status, started_at, finished_at, created_at`

func scanTest(row interface{ Scan(...interface{}) error }) (*types.Test, error) {
	var t types.Test
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Word, &t.Status, &startedAt, &finishedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}

	return &t, nil
}

// GetTest retrieves a test by ID.
func (s *SQLite) GetTest(ctx context.Context, id int64) (*types.Test, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+testColumns+` FROM tests WHERE id = ?`, id)

	t, err := scanTest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to query test: %w", err)
	}
	return t, nil
}

func (s *SQLite) updateTestStatus(ctx context.Context, id int64, status, timeColumn string, at time.Time) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE tests SET status = ?, `+timeColumn+` = ? WHERE id = ?`,
			status, at, id,
		)
		if err != nil {
			return fmt.Errorf("failed to update test: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return types.ErrTestNotFound
		}
		return nil
	})
}

// StartTest transitions the test to active and records the start time.
func (s *SQLite) StartTest(ctx context.Context, id int64, at time.Time) error {
	return s.updateTestStatus(ctx, id, types.TestStatusActive, "started_at", at)
}

// FinishTest transitions the test to finished and records the finish time.
func (s *SQLite) FinishTest(ctx context.Context, id int64, at time.Time) error {
	return s.updateTestStatus(ctx, id, types.TestStatusFinished, "finished_at", at)
}

// CancelTest transitions the test to cancelled; the cancellation time is
// stored in finished_at.
func (s *SQLite) CancelTest(ctx context.Context, id int64, at time.Time) error {
	return s.updateTestStatus(ctx, id, types.TestStatusCancelled, "finished_at", at)
}

// CancelOpenTests cancels every ready or active test.
func (s *SQLite) CancelOpenTests(ctx context.Context, at time.Time) (int, error) {
	var count int
	err := s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE tests SET status = ?, finished_at = ? WHERE status IN (?, ?)`,
			types.TestStatusCancelled, at, types.TestStatusReady, types.TestStatusActive,
		)
		if err != nil {
			return fmt.Errorf("failed to cancel open tests: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		count = int(rows)
		return nil
	})
	return count, err
}

func (s *SQLite) queryOneTest(ctx context.Context, query string, args ...interface{}) (*types.Test, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	t, err := scanTest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query test: %w", err)
	}
	return t, nil
}

// ActiveTest returns the currently active test, or nil if none.
func (s *SQLite) ActiveTest(ctx context.Context) (*types.Test, error) {
	return s.queryOneTest(ctx,
		`SELECT `+testColumns+` FROM tests WHERE status = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		types.TestStatusActive)
}

// ReadyTest returns the most recently created ready test, or nil if none.
func (s *SQLite) ReadyTest(ctx context.Context) (*types.Test, error) {
	return s.queryOneTest(ctx,
		`SELECT `+testColumns+` FROM tests WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		types.TestStatusReady)
}

// LatestTest returns the most recently created test regardless of status.
func (s *SQLite) LatestTest(ctx context.Context) (*types.Test, error) {
	return s.queryOneTest(ctx,
		`SELECT `+testColumns+` FROM tests ORDER BY created_at DESC, id DESC LIMIT 1`)
}

// LatestFinishedTest returns the most recently finished test, or nil.
func (s *SQLite) LatestFinishedTest(ctx context.Context) (*types.Test, error) {
	return s.queryOneTest(ctx,
		`SELECT `+testColumns+` FROM tests WHERE status = ? ORDER BY finished_at DESC, id DESC LIMIT 1`,
		types.TestStatusFinished)
}

// ListTests returns up to limit tests, newest first.
func (s *SQLite) ListTests(ctx context.Context, limit int) ([]*types.Test, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+testColumns+` FROM tests ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tests []*types.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test row: %w", err)
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// ListFinishedTests returns finished tests with participation counts,
// newest first.
func (s *SQLite) ListFinishedTests(ctx context.Context, limit int) ([]*types.TestSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.word, t.status, t.started_at, t.finished_at, t.created_at,
			(SELECT COUNT(DISTINCT user_id) FROM responses WHERE test_id = t.id) AS user_count,
			(SELECT COUNT(*) FROM responses WHERE test_id = t.id) AS response_count
		 FROM tests t
		 WHERE t.status = ?
		 ORDER BY t.finished_at DESC, t.id DESC
		 LIMIT ?`,
		types.TestStatusFinished, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query finished tests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*types.TestSummary
	for rows.Next() {
		var sum types.TestSummary
		var startedAt, finishedAt sql.NullTime

		err := rows.Scan(&sum.ID, &sum.Word, &sum.Status, &startedAt, &finishedAt,
			&sum.CreatedAt, &sum.UserCount, &sum.ResponseCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test summary row: %w", err)
		}
		if startedAt.Valid {
			sum.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			sum.FinishedAt = &finishedAt.Time
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// CreateParticipant inserts a new participant row and returns its ID.
func (s *SQLite) CreateParticipant(ctx context.Context, username, sessionID string, testID *int64) (int64, error) {
	var id int64
	err := s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO users (username, session_id, test_id) VALUES (?, ?, ?)`,
			username, sessionID, testID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ParticipantBySessionID resolves a durable participant by session token.
func (s *SQLite) ParticipantBySessionID(ctx context.Context, sessionID string) (*types.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, session_id, connection_id, test_id, connected_at, has_submitted
		 FROM users WHERE session_id = ?`, sessionID)

	var p types.Participant
	var connectionID sql.NullString
	var testID sql.NullInt64

	err := row.Scan(&p.ID, &p.Username, &p.SessionID, &connectionID, &testID, &p.ConnectedAt, &p.HasSubmitted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}

	if connectionID.Valid {
		p.ConnectionID = connectionID.String
	}
	if testID.Valid {
		p.TestID = &testID.Int64
	}

	return &p, nil
}

// UpdateParticipantConnection replaces the stored transport handle. Called
// on every reconnect.
func (s *SQLite) UpdateParticipantConnection(ctx context.Context, id int64, connectionID string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE users SET connection_id = ? WHERE id = ?`, connectionID, id)
		if err != nil {
			return fmt.Errorf("failed to update participant connection: %w", err)
		}
		return nil
	})
}

// SetParticipantTest moves the participant to a new test cycle. The
// submitted flag is cleared because it is always scoped to the associated
// test.
func (s *SQLite) SetParticipantTest(ctx context.Context, id int64, testID *int64) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE users SET test_id = ?, has_submitted = 0 WHERE id = ?`, testID, id)
		if err != nil {
			return fmt.Errorf("failed to update participant test: %w", err)
		}
		return nil
	})
}

// SubmitResponses writes the participant's word batch and flips the
// submitted flag in one transaction. The guarded UPDATE makes the whole
// operation at-most-once per participant per test.
func (s *SQLite) SubmitResponses(ctx context.Context, userID, testID int64, words []string) error {
	return s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE users SET has_submitted = 1 WHERE id = ? AND has_submitted = 0`, userID)
		if err != nil {
			return fmt.Errorf("failed to mark participant submitted: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return types.ErrAlreadySubmitted
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO responses (user_id, test_id, word, position) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare response insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, word := range words {
			if _, err := stmt.ExecContext(ctx, userID, testID, word, i+1); err != nil {
				return fmt.Errorf("failed to insert response %d: %w", i+1, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit responses: %w", err)
		}
		return nil
	})
}

// ResetParticipants clears every participant's submitted flag and test
// association, preserving identity and session token.
func (s *SQLite) ResetParticipants(ctx context.Context) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE users SET has_submitted = 0, test_id = NULL`)
		if err != nil {
			return fmt.Errorf("failed to reset participants: %w", err)
		}
		return nil
	})
}

// ClearSessionTokens invalidates every participant's session token and
// connection ref in addition to the ResetParticipants clear. Rows are kept
// so historical responses retain valid user references; SQLite's UNIQUE
// constraint admits multiple NULL session_ids.
func (s *SQLite) ClearSessionTokens(ctx context.Context) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE users SET session_id = NULL, connection_id = NULL, test_id = NULL, has_submitted = 0`)
		if err != nil {
			return fmt.Errorf("failed to clear session tokens: %w", err)
		}
		return nil
	})
}

// TestResponses returns all responses for a test joined with usernames,
// ordered by entry position.
func (s *SQLite) TestResponses(ctx context.Context, testID int64) ([]*types.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.user_id, r.test_id, u.username, r.word, r.position, r.created_at
		 FROM responses r
		 JOIN users u ON r.user_id = u.id
		 WHERE r.test_id = ?
		 ORDER BY r.created_at, r.position`,
		testID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var responses []*types.Response
	for rows.Next() {
		var r types.Response
		err := rows.Scan(&r.ID, &r.UserID, &r.TestID, &r.Username, &r.Word, &r.Position, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, &r)
	}
	return responses, rows.Err()
}

// WordFrequency returns the case-insensitive frequency table for a test,
// most frequent first.
func (s *SQLite) WordFrequency(ctx context.Context, testID int64) ([]*types.WordCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT LOWER(word) AS word, COUNT(*) AS count
		 FROM responses
		 WHERE test_id = ?
		 GROUP BY LOWER(word)
		 ORDER BY count DESC, word`,
		testID)
	if err != nil {
		return nil, fmt.Errorf("failed to query word frequency: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var frequency []*types.WordCount
	for rows.Next() {
		var wc types.WordCount
		if err := rows.Scan(&wc.Word, &wc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan frequency row: %w", err)
		}
		frequency = append(frequency, &wc)
	}
	return frequency, rows.Err()
}

// TestStatistics aggregates participant, total, and unique word counts for
// a test.
func (s *SQLite) TestStatistics(ctx context.Context, testID int64) (*types.TestStatistics, error) {
	test, err := s.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	stats := &types.TestStatistics{Test: test}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM responses WHERE test_id = ?`, testID).
		Scan(&stats.UserCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query user count: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM responses WHERE test_id = ?`, testID).
		Scan(&stats.TotalWords)
	if err != nil {
		return nil, fmt.Errorf("failed to query total words: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT LOWER(word)) FROM responses WHERE test_id = ?`, testID).
		Scan(&stats.UniqueWords)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique words: %w", err)
	}

	return stats, nil
}

// HealthCheck validates database connectivity.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close shuts down the writer goroutine and the connection pool.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

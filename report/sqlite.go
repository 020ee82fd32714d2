package report

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mohannadcse/DepsRAG/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS iterations (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id            TEXT NOT NULL DEFAULT '',
	question_no           INTEGER NOT NULL,
	question              TEXT NOT NULL,
	iteration             INTEGER NOT NULL,
	answer                TEXT NOT NULL DEFAULT '',
	num_corrected_queries INTEGER NOT NULL DEFAULT 0,
	num_critic_responses  INTEGER NOT NULL DEFAULT 0,
	num_questions_asked   INTEGER NOT NULL DEFAULT 0,
	num_searches          INTEGER NOT NULL DEFAULT 0,
	terminated            INTEGER NOT NULL DEFAULT 0,
	duration_ns           INTEGER NOT NULL DEFAULT 0,
	recorded_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS iterations_question ON iterations(question_no, iteration);
`

// SQLite stores reports in a table of a sqlite database.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLite opens or creates the report database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "report path is required for the sqlite sink")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "open report database")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "create report schema")
	}
	return &SQLite{db: db}, nil
}

// Record implements Sink.
func (s *SQLite) Record(ctx context.Context, it Iteration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := it.Validate(); err != nil {
		return err
	}
	if it.RecordedAt.IsZero() {
		it.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO iterations (
		session_id, question_no, question, iteration, answer,
		num_corrected_queries, num_critic_responses, num_questions_asked, num_searches,
		terminated, duration_ns, recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.SessionID, it.QuestionNo, it.Question, it.Iteration, it.Answer,
		it.NumCorrectedQueries, it.NumCriticResponses, it.NumQuestionsAsked, it.NumSearches,
		boolInt(it.Terminated), int64(it.Duration), it.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInternal, "insert iteration report")
	}
	return nil
}

// List implements Sink.
func (s *SQLite) List(ctx context.Context, f Filter) ([]Iteration, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var (
		where []string
		args  []interface{}
	)
	if f.QuestionNo != 0 {
		where = append(where, "question_no = ?")
		args = append(args, f.QuestionNo)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.TerminatedOnly {
		where = append(where, "terminated = 1")
	}
	q := `SELECT session_id, question_no, question, iteration, answer,
		num_corrected_queries, num_critic_responses, num_questions_asked, num_searches,
		terminated, duration_ns, recorded_at FROM iterations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY question_no, iteration, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "list iteration reports")
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var (
			it         Iteration
			terminated int
			duration   int64
			recorded   string
		)
		if err := rows.Scan(&it.SessionID, &it.QuestionNo, &it.Question, &it.Iteration, &it.Answer,
			&it.NumCorrectedQueries, &it.NumCriticResponses, &it.NumQuestionsAsked, &it.NumSearches,
			&terminated, &duration, &recorded); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "scan iteration report")
		}
		it.Terminated = terminated != 0
		it.Duration = time.Duration(duration)
		it.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "list iteration reports")
	}
	return out, nil
}

// Close implements Sink.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

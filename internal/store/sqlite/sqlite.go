package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	_ "github.com/mattn/go-sqlite3"
	"go-tamp/internal/agents/explorer/handler"
	"go-tamp/pkg/models"
	"sync"
	"time"
)

// Store keeps sampler data and the execution history between runs.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Verify interface compliance at compile time.
var _ handler.DatumSink = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS datums (
		operator TEXT NOT NULL,
		datapoint_id INTEGER NOT NULL,
		template TEXT NOT NULL,
		objects TEXT NOT NULL DEFAULT '[]',
		input TEXT NOT NULL DEFAULT '[]',
		params TEXT NOT NULL DEFAULT '[]',
		success INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (operator, datapoint_id)
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		operator TEXT NOT NULL,
		seq INTEGER NOT NULL,
		success INTEGER NOT NULL,
		PRIMARY KEY (operator, seq)
	);

	CREATE TABLE IF NOT EXISTS seen_tasks (
		task INTEGER PRIMARY KEY
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- DatumSink ---

// SaveDatum stores d under the next datapoint id of its operator.
func (s *Store) SaveDatum(ctx context.Context, d handler.Datum) error {
	objects, err := json.Marshal(d.Objects)
	if err != nil {
		return fmt.Errorf("marshal objects: %w", err)
	}
	input, err := json.Marshal(d.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	params, err := json.Marshal(d.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	if d.Time.IsZero() {
		d.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(datapoint_id) + 1, 0) FROM datums WHERE operator = ?`, string(d.Operator),
	).Scan(&next); err != nil {
		return fmt.Errorf("next datapoint id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datums (operator, datapoint_id, template, objects, input, params, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(d.Operator), next, d.Template, string(objects), string(input), string(params), d.Success, d.Time.UTC(),
	); err != nil {
		return fmt.Errorf("insert datum: %w", err)
	}
	return tx.Commit()
}

// Datums returns the data saved for one operator in datapoint order.
func (s *Store) Datums(ctx context.Context, op models.OperatorKey) ([]handler.Datum, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT template, objects, input, params, success, created_at FROM datums WHERE operator = ? ORDER BY datapoint_id`,
		string(op))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []handler.Datum
	for rows.Next() {
		d := handler.Datum{Operator: op}
		var objects, input, params string
		if err := rows.Scan(&d.Template, &objects, &input, &params, &d.Success, &d.Time); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(objects), &d.Objects); err != nil {
			return nil, fmt.Errorf("unmarshal objects: %w", err)
		}
		if err := json.Unmarshal([]byte(input), &d.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &d.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- Ledger ---

// SaveLedger replaces the stored execution history and seen train tasks.
func (s *Store) SaveLedger(ctx context.Context, history map[models.OperatorKey][]bool, seen map[int]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outcomes`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_tasks`); err != nil {
		return err
	}
	for op, h := range history {
		for i, ok := range h {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO outcomes (operator, seq, success) VALUES (?, ?, ?)`, string(op), i, ok,
			); err != nil {
				return fmt.Errorf("insert outcome: %w", err)
			}
		}
	}
	for task, ok := range seen {
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO seen_tasks (task) VALUES (?)`, task); err != nil {
			return fmt.Errorf("insert seen task: %w", err)
		}
	}
	return tx.Commit()
}

// LoadLedger returns what SaveLedger stored last; both maps are empty on a new database.
func (s *Store) LoadLedger(ctx context.Context) (map[models.OperatorKey][]bool, map[int]bool, error) {
	history := map[models.OperatorKey][]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT operator, success FROM outcomes ORDER BY operator, seq`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var op string
		var ok bool
		if err := rows.Scan(&op, &ok); err != nil {
			return nil, nil, err
		}
		history[models.OperatorKey(op)] = append(history[models.OperatorKey(op)], ok)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	seen := map[int]bool{}
	taskRows, err := s.db.QueryContext(ctx, `SELECT task FROM seen_tasks`)
	if err != nil {
		return nil, nil, err
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var task int
		if err := taskRows.Scan(&task); err != nil {
			return nil, nil, err
		}
		seen[task] = true
	}
	return history, seen, taskRows.Err()
}

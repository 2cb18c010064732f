package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nugget/minionfabric/internal/coremodel"
)

// SQLiteMinions is the SQLite-backed MinionRepository. Persona and
// EmotionalState are stored as JSON blobs; minions are read far less
// often than channels/messages so this isn't normalized further.
type SQLiteMinions struct{ db *sql.DB }

// NewSQLiteMinions wraps an already-migrated *sql.DB.
func NewSQLiteMinions(db *sql.DB) *SQLiteMinions { return &SQLiteMinions{db: db} }

func (r *SQLiteMinions) Save(ctx context.Context, m coremodel.Minion) error {
	persona, err := json.Marshal(m.Persona)
	if err != nil {
		return fmt.Errorf("repo: marshal persona: %w", err)
	}
	state, err := json.Marshal(m.EmotionalState)
	if err != nil {
		return fmt.Errorf("repo: marshal emotional state: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO minions (id, persona, emotional_state, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET persona=excluded.persona, emotional_state=excluded.emotional_state, status=excluded.status
	`, m.ID, string(persona), string(state), string(m.Status), m.CreatedAt)
	return err
}

func (r *SQLiteMinions) GetByID(ctx context.Context, id string) (coremodel.Minion, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, persona, emotional_state, status, created_at FROM minions WHERE id = ?`, id)
	m, err := scanMinion(row)
	if err == sql.ErrNoRows {
		return coremodel.Minion{}, ErrNotFound{Kind: "minion", ID: id}
	}
	return m, err
}

func (r *SQLiteMinions) ListAll(ctx context.Context) ([]coremodel.Minion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, persona, emotional_state, status, created_at FROM minions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMinions(rows)
}

func (r *SQLiteMinions) ListByStatus(ctx context.Context, status coremodel.MinionStatus) ([]coremodel.Minion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, persona, emotional_state, status, created_at FROM minions WHERE status = ?`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMinions(rows)
}

func scanMinion(row scannable) (coremodel.Minion, error) {
	var m coremodel.Minion
	var persona, state, status string
	if err := row.Scan(&m.ID, &persona, &state, &status, &m.CreatedAt); err != nil {
		return coremodel.Minion{}, err
	}
	m.Status = coremodel.MinionStatus(status)
	if err := json.Unmarshal([]byte(persona), &m.Persona); err != nil {
		return coremodel.Minion{}, fmt.Errorf("repo: unmarshal persona: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &m.EmotionalState); err != nil {
		return coremodel.Minion{}, fmt.Errorf("repo: unmarshal emotional state: %w", err)
	}
	return m, nil
}

func scanMinions(rows *sql.Rows) ([]coremodel.Minion, error) {
	var out []coremodel.Minion
	for rows.Next() {
		m, err := scanMinion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SQLiteTasks is the SQLite-backed TaskRepository.
type SQLiteTasks struct{ db *sql.DB }

// NewSQLiteTasks wraps an already-migrated *sql.DB.
func NewSQLiteTasks(db *sql.DB) *SQLiteTasks { return &SQLiteTasks{db: db} }

func (r *SQLiteTasks) Save(ctx context.Context, t coremodel.Task) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, assigned_to, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description,
			status=excluded.status, assigned_to=excluded.assigned_to, progress=excluded.progress, updated_at=excluded.updated_at
	`, t.ID, t.Title, t.Description, string(t.Status), t.AssignedTo, t.Progress, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *SQLiteTasks) GetByID(ctx context.Context, id string) (coremodel.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, title, description, status, assigned_to, progress, created_at, updated_at FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return coremodel.Task{}, ErrNotFound{Kind: "task", ID: id}
	}
	return t, err
}

func (r *SQLiteTasks) ListAll(ctx context.Context) ([]coremodel.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, description, status, assigned_to, progress, created_at, updated_at FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *SQLiteTasks) ListByStatus(ctx context.Context, status coremodel.TaskStatus) ([]coremodel.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, description, status, assigned_to, progress, created_at, updated_at FROM tasks WHERE status = ?`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTask(row scannable) (coremodel.Task, error) {
	var t coremodel.Task
	var status string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.AssignedTo, &t.Progress, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return coremodel.Task{}, err
	}
	t.Status = coremodel.TaskStatus(status)
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]coremodel.Task, error) {
	var out []coremodel.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

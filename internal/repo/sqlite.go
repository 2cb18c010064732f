package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/nugget/minionfabric/internal/coremodel"
)

// SQLiteDriver selects which of the two sqlite drivers vendored by
// this module backs a DB opened with OpenSQLite: "sqlite3" is the cgo
// mattn driver (used by default, matching the teacher's memory
// package); "sqlite" is the pure-Go modernc driver, useful for
// CGO_ENABLED=0 builds.
type SQLiteDriver string

const (
	DriverMattn   SQLiteDriver = "sqlite3"
	DriverModernc SQLiteDriver = "sqlite"
)

// OpenSQLite opens dbPath with the requested driver and applies the
// schema this package's repositories need.
func OpenSQLite(driver SQLiteDriver, dbPath string) (*sql.DB, error) {
	if driver == "" {
		driver = DriverMattn
	}
	dsn := dbPath
	if driver == DriverMattn {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("repo: open database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo: migrate: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMP NOT NULL,
		created_by TEXT,
		members TEXT NOT NULL,
		message_count INTEGER DEFAULT 0,
		last_activity TIMESTAMP,
		metadata TEXT,
		deleted BOOLEAN DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		metadata TEXT,
		parent_message_id TEXT,
		reactions TEXT,
		edited BOOLEAN DEFAULT FALSE,
		edited_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, timestamp);

	CREATE TABLE IF NOT EXISTS minions (
		id TEXT PRIMARY KEY,
		persona TEXT NOT NULL,
		emotional_state TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		assigned_to TEXT,
		progress REAL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	_, err := db.Exec(schema)
	return err
}

// SQLiteChannels is the SQLite-backed ChannelRepository.
type SQLiteChannels struct{ db *sql.DB }

// NewSQLiteChannels wraps an already-migrated *sql.DB.
func NewSQLiteChannels(db *sql.DB) *SQLiteChannels { return &SQLiteChannels{db: db} }

func (r *SQLiteChannels) Save(ctx context.Context, c coremodel.Channel) error {
	members, err := json.Marshal(c.Members)
	if err != nil {
		return fmt.Errorf("repo: marshal members: %w", err)
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("repo: marshal metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, type, description, created_at, created_by, members, message_count, last_activity, metadata, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, description=excluded.description,
			members=excluded.members, message_count=excluded.message_count,
			last_activity=excluded.last_activity, metadata=excluded.metadata, deleted=excluded.deleted
	`, c.ID, c.Name, string(c.Type), c.Description, c.CreatedAt, c.CreatedBy, string(members), c.MessageCount, c.LastActivity, string(meta), c.Deleted)
	return err
}

func (r *SQLiteChannels) GetByID(ctx context.Context, id string) (coremodel.Channel, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, type, description, created_at, created_by, members, message_count, last_activity, metadata, deleted FROM channels WHERE id = ?`, id)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return coremodel.Channel{}, ErrNotFound{Kind: "channel", ID: id}
	}
	return c, err
}

func (r *SQLiteChannels) ListAll(ctx context.Context, limit, offset int) ([]coremodel.Channel, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, type, description, created_at, created_by, members, message_count, last_activity, metadata, deleted FROM channels ORDER BY created_at LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannels(rows)
}

func (r *SQLiteChannels) ListActive(ctx context.Context) ([]coremodel.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, type, description, created_at, created_by, members, message_count, last_activity, metadata, deleted FROM channels WHERE deleted = 0 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannels(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChannel(row scannable) (coremodel.Channel, error) {
	var c coremodel.Channel
	var typ, members, meta string
	if err := row.Scan(&c.ID, &c.Name, &typ, &c.Description, &c.CreatedAt, &c.CreatedBy, &members, &c.MessageCount, &c.LastActivity, &meta, &c.Deleted); err != nil {
		return coremodel.Channel{}, err
	}
	c.Type = coremodel.ChannelType(typ)
	if err := json.Unmarshal([]byte(members), &c.Members); err != nil {
		return coremodel.Channel{}, fmt.Errorf("repo: unmarshal members: %w", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return coremodel.Channel{}, fmt.Errorf("repo: unmarshal metadata: %w", err)
		}
	}
	return c, nil
}

func scanChannels(rows *sql.Rows) ([]coremodel.Channel, error) {
	var out []coremodel.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SQLiteMessages is the SQLite-backed MessageRepository.
type SQLiteMessages struct{ db *sql.DB }

// NewSQLiteMessages wraps an already-migrated *sql.DB.
func NewSQLiteMessages(db *sql.DB) *SQLiteMessages { return &SQLiteMessages{db: db} }

func (r *SQLiteMessages) Save(ctx context.Context, m coremodel.Message) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("repo: marshal metadata: %w", err)
	}
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return fmt.Errorf("repo: marshal reactions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, channel_id, sender_id, content, type, timestamp, metadata, parent_message_id, reactions, edited, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ChannelID, m.SenderID, m.Content, string(m.Type), m.Timestamp, string(meta), m.ParentMessageID, string(reactions), m.Edited, m.EditedAt)
	return err
}

func (r *SQLiteMessages) GetChannelMessages(ctx context.Context, channelID string, limit int, before, after *coremodel.Message, senderID string) ([]coremodel.Message, error) {
	query := `SELECT id, channel_id, sender_id, content, type, timestamp, metadata, parent_message_id, reactions, edited, edited_at FROM messages WHERE channel_id = ?`
	args := []any{channelID}
	if senderID != "" {
		query += ` AND sender_id = ?`
		args = append(args, senderID)
	}
	if before != nil {
		query += ` AND timestamp < ?`
		args = append(args, before.Timestamp)
	}
	if after != nil {
		query += ` AND timestamp > ?`
		args = append(args, after.Timestamp)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coremodel.Message
	for rows.Next() {
		var m coremodel.Message
		var typ, meta, reactions string
		var editedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Content, &typ, &m.Timestamp, &meta, &m.ParentMessageID, &reactions, &m.Edited, &editedAt); err != nil {
			return nil, err
		}
		m.Type = coremodel.MessageType(typ)
		if editedAt.Valid {
			m.EditedAt = editedAt.Time
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				return nil, fmt.Errorf("repo: unmarshal metadata: %w", err)
			}
		}
		if reactions != "" {
			if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
				return nil, fmt.Errorf("repo: unmarshal reactions: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

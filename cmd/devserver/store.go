package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists relayed messages so the history endpoint has something
// to serve across client restarts.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id   INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL,
	content     TEXT NOT NULL,
	sent_time   TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender_id, receiver_id);
`

// OpenStore opens (and migrates) the SQLite database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoredMessage is one persisted row.
type StoredMessage struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	SentTime   time.Time
}

// SaveMessage inserts a message and returns its row id.
func (s *Store) SaveMessage(ctx context.Context, senderID, receiverID int64, content string, sentTime time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, sent_time) VALUES (?, ?, ?, ?)`,
		senderID, receiverID, content, sentTime.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Conversation returns all messages between a and b, oldest first.
func (s *Store) Conversation(ctx context.Context, a, b int64) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, content, sent_time
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY id ASC`,
		a, b, b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var sentTime string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &sentTime); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, sentTime); err == nil {
			m.SentTime = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

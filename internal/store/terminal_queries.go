package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func (s *SQLiteStore) UpsertTerminal(rec *TerminalRecord) error {
	var exitCode sql.NullInt64
	if rec.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*rec.ExitCode), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO terminals (session_id, shell, cols, rows, started_at, status, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			shell = excluded.shell,
			cols = excluded.cols,
			rows = excluded.rows,
			status = excluded.status,
			exit_code = excluded.exit_code
	`, rec.SessionID, rec.Shell, rec.Cols, rec.Rows, rec.StartedAt, string(rec.Status), exitCode)
	if err != nil {
		return fmt.Errorf("upsert terminal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTerminal(sessionID string) (*TerminalRecord, error) {
	row := s.db.QueryRow(`
		SELECT session_id, shell, cols, rows, started_at, status, exit_code
		FROM terminals WHERE session_id = ?
	`, sessionID)
	rec, err := scanTerminal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get terminal: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListTerminals() ([]*TerminalRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, shell, cols, rows, started_at, status, exit_code
		FROM terminals ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list terminals: %w", err)
	}
	defer rows.Close()

	var out []*TerminalRecord
	for rows.Next() {
		rec, err := scanTerminal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan terminal: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTerminal(sessionID string) error {
	res, err := s.db.Exec(`DELETE FROM terminals WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete terminal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete terminal: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrNotFound is returned by delete/claim style operations when the
// targeted row does not exist, distinct from the (nil, nil) convention
// used by the Get* accessors.
var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}

func scanTerminal(row scanner) (*TerminalRecord, error) {
	var rec TerminalRecord
	var status string
	var exitCode sql.NullInt64
	if err := row.Scan(&rec.SessionID, &rec.Shell, &rec.Cols, &rec.Rows, &rec.StartedAt, &status, &exitCode); err != nil {
		return nil, err
	}
	rec.Status = ParseSessionStatus(status)
	if exitCode.Valid {
		v := uint32(exitCode.Int64)
		rec.ExitCode = &v
	}
	return &rec, nil
}

func (s *SQLiteStore) UpsertChat(rec *ChatRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO chats (chat_id, thread_id, created_at, status, event_pointer)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			status = excluded.status,
			event_pointer = excluded.event_pointer
	`, rec.ChatID, rec.ThreadID, rec.CreatedAt, string(rec.Status), rec.EventPointer)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChat(chatID string) (*ChatRecord, error) {
	row := s.db.QueryRow(`
		SELECT chat_id, thread_id, created_at, status, event_pointer
		FROM chats WHERE chat_id = ?
	`, chatID)
	var rec ChatRecord
	var status string
	if err := row.Scan(&rec.ChatID, &rec.ThreadID, &rec.CreatedAt, &status, &rec.EventPointer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	rec.Status = ParseSessionStatus(status)
	return &rec, nil
}

func (s *SQLiteStore) ListChats() ([]*ChatRecord, error) {
	rows, err := s.db.Query(`
		SELECT chat_id, thread_id, created_at, status, event_pointer
		FROM chats ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []*ChatRecord
	for rows.Next() {
		var rec ChatRecord
		var status string
		if err := rows.Scan(&rec.ChatID, &rec.ThreadID, &rec.CreatedAt, &status, &rec.EventPointer); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		rec.Status = ParseSessionStatus(status)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateEventPointer(chatID string, pointer uint64) error {
	_, err := s.db.Exec(`UPDATE chats SET event_pointer = ? WHERE chat_id = ?`, pointer, chatID)
	if err != nil {
		return fmt.Errorf("update event pointer: %w", err)
	}
	return nil
}

// MarkAllInactive transitions every Active terminal and chat row to
// Inactive. Exited rows are left alone: a session that finished cleanly
// should stay Exited across a restart, not be resurrected as Inactive.
func (s *SQLiteStore) MarkAllInactive() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("mark all inactive: %w", err)
	}
	if _, err := tx.Exec(`UPDATE terminals SET status = ? WHERE status = ?`, string(StatusInactive), string(StatusActive)); err != nil {
		tx.Rollback()
		return fmt.Errorf("mark terminals inactive: %w", err)
	}
	if _, err := tx.Exec(`UPDATE chats SET status = ? WHERE status = ?`, string(StatusInactive), string(StatusActive)); err != nil {
		tx.Rollback()
		return fmt.Errorf("mark chats inactive: %w", err)
	}
	return tx.Commit()
}

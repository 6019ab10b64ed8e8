package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *SQLiteStore) UpsertJob(rec *JobRecord) error {
	logs, err := json.Marshal(rec.Logs)
	if err != nil {
		return fmt.Errorf("marshal job logs: %w", err)
	}
	spec := rec.Spec
	if spec == "" {
		spec = "{}"
	}
	_, err = s.db.Exec(`
		INSERT INTO jobs (job_id, name, status, created_at, updated_at, spec, logs)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			spec = excluded.spec,
			logs = excluded.logs
	`, rec.JobID, rec.Name, string(rec.Status), rec.CreatedAt, rec.UpdatedAt, spec, string(logs))
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(jobID string) (*JobRecord, error) {
	row := s.db.QueryRow(`
		SELECT job_id, name, status, created_at, updated_at, spec, logs FROM jobs WHERE job_id = ?
	`, jobID)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListJobs() ([]*JobRecord, error) {
	rows, err := s.db.Query(`
		SELECT job_id, name, status, created_at, updated_at, spec, logs FROM jobs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanJob(row scanner) (*JobRecord, error) {
	var rec JobRecord
	var status, logs string
	if err := row.Scan(&rec.JobID, &rec.Name, &status, &rec.CreatedAt, &rec.UpdatedAt, &rec.Spec, &logs); err != nil {
		return nil, err
	}
	rec.Status = JobStatus(status)
	if err := json.Unmarshal([]byte(logs), &rec.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal job logs: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) UpsertPairing(rec *PairingRecord) error {
	var claimedBy sql.NullString
	if rec.ClaimedBy != "" {
		claimedBy = sql.NullString{String: rec.ClaimedBy, Valid: true}
	}
	var claimedAt sql.NullInt64
	if rec.ClaimedAt != 0 {
		claimedAt = sql.NullInt64{Int64: rec.ClaimedAt, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO pairings (pairing_id, code, issued_at, expires_at, claimed_by, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pairing_id) DO UPDATE SET
			claimed_by = excluded.claimed_by,
			claimed_at = excluded.claimed_at
	`, rec.PairingID, rec.Code, rec.IssuedAt, rec.ExpiresAt, claimedBy, claimedAt)
	if err != nil {
		return fmt.Errorf("upsert pairing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPairingByCode(code string) (*PairingRecord, error) {
	return s.getPairing(`SELECT pairing_id, code, issued_at, expires_at, claimed_by, claimed_at FROM pairings WHERE code = ?`, code)
}

func (s *SQLiteStore) GetPairing(pairingID string) (*PairingRecord, error) {
	return s.getPairing(`SELECT pairing_id, code, issued_at, expires_at, claimed_by, claimed_at FROM pairings WHERE pairing_id = ?`, pairingID)
}

func (s *SQLiteStore) getPairing(query, arg string) (*PairingRecord, error) {
	row := s.db.QueryRow(query, arg)
	var rec PairingRecord
	var claimedBy sql.NullString
	var claimedAt sql.NullInt64
	if err := row.Scan(&rec.PairingID, &rec.Code, &rec.IssuedAt, &rec.ExpiresAt, &claimedBy, &claimedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pairing: %w", err)
	}
	rec.ClaimedBy = claimedBy.String
	rec.ClaimedAt = claimedAt.Int64
	return &rec, nil
}

func (s *SQLiteStore) ClaimPairing(pairingID, claimant string, claimedAt int64) error {
	res, err := s.db.Exec(`
		UPDATE pairings SET claimed_by = ?, claimed_at = ?
		WHERE pairing_id = ? AND claimed_by IS NULL
	`, claimant, claimedAt, pairingID)
	if err != nil {
		return fmt.Errorf("claim pairing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim pairing: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PruneExpiredPairings(now int64) error {
	_, err := s.db.Exec(`DELETE FROM pairings WHERE expires_at < ? AND claimed_by IS NULL`, now)
	if err != nil {
		return fmt.Errorf("prune expired pairings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertNotification(rec *NotificationRecord) error {
	var readAt sql.NullInt64
	if rec.ReadAt != 0 {
		readAt = sql.NullInt64{Int64: rec.ReadAt, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO notifications (notification_id, topic, title, body, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(notification_id) DO UPDATE SET read_at = excluded.read_at
	`, rec.NotificationID, rec.Topic, rec.Title, rec.Body, rec.CreatedAt, readAt)
	if err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(unreadOnly bool) ([]*NotificationRecord, error) {
	query := `SELECT notification_id, topic, title, body, created_at, read_at FROM notifications`
	if unreadOnly {
		query += ` WHERE read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []*NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		var readAt sql.NullInt64
		if err := rows.Scan(&rec.NotificationID, &rec.Topic, &rec.Title, &rec.Body, &rec.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		rec.ReadAt = readAt.Int64
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkNotificationRead(notificationID string, readAt int64) error {
	res, err := s.db.Exec(`UPDATE notifications SET read_at = ? WHERE notification_id = ?`, readAt, notificationID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PruneOldNotifications(olderThan int64) error {
	_, err := s.db.Exec(`DELETE FROM notifications WHERE created_at < ?`, olderThan)
	if err != nil {
		return fmt.Errorf("prune old notifications: %w", err)
	}
	return nil
}

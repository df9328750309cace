package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/signalspoc/signals/internal/types"
)

const alertColumns = `id, alert_type, severity, title, message, ai_suggestion, ai_action_json,
	source_system, source_id, source_url, target_system, target_id, target_url,
	is_read, is_resolved, resolved_at, created_at`

// InsertAlertIfAbsent stores the alert unless an unresolved alert with the
// same dedup key already exists. It returns the stored alert (the new one
// or the existing one) and whether a row was inserted.
//
// The partial unique index on the dedup key makes the check-and-insert
// atomic, so concurrent callers cannot both create a row.
func (s *SQLiteStorage) InsertAlertIfAbsent(ctx context.Context, alert *types.Alert) (*types.Alert, bool, error) {
	if err := alert.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid alert: %w", err)
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, alert_type, severity, title, message, ai_suggestion, ai_action_json,
			source_system, source_id, source_url, target_system, target_id, target_url,
			is_read, is_resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT (source_system, source_id, target_system, target_id, alert_type)
			WHERE is_resolved = 0 DO NOTHING
	`, alert.ID, alert.Type, alert.Severity, alert.Title, alert.Message,
		nullString(alert.AISuggestion), nullString(alert.AIActionJSON),
		alert.SourceSystem, alert.SourceID, alert.SourceURL,
		alert.TargetSystem, alert.TargetID, alert.TargetURL,
		formatTime(alert.CreatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		stored, err := s.GetAlert(ctx, alert.ID)
		if err != nil {
			return nil, false, err
		}
		return stored, true, nil
	}

	existing, err := s.FindUnresolvedAlert(ctx, alert.Key())
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// the conflicting row was resolved between the insert and this read
		return nil, false, fmt.Errorf("alert for %s/%s was resolved concurrently", alert.SourceSystem, alert.SourceID)
	}
	return existing, false, nil
}

// FindUnresolvedAlert returns the unresolved alert with the given dedup
// key, or nil if there is none.
func (s *SQLiteStorage) FindUnresolvedAlert(ctx context.Context, key types.DedupKey) (*types.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE source_system = ? AND source_id = ? AND target_system = ? AND target_id = ?
		  AND alert_type = ? AND is_resolved = 0
	`, key.SourceSystem, key.SourceID, key.TargetSystem, key.TargetID, key.Type)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find alert: %w", err)
	}
	return alert, nil
}

// GetAlert retrieves an alert by ID. Returns ErrNotFound if it does not exist.
func (s *SQLiteStorage) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ListUnresolvedAlerts returns unresolved alerts, newest first. A limit of
// zero or less means no limit.
func (s *SQLiteStorage) ListUnresolvedAlerts(ctx context.Context, limit int) ([]*types.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE is_resolved = 0
		ORDER BY created_at DESC
		LIMIT ?
	`, sqlLimit(limit))
}

// ListUnreadAlerts returns unresolved alerts nobody has marked read yet,
// newest first.
func (s *SQLiteStorage) ListUnreadAlerts(ctx context.Context) ([]*types.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE is_resolved = 0 AND is_read = 0
		ORDER BY created_at DESC
	`)
}

// CountUnreadAlerts returns the number of unresolved, unread alerts.
func (s *SQLiteStorage) CountUnreadAlerts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts WHERE is_resolved = 0 AND is_read = 0
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread alerts: %w", err)
	}
	return n, nil
}

// ListUnenrichedAlerts returns unresolved alerts without a suggestion,
// oldest first.
func (s *SQLiteStorage) ListUnenrichedAlerts(ctx context.Context, limit int) ([]*types.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE is_resolved = 0 AND ai_suggestion IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`, sqlLimit(limit))
}

// MarkAlertRead sets is_read on the alert.
func (s *SQLiteStorage) MarkAlertRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE alerts SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	return requireRow(result, id)
}

// ResolveAlert resolves the alert, marks it read and clears any action
// claim. It reports whether this call performed the transition; resolving
// an already-resolved alert is a no-op that returns false.
func (s *SQLiteStorage) ResolveAlert(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET is_resolved = 1, is_read = 1, resolved_at = ?, action_claimed_at = NULL
		WHERE id = ? AND is_resolved = 0
	`, formatTime(s.now()), id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	// Distinguish "already resolved" from "no such alert"
	if _, err := s.GetAlert(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ResolveAlertsBySource resolves every unresolved alert raised for the
// given source entity and returns how many were resolved.
func (s *SQLiteStorage) ResolveAlertsBySource(ctx context.Context, system types.ConnectorType, sourceID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET is_resolved = 1, is_read = 1, resolved_at = ?, action_claimed_at = NULL
		WHERE source_system = ? AND source_id = ? AND is_resolved = 0
	`, formatTime(s.now()), system, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts for source: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// UpdateAlertEnrichment stores enrichment results on an unresolved alert
// that has no suggestion yet. Each field is written at most once: a nil
// suggestion leaves ai_suggestion NULL, and an existing ai_action_json is
// kept. It reports whether the row was updated.
func (s *SQLiteStorage) UpdateAlertEnrichment(ctx context.Context, id string, suggestion *string, actionJSON *string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET ai_suggestion = ?, ai_action_json = COALESCE(ai_action_json, ?)
		WHERE id = ? AND is_resolved = 0 AND ai_suggestion IS NULL
	`, nullString(suggestion), nullString(actionJSON), id)
	if err != nil {
		return false, fmt.Errorf("failed to update alert enrichment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ClaimAlertForAction takes the action claim on an unresolved alert. Only
// one caller can hold the claim at a time; a claim older than ttl is
// considered abandoned and can be taken over.
func (s *SQLiteStorage) ClaimAlertForAction(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET action_claimed_at = ?
		WHERE id = ? AND is_resolved = 0
		  AND (action_claimed_at IS NULL OR action_claimed_at < ?)
	`, formatTime(now), id, formatTime(now.Add(-ttl)))
	if err != nil {
		return false, fmt.Errorf("failed to claim alert: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ReleaseAlertClaim drops the action claim without resolving the alert.
func (s *SQLiteStorage) ReleaseAlertClaim(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET action_claimed_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to release alert claim: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*types.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*types.Alert, error) {
	var a types.Alert
	var suggestion, actionJSON, resolvedAt sql.NullString
	var createdAt string
	var isRead, isResolved int

	err := row.Scan(
		&a.ID, &a.Type, &a.Severity, &a.Title, &a.Message, &suggestion, &actionJSON,
		&a.SourceSystem, &a.SourceID, &a.SourceURL, &a.TargetSystem, &a.TargetID, &a.TargetURL,
		&isRead, &isResolved, &resolvedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.AISuggestion = stringPtr(suggestion)
	a.AIActionJSON = stringPtr(actionJSON)
	a.IsRead = isRead != 0
	a.IsResolved = isResolved != 0
	if a.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func requireRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

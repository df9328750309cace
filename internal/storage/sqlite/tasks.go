package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/signalspoc/signals/internal/types"
)

const taskColumns = `id, external_id, source_system, title, status, assignee, due_date, external_modified_at, url`

// UpsertTask inserts or refreshes a task snapshot, keyed by its internal id.
func (s *SQLiteStorage) UpsertTask(ctx context.Context, task *types.TaskSnapshot) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if !task.SourceSystem.IsProjectManagement() {
		return fmt.Errorf("invalid task source system: %q", task.SourceSystem)
	}

	var dueDate, modifiedAt sql.NullString
	if task.DueDate != nil {
		dueDate = sql.NullString{String: formatTime(*task.DueDate), Valid: true}
	}
	if !task.ExternalModifiedAt.IsZero() {
		modifiedAt = sql.NullString{String: formatTime(task.ExternalModifiedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			external_id = excluded.external_id,
			source_system = excluded.source_system,
			title = excluded.title,
			status = excluded.status,
			assignee = excluded.assignee,
			due_date = excluded.due_date,
			external_modified_at = excluded.external_modified_at,
			url = excluded.url
	`, task.ID, task.ExternalID, task.SourceSystem, task.Title, task.Status, task.Assignee,
		dueDate, modifiedAt, task.URL)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

// FindTasksByExternalID returns tasks whose external identifier (e.g.
// "SIG-7") matches, ignoring case.
func (s *SQLiteStorage) FindTasksByExternalID(ctx context.Context, externalID string) ([]*types.TaskSnapshot, error) {
	if externalID == "" {
		return nil, nil
	}
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE external_id = ? COLLATE NOCASE
		ORDER BY id
	`, externalID)
}

// FindTasksByTitleContaining returns tasks whose title contains the
// fragment, ignoring case.
func (s *SQLiteStorage) FindTasksByTitleContaining(ctx context.Context, fragment string) ([]*types.TaskSnapshot, error) {
	if fragment == "" {
		return nil, nil
	}
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE instr(lower(title), lower(?)) > 0
		ORDER BY id
	`, fragment)
}

// CountTasks returns the number of indexed tasks.
func (s *SQLiteStorage) CountTasks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*types.TaskSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.TaskSnapshot
	for rows.Next() {
		var t types.TaskSnapshot
		var dueDate, modifiedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.SourceSystem, &t.Title, &t.Status, &t.Assignee,
			&dueDate, &modifiedAt, &t.URL); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if t.DueDate, err = parseNullTime(dueDate); err != nil {
			return nil, err
		}
		mod, err := parseNullTime(modifiedAt)
		if err != nil {
			return nil, err
		}
		if mod != nil {
			t.ExternalModifiedAt = *mod
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

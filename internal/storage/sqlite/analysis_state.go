package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/signalspoc/signals/internal/types"
)

// GetAnalysisState returns the last recorded checksum for an entity, or
// nil if the entity has never been analyzed.
func (s *SQLiteStorage) GetAnalysisState(ctx context.Context, entityType, entityID string) (*types.AnalysisState, error) {
	var st types.AnalysisState
	var analyzedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, source_system, content_checksum, last_analyzed_at
		FROM analysis_state
		WHERE entity_type = ? AND entity_id = ?
	`, entityType, entityID).Scan(&st.EntityType, &st.EntityID, &st.SourceSystem, &st.ContentChecksum, &analyzedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis state: %w", err)
	}

	if st.LastAnalyzedAt, err = parseTime(analyzedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertAnalysisState records the checksum for an entity, replacing any
// earlier record.
func (s *SQLiteStorage) UpsertAnalysisState(ctx context.Context, st *types.AnalysisState) error {
	if st.EntityType == "" || st.EntityID == "" {
		return fmt.Errorf("entity type and id are required")
	}
	if st.LastAnalyzedAt.IsZero() {
		st.LastAnalyzedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_state (entity_type, entity_id, source_system, content_checksum, last_analyzed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			source_system = excluded.source_system,
			content_checksum = excluded.content_checksum,
			last_analyzed_at = excluded.last_analyzed_at
	`, st.EntityType, st.EntityID, st.SourceSystem, st.ContentChecksum, formatTime(st.LastAnalyzedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert analysis state: %w", err)
	}
	return nil
}

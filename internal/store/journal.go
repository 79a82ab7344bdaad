package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/davidmreed/amaxa-sub000/internal/engine"
	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

var _ engine.Journal = (*Store)(nil)

// RecordMapping stores one id mapping. The first mapping of an old id wins;
// later writes for the same old id are ignored.
func (s *Store) RecordMapping(ctx context.Context, sobject string, oldID, newID sfid.ID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO id_map (old_id, new_id, sobject)
		VALUES (?, ?, ?)
		ON CONFLICT(old_id) DO NOTHING
	`, oldID.String(), newID.String(), sobject)
	if err != nil {
		return fmt.Errorf("record mapping: %w", err)
	}
	return nil
}

// RecordStage stores the stage reached.
func (s *Store) RecordStage(ctx context.Context, stage engine.Stage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_stage (id, stage) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET stage = excluded.stage
	`, stage.String())
	if err != nil {
		return fmt.Errorf("record stage: %w", err)
	}
	return nil
}

// LoadState reads the journal back into a resumable state. An empty
// journal yields the state of a load that has not started.
func (s *Store) LoadState(ctx context.Context) (engine.LoadState, error) {
	state := engine.NewLoadState()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT stage FROM load_stage WHERE id = 1`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return engine.LoadState{}, fmt.Errorf("read stage: %w", err)
	default:
		if state.Stage, err = engine.ParseStage(raw); err != nil {
			return engine.LoadState{}, fmt.Errorf("read stage: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT old_id, new_id FROM id_map ORDER BY seq ASC`)
	if err != nil {
		return engine.LoadState{}, fmt.Errorf("read id map: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var oldRaw, newRaw string
		if err := rows.Scan(&oldRaw, &newRaw); err != nil {
			return engine.LoadState{}, fmt.Errorf("scan id map: %w", err)
		}
		oldID, err := sfid.New(oldRaw)
		if err != nil {
			return engine.LoadState{}, fmt.Errorf("id map: %w", err)
		}
		newID, err := sfid.New(newRaw)
		if err != nil {
			return engine.LoadState{}, fmt.Errorf("id map: %w", err)
		}
		state.IDMap[oldID] = newID
	}
	if err := rows.Err(); err != nil {
		return engine.LoadState{}, fmt.Errorf("read id map: %w", err)
	}
	return state, nil
}

// CountMappings returns the number of mappings per object type.
func (s *Store) CountMappings(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sobject, COUNT(*) FROM id_map GROUP BY sobject ORDER BY sobject`)
	if err != nil {
		return nil, fmt.Errorf("count mappings: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var sobject string
		var n int
		if err := rows.Scan(&sobject, &n); err != nil {
			return nil, fmt.Errorf("count mappings: %w", err)
		}
		out[sobject] = n
	}
	return out, rows.Err()
}

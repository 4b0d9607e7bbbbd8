package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
)

// SaveBuild inserts or replaces a build record.
func (s *Store) SaveBuild(rec builder.BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var planJSON sql.NullString
	if rec.Plan != nil {
		b, err := json.Marshal(rec.Plan)
		if err != nil {
			return fmt.Errorf("marshaling plan: %w", err)
		}
		planJSON = sql.NullString{String: string(b), Valid: true}
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := `
	INSERT OR REPLACE INTO builds (
		id, app_id, phase, completed, total, current_story,
		description, plan, error, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		rec.ID, rec.AppID, string(rec.Phase),
		rec.Progress.Completed, rec.Progress.Total,
		sql.NullString{String: rec.Progress.CurrentStory, Valid: rec.Progress.CurrentStory != ""},
		rec.Description, planJSON,
		sql.NullString{String: rec.Error, Valid: rec.Error != ""},
		createdAt.UnixMilli(), updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save build: %w", err)
	}
	return nil
}

// GetBuild retrieves a build by id. Returns nil when absent.
func (s *Store) GetBuild(id string) (*builder.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
	SELECT id, app_id, phase, completed, total, current_story,
	       description, plan, error, created_at, updated_at
	FROM builds WHERE id = ?
	`, id)

	rec, err := scanBuild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return rec, nil
}

// ListBuilds returns all builds, newest first.
func (s *Store) ListBuilds() ([]builder.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
	SELECT id, app_id, phase, completed, total, current_story,
	       description, plan, error, created_at, updated_at
	FROM builds ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var out []builder.BuildRecord
	for rows.Next() {
		rec, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}
	return out, nil
}

// DeleteBuild removes a build row. Missing rows are not an error.
func (s *Store) DeleteBuild(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM builds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete build: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*builder.BuildRecord, error) {
	var rec builder.BuildRecord
	var phase string
	var currentStory, planJSON, errMsg sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.ID, &rec.AppID, &phase,
		&rec.Progress.Completed, &rec.Progress.Total, &currentStory,
		&rec.Description, &planJSON, &errMsg,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Phase = builder.Phase(phase)
	if currentStory.Valid {
		rec.Progress.CurrentStory = currentStory.String
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if planJSON.Valid {
		var p builder.Plan
		if err := json.Unmarshal([]byte(planJSON.String), &p); err != nil {
			return nil, fmt.Errorf("unmarshaling plan: %w", err)
		}
		rec.Plan = &p
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	rec.Progress.Clamp()
	return &rec, nil
}

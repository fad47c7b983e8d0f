package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
)

var _ repository.MefLogRepository = (*MefLogRepo)(nil)

// MefLogRepo implementación de MefLogRepository. Write-once: los renglones
// nunca se actualizan ni se borran por la aplicación.
type MefLogRepo struct {
	q Querier
}

// NewMefLogRepository construye el adaptador. Pasar pool o tx (Querier).
func NewMefLogRepository(q Querier) *MefLogRepo {
	return &MefLogRepo{q: q}
}

// Insert persiste un renglón de auditoría. El caller (OpLogger) decide qué
// hacer con el error; este adaptador solo lo reporta.
func (r *MefLogRepo) Insert(ctx context.Context, e *entity.LogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var details []byte
	if e.Details != nil {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("marshal log details: %w", err)
		}
	}
	query := `
		INSERT INTO mef_logs (id, logged_at, level, operation, submission_id, environment, message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.Exec(ctx, query,
		e.ID, e.Timestamp, e.Level, e.Operation,
		nullIfEmpty(e.SubmissionID), e.Environment, e.Message, details,
	)
	if err != nil {
		return fmt.Errorf("insert mef log: %w", err)
	}
	return nil
}

// Recent devuelve los últimos renglones, el más nuevo primero.
func (r *MefLogRepo) Recent(ctx context.Context, limit int) ([]*entity.LogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, logged_at, level, operation, COALESCE(submission_id, ''), environment, message, details
		FROM mef_logs ORDER BY logged_at DESC LIMIT $1`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list mef logs: %w", err)
	}
	defer rows.Close()

	var list []*entity.LogEntry
	for rows.Next() {
		var e entity.LogEntry
		var details []byte
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Level, &e.Operation,
			&e.SubmissionID, &e.Environment, &e.Message, &details,
		); err != nil {
			return nil, fmt.Errorf("scan mef log: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal log details: %w", err)
			}
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

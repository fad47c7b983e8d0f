package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
)

var _ repository.AcknowledgmentRepository = (*AcknowledgmentRepo)(nil)

// AcknowledgmentRepo implementación de AcknowledgmentRepository (usable con pool o tx).
// El índice único sobre ack_id es la garantía durable de at-most-once.
type AcknowledgmentRepo struct {
	q Querier
}

// NewAcknowledgmentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewAcknowledgmentRepository(q Querier) *AcknowledgmentRepo {
	return &AcknowledgmentRepo{q: q}
}

// Create persiste el acuse. Un ack_id ya visto retorna domain.ErrDuplicate:
// el caller lo trata como "ya procesado", no como fallo.
func (r *AcknowledgmentRepo) Create(ctx context.Context, ack *entity.Acknowledgment) error {
	if ack.ID == "" {
		ack.ID = uuid.New().String()
	}
	errorsJSON, err := json.Marshal(ack.Errors)
	if err != nil {
		return fmt.Errorf("marshal ack errors: %w", err)
	}
	query := `
		INSERT INTO mef_acknowledgments (id, ack_id, submission_id, status, dcn,
		                                 acked_at, return_type, tax_year, errors_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.q.Exec(ctx, query,
		ack.ID, ack.AckID, ack.SubmissionID, ack.Status, nullIfEmpty(ack.DCN),
		ack.Timestamp, ack.ReturnType, ack.TaxYear, errorsJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ack %s: %w", ack.AckID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert acknowledgment: %w", err)
	}
	return nil
}

// ExistsByAckID consulta ligera de idempotencia.
func (r *AcknowledgmentRepo) ExistsByAckID(ctx context.Context, ackID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM mef_acknowledgments WHERE ack_id = $1)`, ackID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists acknowledgment: %w", err)
	}
	return exists, nil
}

// GetByAckID obtiene un acuse por su identificador MeF.
func (r *AcknowledgmentRepo) GetByAckID(ctx context.Context, ackID string) (*entity.Acknowledgment, error) {
	query := `
		SELECT id, ack_id, submission_id, status, COALESCE(dcn, ''),
		       acked_at, return_type, tax_year, errors_json
		FROM mef_acknowledgments WHERE ack_id = $1`
	ack, err := scanAck(r.q.QueryRow(ctx, query, ackID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get acknowledgment: %w", err)
	}
	return ack, nil
}

// ListBySubmissionID lista los acuses de un envío en orden de llegada.
func (r *AcknowledgmentRepo) ListBySubmissionID(ctx context.Context, submissionID string) ([]*entity.Acknowledgment, error) {
	query := `
		SELECT id, ack_id, submission_id, status, COALESCE(dcn, ''),
		       acked_at, return_type, tax_year, errors_json
		FROM mef_acknowledgments WHERE submission_id = $1 ORDER BY acked_at`
	rows, err := r.q.Query(ctx, query, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list acknowledgments: %w", err)
	}
	defer rows.Close()

	var list []*entity.Acknowledgment
	for rows.Next() {
		ack, err := scanAck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan acknowledgment: %w", err)
		}
		list = append(list, ack)
	}
	return list, rows.Err()
}

// scanAck deserializa una fila de mef_acknowledgments, errors_json incluido.
func scanAck(row pgx.Row) (*entity.Acknowledgment, error) {
	var ack entity.Acknowledgment
	var errorsJSON []byte
	if err := row.Scan(
		&ack.ID, &ack.AckID, &ack.SubmissionID, &ack.Status, &ack.DCN,
		&ack.Timestamp, &ack.ReturnType, &ack.TaxYear, &errorsJSON,
	); err != nil {
		return nil, err
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &ack.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal ack errors: %w", err)
		}
	}
	return &ack, nil
}

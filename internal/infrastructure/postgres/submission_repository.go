package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
)

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo implementación de SubmissionRepository (usable con pool o tx).
type SubmissionRepo struct {
	q Querier
}

// NewSubmissionRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSubmissionRepository(q Querier) *SubmissionRepo {
	return &SubmissionRepo{q: q}
}

// Create persiste el registro del envío. El submission_id es la PK:
// reintentar un insert del mismo envío retorna ErrDuplicate.
func (r *SubmissionRepo) Create(ctx context.Context, s *entity.Submission) error {
	query := `
		INSERT INTO mef_submissions (submission_id, efin, etin, submitted_at, status,
		                             return_type, tax_year, environment, request_xml, response_xml)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.Exec(ctx, query,
		s.SubmissionID, s.EFIN, s.ETIN, s.Timestamp, s.Status,
		s.ReturnType, s.TaxYear, s.Environment,
		nullIfEmpty(s.RequestXML), nullIfEmpty(s.ResponseXML),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("submission %s: %w", s.SubmissionID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// GetByID obtiene el envío completo, incluido el XML de auditoría.
func (r *SubmissionRepo) GetByID(ctx context.Context, submissionID string) (*entity.Submission, error) {
	query := `
		SELECT submission_id, efin, etin, submitted_at, status,
		       return_type, tax_year, environment,
		       COALESCE(request_xml, ''), COALESCE(response_xml, '')
		FROM mef_submissions WHERE submission_id = $1`
	var s entity.Submission
	err := r.q.QueryRow(ctx, query, submissionID).Scan(
		&s.SubmissionID, &s.EFIN, &s.ETIN, &s.Timestamp, &s.Status,
		&s.ReturnType, &s.TaxYear, &s.Environment,
		&s.RequestXML, &s.ResponseXML,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return &s, nil
}

// GetStatus consulta ligera para polling: solo el status, "" si no existe.
func (r *SubmissionRepo) GetStatus(ctx context.Context, submissionID string) (string, error) {
	var status string
	err := r.q.QueryRow(ctx,
		`SELECT status FROM mef_submissions WHERE submission_id = $1`, submissionID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get submission status: %w", err)
	}
	return status, nil
}

// UpdateStatus actualiza el status reportado por el IRS.
func (r *SubmissionRepo) UpdateStatus(ctx context.Context, submissionID, status string) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE mef_submissions SET status = $2 WHERE submission_id = $1`,
		submissionID, status,
	)
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

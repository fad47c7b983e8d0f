package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
)

var _ repository.TransmissionRepository = (*TransmissionRepo)(nil)

// TransmissionRepo implementación de TransmissionRepository (usable con pool o tx).
type TransmissionRepo struct {
	q Querier
}

// NewTransmissionRepository construye el adaptador. Pasar pool o tx (Querier).
func NewTransmissionRepository(q Querier) *TransmissionRepo {
	return &TransmissionRepo{q: q}
}

const transmissionColumns = `
	id, return_id, client_id, preparer_id, method, status,
	COALESCE(irs_submission_id, ''), COALESCE(ack_code, ''), COALESCE(ack_message, ''),
	COALESCE(dcn, ''), efin, COALESCE(etin, ''), environment,
	refund_amt, balance_due_amt, created_at, updated_at`

// Create persiste el registro de transmisión en su estado inicial.
func (r *TransmissionRepo) Create(ctx context.Context, t *entity.Transmission) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	query := `
		INSERT INTO efile_transmissions (id, return_id, client_id, preparer_id, method, status,
		                                 irs_submission_id, ack_code, ack_message, dcn,
		                                 efin, etin, environment, refund_amt, balance_due_amt,
		                                 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := r.q.Exec(ctx, query,
		t.ID, t.ReturnID, t.ClientID, t.PreparerID, t.Method, t.Status,
		nullIfEmpty(t.IRSSubmissionID), nullIfEmpty(t.AckCode), nullIfEmpty(t.AckMessage),
		nullIfEmpty(t.DCN), t.EFIN, nullIfEmpty(t.ETIN), t.Environment,
		t.RefundAmt, t.BalanceDueAmt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transmission %s: %w", t.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert transmission: %w", err)
	}
	return nil
}

// Update escribe status y campos de acuse. Es la escritura durable de la
// máquina de estados: sus errores se propagan siempre al caller.
func (r *TransmissionRepo) Update(ctx context.Context, t *entity.Transmission) error {
	t.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE efile_transmissions
		SET status            = $2,
		    irs_submission_id = COALESCE($3, irs_submission_id),
		    ack_code          = COALESCE($4, ack_code),
		    ack_message       = COALESCE($5, ack_message),
		    dcn               = COALESCE($6, dcn),
		    updated_at        = $7
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		t.ID, t.Status,
		nullIfEmpty(t.IRSSubmissionID), nullIfEmpty(t.AckCode),
		nullIfEmpty(t.AckMessage), nullIfEmpty(t.DCN),
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transmission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID obtiene una transmisión por su id interno.
func (r *TransmissionRepo) GetByID(ctx context.Context, id string) (*entity.Transmission, error) {
	query := `SELECT ` + transmissionColumns + ` FROM efile_transmissions WHERE id = $1`
	t, err := scanTransmission(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get transmission: %w", err)
	}
	return t, nil
}

// GetBySubmissionID obtiene la transmisión asociada a un submission id del IRS.
// Es el lookup de la reconciliación de acuses.
func (r *TransmissionRepo) GetBySubmissionID(ctx context.Context, irsSubmissionID string) (*entity.Transmission, error) {
	query := `SELECT ` + transmissionColumns + ` FROM efile_transmissions WHERE irs_submission_id = $1`
	t, err := scanTransmission(r.q.QueryRow(ctx, query, irsSubmissionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get transmission by submission: %w", err)
	}
	return t, nil
}

// ListByStatus lista transmisiones por estado, las más antiguas primero
// (el reconciliador procesa en orden de llegada).
func (r *TransmissionRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*entity.Transmission, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + transmissionColumns + `
		FROM efile_transmissions WHERE status = $1 ORDER BY created_at LIMIT $2`
	rows, err := r.q.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list transmissions: %w", err)
	}
	defer rows.Close()

	var list []*entity.Transmission
	for rows.Next() {
		t, err := scanTransmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transmission: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func scanTransmission(row pgx.Row) (*entity.Transmission, error) {
	var t entity.Transmission
	if err := row.Scan(
		&t.ID, &t.ReturnID, &t.ClientID, &t.PreparerID, &t.Method, &t.Status,
		&t.IRSSubmissionID, &t.AckCode, &t.AckMessage,
		&t.DCN, &t.EFIN, &t.ETIN, &t.Environment,
		&t.RefundAmt, &t.BalanceDueAmt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

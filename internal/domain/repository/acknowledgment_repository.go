package repository

import (
	"context"

	"github.com/jhoicas/Efile-api/internal/domain/entity"
)

// AcknowledgmentRepository puerto de persistencia para acuses MeF.
// El índice único sobre ack_id hace durable la garantía at-most-once:
// Create con un ack_id ya visto retorna domain.ErrDuplicate.
type AcknowledgmentRepository interface {
	Create(ctx context.Context, ack *entity.Acknowledgment) error
	ExistsByAckID(ctx context.Context, ackID string) (bool, error)
	GetByAckID(ctx context.Context, ackID string) (*entity.Acknowledgment, error)
	ListBySubmissionID(ctx context.Context, submissionID string) ([]*entity.Acknowledgment, error)
}

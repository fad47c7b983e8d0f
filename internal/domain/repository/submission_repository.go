package repository

import (
	"context"

	"github.com/jhoicas/Efile-api/internal/domain/entity"
)

// SubmissionRepository puerto de persistencia para envíos MeF (append-only,
// solo el status se actualiza cuando el IRS reporta cambios).
type SubmissionRepository interface {
	Create(ctx context.Context, s *entity.Submission) error
	GetByID(ctx context.Context, submissionID string) (*entity.Submission, error)
	// GetStatus devuelve solo el status (ligero, para polling). "" si no existe.
	GetStatus(ctx context.Context, submissionID string) (string, error)
	UpdateStatus(ctx context.Context, submissionID, status string) error
}

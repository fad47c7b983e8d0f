package repository

import (
	"context"

	"github.com/jhoicas/Efile-api/internal/domain/entity"
)

// TransmissionRepository puerto de persistencia para registros de transmisión.
// Update escribe status y campos de acuse; es la fuente de verdad durable,
// sus errores NUNCA se tragan (a diferencia de logs y auditoría).
type TransmissionRepository interface {
	Create(ctx context.Context, t *entity.Transmission) error
	Update(ctx context.Context, t *entity.Transmission) error
	GetByID(ctx context.Context, id string) (*entity.Transmission, error)
	GetBySubmissionID(ctx context.Context, irsSubmissionID string) (*entity.Transmission, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*entity.Transmission, error)
}

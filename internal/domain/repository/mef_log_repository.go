package repository

import (
	"context"

	"github.com/jhoicas/Efile-api/internal/domain/entity"
)

// MefLogRepository puerto de persistencia del log estructurado de operaciones MeF.
// Best-effort: los fallos de escritura se registran en consola y se descartan,
// nunca bloquean la lógica de envío.
type MefLogRepository interface {
	Insert(ctx context.Context, e *entity.LogEntry) error
	Recent(ctx context.Context, limit int) ([]*entity.LogEntry, error)
}

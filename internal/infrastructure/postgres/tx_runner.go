package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/Efile-api/internal/application/efile"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
)

var _ efile.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
// La reconciliación de acuses persiste el acuse y actualiza la transmisión
// en la misma tx: o entran los dos, o ninguno.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunReconcile inicia una transacción, ejecuta fn con repos atados a la tx
// y hace Commit o Rollback.
func (r *TxRunner) RunReconcile(ctx context.Context, fn func(
	ackRepo repository.AcknowledgmentRepository,
	txRepo repository.TransmissionRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ackRepo := NewAcknowledgmentRepository(tx)
	txRepo := NewTransmissionRepository(tx)

	if err := fn(ackRepo, txRepo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

package efile

import (
	"context"

	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
	infmef "github.com/jhoicas/Efile-api/internal/infrastructure/mef"
)

// TxRunner ejecuta una función dentro de una transacción que incluye los
// repos de acuses y transmisiones: al reconciliar, el acuse y la
// actualización de la transmisión entran juntos o no entran.
type TxRunner interface {
	RunReconcile(ctx context.Context, fn func(
		ackRepo repository.AcknowledgmentRepository,
		txRepo repository.TransmissionRepository,
	) error) error
}

// MefClient puerto de salida hacia el gateway IRS MeF. La implementación
// real vive en infrastructure/mef; los tests inyectan un fake.
//
// El cliente del orquestador se cablea SIN repositorio de acuses: la
// persistencia durable del acuse ocurre dentro de la transacción de
// reconciliación, no en el cliente.
type MefClient interface {
	Preflight() error
	Simulation() bool
	SendSubmission(ctx context.Context, returnXML, returnType, taxYear string) *infmef.OperationResult[*entity.Submission]
	GetSubmissionStatus(ctx context.Context, submissionID string) *infmef.OperationResult[string]
	GetAcknowledgment(ctx context.Context, submissionID string) *infmef.OperationResult[*entity.Acknowledgment]
	GetNewAcknowledgments(ctx context.Context) *infmef.OperationResult[[]*entity.Acknowledgment]
	Info() map[string]any
}

package efile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
	"github.com/jhoicas/Efile-api/pkg/logger"
)

// Orchestrator orquesta el ciclo completo de una transmisión e-file:
//
//	pending → transmitting → {accepted, rejected, error}
//
// El registro de transmisión es la fuente de verdad del negocio: se persiste
// ANTES de tocar la red (transmitting) y SIEMPRE termina en un estado
// definido. Los errores al escribir estados se devuelven, nunca se tragan.
//
// Modos de operación (controlados por el cliente MeF):
//   - simulación (sin certificado) → valida y acepta localmente, cero tráfico al IRS.
//   - ATS / PRODUCTION → envío real con reintentos; el acuse llega por reconciliación.
type Orchestrator struct {
	txRepo repository.TransmissionRepository
	client MefClient
	runner TxRunner
	log    *logger.Logger
}

// NewOrchestrator construye el orquestador con todas sus dependencias.
func NewOrchestrator(
	txRepo repository.TransmissionRepository,
	client MefClient,
	runner TxRunner,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		txRepo: txRepo,
		client: client,
		runner: runner,
		log:    log.WithOperation("efile-orchestrator"),
	}
}

// Transmit ejecuta el ciclo de envío para una transmisión ya armada por el
// negocio (return_id, montos, método). returnXML vacío solo se admite en
// dryRun: es el camino de demo ATS, acepta sin validar ni transmitir.
//
// Devuelve siempre la transmisión con su estado final persistido. El error
// devuelto distingue fallo de negocio (kill switch, validación, gateway) de
// fallo de persistencia; con errors.Is se puede inspeccionar la causa.
func (o *Orchestrator) Transmit(ctx context.Context, t *entity.Transmission, returnXML, returnType, taxYear string, dryRun bool) (*entity.Transmission, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: transmisión nil", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(returnXML) == "" && !dryRun {
		return nil, fmt.Errorf("%w: returnXML vacío (solo permitido en dry run)", domain.ErrInvalidInput)
	}

	// markError persiste el estado error con su mensaje. Si la escritura
	// falla, ESE error reemplaza al de negocio: la DB manda.
	markError := func(step, msg string) error {
		t.Status = entity.TransmissionStatusError
		t.AckMessage = msg
		t.UpdatedAt = time.Now()
		if uerr := o.txRepo.Update(ctx, t); uerr != nil {
			return fmt.Errorf("persistiendo estado error (%s): %w", step, uerr)
		}
		o.log.Warn().Str("transmission_id", t.ID).Str("step", step).Msg(msg)
		return nil
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 0. Registrar la transmisión en pending (fuente de verdad desde el inicio)
	// ═══════════════════════════════════════════════════════════════════════════
	t.Status = entity.TransmissionStatusPending
	t.Environment = environmentOf(o.client)
	if err := o.txRepo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("creando registro de transmisión: %w", err)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 1. Dry run: demo ATS, acepta sin tocar validador ni red
	// ═══════════════════════════════════════════════════════════════════════════
	if dryRun {
		t.Status = entity.TransmissionStatusAccepted
		t.IRSSubmissionID = "TEST-" + strings.ToUpper(uuid.NewString()[:8])
		t.AckCode = "A0000"
		t.AckMessage = "Dry run aceptado (demo ATS, sin envío)"
		t.UpdatedAt = time.Now()
		if err := o.txRepo.Update(ctx, t); err != nil {
			return t, fmt.Errorf("persistiendo dry run: %w", err)
		}
		o.log.Info().Str("transmission_id", t.ID).Str("irs_submission_id", t.IRSSubmissionID).
			Msg("dry run aceptado sin transmisión")
		return t, nil
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 2. Preflight: kill switch primero, luego aprobación Software Developer.
	//    Falla ANTES de marcar transmitting: la transmisión nunca queda colgada.
	// ═══════════════════════════════════════════════════════════════════════════
	if err := o.client.Preflight(); err != nil {
		if werr := markError("preflight", err.Error()); werr != nil {
			return t, werr
		}
		return t, err
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 3. Simulación: valida y acepta localmente, sin pasar por transmitting
	// ═══════════════════════════════════════════════════════════════════════════
	if o.client.Simulation() {
		res := o.client.SendSubmission(ctx, returnXML, returnType, taxYear)
		if !res.Success {
			if werr := markError("simulated-send", res.ErrorMessage()); werr != nil {
				return t, werr
			}
			return t, res.Err
		}
		sub := res.Data
		t.Status = entity.TransmissionStatusAccepted
		t.IRSSubmissionID = sub.SubmissionID
		t.EFIN = sub.EFIN
		t.ETIN = sub.ETIN
		t.AckCode = "A0000"
		t.AckMessage = "Aceptada (simulación sin certificado)"
		t.UpdatedAt = time.Now()
		if err := o.txRepo.Update(ctx, t); err != nil {
			return t, fmt.Errorf("persistiendo aceptación simulada: %w", err)
		}
		o.log.Info().Str("transmission_id", t.ID).Str("irs_submission_id", t.IRSSubmissionID).
			Msg("transmisión aceptada en simulación")
		return t, nil
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 4. Envío real: transmitting ANTES de la red, pending al recibir receipt
	// ═══════════════════════════════════════════════════════════════════════════
	t.Status = entity.TransmissionStatusTransmitting
	t.UpdatedAt = time.Now()
	if err := o.txRepo.Update(ctx, t); err != nil {
		return t, fmt.Errorf("persistiendo transmitting: %w", err)
	}

	res := o.client.SendSubmission(ctx, returnXML, returnType, taxYear)
	if !res.Success {
		if werr := markError("send", res.ErrorMessage()); werr != nil {
			return t, werr
		}
		return t, res.Err
	}

	sub := res.Data
	t.Status = entity.TransmissionStatusPending // receipt recibido, acuse pendiente
	t.IRSSubmissionID = sub.SubmissionID
	t.EFIN = sub.EFIN
	t.ETIN = sub.ETIN
	t.UpdatedAt = time.Now()
	if err := o.txRepo.Update(ctx, t); err != nil {
		return t, fmt.Errorf("persistiendo receipt: %w", err)
	}

	o.log.Info().Str("transmission_id", t.ID).Str("irs_submission_id", t.IRSSubmissionID).
		Str("environment", t.Environment).Msg("transmisión enviada, esperando acuse")
	return t, nil
}

// CheckStatus consulta el estado MeF del envío asociado a la transmisión.
// Si el gateway reporta estado terminal, intenta traer el acuse y aplicarlo
// de inmediato (misma semántica que la reconciliación batch).
func (o *Orchestrator) CheckStatus(ctx context.Context, transmissionID string) (*entity.Transmission, string, error) {
	t, err := o.txRepo.GetByID(ctx, transmissionID)
	if err != nil {
		return nil, "", err
	}
	if t.IRSSubmissionID == "" {
		return t, "", fmt.Errorf("%w: transmisión %s sin submission id (¿nunca enviada?)", domain.ErrInvalidInput, transmissionID)
	}

	res := o.client.GetSubmissionStatus(ctx, t.IRSSubmissionID)
	if !res.Success {
		return t, "", res.Err
	}
	status := res.Data

	if status == entity.MefStatusAccepted || status == entity.MefStatusRejected {
		ares := o.client.GetAcknowledgment(ctx, t.IRSSubmissionID)
		if ares.Success && ares.Data != nil {
			if _, aerr := o.applyAck(ctx, ares.Data); aerr != nil {
				return t, status, aerr
			}
			// releer: el acuse pudo cambiar el estado del negocio
			if fresh, gerr := o.txRepo.GetByID(ctx, transmissionID); gerr == nil {
				t = fresh
			}
		}
	}
	return t, status, nil
}

// StoredTransmission lee una transmisión tal como está persistida, sin
// consultar el gateway.
func (o *Orchestrator) StoredTransmission(ctx context.Context, transmissionID string) (*entity.Transmission, error) {
	return o.txRepo.GetByID(ctx, transmissionID)
}

// ListByStatus lista transmisiones por estado del negocio.
func (o *Orchestrator) ListByStatus(ctx context.Context, status string, limit int) ([]*entity.Transmission, error) {
	return o.txRepo.ListByStatus(ctx, status, limit)
}

func environmentOf(c MefClient) string {
	if env, ok := c.Info()["environment"].(string); ok {
		return env
	}
	return ""
}

package efile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
)

// ReconcileAcknowledgments trae los acuses nuevos del gateway y los aplica a
// sus transmisiones. Cada acuse entra en su propia transacción: persistir el
// acuse y actualizar la transmisión son atómicos. Un acuse que falla se
// registra y no detiene el batch.
//
// Devuelve cuántos acuses se aplicaron a una transmisión (los duplicados y
// los huérfanos no cuentan).
func (o *Orchestrator) ReconcileAcknowledgments(ctx context.Context) (int, error) {
	res := o.client.GetNewAcknowledgments(ctx)
	if !res.Success {
		return 0, res.Err
	}

	applied := 0
	for _, ack := range res.Data {
		ok, err := o.applyAck(ctx, ack)
		if err != nil {
			o.log.Error().Err(err).Str("ack_id", ack.AckID).Str("submission_id", ack.SubmissionID).
				Msg("error aplicando acuse, se continúa con el batch")
			continue
		}
		if ok {
			applied++
		}
	}

	o.log.Info().Int("received", len(res.Data)).Int("applied", applied).
		Msg("reconciliación de acuses completada")
	return applied, nil
}

// applyAck persiste el acuse y actualiza su transmisión en una sola
// transacción. Idempotente: un ack_id ya persistido retorna sin tocar nada.
// Un acuse sin transmisión conocida (huérfano) se persiste igual, para que
// el batch siguiente no lo re-procese.
func (o *Orchestrator) applyAck(ctx context.Context, ack *entity.Acknowledgment) (bool, error) {
	applied := false
	err := o.runner.RunReconcile(ctx, func(ackRepo repository.AcknowledgmentRepository, txRepo repository.TransmissionRepository) error {
		if err := ackRepo.Create(ctx, ack); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				o.log.Debug().Str("ack_id", ack.AckID).Msg("acuse ya aplicado (descarte idempotente)")
				return nil
			}
			return err
		}

		t, err := txRepo.GetBySubmissionID(ctx, ack.SubmissionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				o.log.Warn().Str("ack_id", ack.AckID).Str("submission_id", ack.SubmissionID).
					Msg("acuse huérfano: sin transmisión asociada, se persiste solo el acuse")
				return nil
			}
			return err
		}

		if !o.applyAckFields(t, ack) {
			return nil
		}
		t.UpdatedAt = time.Now()
		if err := txRepo.Update(ctx, t); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// applyAckFields vuelca el acuse sobre la transmisión. Estados terminales
// nunca se revierten: un acuse tardío solo completa campos vacíos (DCN,
// códigos). Devuelve si hubo algo que escribir.
func (o *Orchestrator) applyAckFields(t *entity.Transmission, ack *entity.Acknowledgment) bool {
	var newStatus string
	switch ack.Status {
	case entity.MefStatusAccepted:
		newStatus = entity.TransmissionStatusAccepted
	case entity.MefStatusRejected:
		newStatus = entity.TransmissionStatusRejected
	default:
		o.log.Warn().Str("ack_id", ack.AckID).Str("status", ack.Status).
			Msg("acuse con estado no terminal, se ignora")
		return false
	}

	code, msg := ackCodeMessage(ack)

	if t.Terminal() {
		if t.Status != newStatus {
			o.log.Warn().Str("transmission_id", t.ID).Str("current", t.Status).Str("incoming", newStatus).
				Msg("acuse tardío intenta revertir estado terminal, solo se refinan campos")
		}
		changed := false
		if t.DCN == "" && ack.DCN != "" {
			t.DCN = ack.DCN
			changed = true
		}
		if t.AckCode == "" {
			t.AckCode = code
			changed = true
		}
		if t.AckMessage == "" {
			t.AckMessage = msg
			changed = true
		}
		return changed
	}

	t.Status = newStatus
	t.DCN = ack.DCN
	t.AckCode = code
	t.AckMessage = msg
	return true
}

// ackCodeMessage deriva código y mensaje de negocio de un acuse.
// Aceptada → A0000. Rechazada → el primer código de error del IRS (R0000 si
// el acuse no trae detalle) y los mensajes concatenados.
func ackCodeMessage(ack *entity.Acknowledgment) (string, string) {
	if ack.Accepted() {
		return "A0000", "Declaración aceptada por el IRS"
	}
	code := "R0000"
	if len(ack.Errors) > 0 && ack.Errors[0].Code != "" {
		code = ack.Errors[0].Code
	}
	msgs := make([]string, 0, len(ack.Errors))
	for _, e := range ack.Errors {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	msg := "Declaración rechazada por el IRS"
	if len(msgs) > 0 {
		msg = strings.Join(msgs, "; ")
	}
	return code, msg
}

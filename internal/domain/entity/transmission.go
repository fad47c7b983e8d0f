package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del registro de transmisión e-file (máquina de estados del negocio).
//
//	pending → transmitting → {accepted, rejected, error}
//
// Las transiciones son unidireccionales: una vez accepted o rechazado,
// acuses posteriores solo refinan campos (DCN, códigos), nunca revierten.
const (
	TransmissionStatusPending      = "pending"
	TransmissionStatusTransmitting = "transmitting"
	TransmissionStatusAccepted     = "accepted"
	TransmissionStatusRejected     = "rejected"
	TransmissionStatusError        = "error"
)

// Métodos de presentación.
const (
	MethodDIY = "DIY" // El contribuyente presenta por sí mismo
	MethodERO = "ERO" // Presenta un Electronic Return Originator (PTIN)
)

// Transmission liga una declaración del negocio (return_id) con un envío MeF
// (irs_submission_id) y expone su estado al resto del sistema.
type Transmission struct {
	ID              string
	ReturnID        int64
	ClientID        int64
	PreparerID      int64 // 0 si método DIY
	Method          string
	Status          string
	IRSSubmissionID string
	AckCode         string
	AckMessage      string
	DCN             string
	EFIN            string
	ETIN            string
	Environment     string
	RefundAmt       decimal.Decimal // Reembolso esperado según la declaración
	BalanceDueAmt   decimal.Decimal // Saldo a pagar según la declaración
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal indica si el estado ya no admite transición de estado
// (solo refinamiento de campos de acuse).
func (t *Transmission) Terminal() bool {
	return t.Status == TransmissionStatusAccepted || t.Status == TransmissionStatusRejected
}

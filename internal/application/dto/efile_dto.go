package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/Efile-api/internal/domain/entity"
)

// CreateTransmissionRequest arma y dispara una transmisión e-file.
// ReturnXML vacío solo se admite con DryRun (demo ATS).
type CreateTransmissionRequest struct {
	ReturnID      int64           `json:"returnId" validate:"required"`
	ClientID      int64           `json:"clientId" validate:"required"`
	PreparerID    int64           `json:"preparerId"`
	Method        string          `json:"method"` // DIY | ERO
	ReturnType    string          `json:"returnType" validate:"required"`
	TaxYear       string          `json:"taxYear" validate:"required"`
	ReturnXML     string          `json:"returnXml"`
	DryRun        bool            `json:"dryRun"`
	RefundAmt     decimal.Decimal `json:"refundAmt"`
	BalanceDueAmt decimal.Decimal `json:"balanceDueAmt"`
}

// TransmissionResponse vista HTTP de un registro de transmisión.
type TransmissionResponse struct {
	ID              string          `json:"id"`
	ReturnID        int64           `json:"returnId"`
	ClientID        int64           `json:"clientId"`
	PreparerID      int64           `json:"preparerId,omitempty"`
	Method          string          `json:"method"`
	Status          string          `json:"status"`
	IRSSubmissionID string          `json:"irsSubmissionId,omitempty"`
	AckCode         string          `json:"ackCode,omitempty"`
	AckMessage      string          `json:"ackMessage,omitempty"`
	DCN             string          `json:"dcn,omitempty"`
	EFIN            string          `json:"efin,omitempty"`
	ETIN            string          `json:"etin,omitempty"`
	Environment     string          `json:"environment"`
	RefundAmt       decimal.Decimal `json:"refundAmt"`
	BalanceDueAmt   decimal.Decimal `json:"balanceDueAmt"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// TransmissionFromEntity mapea la entidad a su vista HTTP.
func TransmissionFromEntity(t *entity.Transmission) TransmissionResponse {
	return TransmissionResponse{
		ID:              t.ID,
		ReturnID:        t.ReturnID,
		ClientID:        t.ClientID,
		PreparerID:      t.PreparerID,
		Method:          t.Method,
		Status:          t.Status,
		IRSSubmissionID: t.IRSSubmissionID,
		AckCode:         t.AckCode,
		AckMessage:      t.AckMessage,
		DCN:             t.DCN,
		EFIN:            t.EFIN,
		ETIN:            t.ETIN,
		Environment:     t.Environment,
		RefundAmt:       t.RefundAmt,
		BalanceDueAmt:   t.BalanceDueAmt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// TransmissionErrorResponse error de negocio que dejó la transmisión en un
// estado persistido (error). Incluye el registro para que el cliente no
// tenga que hacer un GET adicional.
type TransmissionErrorResponse struct {
	Code         string                `json:"code"`
	Message      string                `json:"message"`
	Transmission *TransmissionResponse `json:"transmission,omitempty"`
}

// TransmissionStatusResponse resultado de consultar el estado MeF de un envío.
type TransmissionStatusResponse struct {
	TransmissionID string               `json:"transmissionId"`
	MefStatus      string               `json:"mefStatus"`
	Transmission   TransmissionResponse `json:"transmission"`
}

// ValidateReturnRequest valida una declaración sin transmitirla.
type ValidateReturnRequest struct {
	ReturnType  string `json:"returnType" validate:"required"`
	TaxYear     string `json:"taxYear"`
	Environment string `json:"environment"` // ATS | PRODUCTION; por defecto ATS
	ReturnXML   string `json:"returnXml" validate:"required"`
}

// ReconcileResponse resultado de un batch de reconciliación de acuses.
type ReconcileResponse struct {
	Applied int `json:"applied"`
}

// MefLogResponse vista HTTP de una entrada de log MeF persistida.
type MefLogResponse struct {
	ID           string         `json:"id"`
	LoggedAt     time.Time      `json:"loggedAt"`
	Level        string         `json:"level"`
	Operation    string         `json:"operation"`
	SubmissionID string         `json:"submissionId,omitempty"`
	Environment  string         `json:"environment"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
}

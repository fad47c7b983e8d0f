package entity

import "time"

// Estados MeF de un envío (Status del SubmissionReceipt / StatusRecord).
const (
	MefStatusReceived   = "Received"   // Aceptado por el gateway, pendiente de proceso
	MefStatusProcessing = "Processing" // En proceso en el IRS
	MefStatusAccepted   = "Accepted"   // Declaración aceptada
	MefStatusRejected   = "Rejected"   // Declaración rechazada con errores
	MefStatusError      = "Error"      // Error de transporte o interno
	MefStatusPending    = "Pending"    // Sin acuse todavía
)

// Submission registro append-only de un envío al gateway MeF.
// SubmissionID es la clave de idempotencia para consultas de estado y acuses.
type Submission struct {
	SubmissionID string
	EFIN         string
	ETIN         string
	Timestamp    time.Time
	Status       string
	ReturnType   string
	TaxYear      string
	Environment  string // ATS | PRODUCTION
	RequestXML   string // Envelope enviado (auditoría)
	ResponseXML  string // Respuesta cruda (auditoría; vacío en simulación)
}

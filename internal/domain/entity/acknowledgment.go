package entity

import "time"

// AckError detalle de rechazo dentro de un acuse MeF (business rule violada).
type AckError struct {
	Code     string `json:"errorCode"`
	Category string `json:"errorCategory"`
	Message  string `json:"errorMessage"`
}

// Acknowledgment acuse asíncrono del IRS para un envío.
// Invariante: un AckID persistido nunca se procesa dos veces, aunque el
// gateway lo reentregue o aparezca de nuevo en un pull batch. El índice
// único sobre ack_id es la garantía durable; el set en memoria del cliente
// es solo un atajo.
type Acknowledgment struct {
	ID           string // fila (uuid), generado al persistir
	AckID        string
	SubmissionID string
	Status       string // Accepted | Rejected
	DCN          string // Document Control Number (solo en aceptadas)
	Timestamp    time.Time
	ReturnType   string
	TaxYear      string
	Errors       []AckError
}

// Accepted indica si el acuse es de aceptación.
func (a *Acknowledgment) Accepted() bool {
	return a.Status == MefStatusAccepted
}

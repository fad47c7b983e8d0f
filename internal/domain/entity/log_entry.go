package entity

import "time"

// Niveles de log persistidos para operaciones MeF.
const (
	LogLevelDebug = "DEBUG"
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)

// LogEntry renglón de auditoría de una operación MeF. Write-once; el orden
// dentro de una operación lógica es el orden de append.
type LogEntry struct {
	ID           string
	Timestamp    time.Time
	Level        string
	Operation    string // SendSubmission, GetStatus, GetAck, GetNewAcks, Init...
	SubmissionID string // vacío si no aplica
	Environment  string
	Message      string
	Details      map[string]any // serializado a JSON al persistir
}

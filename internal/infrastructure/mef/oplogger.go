package mef

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
	"github.com/jhoicas/Efile-api/pkg/logger"
)

// OpLogger log estructurado de operaciones MeF: escribe a zerolog y
// persiste cada renglón vía el repositorio. La persistencia es best-effort
// y asíncrona: un fallo de base de datos jamás bloquea ni aborta un envío.
type OpLogger struct {
	log         *logger.Logger
	repo        repository.MefLogRepository // nil = solo consola
	environment string
}

// NewOpLogger construye el logger de operaciones. repo puede ser nil.
func NewOpLogger(log *logger.Logger, repo repository.MefLogRepository, environment string) *OpLogger {
	return &OpLogger{log: log, repo: repo, environment: environment}
}

func (l *OpLogger) Debug(op, msg string, details map[string]any) {
	l.emit(entity.LogLevelDebug, op, msg, details)
}

func (l *OpLogger) Info(op, msg string, details map[string]any) {
	l.emit(entity.LogLevelInfo, op, msg, details)
}

func (l *OpLogger) Warn(op, msg string, details map[string]any) {
	l.emit(entity.LogLevelWarn, op, msg, details)
}

func (l *OpLogger) Error(op, msg string, details map[string]any) {
	l.emit(entity.LogLevelError, op, msg, details)
}

func (l *OpLogger) emit(level, op, msg string, details map[string]any) {
	entry := &entity.LogEntry{
		Timestamp:   time.Now().UTC(),
		Level:       level,
		Operation:   op,
		Environment: l.environment,
		Message:     msg,
		Details:     details,
	}
	if details != nil {
		if id, ok := details["submissionId"].(string); ok {
			entry.SubmissionID = id
		}
	}

	ev := l.console(level).Str("operation", op).Str("environment", l.environment)
	if entry.SubmissionID != "" {
		ev = ev.Str("submission_id", entry.SubmissionID)
	}
	ev.Fields(details).Msg(msg)

	l.persist(entry)
}

func (l *OpLogger) console(level string) *zerolog.Event {
	switch level {
	case entity.LogLevelDebug:
		return l.log.Debug()
	case entity.LogLevelWarn:
		return l.log.Warn()
	case entity.LogLevelError:
		return l.log.Error()
	default:
		return l.log.Info()
	}
}

// persist escribe el renglón en background con su propio deadline. El error
// se reporta solo a consola: la auditoría nunca es parte del camino crítico.
func (l *OpLogger) persist(entry *entity.LogEntry) {
	if l.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.repo.Insert(ctx, entry); err != nil {
			l.log.Warn().Err(err).Str("operation", entry.Operation).
				Msg("no se pudo persistir el renglón de log MeF")
		}
	}()
}

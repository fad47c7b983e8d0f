package http

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Efile-api/internal/application/dto"
	"github.com/jhoicas/Efile-api/internal/application/efile"
	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
	"github.com/jhoicas/Efile-api/internal/domain/rules"
)

// EfileHandler maneja las peticiones HTTP del módulo e-file.
type EfileHandler struct {
	orch      *efile.Orchestrator
	client    efile.MefClient
	validator *rules.Validator
	logRepo   repository.MefLogRepository
}

// NewEfileHandler construye el handler. logRepo puede ser nil (sin endpoint de logs).
func NewEfileHandler(orch *efile.Orchestrator, client efile.MefClient, validator *rules.Validator, logRepo repository.MefLogRepository) *EfileHandler {
	return &EfileHandler{orch: orch, client: client, validator: validator, logRepo: logRepo}
}

// CreateTransmission arma la transmisión y dispara el envío (síncrono:
// al responder, el registro ya está en su estado final o en pending
// esperando acuse).
// POST /api/efile/transmissions
func (h *EfileHandler) CreateTransmission(c *fiber.Ctx) error {
	var in dto.CreateTransmissionRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.ReturnID == 0 || in.ReturnType == "" || in.TaxYear == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "returnId, returnType y taxYear son requeridos"})
	}
	method := in.Method
	if method == "" {
		method = entity.MethodERO
	}

	t := &entity.Transmission{
		ReturnID:      in.ReturnID,
		ClientID:      in.ClientID,
		PreparerID:    in.PreparerID,
		Method:        method,
		RefundAmt:     in.RefundAmt,
		BalanceDueAmt: in.BalanceDueAmt,
	}

	t, err := h.orch.Transmit(c.Context(), t, in.ReturnXML, in.ReturnType, in.TaxYear, in.DryRun)
	if err != nil {
		return transmitError(c, t, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.TransmissionFromEntity(t))
}

// GetTransmission obtiene una transmisión por su id interno.
// GET /api/efile/transmissions/:id
func (h *EfileHandler) GetTransmission(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	t, err := h.orch.StoredTransmission(c.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "transmisión no encontrada"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(dto.TransmissionFromEntity(t))
}

// GetTransmissionStatus consulta el estado MeF en el gateway y lo aplica
// si ya es terminal.
// GET /api/efile/transmissions/:id/status
func (h *EfileHandler) GetTransmissionStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	t, status, err := h.orch.CheckStatus(c.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "transmisión no encontrada"})
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
		}
		if errors.Is(err, domain.ErrUnparsableResponse) {
			return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "UNPARSABLE_RESPONSE", Message: "el gateway respondió sin un estado reconocible"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(dto.TransmissionStatusResponse{
		TransmissionID: t.ID,
		MefStatus:      status,
		Transmission:   dto.TransmissionFromEntity(t),
	})
}

// ListTransmissions lista transmisiones por estado.
// GET /api/efile/transmissions?status=pending&limit=50
func (h *EfileHandler) ListTransmissions(c *fiber.Ctx) error {
	status := c.Query("status", entity.TransmissionStatusPending)
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	list, err := h.orch.ListByStatus(c.Context(), status, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.TransmissionResponse, 0, len(list))
	for _, t := range list {
		out = append(out, dto.TransmissionFromEntity(t))
	}
	return c.JSON(out)
}

// Reconcile trae los acuses nuevos del gateway y los aplica.
// POST /api/efile/acknowledgments/reconcile
func (h *EfileHandler) Reconcile(c *fiber.Ctx) error {
	applied, err := h.orch.ReconcileAcknowledgments(c.Context())
	if err != nil {
		if errors.Is(err, domain.ErrKillSwitchActive) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "TRANSMISSIONS_DISABLED", Message: err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "GATEWAY", Message: err.Error()})
	}
	return c.JSON(dto.ReconcileResponse{Applied: applied})
}

// ValidateReturn corre las reglas de negocio sin transmitir.
// POST /api/efile/validate
func (h *EfileHandler) ValidateReturn(c *fiber.Ctx) error {
	var in dto.ValidateReturnRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if strings.TrimSpace(in.ReturnXML) == "" || in.ReturnType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "returnType y returnXml son requeridos"})
	}
	result := h.validator.Validate(in.ReturnXML, in.ReturnType, &rules.Context{
		TaxYear:     in.TaxYear,
		ReturnType:  in.ReturnType,
		Environment: in.Environment,
	})
	return c.JSON(result)
}

// Logs devuelve las entradas recientes del log MeF persistido.
// GET /api/efile/logs?limit=100
func (h *EfileHandler) Logs(c *fiber.Ctx) error {
	if h.logRepo == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(dto.ErrorResponse{Code: "NOT_CONFIGURED", Message: "log persistido no configurado"})
	}
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	entries, err := h.logRepo.Recent(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.MefLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.MefLogResponse{
			ID:           e.ID,
			LoggedAt:     e.Timestamp,
			Level:        e.Level,
			Operation:    e.Operation,
			SubmissionID: e.SubmissionID,
			Environment:  e.Environment,
			Message:      e.Message,
			Details:      e.Details,
		})
	}
	return c.JSON(out)
}

// Info resumen de configuración del cliente MeF (sin secretos).
// GET /api/efile/info
func (h *EfileHandler) Info(c *fiber.Ctx) error {
	return c.JSON(h.client.Info())
}

// transmitError mapea el error de negocio a HTTP. La transmisión ya quedó
// persistida en estado error, va en el cuerpo para evitar un GET extra.
func transmitError(c *fiber.Ctx, t *entity.Transmission, err error) error {
	var body dto.TransmissionErrorResponse
	body.Message = err.Error()
	if t != nil && t.ID != "" {
		resp := dto.TransmissionFromEntity(t)
		body.Transmission = &resp
	}
	switch {
	case errors.Is(err, domain.ErrKillSwitchActive):
		body.Code = "TRANSMISSIONS_DISABLED"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	case errors.Is(err, domain.ErrNotApproved):
		body.Code = "NOT_APPROVED"
		return c.Status(fiber.StatusForbidden).JSON(body)
	case errors.Is(err, domain.ErrValidationFailed):
		body.Code = "VALIDATION_FAILED"
		return c.Status(fiber.StatusUnprocessableEntity).JSON(body)
	case errors.Is(err, domain.ErrInvalidInput):
		body.Code = "VALIDATION"
		return c.Status(fiber.StatusBadRequest).JSON(body)
	case errors.Is(err, domain.ErrDuplicate):
		body.Code = "DUPLICATE"
		return c.Status(fiber.StatusConflict).JSON(body)
	default:
		body.Code = "INTERNAL"
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}
}

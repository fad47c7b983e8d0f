package mef

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
	"github.com/jhoicas/Efile-api/internal/domain/rules"
	"github.com/jhoicas/Efile-api/pkg/config"
	"github.com/jhoicas/Efile-api/pkg/logger"
	pkgmef "github.com/jhoicas/Efile-api/pkg/mef"
)

// Client cliente A2A contra el gateway IRS MeF. Sin certificado de cliente
// opera en modo simulación: mismas validaciones, mismos registros, cero
// tráfico hacia el IRS.
type Client struct {
	cfg        config.MefConfig
	registry   *ProfileRegistry
	validator  *rules.Validator
	httpClient *http.Client
	simulation bool
	oplog      *OpLogger
	subRepo    repository.SubmissionRepository
	ackRepo    repository.AcknowledgmentRepository
	retry      retryPolicy

	// Atajo de idempotencia en memoria; la autoridad es el índice único
	// de mef_acknowledgments.
	mu            sync.Mutex
	processedAcks map[string]struct{}
}

// NewClient construye el cliente. La presencia del certificado decide el
// modo: con cert+llave se habilita la transmisión real, sin ellos el
// cliente queda en simulación (y lo deja registrado, no falla).
func NewClient(
	cfg config.MefConfig,
	registry *ProfileRegistry,
	validator *rules.Validator,
	log *logger.Logger,
	logRepo repository.MefLogRepository,
	subRepo repository.SubmissionRepository,
	ackRepo repository.AcknowledgmentRepository,
) (*Client, error) {
	oplog := NewOpLogger(log, logRepo, registry.Environment())

	cert, err := loadClientCertificate(cfg)
	if err != nil {
		return nil, fmt.Errorf("certificado de cliente MeF: %w", err)
	}

	c := &Client{
		cfg:           cfg,
		registry:      registry,
		validator:     validator,
		simulation:    cert == nil,
		oplog:         oplog,
		subRepo:       subRepo,
		ackRepo:       ackRepo,
		retry:         policyFromConfig(cfg),
		processedAcks: make(map[string]struct{}),
	}

	if c.simulation {
		oplog.Warn("Init", "sin certificado de cliente: modo simulación, no se transmite al IRS", nil)
	} else {
		c.httpClient, err = newHTTPClient(cfg, cert)
		if err != nil {
			return nil, fmt.Errorf("transporte MeF: %w", err)
		}
		if cfg.CABundlePath == "" {
			oplog.Warn("Init", "sin CA bundle: la validación de la cadena del IRS puede fallar", nil)
		}
		oplog.Info("Init", "certificado cargado, transmisión habilitada", nil)
	}

	profile, perr := registry.ActiveProfile()
	etin, _ := registry.ActiveETIN()
	details := map[string]any{
		"environment":          registry.Environment(),
		"transmissionsEnabled": registry.TransmissionsEnabled(),
		"simulation":           c.simulation,
	}
	if perr == nil {
		details["efin"] = profile.EFIN
		details["etin"] = etin
		details["profile"] = profile.FirmName
	}
	oplog.Info("Init", "cliente MeF inicializado", details)

	return c, nil
}

// Simulation indica si el cliente opera sin certificado (sin tráfico al IRS).
func (c *Client) Simulation() bool { return c.simulation }

// Registry expone el registro de perfiles (handlers e info).
func (c *Client) Registry() *ProfileRegistry { return c.registry }

// Preflight comprobaciones previas a transmitir. El kill switch va PRIMERO:
// apagado, nada más se evalúa ni se reporta. El orquestador lo invoca antes
// de marcar una transmisión como "transmitting".
func (c *Client) Preflight() error {
	if !c.registry.TransmissionsEnabled() {
		return domain.ErrKillSwitchActive
	}
	return c.registry.ValidateSoftwareDeveloperApproval()
}

// ── SendSubmissions ───────────────────────────────────────────────────────────

// SendSubmission valida y envía una declaración. El registro de Submission
// se persiste siempre que el envío llegue a construirse, también en
// simulación (auditoría de request/response XML).
func (c *Client) SendSubmission(ctx context.Context, returnXML, returnType, taxYear string) *OperationResult[*entity.Submission] {
	start := time.Now()
	requestID := uuid.New().String()

	profile, err := c.registry.ActiveProfile()
	if err != nil {
		return failResult[*entity.Submission](c, requestID, start, err)
	}
	etin, err := c.registry.ActiveETIN()
	if err != nil {
		return failResult[*entity.Submission](c, requestID, start, err)
	}

	submissionID := pkgmef.NewSubmissionID(profile.EFIN)
	c.oplog.Info("SendSubmission", "iniciando envío", map[string]any{
		"requestId": requestID, "submissionId": submissionID,
		"returnType": returnType, "taxYear": taxYear,
	})

	if err := c.Preflight(); err != nil {
		c.oplog.Error("SendSubmission", err.Error(), map[string]any{
			"requestId": requestID, "submissionId": submissionID,
		})
		return failResult[*entity.Submission](c, requestID, start, err)
	}

	validation := c.validator.Validate(returnXML, returnType, &rules.Context{
		TaxYear:     taxYear,
		Environment: c.registry.Environment(),
	})
	if !validation.Valid {
		msgs := make([]string, 0, len(validation.Errors))
		for _, e := range validation.Errors {
			msgs = append(msgs, e.Message)
		}
		c.oplog.Error("SendSubmission", "validación fallida", map[string]any{
			"requestId": requestID, "submissionId": submissionID, "errors": msgs,
		})
		return failResult[*entity.Submission](c, requestID, start,
			fmt.Errorf("%w: %s", domain.ErrValidationFailed, strings.Join(msgs, ", ")))
	}
	if len(validation.Warnings) > 0 {
		c.oplog.Warn("SendSubmission", "validación con advertencias", map[string]any{
			"requestId": requestID, "submissionId": submissionID,
			"warnings": len(validation.Warnings),
		})
	}

	envelope, err := BuildEnvelope(c.header(profile.EFIN, etin), pkgmef.ServiceSendSubmissions, []BodyElement{
		{Name: "SubmissionId", Value: submissionID},
		{Name: "ReturnType", Value: returnType},
		{Name: "TaxYear", Value: taxYear},
		{Name: "ReturnData", Value: EncodeReturnData(returnXML)},
	})
	if err != nil {
		return failResult[*entity.Submission](c, requestID, start, err)
	}

	submission := &entity.Submission{
		SubmissionID: submissionID,
		EFIN:         profile.EFIN,
		ETIN:         etin,
		Timestamp:    time.Now().UTC(),
		Status:       entity.MefStatusReceived,
		ReturnType:   returnType,
		TaxYear:      taxYear,
		Environment:  c.registry.Environment(),
		RequestXML:   envelope,
	}

	if c.simulation {
		c.oplog.Warn("SendSubmission", "simulación: el IRS no recibe este envío", map[string]any{
			"requestId": requestID, "submissionId": submissionID,
		})
		c.storeSubmission(ctx, submission)
		return okResult(c, requestID, start, submission)
	}

	response, err := c.call(ctx, "SendSubmission", pkgmef.ServiceSendSubmissions, "urn:SendSubmissions", envelope)
	if err != nil {
		c.oplog.Error("SendSubmission", "envío fallido", map[string]any{
			"requestId": requestID, "submissionId": submissionID, "error": err.Error(),
		})
		return failResult[*entity.Submission](c, requestID, start, err)
	}

	submission.ResponseXML = response
	c.storeSubmission(ctx, submission)
	c.oplog.Info("SendSubmission", "envío entregado al gateway", map[string]any{
		"requestId": requestID, "submissionId": submissionID,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return okResult(c, requestID, start, submission)
}

// ── GetSubmissionStatus ───────────────────────────────────────────────────────

// GetSubmissionStatus consulta el estado de un envío. En simulación devuelve
// el estado almacenado (o Processing); en real parsea la respuesta y
// actualiza el registro solo si el Status es reconocible.
func (c *Client) GetSubmissionStatus(ctx context.Context, submissionID string) *OperationResult[string] {
	start := time.Now()
	requestID := uuid.New().String()

	c.oplog.Info("GetStatus", "consultando estado", map[string]any{
		"requestId": requestID, "submissionId": submissionID,
	})

	if c.simulation {
		status, err := c.subRepo.GetStatus(ctx, submissionID)
		if err != nil || status == "" {
			status = entity.MefStatusProcessing
		}
		return okResult(c, requestID, start, status)
	}

	profile, err := c.registry.ActiveProfile()
	if err != nil {
		return failResult[string](c, requestID, start, err)
	}
	etin, err := c.registry.ActiveETIN()
	if err != nil {
		return failResult[string](c, requestID, start, err)
	}

	envelope, err := BuildEnvelope(c.header(profile.EFIN, etin), pkgmef.ServiceGetSubmissionStatus, []BodyElement{
		{Name: "SubmissionId", Value: submissionID},
	})
	if err != nil {
		return failResult[string](c, requestID, start, err)
	}

	response, err := c.call(ctx, "GetStatus", pkgmef.ServiceGetSubmissionStatus, "urn:GetSubmissionStatus", envelope)
	if err != nil {
		c.oplog.Error("GetStatus", "consulta fallida", map[string]any{
			"requestId": requestID, "submissionId": submissionID, "error": err.Error(),
		})
		return failResult[string](c, requestID, start, err)
	}

	status, err := ParseStatusResponse(response)
	if err != nil {
		// Estado desconocido: el registro almacenado queda intacto.
		c.oplog.Error("GetStatus", "respuesta sin Status reconocible", map[string]any{
			"requestId": requestID, "submissionId": submissionID,
		})
		return failResult[string](c, requestID, start, err)
	}

	if err := c.subRepo.UpdateStatus(ctx, submissionID, status); err != nil {
		c.oplog.Warn("GetStatus", "no se pudo actualizar el estado almacenado", map[string]any{
			"requestId": requestID, "submissionId": submissionID, "error": err.Error(),
		})
	}
	return okResult(c, requestID, start, status)
}

// ── GetAck / GetNewAcks ───────────────────────────────────────────────────────

// GetAcknowledgment recupera el acuse de un envío. Procesarlo es idempotente:
// un AckID ya visto no se vuelve a persistir ni a aplicar.
func (c *Client) GetAcknowledgment(ctx context.Context, submissionID string) *OperationResult[*entity.Acknowledgment] {
	start := time.Now()
	requestID := uuid.New().String()

	c.oplog.Info("GetAck", "recuperando acuse", map[string]any{
		"requestId": requestID, "submissionId": submissionID,
	})

	if c.simulation {
		ack := &entity.Acknowledgment{
			AckID:        "ACK-" + submissionID,
			SubmissionID: submissionID,
			Status:       entity.MefStatusAccepted,
			DCN:          fmt.Sprintf("DCN%d", time.Now().UnixMilli()),
			Timestamp:    time.Now().UTC(),
		}
		if _, err := c.processAck(ctx, ack, requestID); err != nil {
			return failResult[*entity.Acknowledgment](c, requestID, start, err)
		}
		return okResult(c, requestID, start, ack)
	}

	profile, err := c.registry.ActiveProfile()
	if err != nil {
		return failResult[*entity.Acknowledgment](c, requestID, start, err)
	}
	etin, err := c.registry.ActiveETIN()
	if err != nil {
		return failResult[*entity.Acknowledgment](c, requestID, start, err)
	}

	envelope, err := BuildEnvelope(c.header(profile.EFIN, etin), pkgmef.ServiceGetAck, []BodyElement{
		{Name: "SubmissionId", Value: submissionID},
	})
	if err != nil {
		return failResult[*entity.Acknowledgment](c, requestID, start, err)
	}

	response, err := c.call(ctx, "GetAck", pkgmef.ServiceGetAck, "urn:GetAck", envelope)
	if err != nil {
		c.oplog.Error("GetAck", "recuperación fallida", map[string]any{
			"requestId": requestID, "submissionId": submissionID, "error": err.Error(),
		})
		return failResult[*entity.Acknowledgment](c, requestID, start, err)
	}

	ack, err := ParseAcknowledgment(response, submissionID)
	if err != nil {
		return failResult[*entity.Acknowledgment](c, requestID, start, err)
	}
	if _, err := c.processAck(ctx, ack, requestID); err != nil {
		return failResult[*entity.Acknowledgment](c, requestID, start, err)
	}
	return okResult(c, requestID, start, ack)
}

// GetNewAcknowledgments recupera el batch de acuses pendientes y devuelve
// SOLO los nuevos: los ya procesados se omiten sin efecto (at-most-once,
// aunque el gateway reentregue el batch completo).
func (c *Client) GetNewAcknowledgments(ctx context.Context) *OperationResult[[]*entity.Acknowledgment] {
	start := time.Now()
	requestID := uuid.New().String()

	c.oplog.Info("GetNewAcks", "recuperando acuses nuevos", map[string]any{"requestId": requestID})

	if c.simulation {
		return okResult(c, requestID, start, []*entity.Acknowledgment{})
	}

	profile, err := c.registry.ActiveProfile()
	if err != nil {
		return failResult[[]*entity.Acknowledgment](c, requestID, start, err)
	}
	etin, err := c.registry.ActiveETIN()
	if err != nil {
		return failResult[[]*entity.Acknowledgment](c, requestID, start, err)
	}

	envelope, err := BuildEnvelope(c.header(profile.EFIN, etin), pkgmef.ServiceGetNewAcks, nil)
	if err != nil {
		return failResult[[]*entity.Acknowledgment](c, requestID, start, err)
	}

	response, err := c.call(ctx, "GetNewAcks", pkgmef.ServiceGetNewAcks, "urn:GetNewAcks", envelope)
	if err != nil {
		c.oplog.Error("GetNewAcks", "recuperación fallida", map[string]any{
			"requestId": requestID, "error": err.Error(),
		})
		return failResult[[]*entity.Acknowledgment](c, requestID, start, err)
	}

	acks, err := ParseAcknowledgments(response)
	if err != nil {
		return failResult[[]*entity.Acknowledgment](c, requestID, start, err)
	}

	newAcks := make([]*entity.Acknowledgment, 0, len(acks))
	for _, ack := range acks {
		isNew, err := c.processAck(ctx, ack, requestID)
		if err != nil {
			c.oplog.Error("GetNewAcks", "no se pudo persistir un acuse, se reintentará en el próximo pull",
				map[string]any{"ackId": ack.AckID, "error": err.Error()})
			continue
		}
		if isNew {
			newAcks = append(newAcks, ack)
		}
	}

	c.oplog.Info("GetNewAcks", fmt.Sprintf("procesados %d acuses nuevos", len(newAcks)), map[string]any{
		"requestId": requestID, "totalReceived": len(acks), "newProcessed": len(newAcks),
	})
	return okResult(c, requestID, start, newAcks)
}

// processAck aplica la idempotencia en dos niveles: set en memoria como
// atajo, repositorio (índice único) como autoridad. Devuelve si el acuse
// era nuevo. La violación de unicidad se tolera como "ya procesado".
func (c *Client) processAck(ctx context.Context, ack *entity.Acknowledgment, requestID string) (bool, error) {
	c.mu.Lock()
	_, seen := c.processedAcks[ack.AckID]
	c.mu.Unlock()
	if seen {
		c.oplog.Warn("Ack", "acuse ya procesado (descarte idempotente)", map[string]any{
			"requestId": requestID, "ackId": ack.AckID, "submissionId": ack.SubmissionID,
		})
		return false, nil
	}

	if c.ackRepo != nil {
		exists, err := c.ackRepo.ExistsByAckID(ctx, ack.AckID)
		if err != nil {
			return false, err
		}
		if exists {
			c.markProcessed(ack.AckID)
			return false, nil
		}
		if err := c.ackRepo.Create(ctx, ack); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				c.markProcessed(ack.AckID)
				return false, nil
			}
			return false, err
		}
	}

	c.markProcessed(ack.AckID)
	return true, nil
}

func (c *Client) markProcessed(ackID string) {
	c.mu.Lock()
	c.processedAcks[ackID] = struct{}{}
	c.mu.Unlock()
}

// Info resumen del cliente para monitoreo (endpoint /info y mefctl info).
func (c *Client) Info() map[string]any {
	info := map[string]any{
		"environment":          c.registry.Environment(),
		"isProduction":         c.registry.IsProduction(),
		"transmissionsEnabled": c.registry.TransmissionsEnabled(),
		"hasCertificates":      !c.simulation,
		"simulation":           c.simulation,
		"softwareId":           c.cfg.SoftwareID,
		"supportedForms":       pkgmef.SupportedForms(),
	}
	if p, err := c.registry.ActiveProfile(); err == nil {
		etin, _ := c.registry.ActiveETIN()
		info["efin"] = p.EFIN
		info["etin"] = etin
		info["profile"] = p.FirmName
		info["softwareDevApproved"] = p.SoftwareDeveloperApproved
	}
	return info
}

// ── transporte ────────────────────────────────────────────────────────────────

// call hace el POST al servicio con reintentos. Solo errores de transporte
// se reintentan; cancelar el contexto corta la espera.
func (c *Client) call(ctx context.Context, opName, service, soapAction, envelope string) (string, error) {
	endpoint := c.registry.Endpoint(service)
	return withRetry(ctx, c.retry,
		func(attempt int, err error) {
			c.oplog.Warn(opName, fmt.Sprintf("intento %d/%d fallido", attempt, c.retry.maxAttempts),
				map[string]any{"attempt": attempt, "error": err.Error()})
		},
		func(ctx context.Context) (string, error) {
			return c.post(ctx, endpoint, soapAction, envelope)
		})
}

func (c *Client) post(ctx context.Context, endpoint, soapAction, envelope string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+soapAction+`"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("timeout o cancelación: %w", ctx.Err())
		}
		return "", fmt.Errorf("llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20)) // max 4 MB
	if err != nil {
		return "", fmt.Errorf("leer respuesta: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return string(body), nil
}

// storeSubmission persiste el registro de auditoría del envío. Best-effort:
// el resultado de la operación ya está decidido cuando se llega aquí.
func (c *Client) storeSubmission(ctx context.Context, s *entity.Submission) {
	if c.subRepo == nil {
		return
	}
	if err := c.subRepo.Create(ctx, s); err != nil {
		c.oplog.Error("Storage", "no se pudo almacenar el submission", map[string]any{
			"submissionId": s.SubmissionID, "error": err.Error(),
		})
	}
}

func (c *Client) header(efin, etin string) TransmitterHeader {
	return TransmitterHeader{
		EFIN:       efin,
		ETIN:       etin,
		SoftwareID: c.cfg.SoftwareID,
		Timestamp:  time.Now().UTC(),
	}
}

func okResult[T any](c *Client, requestID string, start time.Time, data T) *OperationResult[T] {
	return &OperationResult[T]{
		Success:     true,
		Data:        data,
		RequestID:   requestID,
		Timestamp:   time.Now().UTC(),
		Environment: c.registry.Environment(),
		Duration:    time.Since(start),
	}
}

func failResult[T any](c *Client, requestID string, start time.Time, err error) *OperationResult[T] {
	return &OperationResult[T]{
		Success:     false,
		Err:         err,
		RequestID:   requestID,
		Timestamp:   time.Now().UTC(),
		Environment: c.registry.Environment(),
		Duration:    time.Since(start),
	}
}

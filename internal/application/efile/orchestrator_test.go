package efile_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Efile-api/internal/application/efile"
	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
	infmef "github.com/jhoicas/Efile-api/internal/infrastructure/mef"
	"github.com/jhoicas/Efile-api/pkg/logger"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes en memoria
// ─────────────────────────────────────────────────────────────────────────────

// eventLog registra el orden de efectos (updates de estado, llamadas de red)
// para verificar que transmitting se persiste ANTES de tocar el gateway.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(ev string) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) indexOf(ev string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, got := range e.events {
		if got == ev {
			return i
		}
	}
	return -1
}

type fakeTxRepo struct {
	mu     sync.Mutex
	byID   map[string]*entity.Transmission
	log    *eventLog
	failOn string // estado cuyo Update debe fallar ("" = nunca)
}

func newFakeTxRepo(log *eventLog) *fakeTxRepo {
	return &fakeTxRepo{byID: map[string]*entity.Transmission{}, log: log}
}

func (r *fakeTxRepo) Create(_ context.Context, t *entity.Transmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tx-%d", len(r.byID)+1)
	}
	cp := *t
	r.byID[t.ID] = &cp
	r.log.add("create:" + t.Status)
	return nil
}

func (r *fakeTxRepo) Update(_ context.Context, t *entity.Transmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && t.Status == r.failOn {
		return errors.New("db caída")
	}
	if _, ok := r.byID[t.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *t
	r.byID[t.ID] = &cp
	r.log.add("update:" + t.Status)
	return nil
}

func (r *fakeTxRepo) GetByID(_ context.Context, id string) (*entity.Transmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTxRepo) GetBySubmissionID(_ context.Context, sid string) (*entity.Transmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.IRSSubmissionID == sid {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeTxRepo) ListByStatus(_ context.Context, status string, _ int) ([]*entity.Transmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Transmission
	for _, t := range r.byID {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeAckRepo struct {
	mu    sync.Mutex
	byAck map[string]*entity.Acknowledgment
}

func newFakeAckRepo() *fakeAckRepo {
	return &fakeAckRepo{byAck: map[string]*entity.Acknowledgment{}}
}

func (r *fakeAckRepo) Create(_ context.Context, ack *entity.Acknowledgment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byAck[ack.AckID]; ok {
		return fmt.Errorf("ack %s: %w", ack.AckID, domain.ErrDuplicate)
	}
	cp := *ack
	r.byAck[ack.AckID] = &cp
	return nil
}

func (r *fakeAckRepo) ExistsByAckID(_ context.Context, ackID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byAck[ackID]
	return ok, nil
}

func (r *fakeAckRepo) GetByAckID(_ context.Context, ackID string) (*entity.Acknowledgment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ack, ok := r.byAck[ackID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ack
	return &cp, nil
}

func (r *fakeAckRepo) ListBySubmissionID(_ context.Context, sid string) ([]*entity.Acknowledgment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Acknowledgment
	for _, a := range r.byAck {
		if a.SubmissionID == sid {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeRunner ejecuta el callback directo sobre los fakes (sin transacción real).
type fakeRunner struct {
	ackRepo *fakeAckRepo
	txRepo  *fakeTxRepo
}

func (r *fakeRunner) RunReconcile(ctx context.Context, fn func(repository.AcknowledgmentRepository, repository.TransmissionRepository) error) error {
	return fn(r.ackRepo, r.txRepo)
}

// fakeMefClient puerto MefClient controlable por el test.
type fakeMefClient struct {
	mu           sync.Mutex
	simulation   bool
	preflightErr error
	sendErr      error
	status       string
	statusErr    error
	ack          *entity.Acknowledgment
	newAcks      []*entity.Acknowledgment
	acksErr      error
	log          *eventLog
	sendCalls    int
	nextSubID    string
}

func (c *fakeMefClient) Preflight() error { return c.preflightErr }
func (c *fakeMefClient) Simulation() bool { return c.simulation }

func (c *fakeMefClient) SendSubmission(_ context.Context, _, returnType, taxYear string) *infmef.OperationResult[*entity.Submission] {
	c.mu.Lock()
	c.sendCalls++
	c.mu.Unlock()
	if c.log != nil {
		c.log.add("send")
	}
	if c.sendErr != nil {
		return &infmef.OperationResult[*entity.Submission]{Success: false, Err: c.sendErr}
	}
	sid := c.nextSubID
	if sid == "" {
		sid = "554435-TEST0001-AAAA1111"
	}
	return &infmef.OperationResult[*entity.Submission]{
		Success: true,
		Data: &entity.Submission{
			SubmissionID: sid,
			EFIN:         "554435",
			ETIN:         "95410",
			Status:       entity.MefStatusReceived,
			ReturnType:   returnType,
			TaxYear:      taxYear,
			Environment:  "ATS",
			Timestamp:    time.Now(),
		},
	}
}

func (c *fakeMefClient) GetSubmissionStatus(_ context.Context, _ string) *infmef.OperationResult[string] {
	if c.statusErr != nil {
		return &infmef.OperationResult[string]{Success: false, Err: c.statusErr}
	}
	return &infmef.OperationResult[string]{Success: true, Data: c.status}
}

func (c *fakeMefClient) GetAcknowledgment(_ context.Context, _ string) *infmef.OperationResult[*entity.Acknowledgment] {
	if c.ack == nil {
		return &infmef.OperationResult[*entity.Acknowledgment]{Success: false, Err: domain.ErrNotFound}
	}
	return &infmef.OperationResult[*entity.Acknowledgment]{Success: true, Data: c.ack}
}

func (c *fakeMefClient) GetNewAcknowledgments(_ context.Context) *infmef.OperationResult[[]*entity.Acknowledgment] {
	if c.acksErr != nil {
		return &infmef.OperationResult[[]*entity.Acknowledgment]{Success: false, Err: c.acksErr}
	}
	return &infmef.OperationResult[[]*entity.Acknowledgment]{Success: true, Data: c.newAcks}
}

func (c *fakeMefClient) Info() map[string]any {
	return map[string]any{"environment": "ATS", "transmissionsEnabled": c.preflightErr == nil}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

type harness struct {
	orch    *efile.Orchestrator
	client  *fakeMefClient
	txRepo  *fakeTxRepo
	ackRepo *fakeAckRepo
	events  *eventLog
}

func newHarness(simulation bool) *harness {
	events := &eventLog{}
	txRepo := newFakeTxRepo(events)
	ackRepo := newFakeAckRepo()
	client := &fakeMefClient{simulation: simulation, log: events}
	runner := &fakeRunner{ackRepo: ackRepo, txRepo: txRepo}
	log := logger.New(logger.Config{Env: "production", Level: "error"})
	return &harness{
		orch:    efile.NewOrchestrator(txRepo, client, runner, log),
		client:  client,
		txRepo:  txRepo,
		ackRepo: ackRepo,
		events:  events,
	}
}

func newTransmission() *entity.Transmission {
	return &entity.Transmission{
		ReturnID:      1001,
		ClientID:      42,
		Method:        entity.MethodERO,
		PreparerID:    7,
		RefundAmt:     decimal.NewFromInt(1250),
		BalanceDueAmt: decimal.Zero,
	}
}

const returnXML = `<?xml version="1.0"?><Return><ReturnHeader><TaxYr>2025</TaxYr></ReturnHeader><ReturnData/></Return>`

// ─────────────────────────────────────────────────────────────────────────────
// Transmit
// ─────────────────────────────────────────────────────────────────────────────

func TestTransmit_SimulacionAceptaSinPasarPorTransmitting(t *testing.T) {
	h := newHarness(true)

	got, err := h.orch.Transmit(context.Background(), newTransmission(), returnXML, "1040", "2025", false)
	require.NoError(t, err)

	assert.Equal(t, entity.TransmissionStatusAccepted, got.Status)
	assert.Equal(t, "A0000", got.AckCode)
	assert.Equal(t, "554435-TEST0001-AAAA1111", got.IRSSubmissionID)
	assert.Equal(t, "554435", got.EFIN)
	assert.Equal(t, "95410", got.ETIN)
	assert.Equal(t, "ATS", got.Environment)

	// en simulación el estado transmitting nunca existe
	assert.Equal(t, -1, h.events.indexOf("update:transmitting"))

	stored, err := h.txRepo.GetByID(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransmissionStatusAccepted, stored.Status)
}

func TestTransmit_KillSwitchMarcaErrorSinEnviar(t *testing.T) {
	h := newHarness(false)
	h.client.preflightErr = domain.ErrKillSwitchActive

	got, err := h.orch.Transmit(context.Background(), newTransmission(), returnXML, "1040", "2025", false)
	require.ErrorIs(t, err, domain.ErrKillSwitchActive)

	assert.Equal(t, entity.TransmissionStatusError, got.Status)
	assert.Contains(t, got.AckMessage, "kill switch")
	assert.Equal(t, 0, h.client.sendCalls, "el kill switch debe cortar antes de la red")
	assert.Equal(t, -1, h.events.indexOf("update:transmitting"),
		"con kill switch la transmisión nunca entra a transmitting")
}

func TestTransmit_PerfilNoAprobadoMarcaError(t *testing.T) {
	h := newHarness(false)
	h.client.preflightErr = domain.ErrNotApproved

	got, err := h.orch.Transmit(context.Background(), newTransmission(), returnXML, "1040", "2025", false)
	require.ErrorIs(t, err, domain.ErrNotApproved)
	assert.Equal(t, entity.TransmissionStatusError, got.Status)
	assert.Equal(t, 0, h.client.sendCalls)
}

func TestTransmit_EnvioRealPersisteTransmittingAntesDeLaRed(t *testing.T) {
	h := newHarness(false)

	got, err := h.orch.Transmit(context.Background(), newTransmission(), returnXML, "1040", "2025", false)
	require.NoError(t, err)

	assert.Equal(t, entity.TransmissionStatusPending, got.Status, "receipt recibido, acuse pendiente")
	assert.Equal(t, "554435-TEST0001-AAAA1111", got.IRSSubmissionID)

	iTransmitting := h.events.indexOf("update:transmitting")
	iSend := h.events.indexOf("send")
	require.GreaterOrEqual(t, iTransmitting, 0)
	require.GreaterOrEqual(t, iSend, 0)
	assert.Less(t, iTransmitting, iSend, "transmitting debe persistirse antes de llamar al gateway")
}

func TestTransmit_FalloDeEnvioTerminaEnError(t *testing.T) {
	h := newHarness(false)
	h.client.sendErr = fmt.Errorf("%w: SSN inválido", domain.ErrValidationFailed)

	got, err := h.orch.Transmit(context.Background(), newTransmission(), returnXML, "1040", "2025", false)
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Equal(t, entity.TransmissionStatusError, got.Status)
	assert.Contains(t, got.AckMessage, "SSN inválido")
}

func TestTransmit_DryRunAceptaSinValidarNiEnviar(t *testing.T) {
	h := newHarness(false)

	got, err := h.orch.Transmit(context.Background(), newTransmission(), "", "1040", "2025", true)
	require.NoError(t, err)

	assert.Equal(t, entity.TransmissionStatusAccepted, got.Status)
	assert.True(t, strings.HasPrefix(got.IRSSubmissionID, "TEST-"), "id de dry run: %s", got.IRSSubmissionID)
	assert.Equal(t, "A0000", got.AckCode)
	assert.Equal(t, 0, h.client.sendCalls)
}

func TestTransmit_XMLVacioSinDryRunEsInvalido(t *testing.T) {
	h := newHarness(false)

	_, err := h.orch.Transmit(context.Background(), newTransmission(), "   ", "1040", "2025", false)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, h.txRepo.byID, "nada debe persistirse con entrada inválida")
}

func TestTransmit_FalloAlPersistirEstadoSePropaga(t *testing.T) {
	h := newHarness(false)
	h.txRepo.failOn = entity.TransmissionStatusTransmitting

	_, err := h.orch.Transmit(context.Background(), newTransmission(), returnXML, "1040", "2025", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transmitting")
	assert.Equal(t, 0, h.client.sendCalls, "sin escritura durable no se toca la red")
}

// ─────────────────────────────────────────────────────────────────────────────
// ReconcileAcknowledgments
// ─────────────────────────────────────────────────────────────────────────────

func seedPending(t *testing.T, h *harness, subID string) *entity.Transmission {
	t.Helper()
	tx := newTransmission()
	tx.Status = entity.TransmissionStatusPending
	tx.IRSSubmissionID = subID
	require.NoError(t, h.txRepo.Create(context.Background(), tx))
	return tx
}

func acceptedAck(ackID, subID string) *entity.Acknowledgment {
	return &entity.Acknowledgment{
		AckID:        ackID,
		SubmissionID: subID,
		Status:       entity.MefStatusAccepted,
		DCN:          "DCN-2025-001",
		Timestamp:    time.Now(),
		ReturnType:   "1040",
		TaxYear:      "2025",
	}
}

func TestReconcile_AcuseAceptadoActualizaTransmision(t *testing.T) {
	h := newHarness(false)
	tx := seedPending(t, h, "554435-RECON001-AAAA1111")
	h.client.newAcks = []*entity.Acknowledgment{acceptedAck("ACK-1", tx.IRSSubmissionID)}

	applied, err := h.orch.ReconcileAcknowledgments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	got, err := h.txRepo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransmissionStatusAccepted, got.Status)
	assert.Equal(t, "A0000", got.AckCode)
	assert.Equal(t, "DCN-2025-001", got.DCN)

	exists, err := h.ackRepo.ExistsByAckID(context.Background(), "ACK-1")
	require.NoError(t, err)
	assert.True(t, exists, "el acuse debe quedar persistido junto con la transmisión")
}

func TestReconcile_AcuseRepetidoNoSeReaplica(t *testing.T) {
	h := newHarness(false)
	tx := seedPending(t, h, "554435-RECON002-AAAA1111")
	h.client.newAcks = []*entity.Acknowledgment{acceptedAck("ACK-2", tx.IRSSubmissionID)}

	applied, err := h.orch.ReconcileAcknowledgments(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	// el gateway reentrega el mismo acuse en el batch siguiente
	applied, err = h.orch.ReconcileAcknowledgments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, applied, "un ack_id ya persistido no se aplica dos veces")
}

func TestReconcile_AcuseRechazadoUsaPrimerCodigoDeError(t *testing.T) {
	h := newHarness(false)
	tx := seedPending(t, h, "554435-RECON003-AAAA1111")
	h.client.newAcks = []*entity.Acknowledgment{{
		AckID:        "ACK-3",
		SubmissionID: tx.IRSSubmissionID,
		Status:       entity.MefStatusRejected,
		Timestamp:    time.Now(),
		Errors: []entity.AckError{
			{Code: "R0000-902-01", Category: "Reject", Message: "SSN ya usado en otra declaración"},
			{Code: "F1040-071-05", Category: "Reject", Message: "Retención inconsistente"},
		},
	}}

	applied, err := h.orch.ReconcileAcknowledgments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	got, _ := h.txRepo.GetByID(context.Background(), tx.ID)
	assert.Equal(t, entity.TransmissionStatusRejected, got.Status)
	assert.Equal(t, "R0000-902-01", got.AckCode)
	assert.Contains(t, got.AckMessage, "SSN ya usado")
	assert.Contains(t, got.AckMessage, "Retención inconsistente")
}

func TestReconcile_EstadoTerminalNoSeRevierte(t *testing.T) {
	h := newHarness(false)
	tx := seedPending(t, h, "554435-RECON004-AAAA1111")
	tx.Status = entity.TransmissionStatusAccepted
	tx.AckCode = "A0000"
	tx.AckMessage = "Declaración aceptada por el IRS"
	require.NoError(t, h.txRepo.Update(context.Background(), tx))

	// acuse tardío contradictorio (rechazo) con otro ack_id
	h.client.newAcks = []*entity.Acknowledgment{{
		AckID:        "ACK-TARDIO",
		SubmissionID: tx.IRSSubmissionID,
		Status:       entity.MefStatusRejected,
		Timestamp:    time.Now(),
		Errors:       []entity.AckError{{Code: "R0000-906-02", Message: "rechazo tardío"}},
	}}

	_, err := h.orch.ReconcileAcknowledgments(context.Background())
	require.NoError(t, err)

	got, _ := h.txRepo.GetByID(context.Background(), tx.ID)
	assert.Equal(t, entity.TransmissionStatusAccepted, got.Status, "terminal nunca se revierte")
	assert.Equal(t, "A0000", got.AckCode, "los campos ya poblados no se pisan")
}

func TestReconcile_AcuseTardioRefinaCamposVacios(t *testing.T) {
	h := newHarness(false)
	tx := seedPending(t, h, "554435-RECON005-AAAA1111")
	tx.Status = entity.TransmissionStatusAccepted
	require.NoError(t, h.txRepo.Update(context.Background(), tx))

	h.client.newAcks = []*entity.Acknowledgment{acceptedAck("ACK-REFINA", tx.IRSSubmissionID)}

	applied, err := h.orch.ReconcileAcknowledgments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	got, _ := h.txRepo.GetByID(context.Background(), tx.ID)
	assert.Equal(t, entity.TransmissionStatusAccepted, got.Status)
	assert.Equal(t, "DCN-2025-001", got.DCN, "el DCN vacío se completa con el acuse tardío")
	assert.Equal(t, "A0000", got.AckCode)
}

func TestReconcile_AcuseHuerfanoSePersisteSinAplicar(t *testing.T) {
	h := newHarness(false)
	h.client.newAcks = []*entity.Acknowledgment{acceptedAck("ACK-HUERFANO", "554435-SINORIGEN-AAAA1111")}

	applied, err := h.orch.ReconcileAcknowledgments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	exists, _ := h.ackRepo.ExistsByAckID(context.Background(), "ACK-HUERFANO")
	assert.True(t, exists, "el huérfano se persiste para no re-procesarlo")
}

func TestReconcile_FalloDelGatewaySePropaga(t *testing.T) {
	h := newHarness(false)
	h.client.acksErr = errors.New("gateway caído")

	_, err := h.orch.ReconcileAcknowledgments(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway caído")
}

// ─────────────────────────────────────────────────────────────────────────────
// CheckStatus
// ─────────────────────────────────────────────────────────────────────────────

func TestCheckStatus_EstadoTerminalAplicaAcuse(t *testing.T) {
	h := newHarness(false)
	tx := seedPending(t, h, "554435-STATUS01-AAAA1111")
	h.client.status = entity.MefStatusAccepted
	h.client.ack = acceptedAck("ACK-STATUS", tx.IRSSubmissionID)

	got, status, err := h.orch.CheckStatus(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.MefStatusAccepted, status)
	assert.Equal(t, entity.TransmissionStatusAccepted, got.Status)
	assert.Equal(t, "DCN-2025-001", got.DCN)
}

func TestCheckStatus_EstadoIntermedioNoTocaLaTransmision(t *testing.T) {
	h := newHarness(false)
	tx := seedPending(t, h, "554435-STATUS02-AAAA1111")
	h.client.status = entity.MefStatusProcessing

	got, status, err := h.orch.CheckStatus(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.MefStatusProcessing, status)
	assert.Equal(t, entity.TransmissionStatusPending, got.Status)
}

func TestCheckStatus_SinSubmissionIDEsInvalido(t *testing.T) {
	h := newHarness(false)
	tx := newTransmission()
	require.NoError(t, h.txRepo.Create(context.Background(), tx))

	_, _, err := h.orch.CheckStatus(context.Background(), tx.ID)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCheckStatus_TransmisionInexistente(t *testing.T) {
	h := newHarness(false)

	_, _, err := h.orch.CheckStatus(context.Background(), "no-existe")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

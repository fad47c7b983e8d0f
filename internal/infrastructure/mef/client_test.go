package mef

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/internal/domain/rules"
	"github.com/jhoicas/Efile-api/pkg/config"
	"github.com/jhoicas/Efile-api/pkg/logger"
	pkgmef "github.com/jhoicas/Efile-api/pkg/mef"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fakes en memoria de los repositorios (el cliente solo necesita los puertos).
// ──────────────────────────────────────────────────────────────────────────────

type fakeSubRepo struct {
	mu   sync.Mutex
	subs map[string]*entity.Submission
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: make(map[string]*entity.Submission)}
}

func (f *fakeSubRepo) Create(_ context.Context, s *entity.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s.SubmissionID]; ok {
		return domain.ErrDuplicate
	}
	f.subs[s.SubmissionID] = s
	return nil
}

func (f *fakeSubRepo) GetByID(_ context.Context, id string) (*entity.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSubRepo) GetStatus(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[id]; ok {
		return s.Status, nil
	}
	return "", nil
}

func (f *fakeSubRepo) UpdateStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	return nil
}

type fakeAckRepo struct {
	mu   sync.Mutex
	acks map[string]*entity.Acknowledgment // por ack_id
}

func newFakeAckRepo() *fakeAckRepo {
	return &fakeAckRepo{acks: make(map[string]*entity.Acknowledgment)}
}

func (f *fakeAckRepo) Create(_ context.Context, ack *entity.Acknowledgment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.acks[ack.AckID]; ok {
		return domain.ErrDuplicate
	}
	f.acks[ack.AckID] = ack
	return nil
}

func (f *fakeAckRepo) ExistsByAckID(_ context.Context, ackID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.acks[ackID]
	return ok, nil
}

func (f *fakeAckRepo) GetByAckID(_ context.Context, ackID string) (*entity.Acknowledgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.acks[ackID]; ok {
		return a, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAckRepo) ListBySubmissionID(_ context.Context, submissionID string) ([]*entity.Acknowledgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Acknowledgment
	for _, a := range f.acks {
		if a.SubmissionID == submissionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAckRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks)
}

// ──────────────────────────────────────────────────────────────────────────────

const testReturn1040 = `<?xml version="1.0" encoding="UTF-8"?>
<Return>
  <ReturnHeader>
    <TaxYr>2025</TaxYr>
    <Filer>
      <PrimarySSN>900123456</PrimarySSN>
      <Name><FirstName>Maria</FirstName></Name>
      <FilingStatusCd>1</FilingStatusCd>
    </Filer>
  </ReturnHeader>
  <ReturnData><IRS1040/></ReturnData>
</Return>`

func testConfig() config.MefConfig {
	return config.MefConfig{
		Environment:          "ATS",
		ActiveProfile:        "254_tax_consultants",
		TransmissionsEnabled: true,
		SoftwareID:           "EFILE-GO-2024",
		RetryMaxAttempts:     3,
		RetryInitialDelay:    time.Millisecond,
		RetryMultiplier:      2,
		RetryMaxDelay:        4 * time.Millisecond,
		ATSBaseURL:           "https://la.alt.www4.irs.gov/a2a/mef",
		ProdBaseURL:          "https://la.www4.irs.gov/a2a/mef",
	}
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Env: "production", Level: "error"})
}

// newSimClient cliente en simulación (sin certificado configurado).
func newSimClient(t *testing.T, cfg config.MefConfig, subRepo *fakeSubRepo, ackRepo *fakeAckRepo) *Client {
	t.Helper()
	c, err := NewClient(cfg, NewProfileRegistry(cfg), rules.NewValidator(),
		quietLogger(), nil, subRepo, ackRepo)
	require.NoError(t, err)
	require.True(t, c.Simulation(), "sin cert el cliente debe quedar en simulación")
	return c
}

// newWiredClient cliente apuntado a un gateway httptest (transporte real).
func newWiredClient(cfg config.MefConfig, srv *httptest.Server, subRepo *fakeSubRepo, ackRepo *fakeAckRepo) *Client {
	cfg.ATSBaseURL = srv.URL
	registry := NewProfileRegistry(cfg)
	return &Client{
		cfg:           cfg,
		registry:      registry,
		validator:     rules.NewValidator(),
		httpClient:    srv.Client(),
		simulation:    false,
		oplog:         NewOpLogger(quietLogger(), nil, registry.Environment()),
		subRepo:       subRepo,
		ackRepo:       ackRepo,
		retry:         policyFromConfig(cfg),
		processedAcks: make(map[string]struct{}),
	}
}

// ──────────────────────────────────────────────────────────────────────────────

func TestSendSubmission_SimulacionRoundTrip(t *testing.T) {
	subRepo := newFakeSubRepo()
	c := newSimClient(t, testConfig(), subRepo, newFakeAckRepo())

	res := c.SendSubmission(context.Background(), testReturn1040, pkgmef.Form1040, "2025")

	require.True(t, res.Success, "error: %v", res.Err)
	sub := res.Data
	require.NotNil(t, sub)
	assert.True(t, pkgmef.IsValidSubmissionID(sub.SubmissionID),
		"id generado: %s", sub.SubmissionID)
	assert.Equal(t, "554435", pkgmef.SubmissionEFIN(sub.SubmissionID))
	assert.Equal(t, entity.MefStatusReceived, sub.Status)
	assert.Equal(t, "95410", sub.ETIN, "en ATS va el ETIN de prueba")
	assert.Equal(t, "ATS", sub.Environment)
	assert.NotEmpty(t, sub.RequestXML, "el envelope queda para auditoría")
	assert.Empty(t, sub.ResponseXML, "en simulación no hay respuesta del gateway")

	// El registro se persistió.
	stored, err := subRepo.GetByID(context.Background(), sub.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, entity.MefStatusReceived, stored.Status)
}

func TestSendSubmission_KillSwitchSeNombraASiMismo(t *testing.T) {
	cfg := testConfig()
	cfg.TransmissionsEnabled = false
	subRepo := newFakeSubRepo()
	c := newSimClient(t, cfg, subRepo, newFakeAckRepo())

	res := c.SendSubmission(context.Background(), testReturn1040, pkgmef.Form1040, "2025")

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrKillSwitchActive)
	assert.Contains(t, res.ErrorMessage(), "kill switch",
		"el error debe nombrar el kill switch, no un fallo genérico")
	assert.Empty(t, subRepo.subs, "con el kill switch activo no se persiste nada")
}

func TestSendSubmission_PerfilSinAprobacion(t *testing.T) {
	cfg := testConfig()
	cfg.ActiveProfile = "ross_tax_prep"
	c := newSimClient(t, cfg, newFakeSubRepo(), newFakeAckRepo())

	res := c.SendSubmission(context.Background(), testReturn1040, pkgmef.Form1040, "2025")

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrNotApproved)
}

func TestSendSubmission_ValidacionBloquea(t *testing.T) {
	subRepo := newFakeSubRepo()
	c := newSimClient(t, testConfig(), subRepo, newFakeAckRepo())

	res := c.SendSubmission(context.Background(), "esto no es xml", pkgmef.Form1040, "2025")

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrValidationFailed)
	assert.Empty(t, subRepo.subs, "una declaración inválida nunca llega a persistirse")
}

func TestGetSubmissionStatus_Simulacion(t *testing.T) {
	subRepo := newFakeSubRepo()
	c := newSimClient(t, testConfig(), subRepo, newFakeAckRepo())

	sent := c.SendSubmission(context.Background(), testReturn1040, pkgmef.Form1040, "2025")
	require.True(t, sent.Success)

	// Envío conocido: devuelve el estado almacenado.
	res := c.GetSubmissionStatus(context.Background(), sent.Data.SubmissionID)
	require.True(t, res.Success)
	assert.Equal(t, entity.MefStatusReceived, res.Data)

	// Envío desconocido: Processing, nunca vacío.
	res = c.GetSubmissionStatus(context.Background(), "554435-ZZZZ-FFFFFFFF")
	require.True(t, res.Success)
	assert.Equal(t, entity.MefStatusProcessing, res.Data)
}

func TestGetAcknowledgment_DobleProcesoPersisteUnaVez(t *testing.T) {
	ackRepo := newFakeAckRepo()
	c := newSimClient(t, testConfig(), newFakeSubRepo(), ackRepo)

	first := c.GetAcknowledgment(context.Background(), "554435-M3-DEADBEEF")
	require.True(t, first.Success)
	require.Equal(t, 1, ackRepo.count())

	// El mismo acuse otra vez: descarte idempotente, sigue habiendo uno.
	second := c.GetAcknowledgment(context.Background(), "554435-M3-DEADBEEF")
	require.True(t, second.Success)
	assert.Equal(t, 1, ackRepo.count())
	assert.Equal(t, first.Data.AckID, second.Data.AckID)
}

func TestGetAcknowledgment_IdempotenciaSobreviveAlReinicio(t *testing.T) {
	// El set en memoria se pierde al reiniciar; el repositorio es la autoridad.
	ackRepo := newFakeAckRepo()
	c1 := newSimClient(t, testConfig(), newFakeSubRepo(), ackRepo)
	require.True(t, c1.GetAcknowledgment(context.Background(), "554435-M3-DEADBEEF").Success)

	c2 := newSimClient(t, testConfig(), newFakeSubRepo(), ackRepo)
	require.True(t, c2.GetAcknowledgment(context.Background(), "554435-M3-DEADBEEF").Success)

	assert.Equal(t, 1, ackRepo.count(), "un cliente nuevo no re-procesa acuses ya persistidos")
}

func TestSendSubmission_TransporteRealConReintentos(t *testing.T) {
	var mu sync.Mutex
	var requests int
	var lastAction, lastBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		n := requests
		lastAction = r.Header.Get("SOAPAction")
		body, _ := io.ReadAll(r.Body)
		lastBody = string(body)
		mu.Unlock()

		// Dos fallos transitorios, luego el receipt.
		if n < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<SendSubmissionsResponse><Status>Received</Status></SendSubmissionsResponse>`))
	}))
	defer srv.Close()

	subRepo := newFakeSubRepo()
	c := newWiredClient(testConfig(), srv, subRepo, newFakeAckRepo())

	res := c.SendSubmission(context.Background(), testReturn1040, pkgmef.Form1040, "2025")

	require.True(t, res.Success, "error: %v", res.Err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, requests, "dos fallos transitorios consumen dos reintentos")
	assert.Equal(t, `"urn:SendSubmissions"`, lastAction)
	assert.Contains(t, lastBody, "TransmitterHeader")
	assert.NotEmpty(t, res.Data.ResponseXML)
}

func TestSendSubmission_AgotaReintentos(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newWiredClient(testConfig(), srv, newFakeSubRepo(), newFakeAckRepo())
	res := c.SendSubmission(context.Background(), testReturn1040, pkgmef.Form1040, "2025")

	require.False(t, res.Success)
	assert.Equal(t, int32(3), requests.Load(), "exactamente maxAttempts intentos")
	assert.Contains(t, res.ErrorMessage(), "503")
}

func TestGetSubmissionStatus_RespuestaIlegibleNoTocaElEstado(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<Weird>sin status</Weird>`))
	}))
	defer srv.Close()

	subRepo := newFakeSubRepo()
	require.NoError(t, subRepo.Create(context.Background(), &entity.Submission{
		SubmissionID: "554435-M3-DEADBEEF", Status: entity.MefStatusReceived,
	}))

	c := newWiredClient(testConfig(), srv, subRepo, newFakeAckRepo())
	res := c.GetSubmissionStatus(context.Background(), "554435-M3-DEADBEEF")

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrUnparsableResponse)

	stored, err := subRepo.GetStatus(context.Background(), "554435-M3-DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, entity.MefStatusReceived, stored, "el estado almacenado queda intacto")
}

func TestGetNewAcknowledgments_SoloDevuelveLosNuevos(t *testing.T) {
	batch := `<GetNewAcksResponse>
		<Acknowledgment>
			<SubmissionId>554435-A-11111111</SubmissionId>
			<AckId>ACK-VIEJO</AckId><Status>Accepted</Status><DCN>DCN1</DCN>
		</Acknowledgment>
		<Acknowledgment>
			<SubmissionId>554435-B-22222222</SubmissionId>
			<AckId>ACK-NUEVO</AckId><Status>Rejected</Status>
			<Error><ErrorCode>X0000</ErrorCode><ErrorMessage>bad</ErrorMessage></Error>
		</Acknowledgment>
	</GetNewAcksResponse>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(batch))
	}))
	defer srv.Close()

	ackRepo := newFakeAckRepo()
	// El primero ya fue procesado en un pull anterior.
	require.NoError(t, ackRepo.Create(context.Background(), &entity.Acknowledgment{
		AckID: "ACK-VIEJO", SubmissionID: "554435-A-11111111", Status: entity.MefStatusAccepted,
	}))

	c := newWiredClient(testConfig(), srv, newFakeSubRepo(), ackRepo)
	res := c.GetNewAcknowledgments(context.Background())

	require.True(t, res.Success, "error: %v", res.Err)
	require.Len(t, res.Data, 1, "los acuses reentregados se descartan")
	assert.Equal(t, "ACK-NUEVO", res.Data[0].AckID)
	assert.Equal(t, 2, ackRepo.count())
}

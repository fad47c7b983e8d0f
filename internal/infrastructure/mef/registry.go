package mef

import (
	"fmt"
	"strings"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
	"github.com/jhoicas/Efile-api/pkg/config"
	pkgmef "github.com/jhoicas/Efile-api/pkg/mef"
)

// transportFormat formato de transporte A2A. MeF soporta mime y mtom;
// este cliente usa mime.
const transportFormat = "mime"

// builtinProfiles catálogo de perfiles de transmisor registrados ante el IRS
// (e-file Application). El perfil activo se elige por configuración.
var builtinProfiles = []*entity.TransmitterProfile{
	{
		ID:            "ross_tax_prep",
		EFIN:          "554486",
		ETINProd:      "98978",
		FirmName:      "ROSS TAX PREP AND BOOKKEEPING LLC",
		ApprovedYears: []string{"2025", "2026"},
		Role:          pkgmef.RoleERO,
		// ERO puro: presenta con software comercial, no transmite software propio.
		SoftwareDeveloperApproved: false,
	},
	{
		ID:            "254_tax_consultants",
		EFIN:          "554435",
		ETINProd:      "95409",
		ETINTest:      "95410",
		FirmName:      "254 - TAX CONSULTANTS",
		ApprovedYears: []string{"2025", "2026"},
		Role:          pkgmef.RoleSoftwareDeveloper,
		SoftwareDeveloperApproved: true,
	},
}

// ProfileRegistry resuelve el perfil de transmisor activo, sus credenciales
// (EFIN/ETIN) y los endpoints del gateway según el ambiente configurado.
type ProfileRegistry struct {
	cfg      config.MefConfig
	profiles map[string]*entity.TransmitterProfile // por ID y por EFIN
}

// NewProfileRegistry construye el registro con el catálogo embebido.
func NewProfileRegistry(cfg config.MefConfig) *ProfileRegistry {
	r := &ProfileRegistry{
		cfg:      cfg,
		profiles: make(map[string]*entity.TransmitterProfile),
	}
	for _, p := range builtinProfiles {
		r.register(p)
	}
	return r
}

// Register agrega o reemplaza un perfil (por ejemplo cargado de base de datos).
func (r *ProfileRegistry) Register(p *entity.TransmitterProfile) error {
	if p.ID == "" || p.EFIN == "" {
		return fmt.Errorf("perfil sin ID o EFIN: %w", domain.ErrInvalidInput)
	}
	r.register(p)
	return nil
}

func (r *ProfileRegistry) register(p *entity.TransmitterProfile) {
	r.profiles[p.ID] = p
	r.profiles[p.EFIN] = p
}

// ActiveProfile devuelve el perfil configurado en MEF_ACTIVE_PROFILE
// (acepta ID de catálogo o EFIN).
func (r *ProfileRegistry) ActiveProfile() (*entity.TransmitterProfile, error) {
	key := r.cfg.ActiveProfile
	if key == "" {
		return nil, fmt.Errorf("MEF_ACTIVE_PROFILE sin definir: %w", domain.ErrInvalidInput)
	}
	p, ok := r.profiles[key]
	if !ok {
		return nil, fmt.Errorf("perfil %q no registrado: %w", key, domain.ErrNotFound)
	}
	return p, nil
}

// ActiveETIN devuelve el ETIN vigente: en ATS se usa el ETIN de prueba si el
// perfil tiene uno; en Producción (o sin ETIN de prueba) el de producción.
// Nunca devuelve vacío sin error.
func (r *ProfileRegistry) ActiveETIN() (string, error) {
	p, err := r.ActiveProfile()
	if err != nil {
		return "", err
	}
	if !r.IsProduction() && p.ETINTest != "" {
		return p.ETINTest, nil
	}
	if p.ETINProd == "" {
		return "", fmt.Errorf("perfil %s sin ETIN de producción: %w", p.EFIN, domain.ErrInvalidInput)
	}
	return p.ETINProd, nil
}

// TransmissionsEnabled estado del kill switch global.
func (r *ProfileRegistry) TransmissionsEnabled() bool {
	return r.cfg.TransmissionsEnabled
}

// IsProduction indica si el ambiente configurado es Producción.
func (r *ProfileRegistry) IsProduction() bool {
	return strings.EqualFold(r.cfg.Environment, pkgmef.EnvironmentProduction)
}

// Environment devuelve el ambiente normalizado ("ATS" | "PRODUCTION").
func (r *ProfileRegistry) Environment() string {
	if r.IsProduction() {
		return pkgmef.EnvironmentProduction
	}
	return pkgmef.EnvironmentATS
}

// Endpoint resuelve la URL A2A de un servicio: {base}/{transport}/{servicio}.
// La base depende solo del ambiente; el toggle ATS/Producción jamás toca código.
func (r *ProfileRegistry) Endpoint(service string) string {
	base := r.cfg.ATSBaseURL
	if r.IsProduction() {
		base = r.cfg.ProdBaseURL
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), transportFormat, service)
}

// ValidateSoftwareDeveloperApproval verifica que el perfil activo pueda
// transmitir software propio. Falla cerrado: sin aprobación o con rol
// distinto de Software Developer no se transmite nada.
func (r *ProfileRegistry) ValidateSoftwareDeveloperApproval() error {
	p, err := r.ActiveProfile()
	if err != nil {
		return err
	}
	if !p.SoftwareDeveloperApproved {
		return fmt.Errorf("perfil %s (EFIN %s) sin aprobación de Software Developer: %w",
			p.FirmName, p.EFIN, domain.ErrNotApproved)
	}
	if p.Role != pkgmef.RoleSoftwareDeveloper {
		return fmt.Errorf("perfil %s tiene rol %q, se requiere %q: %w",
			p.FirmName, p.Role, pkgmef.RoleSoftwareDeveloper, domain.ErrNotApproved)
	}
	return nil
}

package entity

// TransmitterProfile identidad de transmisión ante el IRS: el EFIN identifica
// a la firma autorizada y los ETIN el canal (producción o ATS).
// Inmutable por despliegue; el perfil activo se selecciona por configuración.
type TransmitterProfile struct {
	ID                         string
	EFIN                       string
	ETINProd                   string
	ETINTest                   string // vacío si la firma no tiene canal ATS propio
	FirmName                   string
	ApprovedYears              []string
	Role                       string // ERO | Transmitter | Software Developer
	SoftwareDeveloperApproved  bool
}

// ApprovedForYear indica si el perfil está autorizado para el año fiscal dado.
func (p *TransmitterProfile) ApprovedForYear(taxYear string) bool {
	for _, y := range p.ApprovedYears {
		if y == taxYear {
			return true
		}
	}
	return false
}

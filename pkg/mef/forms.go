// Package mef contiene catálogos y validaciones puras para el e-file federal
// vía IRS MeF (Modernized e-File), según Publication 4164 y el STP Reference Guide.
package mef

// =============================================================================
// Tipos de declaración soportados (ReturnTypeCd del ReturnHeader MeF)
// Cada tipo pertenece a una familia declarada explícitamente: las reglas de
// negocio etiquetadas con la familia aplican a todos sus miembros.
// =============================================================================

const (
	// Individuales (serie 1040)
	Form1040   = "1040"
	Form1040SR = "1040-SR"
	Form1040NR = "1040-NR"
	Form1040X  = "1040-X" // Enmendada

	// Sociedades (serie 1120)
	Form1120  = "1120"
	Form1120S = "1120-S"
	Form1120H = "1120-H"

	// Sucesiones y fideicomisos
	Form1041 = "1041"

	// Sociedades de personas
	Form1065 = "1065"

	// Prórroga automática
	Form7004 = "7004"

	// Nómina (serie 94x)
	Form940 = "940"
	Form941 = "941"
	Form943 = "943"
	Form944 = "944"
	Form945 = "945"
)

// Familias de formularios. La serie 94x agrupa los formularios de nómina.
const (
	Family1040 = "1040"
	Family1120 = "1120"
	Family1041 = "1041"
	Family1065 = "1065"
	Family7004 = "7004"
	Family94x  = "94x"
)

// formFamilies mapea cada tipo de declaración a su familia declarada.
// La pertenencia se declara aquí, no se deriva del prefijo del string:
// "1040-X" es familia "1040" porque esta tabla lo dice, no por un split("-").
var formFamilies = map[string]string{
	Form1040:   Family1040,
	Form1040SR: Family1040,
	Form1040NR: Family1040,
	Form1040X:  Family1040,
	Form1120:   Family1120,
	Form1120S:  Family1120,
	Form1120H:  Family1120,
	Form1041:   Family1041,
	Form1065:   Family1065,
	Form7004:   Family7004,
	Form940:    Family94x,
	Form941:    Family94x,
	Form943:    Family94x,
	Form944:    Family94x,
	Form945:    Family94x,
}

// FormFamily devuelve la familia declarada del tipo de declaración,
// o "" si el tipo no está en el catálogo (tipos desconocidos solo
// matchean reglas que los nombren exactamente).
func FormFamily(returnType string) string {
	return formFamilies[returnType]
}

// IsSupportedForm indica si el tipo de declaración está en el catálogo MeF soportado.
func IsSupportedForm(returnType string) bool {
	_, ok := formFamilies[returnType]
	return ok
}

// SupportedForms devuelve los tipos de declaración del catálogo (orden estable).
func SupportedForms() []string {
	return []string{
		Form1040, Form1040SR, Form1040NR, Form1040X,
		Form1120, Form1120S, Form1120H,
		Form1041, Form1065, Form7004,
		Form940, Form941, Form943, Form944, Form945,
	}
}

// =============================================================================
// Ambientes MeF: ATS (Assurance Testing System) y Producción.
// El toggle es configuración, nunca un cambio de código.
// =============================================================================

const (
	EnvironmentATS        = "ATS"
	EnvironmentProduction = "PRODUCTION"
)

// =============================================================================
// Servicios A2A expuestos por el gateway MeF.
// =============================================================================

const (
	ServiceSendSubmissions     = "SendSubmissions"
	ServiceGetSubmissionStatus = "GetSubmissionStatus"
	ServiceGetAck              = "GetAck"
	ServiceGetAcks             = "GetAcks"
	ServiceGetNewAcks          = "GetNewAcks"
)

// =============================================================================
// Roles de proveedor autorizado (IRS e-file Application).
// =============================================================================

const (
	RoleERO               = "ERO"
	RoleTransmitter       = "Transmitter"
	RoleSoftwareDeveloper = "Software Developer"
)

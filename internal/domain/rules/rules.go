// Package rules implementa la validación de negocio MeF previa al envío
// (Publication 4164, MeF Business Rules). Las reglas son predicados puros
// sobre el documento parseado; el motor las ejecuta todas y produce un
// reporte completo, nunca un primer-fallo.
package rules

import (
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/Efile-api/pkg/mef"
)

// Severity severidad de una regla.
type Severity string

const (
	SeverityReject  Severity = "reject"  // Bloquea el envío
	SeverityError   Severity = "error"   // Bloquea el envío (error interno del motor)
	SeverityWarning Severity = "warning" // Informativa, no bloquea
)

// Context contexto de evaluación de las reglas.
type Context struct {
	TaxYear     string
	ReturnType  string
	Amended     bool
	Environment string // mef.EnvironmentATS | mef.EnvironmentProduction
}

// Rule regla de negocio declarativa. Forms lista tipos exactos ("1120-S") o
// familias declaradas ("1040", "94x"): una regla aplica si nombra el tipo
// exacto o la familia del tipo según el catálogo de pkg/mef.
//
// Check recibe el documento parseado (nil si el payload no es XML válido),
// el payload crudo y el contexto. Debe retornar true si la regla pasa.
type Rule struct {
	ID          string
	Name        string
	Description string
	Forms       []string
	Severity    Severity
	Category    string
	Check       func(doc *etree.Document, raw string, ctx *Context) bool
	Message     string
}

// AppliesTo indica si la regla aplica al tipo de declaración dado.
func (r *Rule) AppliesTo(returnType string) bool {
	family := mef.FormFamily(returnType)
	for _, f := range r.Forms {
		if f == returnType {
			return true
		}
		if family != "" && f == family {
			return true
		}
	}
	return false
}

// allFamilies reglas comunes: aplican a todo el catálogo.
var allFamilies = []string{
	mef.Family1040, mef.Family1120, mef.Family1041,
	mef.Family1065, mef.Family7004, mef.Family94x,
}

// ── helpers de consulta sobre el documento ────────────────────────────────────

// findText devuelve el texto del primer path que exista, o "".
func findText(doc *etree.Document, paths ...string) string {
	if doc == nil {
		return ""
	}
	for _, p := range paths {
		if el := doc.FindElement(p); el != nil {
			return el.Text()
		}
	}
	return ""
}

// hasElement indica si existe al menos uno de los paths.
func hasElement(doc *etree.Document, paths ...string) bool {
	if doc == nil {
		return false
	}
	for _, p := range paths {
		if doc.FindElement(p) != nil {
			return true
		}
	}
	return false
}

// primarySSN extrae el SSN del contribuyente principal ("" si no hay).
// Busca elementos por nombre exacto, no por sufijo: un <SpouseSSN> anidado
// no contamina la extracción.
func primarySSN(doc *etree.Document) string {
	return findText(doc, "//PrimarySSN", "//TaxpayerSSN")
}

// taxYearText extrae el año fiscal declarado ("" si no hay).
func taxYearText(doc *etree.Document) string {
	return findText(doc, "//TaxYr", "//TaxYear")
}

// einText extrae el EIN de la entidad ("" si no hay).
func einText(doc *etree.Document) string {
	return findText(doc, "//EIN", "//EmployerIdentificationNumber")
}

// ── registro de reglas ────────────────────────────────────────────────────────

// commonRules estructura y cabecera, aplican a todas las familias.
var commonRules = []Rule{
	{
		ID: "R0001", Name: "XML Declaration Required",
		Description: "La declaración debe abrir con una declaración XML válida",
		Forms:       allFamilies, Severity: SeverityReject, Category: "Structure",
		Check: func(_ *etree.Document, raw string, _ *Context) bool {
			return hasXMLDeclaration(raw)
		},
		Message: "XML declaration is missing or invalid",
	},
	{
		ID: "R0002", Name: "Return Element Required",
		Description: "El elemento raíz Return debe estar presente",
		Forms:       allFamilies, Severity: SeverityReject, Category: "Structure",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//Return")
		},
		Message: "Return element is missing",
	},
	{
		ID: "R0003", Name: "ReturnHeader Required",
		Description: "El elemento ReturnHeader debe estar presente",
		Forms:       allFamilies, Severity: SeverityReject, Category: "Structure",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//ReturnHeader")
		},
		Message: "ReturnHeader element is missing",
	},
	{
		ID: "R0004", Name: "TaxYear Required",
		Description: "El año fiscal debe estar especificado en la cabecera",
		Forms:       allFamilies, Severity: SeverityReject, Category: "Header",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			yr := taxYearText(doc)
			return len(yr) == 4 && isDigits(yr)
		},
		Message: "Tax year is missing or invalid",
	},
	{
		ID: "R0005", Name: "TaxYear Valid Range",
		Description: "El año fiscal debe estar dentro del rango aceptado",
		Forms:       allFamilies, Severity: SeverityReject, Category: "Header",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			year, err := strconv.Atoi(taxYearText(doc))
			if err != nil {
				return false
			}
			return year >= 2020 && year <= time.Now().Year()
		},
		Message: "Tax year is outside acceptable range (2020-current)",
	},
	{
		ID: "R0006", Name: "ReturnData Required",
		Description: "El elemento ReturnData debe estar presente",
		// La prórroga 7004 no lleva ReturnData: solo cabecera y form code.
		Forms: []string{
			mef.Family1040, mef.Family1120, mef.Family1041,
			mef.Family1065, mef.Family94x,
		},
		Severity: SeverityReject, Category: "Structure",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//ReturnData")
		},
		Message: "ReturnData element is missing",
	},
	{
		ID: "R0007", Name: "Well-Formed XML",
		Description: "El payload debe ser XML bien formado",
		Forms:       allFamilies, Severity: SeverityReject, Category: "Structure",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return doc != nil && doc.Root() != nil
		},
		Message: "Return payload is not well-formed XML",
	},
}

// individualRules familia 1040 (aplican también a 1040-SR/NR/X por familia).
var individualRules = []Rule{
	{
		ID: "IND-001", Name: "Primary SSN Required",
		Description: "El SSN del contribuyente principal debe estar presente",
		Forms:       []string{mef.Family1040}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			ssn := primarySSN(doc)
			return len(ssn) == 9 && isDigits(ssn)
		},
		Message: "Primary taxpayer SSN is missing or invalid format",
	},
	{
		ID: "IND-002", Name: "SSN Format Valid",
		Description: "El SSN no puede ser todo ceros ni un dígito repetido",
		Forms:       []string{mef.Family1040}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return mef.IsValidSSN(primarySSN(doc))
		},
		Message: "SSN format is invalid (cannot be all zeros or repeating digit)",
	},
	{
		ID: "IND-003", Name: "Filing Status Required",
		Description: "El estado civil tributario debe estar especificado",
		Forms:       []string{mef.Family1040}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//FilingStatus", "//FilingStatusCd", "//IndividualReturnFilingStatusCd")
		},
		Message: "Filing status is missing",
	},
	{
		ID: "IND-004", Name: "Taxpayer Name Required",
		Description: "El nombre del contribuyente principal debe estar presente",
		Forms:       []string{mef.Family1040}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//Name", "//NameLine1Txt") &&
				hasElement(doc, "//FirstName", "//PersonFirstNm", "//NameLine1Txt")
		},
		Message: "Taxpayer name is missing",
	},
	{
		ID: "IND-005", Name: "ATS Test SSN Check",
		Description: "Los SSN de prueba (9xx) solo se admiten en ambiente ATS",
		Forms:       []string{mef.Family1040}, Severity: SeverityReject, Category: "Environment",
		Check: func(doc *etree.Document, _ string, ctx *Context) bool {
			ssn := primarySSN(doc)
			if ssn == "" {
				return true // IND-001 reporta la ausencia
			}
			if ctx.Environment == mef.EnvironmentProduction && mef.IsTestSSN(ssn) {
				return false
			}
			return true
		},
		Message: "Test SSN (starting with 9) cannot be used in Production",
	},
}

// corporationRules familia 1120.
var corporationRules = []Rule{
	{
		ID: "CORP-001", Name: "EIN Required",
		Description: "El EIN de la sociedad debe estar presente",
		Forms:       []string{mef.Family1120}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return mef.IsValidEIN(einText(doc))
		},
		Message: "EIN is missing or invalid format",
	},
	{
		ID: "CORP-002", Name: "Business Name Required",
		Description: "La razón social debe estar presente",
		Forms:       []string{mef.Family1120}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//BusinessName", "//BusinessNameLine1", "//BusinessNameLine1Txt")
		},
		Message: "Business name is missing",
	},
	{
		ID: "CORP-003", Name: "Tax Period End Date",
		Description: "La fecha de cierre del periodo fiscal es obligatoria",
		Forms:       []string{mef.Form1120, mef.Form1120S}, Severity: SeverityReject, Category: "Header",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//TaxPeriodEndDt", "//TaxPeriodEndDate")
		},
		Message: "Tax period end date is missing",
	},
	{
		ID: "CORP-004", Name: "S-Corp Election Date",
		Description: "La 1120-S debería indicar fecha de elección S o marca de primera declaración",
		Forms:       []string{mef.Form1120S}, Severity: SeverityWarning, Category: "Election",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//SElectionEffectiveDt", "//InitialReturn", "//InitialReturnInd")
		},
		Message: "S election effective date or initial return indicator recommended",
	},
}

// partnershipRules familia 1065.
var partnershipRules = []Rule{
	{
		ID: "PTNR-001", Name: "Partnership EIN Required",
		Description: "El EIN de la sociedad de personas debe estar presente",
		Forms:       []string{mef.Family1065}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return mef.IsValidEIN(einText(doc))
		},
		Message: "Partnership EIN is missing",
	},
	{
		ID: "PTNR-002", Name: "Partner Information",
		Description: "Se espera al menos un Schedule K-1 de socio",
		Forms:       []string{mef.Family1065}, Severity: SeverityWarning, Category: "Schedules",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//IRS1065ScheduleK1", "//ScheduleK1", "//PartnerInformation")
		},
		Message: "No Schedule K-1 partner information found",
	},
}

// estateTrustRules familia 1041.
var estateTrustRules = []Rule{
	{
		ID: "EST-001", Name: "Estate/Trust EIN Required",
		Description: "El EIN de la sucesión o fideicomiso debe estar presente",
		Forms:       []string{mef.Family1041}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return mef.IsValidEIN(einText(doc))
		},
		Message: "Estate/Trust EIN is missing",
	},
	{
		ID: "EST-002", Name: "Entity Type Required",
		Description: "El tipo de entidad (sucesión/fideicomiso) es obligatorio",
		Forms:       []string{mef.Family1041}, Severity: SeverityReject, Category: "Filer",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//TypeOfEntity", "//DecedentEstate", "//SimpleTrust", "//ComplexTrust")
		},
		Message: "Entity type (estate/trust type) is missing",
	},
}

// extensionRules familia 7004.
var extensionRules = []Rule{
	{
		ID: "EXT-001", Name: "Form Code Required",
		Description: "La prórroga debe indicar qué formulario extiende",
		Forms:       []string{mef.Family7004}, Severity: SeverityReject, Category: "Extension",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//FormCode", "//ExtensionFormCd")
		},
		Message: "Form code for extension is missing",
	},
	{
		ID: "EXT-002", Name: "Tentative Tax",
		Description: "El impuesto tentativo debería declararse y no ser negativo",
		Forms:       []string{mef.Family7004}, Severity: SeverityWarning, Category: "Extension",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			txt := findText(doc, "//TentativeTaxAmt", "//TentativeTax", "//TotalTax")
			if txt == "" {
				return false
			}
			amt, err := decimal.NewFromString(txt)
			return err == nil && !amt.IsNegative()
		},
		Message: "Tentative tax amount not specified or negative",
	},
}

// employmentRules familia 94x.
var employmentRules = []Rule{
	{
		ID: "EMP-001", Name: "Quarter Indicator Required",
		Description: "Las declaraciones trimestrales deben indicar el trimestre",
		Forms:       []string{mef.Form941, mef.Form943}, Severity: SeverityReject, Category: "Period",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//Quarter", "//QuarterIndicator", "//Qtr")
		},
		Message: "Quarter indicator is missing",
	},
	{
		ID: "EMP-002", Name: "Wages Reported",
		Description: "El total de salarios pagados debe declararse",
		Forms:       []string{mef.Family94x}, Severity: SeverityReject, Category: "Wages",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//TotalWages", "//WagesAmt", "//TotalTaxableWagesAmt")
		},
		Message: "Total wages amount is missing",
	},
	{
		ID: "EMP-003", Name: "Employee Count",
		Description: "Debería indicarse el número de empleados",
		Forms:       []string{mef.Form941, mef.Form944}, Severity: SeverityWarning, Category: "Employees",
		Check: func(doc *etree.Document, _ string, _ *Context) bool {
			return hasElement(doc, "//NumberOfEmployees", "//EmployeeCnt")
		},
		Message: "Number of employees not specified",
	},
}

// allRules registro completo en orden de evaluación.
func allRules() []Rule {
	out := make([]Rule, 0,
		len(commonRules)+len(individualRules)+len(corporationRules)+
			len(partnershipRules)+len(estateTrustRules)+len(extensionRules)+len(employmentRules))
	out = append(out, commonRules...)
	out = append(out, individualRules...)
	out = append(out, corporationRules...)
	out = append(out, partnershipRules...)
	out = append(out, estateTrustRules...)
	out = append(out, extensionRules...)
	out = append(out, employmentRules...)
	return out
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func hasXMLDeclaration(raw string) bool {
	i := 0
	for i < len(raw) && (raw[i] == ' ' || raw[i] == '\n' || raw[i] == '\r' || raw[i] == '\t') {
		i++
	}
	return i+5 <= len(raw) && raw[i:i+5] == "<?xml"
}

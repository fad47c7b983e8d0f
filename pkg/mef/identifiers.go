package mef

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Identificadores del contribuyente: SSN (personas) y EIN (entidades).
// El IRS rechaza SSN "de relleno": todo ceros o un mismo dígito repetido.
// Los SSN que empiezan por 9 son de prueba (ITIN/ATS) y solo valen fuera
// de producción.
// =============================================================================

// IsValidSSN valida formato de SSN: exactamente 9 dígitos, no todo ceros
// y no un mismo dígito repetido 9 veces.
func IsValidSSN(ssn string) bool {
	if len(ssn) != 9 || !isAllDigits(ssn) {
		return false
	}
	if ssn == "000000000" {
		return false
	}
	return !isRepeatedDigit(ssn)
}

// IsTestSSN indica si el SSN pertenece al rango reservado de pruebas (9xx-xx-xxxx).
func IsTestSSN(ssn string) bool {
	return len(ssn) == 9 && isAllDigits(ssn) && ssn[0] == '9'
}

// IsValidEIN valida formato de EIN: exactamente 9 dígitos, no todo ceros.
func IsValidEIN(ein string) bool {
	return len(ein) == 9 && isAllDigits(ein) && ein != "000000000"
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isRepeatedDigit(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// =============================================================================
// Submission ID: {EFIN}-{timestamp base36}-{8 chars aleatorios}, en mayúsculas.
// Trazable al transmisor y aproximadamente ordenado en el tiempo, pero único.
// =============================================================================

var submissionIDPattern = regexp.MustCompile(`^[0-9]{6}-[0-9A-Z]+-[0-9A-F]{8}$`)

// NewSubmissionID genera un identificador único de envío para el EFIN dado.
func NewSubmissionID(efin string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", efin, ts, random))
}

// IsValidSubmissionID verifica que el identificador tenga el formato documentado.
func IsValidSubmissionID(id string) bool {
	return submissionIDPattern.MatchString(id)
}

// SubmissionEFIN extrae el EFIN del submission ID ("" si el formato no coincide).
func SubmissionEFIN(id string) string {
	if !IsValidSubmissionID(id) {
		return ""
	}
	return id[:strings.Index(id, "-")]
}

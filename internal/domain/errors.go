package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// ErrKillSwitchActive: transmisiones deshabilitadas por el kill switch
	// (MEF_TRANSMISSIONS_ENABLED=false). Precede a cualquier otra comprobación.
	ErrKillSwitchActive = errors.New("transmissions are disabled (kill switch active)")

	// ErrNotApproved: el perfil activo no tiene aprobación de Software Developer.
	ErrNotApproved = errors.New("active profile lacks Software Developer approval")

	// ErrValidationFailed: la declaración no pasó las reglas de negocio MeF.
	ErrValidationFailed = errors.New("return failed schema validation")

	// ErrUnparsableResponse: la respuesta del gateway no trae el elemento Status
	// esperado; el estado queda desconocido, nunca se coacciona a éxito ni fallo.
	ErrUnparsableResponse = errors.New("gateway response missing recognizable status")
)

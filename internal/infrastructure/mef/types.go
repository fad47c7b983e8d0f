// Package mef implementa el cliente A2A contra el gateway IRS MeF:
// envelopes de transporte, reintentos, certificados de cliente y el modo
// simulación cuando no hay certificado disponible.
package mef

import "time"

// OperationResult envuelve el resultado de una operación contra el gateway.
// El cliente nunca hace pánico ni pierde el contexto de la llamada: toda
// operación termina en uno de estos, con Err poblado cuando Success es false.
type OperationResult[T any] struct {
	Success     bool
	Data        T
	Err         error // envuelve sentinelas de dominio (errors.Is funciona)
	RequestID   string
	Timestamp   time.Time
	Environment string
	Duration    time.Duration
}

// ErrorMessage devuelve el mensaje del error ("" si la operación fue exitosa).
func (r *OperationResult[T]) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

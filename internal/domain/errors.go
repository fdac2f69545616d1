package domain

import (
	"errors"
	"fmt"
)

// ErrLedgerLocked se devuelve al intentar mutar un ledger bloqueado.
var ErrLedgerLocked = errors.New("ledger locked")

// DataGapError indica que no hay snapshot fusionado disponible para el par.
// Se recupera localmente saltando el tick; nunca es fatal.
type DataGapError struct {
	InstrumentID string
	Reason       string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap on %s: %s", e.InstrumentID, e.Reason)
}

// InsufficientCapitalError indica que una orden candidata excede el capital disponible.
type InsufficientCapitalError struct {
	Required  float64
	Available float64
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital: required %.4f, available %.4f", e.Required, e.Available)
}

// ConfigurationError reporta un parámetro inválido. Es fatal al arrancar la sesión.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// TransportError envuelve fallos del colaborador de ingesta (WS/REST).
// Nunca llega al motor de decisión: el runner lo trata como "sin quotes nuevas".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

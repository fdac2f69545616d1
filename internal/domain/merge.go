package domain

import (
	"math"
	"time"
)

// MergeResult es el resultado de convertir pares YES+NO en colateral on-chain.
type MergeResult struct {
	SessionID   string    `json:"session_id"`
	ConditionID string    `json:"condition_id"`
	Pairs       float64   `json:"pairs"`
	TxHash      string    `json:"tx_hash,omitempty"`
	GasUsed     uint64    `json:"gas_used,omitempty"`
	GasCostPOL  float64   `json:"gas_cost_pol,omitempty"`
	Confirmed   bool      `json:"confirmed"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// MergeablePairs es cuántos pares completos tiene el ledger, truncado a la
// precisión de los tokens condicionales (6 decimales).
func MergeablePairs(l LedgerState) float64 {
	return math.Floor(min(l.QtyYes, l.QtyNo)*1e6) / 1e6
}

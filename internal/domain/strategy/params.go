package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Params son los umbrales de la estrategia de cobertura.
type Params struct {
	// TargetPairCost es el techo de pair cost mientras algún lado esté vacío.
	TargetPairCost float64
	// MaxOrderFraction es la fracción del capital *actual* usada por orden.
	MaxOrderFraction float64
	// MinOrderValue es el notional mínimo por orden en USDC.
	MinOrderValue float64
	// Banda de primera entrada: EntryFloor <= precio <= EntryThreshold.
	EntryThreshold float64
	EntryFloor     float64
	// MinEntryProgress retrasa cualquier trade hasta esa fracción de la sesión.
	MinEntryProgress float64

	SafetyEnabled   bool
	SafetyProgress  float64 // la cobertura forzada solo pasado este punto
	SafetyTrendBias float64 // |trend/tick| mínimo en contra del lado tenido

	PriceSource domain.PriceSource
}

// Validate devuelve *domain.ConfigurationError si algún umbral es inválido.
func (p Params) Validate() error {
	switch {
	case p.TargetPairCost <= 0 || p.TargetPairCost >= 1:
		return cfgErr("target_pair_cost", "must be in (0, 1)", p.TargetPairCost)
	case p.MaxOrderFraction <= 0 || p.MaxOrderFraction > 1:
		return cfgErr("max_order_fraction", "must be in (0, 1]", p.MaxOrderFraction)
	case p.MinOrderValue < 0:
		return cfgErr("min_order_value", "must be >= 0", p.MinOrderValue)
	case p.EntryThreshold <= 0 || p.EntryThreshold >= 1:
		return cfgErr("entry_threshold", "must be in (0, 1)", p.EntryThreshold)
	case p.EntryFloor < 0 || p.EntryFloor > p.EntryThreshold:
		return cfgErr("entry_floor", "must be in [0, entry_threshold]", p.EntryFloor)
	case p.MinEntryProgress < 0 || p.MinEntryProgress >= 1:
		return cfgErr("min_entry_progress", "must be in [0, 1)", p.MinEntryProgress)
	case p.SafetyProgress < 0 || p.SafetyProgress >= 1:
		return cfgErr("safety_progress", "must be in [0, 1)", p.SafetyProgress)
	case p.SafetyTrendBias < 0:
		return cfgErr("safety_trend_bias", "must be >= 0", p.SafetyTrendBias)
	}
	if p.PriceSource != domain.PriceMid && p.PriceSource != domain.PriceAsk {
		return &domain.ConfigurationError{Field: "price_source", Reason: fmt.Sprintf("unknown source %q (mid|ask)", p.PriceSource)}
	}
	return nil
}

func cfgErr(field, reason string, v float64) error {
	return &domain.ConfigurationError{Field: field, Reason: fmt.Sprintf("%s, got %g", reason, v)}
}

// presets son las variantes históricas de la estrategia, como configuración.
var presets = map[string]Params{
	// Valores de producción: banda de entrada estrecha, espera al 5% de la sesión
	// y cobertura forzada activa.
	"default": {
		TargetPairCost:   0.975,
		MaxOrderFraction: 0.20,
		MinOrderValue:    10,
		EntryThreshold:   0.35,
		EntryFloor:       0.30,
		MinEntryProgress: 0.05,
		SafetyEnabled:    true,
		SafetyProgress:   0.5,
		SafetyTrendBias:  0.5,
		PriceSource:      domain.PriceMid,
	},
	// Primera versión: sin cobertura forzada, entrada hasta 0.40.
	"classic": {
		TargetPairCost:   0.98,
		MaxOrderFraction: 0.20,
		MinOrderValue:    10,
		EntryThreshold:   0.40,
		EntryFloor:       0.30,
		SafetyProgress:   0.5,
		SafetyTrendBias:  0.5,
		PriceSource:      domain.PriceMid,
	},
	"conservative": {
		TargetPairCost:   0.96,
		MaxOrderFraction: 0.10,
		MinOrderValue:    10,
		EntryThreshold:   0.33,
		EntryFloor:       0.25,
		MinEntryProgress: 0.05,
		SafetyEnabled:    true,
		SafetyProgress:   0.5,
		SafetyTrendBias:  0.3,
		PriceSource:      domain.PriceAsk,
	},
}

// Preset devuelve los parámetros de un preset por nombre.
func Preset(name string) (Params, error) {
	if name == "" {
		name = "default"
	}
	p, ok := presets[name]
	if !ok {
		return Params{}, &domain.ConfigurationError{
			Field:  "strategy.preset",
			Reason: fmt.Sprintf("unknown preset %q (available: %s)", name, strings.Join(PresetNames(), ", ")),
		}
	}
	return p, nil
}

// DefaultParams devuelve el preset "default".
func DefaultParams() Params {
	return presets["default"]
}

// PresetNames devuelve los nombres de presets ordenados.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"`
	Bids      []bookEntryRaw `json:"bids"`
	Asks      []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// midpointResponse es la respuesta de GET /midpoint.
type midpointResponse struct {
	Mid string `json:"mid"`
}

// priceHistoryResponse es la respuesta de GET /prices-history.
type priceHistoryResponse struct {
	History []pricePointRaw `json:"history"`
}

type pricePointRaw struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata de un mercado.
// clobTokenIds y outcomes llegan como arrays JSON serializados dentro de un string.
type gammaMarket struct {
	ConditionID  string      `json:"conditionId"`
	Question     string      `json:"question"`
	Slug         string      `json:"slug"`
	StartDate    string      `json:"startDate"`
	EndDate      string      `json:"endDate"`
	ClobTokenIDs string      `json:"clobTokenIds"`
	Outcomes     string      `json:"outcomes"`
	Volume       json.Number `json:"volume"`
	Active       bool        `json:"active"`
	Closed       bool        `json:"closed"`
	NegRisk      bool        `json:"negRisk"`
}

// --- Market WebSocket ---

// wsSubscribe es el mensaje de suscripción al canal market.
type wsSubscribe struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	AssetIDs []string `json:"assets_ids"`
}

// wsEvent cubre los eventos book y price_change del canal market.
type wsEvent struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Timestamp    string          `json:"timestamp"`
	Bids         []bookEntryRaw  `json:"bids"`
	Asks         []bookEntryRaw  `json:"asks"`
	PriceChanges []wsPriceChange `json:"price_changes"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

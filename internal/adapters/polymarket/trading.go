package polymarket

// trading.go: ejecución real de órdenes vía el CLOB de Polymarket.
//
// Implementa ports.TradeExecutor. Cada orden del engine se envía como BUY
// limit FOK (fill-or-kill): o se llena entera al precio o no se llena, así que
// el fill que vuelve es lo que se aplica al ledger.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const (
	OrderTypeFOK = "FOK"
	OrderTypeFAK = "FAK"
)

// clobOrderRequest es el body del POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

// TradingClient envía órdenes firmadas al CLOB.
type TradingClient struct {
	auth      *AuthClient
	orderType string

	mu      sync.Mutex
	negRisk map[string]bool
}

// NewTradingClient crea un executor real. orderType vacío = FOK.
func NewTradingClient(auth *AuthClient, orderType string) *TradingClient {
	if orderType == "" {
		orderType = OrderTypeFOK
	}
	return &TradingClient{
		auth:      auth,
		orderType: strings.ToUpper(orderType),
		negRisk:   make(map[string]bool),
	}
}

// Execute firma y envía una orden BUY. Devuelve error si el CLOB no la llena.
func (tc *TradingClient) Execute(ctx context.Context, order domain.Order) (domain.Fill, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.Fill{}, fmt.Errorf("trading.Execute: creds: %w", err)
	}

	negRisk := order.NegRisk
	if !negRisk {
		nr, err := tc.isNegRisk(ctx, order.InstrumentID)
		if err != nil {
			slog.Warn("trading: neg-risk lookup failed, assuming standard exchange", "token", order.InstrumentID, "err", err)
		}
		negRisk = nr
	}

	signed, err := tc.auth.buildSignedOrder(order.InstrumentID, order.Price, order.Qty, negRisk)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("trading.Execute: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       order.InstrumentID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          "BUY",
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.credentials().APIKey,
		OrderType: tc.orderType,
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.Fill{}, &domain.TransportError{Op: "post order", Err: err}
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.Fill{}, fmt.Errorf("trading.Execute: clob rejected order: %s", resp.ErrorMsg)
	}
	if !strings.EqualFold(resp.Status, "matched") {
		return domain.Fill{}, fmt.Errorf("trading.Execute: order %s not filled (status %q)", resp.OrderID, resp.Status)
	}

	fill := domain.Fill{
		OrderID: resp.OrderID,
		Qty:     order.Qty,
		Price:   order.Price,
		Status:  resp.Status,
	}
	// BUY: making = USDC entregado, taking = contratos recibidos.
	taking := domain.ParsePrice(resp.TakingAmount)
	making := domain.ParsePrice(resp.MakingAmount)
	if taking > 0 && making > 0 {
		fill.Qty = taking
		fill.Price = making / taking
	}

	slog.Info("trading: order filled",
		"order_id", resp.OrderID,
		"action", order.Action,
		"qty", fmt.Sprintf("%.2f", fill.Qty),
		"price", fmt.Sprintf("%.4f", fill.Price),
	)
	return fill, nil
}

// isNegRisk consulta (y cachea) si el token usa el exchange NegRisk.
func (tc *TradingClient) isNegRisk(ctx context.Context, tokenID string) (bool, error) {
	tc.mu.Lock()
	if nr, ok := tc.negRisk[tokenID]; ok {
		tc.mu.Unlock()
		return nr, nil
	}
	tc.mu.Unlock()

	u := fmt.Sprintf("%s/neg-risk?token_id=%s", tc.auth.clobBase, url.QueryEscape(tokenID))
	var resp clobNegRiskResponse
	if err := tc.auth.get(ctx, tc.auth.clobLimiter, u, &resp); err != nil {
		return false, fmt.Errorf("neg-risk check: %w", err)
	}

	tc.mu.Lock()
	tc.negRisk[tokenID] = resp.NegRisk
	tc.mu.Unlock()
	return resp.NegRisk, nil
}

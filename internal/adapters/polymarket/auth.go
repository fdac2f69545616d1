package polymarket

// auth.go: credenciales del CLOB para operar con dinero real.
//
// Nivel 1: la wallet firma un ClobAuth (EIP-712) y el CLOB devuelve apiKey/secret/passphrase.
// Nivel 2: cada request privado lleva un HMAC-SHA256 hecho con ese secret.

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
)

const (
	polygonChainID = int64(137)

	clobAuthAttestation = "This message attests that I control the given wallet"

	// taker cero: cualquiera puede cruzar la orden
	openTaker = "0x0000000000000000000000000000000000000000"
)

var clobAuthTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	"ClobAuth": {
		{Name: "address", Type: "address"},
		{Name: "timestamp", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "message", Type: "string"},
	},
}

type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient es el Client público más la wallet que firma las órdenes.
type AuthClient struct {
	*Client
	key     *ecdsa.PrivateKey
	wallet  common.Address
	orders  builder.ExchangeOrderBuilder
	nowUnix func() int64

	credsMu sync.Mutex
	creds   *apiCredentials
}

// NewAuthClient acepta la clave de Polygon con o sin 0x.
func NewAuthClient(c *Client, privateKeyHex string) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}
	return &AuthClient{
		Client:  c,
		key:     key,
		wallet:  crypto.PubkeyToAddress(key.PublicKey),
		orders:  builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
		nowUnix: func() int64 { return time.Now().Unix() },
	}, nil
}

func (ac *AuthClient) Address() string {
	return ac.wallet.Hex()
}

// EnsureCreds pide /auth/derive-api-key una sola vez por proceso.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	ac.credsMu.Lock()
	defer ac.credsMu.Unlock()
	if ac.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(ac.nowUnix(), 10)
	sig, err := ac.signClobAuth(ts, 0)
	if err != nil {
		return fmt.Errorf("auth.EnsureCreds: sign: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("auth.EnsureCreds: request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", ac.wallet.Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	resp, err := ac.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth.EnsureCreds: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth.EnsureCreds: status %d: %s", resp.StatusCode, body)
	}
	var creds apiCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return fmt.Errorf("auth.EnsureCreds: decode: %w", err)
	}
	ac.creds = &creds
	return nil
}

func (ac *AuthClient) credentials() *apiCredentials {
	ac.credsMu.Lock()
	defer ac.credsMu.Unlock()
	return ac.creds
}

// clobAuthDigest es el hash EIP-712 del ClobAuth que firma la wallet.
func clobAuthDigest(wallet common.Address, timestamp string, nonce int64) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(apitypes.TypedData{
		Types:       clobAuthTypes,
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: gethmath.NewHexOrDecimal256(polygonChainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   wallet.Hex(),
			"timestamp": timestamp,
			"nonce":     big.NewInt(nonce),
			"message":   clobAuthAttestation,
		},
	})
	return digest, err
}

func (ac *AuthClient) signClobAuth(timestamp string, nonce int64) (string, error) {
	digest, err := clobAuthDigest(ac.wallet, timestamp, nonce)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest, ac.key)
	if err != nil {
		return "", err
	}
	sig[64] += 27 // V en formato Ethereum
	return fmt.Sprintf("0x%x", sig), nil
}

// l2Signature firma timestamp+METHOD+path+body con el secret ya decodificado.
func l2Signature(secret []byte, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + strings.ToUpper(method) + path + body))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// doL2 manda un request privado por el mismo retry/limiter que la API pública.
// Cada intento se firma de nuevo: el CLOB rechaza timestamps viejos.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	creds := ac.credentials()
	if creds == nil {
		return fmt.Errorf("auth.doL2: credentials not derived yet")
	}
	secret, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return fmt.Errorf("auth.doL2: decode secret: %w", err)
	}

	var body string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("auth.doL2: marshal: %w", err)
		}
		body = string(b)
	}

	return ac.doWithRetry(ctx, ac.clobLimiter, func() (*http.Response, error) {
		ts := strconv.FormatInt(ac.nowUnix(), 10)
		sig := l2Signature(secret, ts, method, path, body)

		var rd io.Reader
		if body != "" {
			rd = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("POLY_ADDRESS", ac.wallet.Hex())
		req.Header.Set("POLY_SIGNATURE", sig)
		req.Header.Set("POLY_TIMESTAMP", ts)
		req.Header.Set("POLY_API_KEY", creds.APIKey)
		req.Header.Set("POLY_PASSPHRASE", creds.Passphrase)
		return ac.http.Do(req)
	}, out)
}

// buildSignedOrder firma una orden BUY de qty contratos a price.
// Aritmética entera: el CLOB exige makerAmount == price * takerAmount exacto.
func (ac *AuthClient) buildSignedOrder(tokenID string, price, qty float64, negRisk bool) (*gomodel.SignedOrder, error) {
	ticks := tickScale(price)
	priceTicks := int64(math.Round(price * float64(ticks)))
	qtyCents := int64(math.Floor(qty * 100))

	// 6 decimales de USDC: maker en USDC, taker en contratos
	makerAmount := qtyCents * priceTicks * (1_000_000 / (100 * ticks))
	takerAmount := qtyCents * 10_000
	if makerAmount <= 0 || takerAmount <= 0 {
		return nil, fmt.Errorf("invalid amounts: maker=%d taker=%d (price=%.4f qty=%.4f)", makerAmount, takerAmount, price, qty)
	}

	exchange := gomodel.CTFExchange
	if negRisk {
		exchange = gomodel.NegRiskCTFExchange
	}

	signed, err := ac.orders.BuildSignedOrder(ac.key, &gomodel.OrderData{
		Maker:         ac.wallet.Hex(),
		Taker:         openTaker,
		TokenId:       tokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.wallet.Hex(),
		Expiration:    "0",
		Side:          gomodel.BUY,
		SignatureType: gomodel.EOA,
	}, exchange)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}

// tickScale: 0.60 → 100, 0.673 → 1000, 0.6735 → 10000.
func tickScale(price float64) int64 {
	for _, scale := range []int64{100, 1000, 10000} {
		if math.Abs(math.Round(price*float64(scale))/float64(scale)-price) < 1e-10 {
			return scale
		}
	}
	return 100
}

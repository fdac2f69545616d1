// Package onchain convierte pares YES+NO de una sesión bloqueada en USDC.e
// llamando a mergePositions del CTF (Conditional Token Framework) en Polygon:
//
//	571.43 YES + 571.43 NO → 571.43 USDC.e
//
// También verifica el allowance de USDC.e que el exchange necesita para BUY.
package onchain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const (
	polygonChainID = int64(137)

	// USDC.e, colateral de los mercados de Polymarket
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	// CTF: guarda los tokens condicionales (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"

	mergeGasLimit    = uint64(200_000)
	approvalGasLimit = uint64(80_000)

	gasPriceTTL      = 5 * time.Minute
	fallbackGasPrice = 30_000_000_000 // 30 gwei

	defaultReceiptTimeout = 60 * time.Second
	defaultReceiptPoll    = 3 * time.Second
)

var (
	ctfABI   = mustABI(`[{"name":"mergePositions","type":"function","inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"partition","type":"uint256[]"},{"name":"amount","type":"uint256"}],"outputs":[]}]`)
	erc20ABI = mustABI(`[{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},{"name":"allowance","type":"function","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`)

	// 1M USDC.e con 6 decimales
	minAllowance = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000))
	maxUint256   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("onchain: abi parse: " + err.Error())
	}
	return parsed
}

// ErrNegRiskMerge: los mercados NegRisk requieren el adapter con un
// parentCollectionId por mercado que no tenemos.
var ErrNegRiskMerge = errors.New("onchain: neg-risk merges not supported")

// Chain es lo que el merger necesita de un nodo. *ethclient.Client lo cumple.
type Chain interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Merger implementa ports.PairMerger.
type Merger struct {
	chain   Chain
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer

	receiptTimeout time.Duration
	receiptPoll    time.Duration

	// las transacciones de una misma wallet salen en serie por el nonce
	txMu sync.Mutex

	gasMu  sync.Mutex
	gasWei *big.Int
	gasAt  time.Time
}

// Dial conecta con un RPC de Polygon.
func Dial(rpcURL, privateKeyHex string) (*Merger, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc %s: %w", rpcURL, err)
	}
	return NewMerger(client, privateKeyHex)
}

// NewMerger crea un merger sobre chain. privateKeyHex con o sin 0x.
func NewMerger(chain Chain, privateKeyHex string) (*Merger, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain: invalid private key: %w", err)
	}
	return &Merger{
		chain:          chain,
		key:            key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		signer:         types.NewEIP155Signer(big.NewInt(polygonChainID)),
		receiptTimeout: defaultReceiptTimeout,
		receiptPoll:    defaultReceiptPoll,
	}, nil
}

// Address devuelve la wallet que firma.
func (m *Merger) Address() string { return m.address.Hex() }

// MergePairs quema pairs YES+NO del mercado de s y recibe el mismo importe en USDC.e.
// Si la transacción sale pero el recibo no llega a tiempo devuelve Confirmed=false sin error.
func (m *Merger) MergePairs(ctx context.Context, s domain.Session, pairs float64) (domain.MergeResult, error) {
	res := domain.MergeResult{
		SessionID:   s.ID,
		ConditionID: s.ConditionID,
		Pairs:       pairs,
		ExecutedAt:  time.Now().UTC(),
	}
	if s.NegRisk {
		return res, ErrNegRiskMerge
	}
	cond, err := hexToBytes32(s.ConditionID)
	if err != nil {
		return res, fmt.Errorf("onchain: condition id %q: %w", s.ConditionID, err)
	}
	amount := tokenUnits(pairs)
	if amount.Sign() <= 0 {
		return res, fmt.Errorf("onchain: nothing to merge (pairs=%g)", pairs)
	}

	data, err := ctfABI.Pack("mergePositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		cond,
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
		amount,
	)
	if err != nil {
		return res, fmt.Errorf("onchain: pack mergePositions: %w", err)
	}

	tx, gasPrice, err := m.send(ctx, common.HexToAddress(ctfAddress), data, mergeGasLimit, true)
	if err != nil {
		return res, fmt.Errorf("onchain: merge: %w", err)
	}
	res.TxHash = tx.Hash().Hex()
	slog.Info("onchain: merge sent", "slug", s.Slug, "pairs", pairs, "tx", res.TxHash)

	receipt, err := m.waitReceipt(ctx, tx.Hash())
	if err != nil {
		slog.Warn("onchain: merge receipt not found, tx may still land", "tx", res.TxHash, "err", err)
		return res, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return res, fmt.Errorf("onchain: merge reverted: %s", res.TxHash)
	}

	res.Confirmed = true
	res.GasUsed = receipt.GasUsed
	res.GasCostPOL = weiToPOL(new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), gasPrice))
	return res, nil
}

// EnsureAllowance aprueba USDC.e para ambos exchanges si el allowance es menor a 1M.
func (m *Merger) EnsureAllowance(ctx context.Context) error {
	token := common.HexToAddress(usdcEAddress)
	for _, ex := range []string{normalExchange, negRiskExchange} {
		spender := common.HexToAddress(ex)
		allowance, err := m.allowance(ctx, token, spender)
		if err != nil {
			return fmt.Errorf("onchain: allowance for %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			slog.Debug("onchain: USDC.e allowance ok", "exchange", ex)
			continue
		}

		slog.Info("onchain: approving USDC.e", "exchange", ex)
		data, err := erc20ABI.Pack("approve", spender, maxUint256)
		if err != nil {
			return fmt.Errorf("onchain: pack approve: %w", err)
		}
		tx, _, err := m.send(ctx, token, data, approvalGasLimit, false)
		if err != nil {
			return fmt.Errorf("onchain: approve %s: %w", ex, err)
		}
		receipt, err := m.waitReceipt(ctx, tx.Hash())
		if err != nil {
			return fmt.Errorf("onchain: approve %s: wait receipt: %w", ex, err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return fmt.Errorf("onchain: approve %s reverted", ex)
		}
	}
	return nil
}

func (m *Merger) allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", m.address, spender)
	if err != nil {
		return nil, err
	}
	out, err := m.chain.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, errors.New("empty allowance response")
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", vals[0])
	}
	return v, nil
}

// send firma y envía una transacción legacy EIP-155. estimate=true pide al nodo
// el gas y le suma un 20%; si falla usa limit.
func (m *Merger) send(ctx context.Context, to common.Address, data []byte, limit uint64, estimate bool) (*types.Transaction, *big.Int, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	nonce, err := m.chain.PendingNonceAt(ctx, m.address)
	if err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice := m.gasPrice(ctx)

	gas := limit
	if estimate {
		est, err := m.chain.EstimateGas(ctx, ethereum.CallMsg{From: m.address, To: &to, GasPrice: gasPrice, Data: data})
		if err != nil {
			slog.Warn("onchain: gas estimate failed, using default", "limit", limit, "err", err)
		} else {
			gas = est
		}
		gas = gas * 12 / 10
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, m.signer, m.key)
	if err != nil {
		return nil, nil, fmt.Errorf("sign: %w", err)
	}
	if err := m.chain.SendTransaction(ctx, signed); err != nil {
		return nil, nil, fmt.Errorf("send: %w", err)
	}
	return signed, gasPrice, nil
}

// gasPrice cachea el precio sugerido +10% durante gasPriceTTL.
func (m *Merger) gasPrice(ctx context.Context) *big.Int {
	m.gasMu.Lock()
	defer m.gasMu.Unlock()

	if m.gasWei != nil && time.Since(m.gasAt) < gasPriceTTL {
		return m.gasWei
	}
	price, err := m.chain.SuggestGasPrice(ctx)
	if err != nil {
		if m.gasWei != nil {
			return m.gasWei
		}
		slog.Warn("onchain: gas price unavailable, using fallback", "err", err)
		return big.NewInt(fallbackGasPrice)
	}
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))
	m.gasWei = buffered
	m.gasAt = time.Now()
	return buffered
}

func (m *Merger) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, m.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(m.receiptPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := m.chain.TransactionReceipt(ctx, hash)
			if err != nil {
				continue // todavía sin minar
			}
			return receipt, nil
		}
	}
}

// tokenUnits pasa pares a unidades de 6 decimales, truncando.
func tokenUnits(pairs float64) *big.Int {
	return decimal.NewFromFloat(pairs).Shift(6).Truncate(0).BigInt()
}

func weiToPOL(wei *big.Int) float64 {
	return decimal.NewFromBigInt(wei, -18).InexactFloat64()
}

func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}

package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
)

// AnchorClient publishes anchor notes on an EVM chain. A note is carried as the
// calldata of a zero-value transaction the anchoring account sends to itself.
//
//go:generate mockgen -source=anchor_client.go -destination=../../mocks/public_ledger.go -package=mocks -mock_names=AnchorClient=MockEthereumAnchorClient
type AnchorClient interface {
	// Commit broadcasts the note and waits for inclusion. It returns the tx hash
	// and the block number. When inclusion is not observed in time the hash is
	// returned together with domain.ErrPublicTxUnconfirmed.
	Commit(ctx context.Context, note []byte) (txID string, round uint64, err error)

	// Lookup reports whether txID is included in a block with a successful status
	Lookup(ctx context.Context, txID string) (confirmed bool, round uint64, err error)

	// Network identifies the chain, e.g. eip155:137
	Network() string

	// Close closes the RPC connection
	Close()
}

// AnchorConfig configures the anchoring account
type AnchorConfig struct {
	// PrivateKey is the hex secp256k1 key of the anchoring account
	PrivateKey string
	// ChainID, when set, must match the chain the RPC endpoint serves
	ChainID int64
	// ConfirmTimeout bounds the wait for a receipt
	ConfirmTimeout time.Duration
	// PollInterval is the first receipt poll delay
	PollInterval time.Duration
}

type anchorClient struct {
	client  adapter.EthClient
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  types.Signer
	config  AnchorConfig

	// nonceMu serializes nonce reads with sends so parallel scopes do not collide
	nonceMu sync.Mutex
}

// NewAnchorClient creates an anchor client for the chain client is connected to
func NewAnchorClient(ctx context.Context, client adapter.EthClient, cfg AnchorConfig) (AnchorClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse anchoring key: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("rpc endpoint serves chain %s, configured %d", chainID, cfg.ChainID)
	}

	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	return &anchorClient{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
		config:  cfg,
	}, nil
}

func (c *anchorClient) Network() string {
	return fmt.Sprintf("eip155:%s", c.chainID.String())
}

func (c *anchorClient) Commit(ctx context.Context, note []byte) (string, uint64, error) {
	tx, err := c.send(ctx, note)
	if err != nil {
		return "", 0, err
	}

	txID := tx.Hash().Hex()
	logger.InfoCtx(ctx, "Anchor note broadcast",
		zap.String("txID", txID),
		zap.Uint64("nonce", tx.Nonce()),
		zap.Int("noteBytes", len(note)))

	receipt, err := c.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		return txID, 0, fmt.Errorf("%s: %w", txID, domain.ErrPublicTxUnconfirmed)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", 0, fmt.Errorf("anchor transaction %s reverted", txID)
	}
	return txID, receipt.BlockNumber.Uint64(), nil
}

func (c *anchorClient) send(ctx context.Context, note []byte) (*types.Transaction, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	to := c.from
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      params.TxGas + uint64(len(note))*params.TxDataNonZeroGasEIP2028,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     note,
	})

	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign anchor transaction: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send anchor transaction: %w", err)
	}
	return signed, nil
}

func (c *anchorClient) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.PollInterval
	b.MaxInterval = 4 * c.config.PollInterval
	b.MaxElapsedTime = c.config.ConfirmTimeout
	b.Reset()

	return backoff.RetryWithData(func() (*types.Receipt, error) {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				logger.WarnCtx(ctx, "Receipt lookup failed", zap.String("txID", hash.Hex()), zap.Error(err))
			}
			return nil, err
		}
		return receipt, nil
	}, backoff.WithContext(b, ctx))
}

func (c *anchorClient) Lookup(ctx context.Context, txID string) (bool, uint64, error) {
	if !strings.HasPrefix(txID, "0x") || len(txID) != 66 {
		return false, 0, nil
	}

	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful || receipt.BlockNumber == nil {
		return false, 0, nil
	}
	return true, receipt.BlockNumber.Uint64(), nil
}

func (c *anchorClient) Close() {
	c.client.Close()
}

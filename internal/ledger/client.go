package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/logger"
)

const healthProbeTimeout = 3 * time.Second

// ErrNotFound is returned by Evaluate when the queried key does not exist on the ledger
var ErrNotFound = errors.New("ledger key not found")

// Client is the narrow capability the registry needs from the permissioned ledger
//
//go:generate mockgen -source=client.go -destination=../mocks/ledger_client.go -package=mocks -mock_names=Client=MockLedgerClient
type Client interface {
	// Submit endorses, orders and commits a transaction and returns its committed tx id
	Submit(ctx context.Context, chaincode, fn string, args ...string) (string, error)

	// Evaluate runs a read-only query against the peer's world state
	Evaluate(ctx context.Context, chaincode, fn string, args ...string) ([]byte, error)

	// IsConnected reports whether the gateway answers its health probe
	IsConnected(ctx context.Context) bool
}

// Config configures the REST gateway in front of the permissioned ledger
type Config struct {
	GatewayURL string
	Channel    string
	APIKey     string
}

type gatewayRequest struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

type submitResponse struct {
	TxID string `json:"tx_id"`
}

type evaluateResponse struct {
	Result json.RawMessage `json:"result"`
}

type gatewayError struct {
	Message string `json:"message"`
}

type gatewayClient struct {
	http adapter.HTTPClient
	json adapter.JSON
	cfg  Config
}

// NewClient creates a ledger client that talks to the REST gateway
func NewClient(httpClient adapter.HTTPClient, jsonAdapter adapter.JSON, cfg Config) Client {
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	return &gatewayClient{http: httpClient, json: jsonAdapter, cfg: cfg}
}

func (c *gatewayClient) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.cfg.APIKey != "" {
		h["X-API-Key"] = c.cfg.APIKey
	}
	return h
}

func (c *gatewayClient) url(chaincode, action string) string {
	return fmt.Sprintf("%s/channels/%s/chaincodes/%s/%s", c.cfg.GatewayURL, c.cfg.Channel, chaincode, action)
}

func (c *gatewayClient) call(ctx context.Context, chaincode, action, fn string, args []string) ([]byte, error) {
	if args == nil {
		args = []string{}
	}
	body, err := c.json.Marshal(gatewayRequest{Function: fn, Args: args})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	resp, err := c.http.PostNoRetry(ctx, c.url(chaincode, action), c.headers(), bytes.NewReader(body))
	if err != nil {
		return nil, classifyTransportError(ctx, fn, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}

	var gwErr gatewayError
	_ = c.json.Unmarshal(resp.Body, &gwErr)
	msg := fmt.Sprintf("%s %s: status %d", action, fn, resp.StatusCode)
	if gwErr.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, gwErr.Message)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", msg, ErrNotFound)
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return nil, domain.Errorf(domain.CodeLedgerTimeout, "%s", msg)
	case resp.StatusCode >= 500:
		return nil, domain.Errorf(domain.CodeLedgerUnavailable, "%s", msg)
	default:
		return nil, domain.Errorf(domain.CodeLedgerEndorsementFailed, "%s", msg)
	}
}

func classifyTransportError(ctx context.Context, fn string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.CodeLedgerTimeout, fn, err)
	}
	return domain.Wrap(domain.CodeLedgerUnavailable, fn, err)
}

func (c *gatewayClient) Submit(ctx context.Context, chaincode, fn string, args ...string) (string, error) {
	body, err := c.call(ctx, chaincode, "submit", fn, args)
	if err != nil {
		logger.WarnCtx(ctx, "ledger submit failed",
			zap.String("chaincode", chaincode), zap.String("function", fn), zap.Error(err))
		return "", err
	}

	var resp submitResponse
	if err := c.json.Unmarshal(body, &resp); err != nil {
		return "", domain.Wrap(domain.CodeLedgerEndorsementFailed, "malformed submit response", err)
	}
	if resp.TxID == "" {
		return "", domain.Errorf(domain.CodeLedgerEndorsementFailed, "%s committed without a transaction id", fn)
	}

	logger.DebugCtx(ctx, "ledger transaction committed",
		zap.String("function", fn), zap.String("txID", resp.TxID))
	return resp.TxID, nil
}

func (c *gatewayClient) Evaluate(ctx context.Context, chaincode, fn string, args ...string) ([]byte, error) {
	body, err := c.call(ctx, chaincode, "evaluate", fn, args)
	if err != nil {
		return nil, err
	}

	var resp evaluateResponse
	if err := c.json.Unmarshal(body, &resp); err != nil {
		return nil, domain.Wrap(domain.CodeLedgerEndorsementFailed, "malformed evaluate response", err)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, fmt.Errorf("%s: %w", fn, ErrNotFound)
	}
	return resp.Result, nil
}

func (c *gatewayClient) IsConnected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	var health struct {
		Status string `json:"status"`
	}
	if err := c.http.Get(ctx, c.cfg.GatewayURL+"/healthz", c.headers(), &health); err != nil {
		return false
	}
	return strings.EqualFold(health.Status, "ok")
}

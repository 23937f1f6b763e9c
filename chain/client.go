package chain

import (
	"context"
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
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bookchain/observability"
)

const defaultPollInterval = 2 * time.Second

// DefaultGasHeadroomPercent is added on top of the gas estimate.
const DefaultGasHeadroomPercent = 20

// Backend defines the subset of the Ethereum RPC used by the client.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Dialer opens a Backend for an endpoint.
type Dialer func(ctx context.Context, endpoint string) (Backend, error)

// DialEthereum initialises an Ethereum JSON-RPC client for endpoint.
func DialEthereum(ctx context.Context, endpoint string) (Backend, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// State is the session lifecycle of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config describes the node session.
type Config struct {
	Endpoint string
	Contract common.Address
	// ChainID, when non-zero, must match the node's chain id.
	ChainID            uint64
	PollInterval       time.Duration
	GasHeadroomPercent uint64
}

// Session is what a successful Connect hands back to the application.
type Session struct {
	Address common.Address
	Balance string
	ChainID *big.Int
}

// Client owns one session to a node and the marketplace contract binding.
// It is safe for concurrent use once connected.
type Client struct {
	cfg     Config
	abi     abi.ABI
	wallet  Wallet
	dial    Dialer
	logger  *slog.Logger
	metrics *observability.ChainMetrics
	tracer  trace.Tracer

	mu      sync.RWMutex
	state   State
	backend Backend
	session Session
}

// Option customises a Client.
type Option func(*Client)

// WithWallet binds the session provider used to identify and sign.
func WithWallet(w Wallet) Option {
	return func(c *Client) { c.wallet = w }
}

// WithDialer overrides how the node connection is opened.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.ChainMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient constructs a disconnected client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.GasHeadroomPercent == 0 {
		cfg.GasHeadroomPercent = DefaultGasHeadroomPercent
	}
	c := &Client{
		cfg:    cfg,
		abi:    ContractABI(),
		dial:   DialEthereum,
		logger: slog.Default(),
		tracer: otel.Tracer("bookchain/chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observability.Chain()
	}
	return c
}

// Connect establishes the session. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		return c.session, nil
	}
	if c.wallet == nil {
		return Session{}, ConnectionError("no wallet available", nil)
	}
	if (c.cfg.Contract == common.Address{}) {
		return Session{}, ConnectionError("marketplace contract address required", nil)
	}
	c.state = StateConnecting
	backend, err := c.dial(ctx, c.cfg.Endpoint)
	if err != nil {
		c.state = StateDisconnected
		return Session{}, ConnectionError("dial node", err)
	}
	session, err := c.openSession(ctx, backend)
	if err != nil {
		backend.Close()
		c.state = StateDisconnected
		return Session{}, err
	}
	c.backend = backend
	c.session = session
	c.state = StateConnected
	c.metrics.SetConnected(true)
	c.logger.Info("connected to node",
		slog.String("account", session.Address.Hex()),
		slog.String("chain_id", session.ChainID.String()),
		slog.String("contract", c.cfg.Contract.Hex()))
	return session, nil
}

func (c *Client) openSession(ctx context.Context, backend Backend) (Session, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return Session{}, ConnectionError("fetch chain id", err)
	}
	if c.cfg.ChainID != 0 && (!chainID.IsUint64() || chainID.Uint64() != c.cfg.ChainID) {
		return Session{}, ConnectionError(fmt.Sprintf("node serves chain %s, want %d", chainID, c.cfg.ChainID), nil)
	}
	address := c.wallet.Address()
	balance, err := backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return Session{}, ConnectionError("fetch balance", err)
	}
	return Session{Address: address, Balance: FormatNative(balance), ChainID: chainID}, nil
}

// Close drops the session.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
	}
	c.backend = nil
	c.session = Session{}
	c.state = StateDisconnected
	c.metrics.SetConnected(false)
}

// State reports the lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Session returns the current session; ok is false when disconnected.
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.state == StateConnected
}

// Contract returns the bound marketplace address.
func (c *Client) Contract() common.Address {
	return c.cfg.Contract
}

func (c *Client) handle() (Backend, Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected || c.backend == nil {
		return nil, Session{}, ConnectionError("not connected", nil)
	}
	return c.backend, c.session, nil
}

// Call invokes a read-only contract method and returns its decoded outputs.
func (c *Client) Call(ctx context.Context, method string, args ...any) (out []any, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "chain.call", trace.WithAttributes(attribute.String("method", method)))
	defer func() {
		finishSpan(span, err)
		c.metrics.ObserveCall(method, KindOf(err), time.Since(start))
	}()

	backend, session, err := c.handle()
	if err != nil {
		return nil, err
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, DataConversionError(fmt.Sprintf("pack %s", method), err)
	}
	to := c.cfg.Contract
	raw, err := backend.CallContract(ctx, ethereum.CallMsg{From: session.Address, To: &to, Data: data}, nil)
	if err != nil {
		return nil, TranslateError(err)
	}
	out, err = c.abi.Unpack(method, raw)
	if err != nil {
		return nil, DataConversionError(fmt.Sprintf("unpack %s", method), err)
	}
	return out, nil
}

// Submit sends a state-changing transaction and blocks until it is mined.
func (c *Client) Submit(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	return c.submit(ctx, method, nil, args...)
}

// SubmitWithValue is Submit with a native value transfer given as a decimal
// string in the native unit.
func (c *Client) SubmitWithValue(ctx context.Context, method, value string, args ...any) (*types.Receipt, error) {
	amount, err := ParseNative(value)
	if err != nil {
		return nil, OperationFailed(err.Error(), err)
	}
	return c.submit(ctx, method, amount, args...)
}

func (c *Client) submit(ctx context.Context, method string, value *big.Int, args ...any) (receipt *types.Receipt, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "chain.submit", trace.WithAttributes(attribute.String("method", method)))
	defer func() {
		finishSpan(span, err)
		c.metrics.ObserveSubmit(method, KindOf(err), time.Since(start))
	}()

	backend, session, err := c.handle()
	if err != nil {
		return nil, err
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, DataConversionError(fmt.Sprintf("pack %s", method), err)
	}
	if value == nil {
		value = new(big.Int)
	}
	to := c.cfg.Contract
	msg := ethereum.CallMsg{From: session.Address, To: &to, Value: value, Data: data}
	receipt, err = c.send(ctx, backend, session.ChainID, msg)
	if err != nil {
		translated := TranslateError(err)
		c.logger.Warn("transaction failed",
			slog.String("method", method),
			slog.String("kind", KindOf(translated)),
			slog.String("error", translated.Error()))
		return nil, translated
	}
	c.logger.Info("transaction confirmed",
		slog.String("method", method),
		slog.String("tx", receipt.TxHash.Hex()),
		slog.String("block", receipt.BlockNumber.String()))
	return receipt, nil
}

func (c *Client) send(ctx context.Context, backend Backend, chainID *big.Int, msg ethereum.CallMsg) (*types.Receipt, error) {
	nonce, err := backend.PendingNonceAt(ctx, msg.From)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, err
	}
	gas += gas * c.cfg.GasHeadroomPercent / 100
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       msg.To,
		Value:    msg.Value,
		Data:     msg.Data,
	})
	signed, err := c.wallet.SignTx(ctx, tx, chainID)
	if err != nil {
		return nil, err
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	receipt, err := c.waitMined(ctx, backend, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		msg.Gas = gas
		return nil, revertCause(ctx, backend, msg, receipt)
	}
	return receipt, nil
}

func (c *Client) waitMined(ctx context.Context, backend Backend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertCause replays a failed transaction at its block to recover the
// revert reason the receipt does not carry.
func revertCause(ctx context.Context, backend Backend, msg ethereum.CallMsg, receipt *types.Receipt) error {
	if _, err := backend.CallContract(ctx, msg, receipt.BlockNumber); err != nil {
		return err
	}
	return fmt.Errorf("transaction %s reverted", receipt.TxHash.Hex())
}

// BlockNumber returns the current chain height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	backend, _, err := c.handle()
	if err != nil {
		return 0, err
	}
	height, err := backend.BlockNumber(ctx)
	if err != nil {
		return 0, TranslateError(err)
	}
	return height, nil
}

// BlockTime returns the timestamp of block number.
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	backend, _, err := c.handle()
	if err != nil {
		return time.Time{}, err
	}
	header, err := backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, TranslateError(err)
	}
	if header == nil {
		return time.Time{}, OperationFailed(fmt.Sprintf("block %d unavailable", number), nil)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// TransactionSender recovers the account that signed a mined transaction.
func (c *Client) TransactionSender(ctx context.Context, hash common.Hash) (common.Address, error) {
	backend, session, err := c.handle()
	if err != nil {
		return common.Address{}, err
	}
	tx, _, err := backend.TransactionByHash(ctx, hash)
	if err != nil {
		return common.Address{}, TranslateError(err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(session.ChainID), tx)
	if err != nil {
		return common.Address{}, DataConversionError(fmt.Sprintf("recover sender of %s", hash.Hex()), err)
	}
	return sender, nil
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err))
	}
	span.End()
}

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/do/v2"

	"bookchain/chain"
	"bookchain/config"
	"bookchain/gateway"
	"bookchain/gateway/middleware"
	"bookchain/gateway/routes"
	"bookchain/market"
	"bookchain/metadata"
	"bookchain/observability/logging"
	telemetry "bookchain/observability/otel"
)

const serviceName = "bookgatewayd"

// options carries the command-line inputs into the container.
type options struct {
	ConfigPath string
	Env        string
}

// LoggerHandle owns the process logger and its rotating file.
type LoggerHandle struct {
	*slog.Logger
	closer io.Closer
}

func (h *LoggerHandle) Shutdown() error { return h.closer.Close() }

// TelemetryHandle flushes the OpenTelemetry providers on shutdown.
type TelemetryHandle struct {
	shutdown telemetry.Shutdown
}

func (h *TelemetryHandle) Shutdown(ctx context.Context) error { return h.shutdown(ctx) }

// ClientHandle closes the node session on shutdown.
type ClientHandle struct {
	*chain.Client
}

func (h *ClientHandle) Shutdown() { h.Client.Close() }

func newContainer(opts options) *do.RootScope {
	injector := do.New()
	do.ProvideValue(injector, opts)
	do.Provide(injector, provideConfig)
	do.Provide(injector, provideLogger)
	do.Provide(injector, provideTelemetry)
	do.Provide(injector, provideClient)
	do.Provide(injector, provideMetadata)
	do.Provide(injector, provideMarket)
	do.Provide(injector, provideHandler)
	do.Provide(injector, provideServer)
	return injector
}

func provideConfig(i do.Injector) (config.Config, error) {
	return config.Load(do.MustInvoke[options](i).ConfigPath)
}

func provideLogger(i do.Injector) (*LoggerHandle, error) {
	cfg := do.MustInvoke[config.Config](i)
	env := do.MustInvoke[options](i).Env
	if env == "" {
		env = cfg.Logging.Env
	}
	logger, closer, err := logging.Setup(serviceName, env, cfg.LogOptions())
	if err != nil {
		return nil, err
	}
	return &LoggerHandle{Logger: logger, closer: closer}, nil
}

func provideTelemetry(i do.Injector) (*TelemetryHandle, error) {
	cfg := do.MustInvoke[config.Config](i)
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		Contract:    cfg.Chain.Contract,
	})
	if err != nil {
		return nil, err
	}
	return &TelemetryHandle{shutdown: shutdown}, nil
}

// provideClient opens a watch-only session; the gateway never signs.
func provideClient(i do.Injector) (*ClientHandle, error) {
	cfg := do.MustInvoke[config.Config](i)
	logger := do.MustInvoke[*LoggerHandle](i).Logger
	do.MustInvoke[*TelemetryHandle](i)

	viewer := common.Address{}
	if cfg.Wallet.Address != "" {
		viewer = common.HexToAddress(cfg.Wallet.Address)
	}
	client := chain.NewClient(cfg.ClientConfig(),
		chain.WithWallet(chain.NewWatchWallet(viewer)),
		chain.WithLogger(logger))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger.Info("connecting to node", logging.MaskField("endpoint", logging.MaskURL(cfg.Chain.Endpoint)))
	if _, err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return &ClientHandle{Client: client}, nil
}

// MetadataHandle owns the content store and its optional cache file.
type MetadataHandle struct {
	metadata.Store
	close func() error
}

func (h *MetadataHandle) Shutdown() error { return h.close() }

func provideMetadata(i do.Injector) (*MetadataHandle, error) {
	cfg := do.MustInvoke[config.Config](i)
	store, closeStore, err := metadata.Open(cfg.IPFSConfig())
	if err != nil {
		return nil, err
	}
	return &MetadataHandle{Store: store, close: closeStore}, nil
}

func provideMarket(i do.Injector) (*market.Service, error) {
	cfg := do.MustInvoke[config.Config](i)
	client := do.MustInvoke[*ClientHandle](i)
	store := do.MustInvoke[*MetadataHandle](i).Store
	logger := do.MustInvoke[*LoggerHandle](i).Logger
	return market.NewService(client.Client, store, market.Config{History: cfg.History}, market.WithLogger(logger)), nil
}

func provideHandler(i do.Injector) (http.Handler, error) {
	cfg := do.MustInvoke[config.Config](i)
	svc := do.MustInvoke[*market.Service](i)
	client := do.MustInvoke[*ClientHandle](i)
	logger := do.MustInvoke[*LoggerHandle](i).Logger

	routeCfg := routes.Config{
		Market:      svc,
		Governance:  svc.Governance(),
		Logger:      logger,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{RatePerSecond: cfg.Gateway.RequestsPerSecond, Burst: cfg.Gateway.Burst}, logger),
		Health: func(ctx context.Context) error {
			_, err := client.BlockNumber(ctx)
			return err
		},
		Timeout: cfg.Gateway.WriteTimeout,
	}
	if cfg.Gateway.Metrics {
		routeCfg.Observability = middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: serviceName,
			LogRequests: true,
		}, logger)
	}
	return routes.New(routeCfg), nil
}

func provideServer(i do.Injector) (*gateway.Server, error) {
	cfg := do.MustInvoke[config.Config](i)
	handler := do.MustInvoke[http.Handler](i)
	logger := do.MustInvoke[*LoggerHandle](i).Logger
	return gateway.NewServer(cfg.Gateway, handler, logger), nil
}

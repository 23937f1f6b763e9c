package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bookchain/chain"
	"bookchain/cmd/internal/passphrase"
	"bookchain/config"
	"bookchain/crypto"
	"bookchain/market"
	"bookchain/metadata"
	"bookchain/observability/logging"
	telemetry "bookchain/observability/otel"
)

// app holds the global flags and the process streams. Tests swap the dialer
// and the metadata store for in-memory ones.
type app struct {
	configPath string
	keystore   string
	address    string
	assumeYes  bool
	timeout    time.Duration

	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	isTerminal func() bool
	passphrase *passphrase.Source

	dial  chain.Dialer
	store metadata.Store
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:         in,
		out:        out,
		errOut:     errOut,
		timeout:    defaultTimeout,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		passphrase: passphrase.NewSource(passphrase.DefaultEnvVar, "Keystore passphrase: "),
	}
}

// session is one connected command invocation.
type session struct {
	cfg        config.Config
	logger     *slog.Logger
	client     *chain.Client
	market     *market.Service
	closeStore func() error
	closeLog   io.Closer
	telemetry  telemetry.Shutdown
}

func (s *session) Close() {
	s.client.Close()
	if err := s.closeStore(); err != nil {
		s.logger.Warn("metadata cache close failed", slog.String("error", err.Error()))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.telemetry(ctx); err != nil {
		s.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	_ = s.closeLog.Close()
}

// Address is the acting account.
func (s *session) Address() common.Address {
	info, _ := s.client.Session()
	return info.Address
}

func (a *app) loadConfig() (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	opts := cfg.LogOptions()
	if opts.File == "" {
		opts.Output = a.errOut
	}
	logger, closer, err := logging.Setup(programName, cfg.Logging.Env, opts)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func (a *app) open(ctx context.Context) (*session, error) {
	cfg, logger, closer, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: programName,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		Contract:    cfg.Chain.Contract,
	})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	wallet, err := a.wallet(cfg)
	if err != nil {
		_ = shutdown(ctx)
		_ = closer.Close()
		return nil, err
	}
	opts := []chain.Option{chain.WithWallet(wallet), chain.WithLogger(logger)}
	if a.dial != nil {
		opts = append(opts, chain.WithDialer(a.dial))
	}
	client := chain.NewClient(cfg.ClientConfig(), opts...)
	logger.Debug("connecting to node", logging.MaskField("endpoint", logging.MaskURL(cfg.Chain.Endpoint)))
	if _, err := client.Connect(ctx); err != nil {
		_ = shutdown(ctx)
		_ = closer.Close()
		return nil, err
	}

	store, closeStore := a.store, func() error { return nil }
	if store == nil {
		if store, closeStore, err = metadata.Open(cfg.IPFSConfig()); err != nil {
			client.Close()
			_ = shutdown(ctx)
			_ = closer.Close()
			return nil, err
		}
	}
	svc := market.NewService(client, store, market.Config{History: cfg.History}, market.WithLogger(logger))
	return &session{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		market:     svc,
		closeStore: closeStore,
		closeLog:   closer,
		telemetry:  shutdown,
	}, nil
}

// wallet picks the signing identity: a keystore signs behind a confirmation
// prompt, an address alone observes.
func (a *app) wallet(cfg config.Config) (chain.Wallet, error) {
	path := firstNonEmpty(a.keystore, cfg.Wallet.Keystore)
	if path != "" {
		secret, err := a.passphrase.Get()
		if err != nil {
			return nil, err
		}
		key, err := crypto.LoadFromKeystore(path, secret)
		if err != nil {
			return nil, fmt.Errorf("load keystore %s: %w", path, err)
		}
		return chain.ConfirmingWallet{Wallet: chain.NewKeyWallet(key), Confirm: a.confirm}, nil
	}
	addr := firstNonEmpty(a.address, cfg.Wallet.Address)
	if addr == "" {
		return chain.NewWatchWallet(common.Address{}), nil
	}
	parsed, err := crypto.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	return chain.NewWatchWallet(parsed), nil
}

// confirm asks on the terminal before each signature. Without a terminal and
// without --yes every signature is declined.
func (a *app) confirm(_ context.Context, tx *types.Transaction) (bool, error) {
	if a.assumeYes {
		return true, nil
	}
	if !a.isTerminal() {
		return false, nil
	}
	to := "new contract"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	fmt.Fprintf(a.errOut, "Sign transaction to %s (value %s, gas %d)? [y/N]: ", to, chain.FormatNative(tx.Value()), tx.Gas())
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// connected wraps a command body with config loading, the node session and
// JSON output of the result.
func (a *app) connected(fn func(ctx context.Context, s *session, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
		defer cancel()
		s, err := a.open(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		result, err := fn(ctx, s, args)
		if err != nil {
			return err
		}
		return a.print(result)
	}
}

func parseID(value string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

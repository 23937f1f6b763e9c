package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/do/v2"

	"bookchain/gateway"
)

func main() {
	var opts options
	flag.StringVar(&opts.ConfigPath, "config", "", "path to bookchain configuration (YAML or TOML)")
	flag.Parse()
	opts.Env = strings.TrimSpace(os.Getenv("BOOKCHAIN_ENV"))

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "bookgatewayd: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	injector := newContainer(opts)
	defer func() {
		if err := injector.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "bookgatewayd: shutdown: %v\n", err)
		}
	}()

	server, err := do.Invoke[*gateway.Server](injector)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.ListenAndServe(ctx)
}

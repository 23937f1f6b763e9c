package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bookchain/chain"
)

const (
	programName    = "bookctl"
	defaultTimeout = 2 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := newRootCommand(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s: %v\n", programName, chain.KindOf(err), err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Lend, sell and govern books on the marketplace contract",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(a.in)
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to configuration file (YAML or TOML)")
	flags.StringVar(&a.keystore, "keystore", "", "keystore file used to sign (overrides wallet.keystore)")
	flags.StringVar(&a.address, "address", "", "watch-only account address (overrides wallet.address)")
	flags.BoolVarP(&a.assumeYes, "yes", "y", false, "sign transactions without asking")
	flags.DurationVar(&a.timeout, "timeout", defaultTimeout, "deadline for the whole command")

	rootCmd.AddCommand(
		sessionCommand(a),
		registerCommand(a),
		accountCommand(a),
		historyCommand(a),
		booksCommand(a),
		borrowCommand(a),
		returnCommand(a),
		buyCommand(a),
		rateCommand(a),
		govCommand(a),
		keysCommand(a),
	)
	return rootCmd
}

package main

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"bookchain/chain"
	"bookchain/crypto"
)

type sessionView struct {
	Address  common.Address `json:"address"`
	Balance  string         `json:"balance"`
	ChainID  string         `json:"chainId"`
	Contract common.Address `json:"contract"`
	Block    uint64         `json:"block"`
}

func sessionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Connect and show the acting account",
		Args:  cobra.NoArgs,
		RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
			info, _ := s.client.Session()
			block, err := s.client.BlockNumber(ctx)
			if err != nil {
				return nil, err
			}
			view := sessionView{Address: info.Address, Balance: info.Balance, Contract: s.client.Contract(), Block: block}
			if info.ChainID != nil {
				view.ChainID = info.ChainID.String()
			}
			return view, nil
		}),
	}
}

func registerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the acting account with the marketplace",
		Args:  cobra.NoArgs,
		RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
			if err := s.market.Register(ctx); err != nil {
				return nil, err
			}
			return s.market.Account(ctx, s.Address())
		}),
	}
}

func accountCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "account [address]",
		Short: "Show registration, ban and admin flags of an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
			addr, err := targetAccount(s, args)
			if err != nil {
				return nil, err
			}
			return s.market.Account(ctx, addr)
		}),
	}
}

func historyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history [address]",
		Short: "Rebuild the recent marketplace activity of an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
			addr, err := targetAccount(s, args)
			if err != nil {
				return nil, err
			}
			return s.market.History(ctx, addr)
		}),
	}
}

// targetAccount is the positional address, or the session account.
func targetAccount(s *session, args []string) (common.Address, error) {
	if len(args) == 0 {
		return s.Address(), nil
	}
	addr, err := crypto.ParseAddress(args[0])
	if err != nil {
		return common.Address{}, chain.OperationFailed("invalid account address", err)
	}
	return addr, nil
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"bookchain/chain"
	"bookchain/crypto"
	"bookchain/governance"
)

func govCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gov",
		Short: "Pause switches and admin-change proposals",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show every pause flag",
			Args:  cobra.NoArgs,
			RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
				return s.market.Governance().Status(ctx), nil
			}),
		},
		toggleCommand(a, "pause", "Pause one operation category", (*governance.Service).Pause),
		toggleCommand(a, "unpause", "Resume one operation category", (*governance.Service).Unpause),
		&cobra.Command{
			Use:   "pause-all",
			Short: "Pause every operation",
			Args:  cobra.NoArgs,
			RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
				if err := s.market.Governance().PauseAll(ctx); err != nil {
					return nil, err
				}
				return s.market.Governance().Status(ctx), nil
			}),
		},
		&cobra.Command{
			Use:   "unpause-all",
			Short: "Lift the global pause",
			Args:  cobra.NoArgs,
			RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
				if err := s.market.Governance().UnpauseAll(ctx); err != nil {
					return nil, err
				}
				return s.market.Governance().Status(ctx), nil
			}),
		},
		&cobra.Command{
			Use:   "proposals",
			Short: "List pending admin-change proposals",
			Args:  cobra.NoArgs,
			RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
				return s.market.Governance().Pending(ctx)
			}),
		},
		&cobra.Command{
			Use:   "proposal <id>",
			Short: "Show one proposal",
			Args:  cobra.ExactArgs(1),
			RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
				id, err := parseID(args[0])
				if err != nil {
					return nil, err
				}
				return s.market.Governance().Proposal(ctx, id)
			}),
		},
		&cobra.Command{
			Use:   "propose <add-admin|remove-admin> <address>",
			Short: "Propose adding or removing an admin",
			Args:  cobra.ExactArgs(2),
			RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
				change, err := governance.ParseChangeType(args[0])
				if err != nil {
					return nil, chain.OperationFailed("invalid change type", err)
				}
				target, err := crypto.ParseAddress(args[1])
				if err != nil {
					return nil, chain.OperationFailed("invalid target address", err)
				}
				id, err := s.market.Governance().Propose(ctx, change, target)
				if err != nil {
					return nil, err
				}
				return s.market.Governance().Proposal(ctx, id)
			}),
		},
		voteCommand(a, "approve", "Vote to approve a proposal", (*governance.Service).Approve),
		voteCommand(a, "reject", "Vote to reject a proposal", (*governance.Service).Reject),
	)
	return cmd
}

func toggleCommand(a *app, use, short string, fn func(*governance.Service, context.Context, governance.Category) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <category>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
			category, err := governance.ParseCategory(args[0])
			if err != nil {
				return nil, chain.OperationFailed("invalid category", err)
			}
			if err := fn(s.market.Governance(), ctx, category); err != nil {
				return nil, err
			}
			return s.market.Governance().Status(ctx), nil
		}),
	}
}

func voteCommand(a *app, use, short string, fn func(*governance.Service, context.Context, uint64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
			id, err := parseID(args[0])
			if err != nil {
				return nil, err
			}
			if err := fn(s.market.Governance(), ctx, id); err != nil {
				return nil, err
			}
			return s.market.Governance().Proposal(ctx, id)
		}),
	}
}

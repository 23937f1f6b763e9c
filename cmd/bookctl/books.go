package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bookchain/market"
	"bookchain/metadata"
)

type listingFlags struct {
	title       string
	author      string
	genre       string
	year        int
	description string
	cover       string
	uri         string
}

func (f *listingFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.title, "title", "", "book title")
	flags.StringVar(&f.author, "author", "", "book author")
	flags.StringVar(&f.genre, "genre", "Other", "marketplace genre")
	flags.IntVar(&f.year, "year", 0, "publication year")
	flags.StringVar(&f.description, "description", "", "short description")
	flags.StringVar(&f.cover, "cover", "", "cover image URL")
	flags.StringVar(&f.uri, "uri", "", "existing metadata CID; skips the upload")
}

func (f *listingFlags) record() metadata.Record {
	return metadata.Record{
		Title:           f.title,
		Author:          f.author,
		Genre:           f.genre,
		PublicationYear: f.year,
		Description:     f.description,
		CoverImage:      f.cover,
	}
}

func booksCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Browse and list books",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every decodable book",
			Args:  cobra.NoArgs,
			RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
				return s.market.ListBooks(ctx)
			}),
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show one book",
			Args:  cobra.ExactArgs(1),
			RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
				id, err := parseID(args[0])
				if err != nil {
					return nil, err
				}
				return s.market.Book(ctx, id)
			}),
		},
		&cobra.Command{
			Use:   "rating <id>",
			Short: "Show the rating summary of a book",
			Args:  cobra.ExactArgs(1),
			RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
				id, err := parseID(args[0])
				if err != nil {
					return nil, err
				}
				return s.market.Rating(ctx, id)
			}),
		},
		createRentableCommand(a),
		createSellableCommand(a),
	)
	return cmd
}

func createRentableCommand(a *app) *cobra.Command {
	var (
		listing listingFlags
		deposit string
		days    uint64
	)
	cmd := &cobra.Command{
		Use:   "create-rentable",
		Short: "List a book for lending",
		Args:  cobra.NoArgs,
		RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
			return s.market.CreateRentable(ctx, market.RentableListing{
				Metadata:          listing.record(),
				MetadataURI:       listing.uri,
				Deposit:           deposit,
				LendingPeriodDays: days,
			})
		}),
	}
	listing.bind(cmd)
	cmd.Flags().StringVar(&deposit, "deposit", "", "deposit in the native unit, e.g. 0.05")
	cmd.Flags().Uint64Var(&days, "period-days", 14, "lending period in days")
	_ = cmd.MarkFlagRequired("deposit")
	return cmd
}

func createSellableCommand(a *app) *cobra.Command {
	var (
		listing listingFlags
		price   string
	)
	cmd := &cobra.Command{
		Use:   "create-sellable",
		Short: "List a book for sale",
		Args:  cobra.NoArgs,
		RunE: a.connected(func(ctx context.Context, s *session, _ []string) (any, error) {
			return s.market.CreateSellable(ctx, market.SaleListing{
				Metadata:    listing.record(),
				MetadataURI: listing.uri,
				Price:       price,
			})
		}),
	}
	listing.bind(cmd)
	cmd.Flags().StringVar(&price, "price", "", "price in the native unit")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

// bookAction builds the single-id write commands.
func bookAction(a *app, use, short string, fn func(ctx context.Context, svc *market.Service, id uint64) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
			id, err := parseID(args[0])
			if err != nil {
				return nil, err
			}
			return fn(ctx, s.market, id)
		}),
	}
}

func borrowCommand(a *app) *cobra.Command {
	return bookAction(a, "borrow", "Borrow a rentable book, paying its deposit",
		func(ctx context.Context, svc *market.Service, id uint64) (any, error) { return svc.Borrow(ctx, id) })
}

func returnCommand(a *app) *cobra.Command {
	return bookAction(a, "return", "Return a borrowed book and recover the deposit",
		func(ctx context.Context, svc *market.Service, id uint64) (any, error) { return svc.Return(ctx, id) })
}

func buyCommand(a *app) *cobra.Command {
	return bookAction(a, "buy", "Buy a sellable book at its listed price",
		func(ctx context.Context, svc *market.Service, id uint64) (any, error) { return svc.Buy(ctx, id) })
}

func rateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <id> <stars>",
		Short: "Rate a book from 1 to 5 stars",
		Args:  cobra.ExactArgs(2),
		RunE: a.connected(func(ctx context.Context, s *session, args []string) (any, error) {
			id, err := parseID(args[0])
			if err != nil {
				return nil, err
			}
			stars, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid rating %q", args[1])
			}
			return s.market.Rate(ctx, id, stars)
		}),
	}
}

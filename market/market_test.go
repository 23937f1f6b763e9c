package market_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bookchain/book"
	"bookchain/chain"
	"bookchain/crypto"
	"bookchain/governance"
	"bookchain/history"
	"bookchain/internal/chaintest"
	"bookchain/market"
	"bookchain/metadata"
)

var (
	contract = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
	quiet    = slog.New(slog.NewTextHandler(io.Discard, nil))
	now      = time.Unix(chaintest.GenesisTime, 0).Add(24 * time.Hour)
)

type env struct {
	node   *chaintest.Node
	market *chaintest.Marketplace
	store  *metadata.MemoryStore
}

func newEnv() *env {
	node := chaintest.NewNode(contract)
	return &env{node: node, market: chaintest.NewMarketplace(node, 1), store: metadata.NewMemoryStore()}
}

type actor struct {
	key *crypto.PrivateKey
	svc *market.Service
}

func (e *env) actor(t *testing.T) actor {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	client := chain.NewClient(chain.Config{Contract: contract, PollInterval: time.Millisecond},
		chain.WithWallet(chain.NewKeyWallet(key)),
		chain.WithDialer(e.node.Dialer()),
		chain.WithLogger(quiet))
	_, err = client.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	svc := market.NewService(client, e.store, market.Config{},
		market.WithLogger(quiet),
		market.WithClock(func() time.Time { return now }))
	return actor{key: key, svc: svc}
}

func TestRentalRoundTrip(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	lender, reader := e.actor(t), e.actor(t)
	require.NoError(t, lender.svc.Register(ctx))
	require.NoError(t, reader.svc.Register(ctx))

	record, err := lender.svc.CreateRentable(ctx, market.RentableListing{
		Metadata:          metadata.Record{Title: "Dune", Author: "Frank Herbert", Genre: "ScienceFiction", PublicationYear: 1965},
		Deposit:           "0.05",
		LendingPeriodDays: 14,
	})
	require.NoError(t, err)
	listed, ok := record.(*book.RentableBook)
	require.True(t, ok)
	require.Equal(t, uint64(1), listed.ID)
	require.Equal(t, "Dune", listed.Title)
	require.Equal(t, book.GenreScienceFiction, listed.Genre)
	require.Equal(t, book.StatusForRent, listed.Status)
	require.Equal(t, lender.key.Address(), listed.Owner)
	require.InDelta(t, 0.05, listed.Deposit, 1e-12)

	record, err = reader.svc.Borrow(ctx, listed.ID)
	require.NoError(t, err)
	lent := record.(*book.RentableBook)
	require.Equal(t, book.StatusLent, lent.Status)
	require.NotNil(t, lent.Borrower)
	require.Equal(t, reader.key.Address(), *lent.Borrower)
	require.Equal(t, book.LendingActive, lent.LendingState)

	_, err = lender.svc.Return(ctx, listed.ID)
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	require.Contains(t, err.Error(), chaintest.ReasonNotBorrower)

	record, err = reader.svc.Return(ctx, listed.ID)
	require.NoError(t, err)
	require.Equal(t, book.StatusForRent, record.Base().Status)
	require.Nil(t, record.(*book.RentableBook).Borrower)

	entries, err := reader.svc.History(ctx, reader.key.Address())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, history.TypeReturned, entries[0].Type)
	require.Equal(t, history.TypeBorrowed, entries[1].Type)
	require.Equal(t, "Dune", entries[1].BookTitle)
	require.Equal(t, lender.key.Address(), entries[1].Counterparty)

	entries, err = lender.svc.History(ctx, lender.key.Address())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, history.TypeCreated, entries[0].Type)
}

func TestPurchaseTransfersOwnership(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	seller, buyer := e.actor(t), e.actor(t)
	e.market.Register(seller.key.Address())
	e.market.Register(buyer.key.Address())

	record, err := seller.svc.CreateSellable(ctx, market.SaleListing{
		Metadata: metadata.Record{Title: "Emma", Genre: "Romance"},
		Price:    "1.25",
	})
	require.NoError(t, err)
	require.Equal(t, book.StatusAvailable, record.Base().Status)

	_, err = seller.svc.Buy(ctx, record.Base().ID)
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	require.Contains(t, err.Error(), chaintest.ReasonOwnBook)

	record, err = buyer.svc.Buy(ctx, record.Base().ID)
	require.NoError(t, err)
	require.Equal(t, book.StatusSold, record.Base().Status)
	require.Equal(t, buyer.key.Address(), record.Base().Owner)

	entries, err := buyer.svc.History(ctx, buyer.key.Address())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, history.TypeBought, entries[0].Type)
	require.Equal(t, seller.key.Address(), entries[0].Counterparty)

	_, err = buyer.svc.Borrow(ctx, record.Base().ID)
	require.ErrorIs(t, err, chain.ErrOperationFailed)
}

func TestRateDispatchesOnVariant(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	owner, reader := e.actor(t), e.actor(t)
	e.market.Register(owner.key.Address())
	e.market.Register(reader.key.Address())

	rentable, err := owner.svc.CreateRentable(ctx, market.RentableListing{MetadataURI: "ipfs://bafyrent", Deposit: "0.1", LendingPeriodDays: 7})
	require.NoError(t, err)
	sellable, err := owner.svc.CreateSellable(ctx, market.SaleListing{MetadataURI: "bafysale", Price: "2"})
	require.NoError(t, err)
	require.Equal(t, book.FallbackTitle, rentable.Base().Title)

	rating, err := reader.svc.Rate(ctx, rentable.Base().ID, 4)
	require.NoError(t, err)
	require.Equal(t, book.Rating{Average: 4, Sum: 400, Count: 1}, rating)

	rating, err = reader.svc.Rate(ctx, sellable.Base().ID, 2.5)
	require.NoError(t, err)
	require.Equal(t, uint64(250), rating.Sum)

	_, err = reader.svc.Rate(ctx, rentable.Base().ID, 5.5)
	require.ErrorIs(t, err, chain.ErrOperationFailed)
}

func TestWritesRefusedWhilePaused(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	user := e.actor(t)
	e.market.Register(user.key.Address())
	e.market.SetPaused(uint8(governance.CategoryCreateSellable), true)

	_, err := user.svc.CreateSellable(ctx, market.SaleListing{MetadataURI: "bafy", Price: "1"})
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	require.Contains(t, err.Error(), "create-sellable is paused")
	require.Equal(t, uint64(0), e.node.Height())

	_, err = user.svc.CreateRentable(ctx, market.RentableListing{MetadataURI: "bafy", Deposit: "1", LendingPeriodDays: 3})
	require.NoError(t, err)
}

func TestListingValidation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	user := e.actor(t)

	_, err := user.svc.CreateRentable(ctx, market.RentableListing{MetadataURI: "bafy", Deposit: "1"})
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	_, err = user.svc.CreateSellable(ctx, market.SaleListing{MetadataURI: "bafy", Price: "one"})
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	_, err = user.svc.CreateSellable(ctx, market.SaleListing{Price: "1"})
	require.ErrorIs(t, err, chain.ErrOperationFailed)

	_, err = user.svc.CreateSellable(ctx, market.SaleListing{MetadataURI: "bafy", Price: "1"})
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	require.Contains(t, err.Error(), chaintest.ReasonNotRegistered)
}

func TestAccountAndListing(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	user := e.actor(t)

	info, err := user.svc.Account(ctx, user.key.Address())
	require.NoError(t, err)
	require.False(t, info.Registered)

	require.NoError(t, user.svc.Register(ctx))
	info, err = user.svc.Account(ctx, user.key.Address())
	require.NoError(t, err)
	require.Equal(t, market.AccountInfo{Address: user.key.Address(), Registered: true, TrustLevel: 1}, info)

	_, err = user.svc.CreateSellable(ctx, market.SaleListing{MetadataURI: "bafy", Price: "1"})
	require.NoError(t, err)
	e.market.Corrupt(2, book.KindRentable, []byte{0x01, 0x02})

	books, err := user.svc.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)

	_, err = user.svc.Book(ctx, 2)
	require.ErrorIs(t, err, chain.ErrDataConversion)

	e.market.Ban(user.key.Address())
	require.ErrorIs(t, user.svc.Register(ctx), chain.ErrUserBanned)
}

// Package market is the application facade over the marketplace contract.
// Writes submit one transaction, wait for it to be mined and re-read the
// affected book; no local state is kept between calls.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bookchain/book"
	"bookchain/chain"
	"bookchain/governance"
	"bookchain/history"
	"bookchain/metadata"
)

// Chain is the ledger access the facade needs. *chain.Client satisfies it.
type Chain interface {
	governance.Chain
	history.Source
	SubmitWithValue(ctx context.Context, method, value string, args ...any) (*types.Receipt, error)
}

// Config tunes the facade.
type Config struct {
	History history.Config
}

// AccountInfo is the contract's view of an account.
type AccountInfo struct {
	Address    common.Address `json:"address"`
	Registered bool           `json:"registered"`
	Banned     bool           `json:"banned"`
	TrustLevel uint8          `json:"trustLevel"`
	IsAdmin    bool           `json:"isAdmin"`
}

// RentableListing describes a book to lend out. When MetadataURI is empty
// Metadata is uploaded first.
type RentableListing struct {
	Metadata          metadata.Record
	MetadataURI       string
	Deposit           string
	LendingPeriodDays uint64
}

// SaleListing describes a book to sell.
type SaleListing struct {
	Metadata    metadata.Record
	MetadataURI string
	Price       string
}

// Service is the marketplace facade.
type Service struct {
	chain      Chain
	store      metadata.Store
	books      *book.Repository
	governance *governance.Service
	cfg        Config
	logger     *slog.Logger
}

// Option customises a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger *slog.Logger
	clock  func() time.Time
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithClock sets the clock used to derive lending state.
func WithClock(clock func() time.Time) Option {
	return func(o *serviceOptions) { o.clock = clock }
}

// NewService wires the facade. store may be nil when listings always carry a
// metadata URI; reads then fall back to placeholder metadata.
func NewService(c Chain, store metadata.Store, cfg Config, opts ...Option) *Service {
	o := serviceOptions{logger: slog.Default(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	var fetcher metadata.Fetcher
	if store != nil {
		fetcher = store
	}
	decoder := book.NewDecoder(fetcher, book.WithClock(o.clock), book.WithDecoderLogger(o.logger))
	return &Service{
		chain:      c,
		store:      store,
		books:      book.NewRepository(c, decoder, o.logger),
		governance: governance.NewService(c, governance.WithLogger(o.logger)),
		cfg:        cfg,
		logger:     o.logger,
	}
}

// Governance returns the pause and proposal service sharing this facade's
// session.
func (s *Service) Governance() *governance.Service {
	return s.governance
}

// ListBooks materialises every decodable book.
func (s *Service) ListBooks(ctx context.Context) ([]book.Record, error) {
	return s.books.WithCache().List(ctx)
}

// Book materialises one book.
func (s *Service) Book(ctx context.Context, id uint64) (book.Record, error) {
	return s.books.Get(ctx, id)
}

// Rating reads the rating state of a book.
func (s *Service) Rating(ctx context.Context, id uint64) (book.Rating, error) {
	return s.books.Rating(ctx, id)
}

// History rebuilds the recent activity of account.
func (s *Service) History(ctx context.Context, account common.Address) ([]history.Entry, error) {
	feed := history.NewReconstructor(s.chain, s.books.WithCache(), s.cfg.History, history.WithLogger(s.logger))
	return feed.Account(ctx, account)
}

// Account reads the registration and privilege flags of addr.
func (s *Service) Account(ctx context.Context, addr common.Address) (AccountInfo, error) {
	out, err := s.chain.Call(ctx, chain.MethodGetUserInfo, addr)
	if err != nil {
		return AccountInfo{}, err
	}
	info := AccountInfo{Address: addr}
	if info.Registered, err = chain.OutBool(out, 0); err != nil {
		return AccountInfo{}, err
	}
	if info.Banned, err = chain.OutBool(out, 1); err != nil {
		return AccountInfo{}, err
	}
	if info.TrustLevel, err = chain.OutUint8(out, 2); err != nil {
		return AccountInfo{}, err
	}
	if info.IsAdmin, err = chain.OutBool(out, 3); err != nil {
		return AccountInfo{}, err
	}
	return info, nil
}

// Register registers the session account.
func (s *Service) Register(ctx context.Context) error {
	_, err := s.chain.Submit(ctx, chain.MethodRegisterUser)
	return err
}

// CreateRentable lists a rentable book and returns it as stored.
func (s *Service) CreateRentable(ctx context.Context, listing RentableListing) (book.Record, error) {
	if listing.LendingPeriodDays == 0 {
		return nil, chain.OperationFailed("lending period must be at least one day", nil)
	}
	deposit, err := chain.ParseNative(listing.Deposit)
	if err != nil {
		return nil, chain.OperationFailed(err.Error(), err)
	}
	if err := s.ensureAvailable(ctx, governance.CategoryCreateRentable); err != nil {
		return nil, err
	}
	uri, err := s.metadataURI(ctx, listing.MetadataURI, listing.Metadata)
	if err != nil {
		return nil, err
	}
	receipt, err := s.chain.Submit(ctx, chain.MethodCreateRentableBook, uri, deposit, new(big.Int).SetUint64(listing.LendingPeriodDays))
	if err != nil {
		return nil, err
	}
	return s.created(ctx, receipt)
}

// CreateSellable lists a sellable book and returns it as stored.
func (s *Service) CreateSellable(ctx context.Context, listing SaleListing) (book.Record, error) {
	price, err := chain.ParseNative(listing.Price)
	if err != nil {
		return nil, chain.OperationFailed(err.Error(), err)
	}
	if err := s.ensureAvailable(ctx, governance.CategoryCreateSellable); err != nil {
		return nil, err
	}
	uri, err := s.metadataURI(ctx, listing.MetadataURI, listing.Metadata)
	if err != nil {
		return nil, err
	}
	receipt, err := s.chain.Submit(ctx, chain.MethodCreateSellableBook, uri, price)
	if err != nil {
		return nil, err
	}
	return s.created(ctx, receipt)
}

func (s *Service) metadataURI(ctx context.Context, uri string, record metadata.Record) (string, error) {
	if trimmed := strings.TrimSpace(uri); trimmed != "" {
		return trimmed, nil
	}
	if s.store == nil {
		return "", chain.OperationFailed("metadata uri required: no metadata store configured", nil)
	}
	if strings.TrimSpace(record.Title) == "" {
		return "", chain.OperationFailed("book title required", nil)
	}
	cid, err := s.store.UploadMetadata(ctx, record)
	if err != nil {
		return "", chain.OperationFailed(fmt.Sprintf("upload metadata: %v", err), err)
	}
	return cid, nil
}

func (s *Service) created(ctx context.Context, receipt *types.Receipt) (book.Record, error) {
	raw, err := s.chain.ExtractEventArg(receipt, chain.EventBookCreated, 0)
	if err != nil {
		return nil, err
	}
	id, ok := raw.(*big.Int)
	if !ok || !id.IsUint64() {
		return nil, chain.DataConversionError("book id is not a uint64", nil)
	}
	s.logger.Info("book listed", slog.Uint64("book_id", id.Uint64()), slog.String("tx", receipt.TxHash.Hex()))
	return s.books.Get(ctx, id.Uint64())
}

// Borrow borrows a rentable book, paying exactly the deposit it asks for.
func (s *Service) Borrow(ctx context.Context, id uint64) (book.Record, error) {
	if err := s.ensureAvailable(ctx, governance.CategoryBorrow); err != nil {
		return nil, err
	}
	terms, err := s.books.RawTerms(ctx, id)
	if err != nil {
		return nil, err
	}
	rental, ok := terms.(*book.RentalTerms)
	if !ok {
		return nil, chain.OperationFailed(fmt.Sprintf("book %d is not rentable", id), nil)
	}
	if _, err := s.chain.SubmitWithValue(ctx, chain.MethodBorrowBook, chain.FormatNative(rental.Deposit), new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	return s.books.Get(ctx, id)
}

// Return hands a borrowed book back.
func (s *Service) Return(ctx context.Context, id uint64) (book.Record, error) {
	if err := s.ensureAvailable(ctx, governance.CategoryReturn); err != nil {
		return nil, err
	}
	if _, err := s.chain.Submit(ctx, chain.MethodReturnBook, new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	return s.books.Get(ctx, id)
}

// Buy purchases a sellable book, paying exactly its price.
func (s *Service) Buy(ctx context.Context, id uint64) (book.Record, error) {
	if err := s.ensureAvailable(ctx, governance.CategoryPurchase); err != nil {
		return nil, err
	}
	terms, err := s.books.RawTerms(ctx, id)
	if err != nil {
		return nil, err
	}
	sale, ok := terms.(*book.SaleTerms)
	if !ok {
		return nil, chain.OperationFailed(fmt.Sprintf("book %d is not for sale", id), nil)
	}
	if _, err := s.chain.SubmitWithValue(ctx, chain.MethodBuyBook, chain.FormatNative(sale.Price), new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	return s.books.Get(ctx, id)
}

// Rate records a rating between 0 and 5 and returns the updated rating.
func (s *Service) Rate(ctx context.Context, id uint64, rating float64) (book.Rating, error) {
	scaled, ok := book.ScaleRating(rating)
	if !ok {
		return book.Rating{}, chain.OperationFailed(fmt.Sprintf("rating %.2f outside 0..%d", rating, book.MaxRating), nil)
	}
	kind, _, err := s.books.Details(ctx, id)
	if err != nil {
		return book.Rating{}, err
	}
	method := chain.MethodRateRentableBook
	switch kind {
	case book.KindRentable:
	case book.KindSellable:
		method = chain.MethodRateSellableBook
	default:
		return book.Rating{}, chain.DataConversionError(fmt.Sprintf("book %d has unknown type %d", id, kind), nil)
	}
	if _, err := s.chain.Submit(ctx, method, new(big.Int).SetUint64(id), scaled); err != nil {
		return book.Rating{}, err
	}
	return s.books.Rating(ctx, id)
}

func (s *Service) ensureAvailable(ctx context.Context, c governance.Category) error {
	if s.governance.Available(ctx, c) {
		return nil
	}
	return chain.OperationFailed(fmt.Sprintf("%s is paused", c), nil)
}

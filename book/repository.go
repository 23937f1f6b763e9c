package book

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bookchain/chain"
)

// Caller issues read-only contract calls. *chain.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, args ...any) ([]any, error)
}

// Rating is the rating state of a book.
type Rating struct {
	Average float64 `json:"average"`
	Sum     uint64  `json:"sum"`
	Count   uint64  `json:"count"`
}

// Repository reads books from the ledger through a Caller and a Decoder.
// Repositories returned by WithCache memoise results and must not outlive
// the request they were created for.
type Repository struct {
	caller  Caller
	decoder *Decoder
	logger  *slog.Logger
	cache   *requestCache
}

type requestCache struct {
	mu      sync.Mutex
	records map[uint64]Record
	owners  map[uint64]common.Address
}

// NewRepository constructs an uncached repository.
func NewRepository(caller Caller, decoder *Decoder, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{caller: caller, decoder: decoder, logger: logger}
}

// WithCache returns a copy of r memoising records and owners for one request.
func (r *Repository) WithCache() *Repository {
	cp := *r
	cp.cache = &requestCache{
		records: make(map[uint64]Record),
		owners:  make(map[uint64]common.Address),
	}
	return &cp
}

// IDs lists every book id known to the ledger.
func (r *Repository) IDs(ctx context.Context) ([]uint64, error) {
	out, err := r.caller.Call(ctx, chain.MethodGetAllBookIDs)
	if err != nil {
		return nil, err
	}
	return chain.OutUint64Slice(out, 0)
}

// Details returns the discriminant and raw payload of a book.
func (r *Repository) Details(ctx context.Context, id uint64) (Kind, []byte, error) {
	out, err := r.caller.Call(ctx, chain.MethodGetBookDetails, new(big.Int).SetUint64(id))
	if err != nil {
		return 0, nil, err
	}
	kind, err := chain.OutUint8(out, 1)
	if err != nil {
		return 0, nil, err
	}
	data, err := chain.OutBytes(out, 2)
	if err != nil {
		return 0, nil, err
	}
	return Kind(kind), data, nil
}

// Payload returns the decoded payload of a book with its amounts in base units.
func (r *Repository) Payload(ctx context.Context, id uint64) (Payload, error) {
	kind, data, err := r.Details(ctx, id)
	if err != nil {
		return Payload{}, err
	}
	return DecodePayload(kind, data)
}

// RawTerms returns the variant terms of a book in exact base units, as
// payable calls need them.
func (r *Repository) RawTerms(ctx context.Context, id uint64) (Terms, error) {
	payload, err := r.Payload(ctx, id)
	if err != nil {
		return nil, err
	}
	return payload.Terms, nil
}

// Owner returns the account holding a book.
func (r *Repository) Owner(ctx context.Context, id uint64) (common.Address, error) {
	if r.cache != nil {
		r.cache.mu.Lock()
		owner, ok := r.cache.owners[id]
		r.cache.mu.Unlock()
		if ok {
			return owner, nil
		}
	}
	out, err := r.caller.Call(ctx, chain.MethodOwnerOf, new(big.Int).SetUint64(id))
	if err != nil {
		return common.Address{}, err
	}
	owner, err := chain.OutAddress(out, 0)
	if err != nil {
		return common.Address{}, err
	}
	if r.cache != nil {
		r.cache.mu.Lock()
		r.cache.owners[id] = owner
		r.cache.mu.Unlock()
	}
	return owner, nil
}

// Get materialises one book.
func (r *Repository) Get(ctx context.Context, id uint64) (Record, error) {
	if r.cache != nil {
		r.cache.mu.Lock()
		record, ok := r.cache.records[id]
		r.cache.mu.Unlock()
		if ok {
			return record, nil
		}
	}
	kind, data, err := r.Details(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := r.Owner(ctx, id)
	if err != nil {
		return nil, err
	}
	record, err := r.decoder.Decode(ctx, id, kind, data, owner)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.mu.Lock()
		r.cache.records[id] = record
		r.cache.mu.Unlock()
	}
	return record, nil
}

// List materialises every book. Books whose payload cannot be decoded are
// logged and left out; any other failure aborts the listing.
func (r *Repository) List(ctx context.Context) ([]Record, error) {
	ids, err := r.IDs(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, chain.ErrDataConversion) {
				r.logger.Warn("skipping undecodable book", slog.Uint64("book_id", id), slog.String("error", err.Error()))
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Title returns the display title of a book.
func (r *Repository) Title(ctx context.Context, id uint64) (string, error) {
	record, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return record.Base().Title, nil
}

// Rating reads the current rating state of a book.
func (r *Repository) Rating(ctx context.Context, id uint64) (Rating, error) {
	out, err := r.caller.Call(ctx, chain.MethodGetRating, new(big.Int).SetUint64(id))
	if err != nil {
		return Rating{}, err
	}
	sum, err := chain.OutBig(out, 0)
	if err != nil {
		return Rating{}, err
	}
	count, err := chain.OutBig(out, 1)
	if err != nil {
		return Rating{}, err
	}
	rating := Rating{Average: AverageRating(sum, count)}
	if sum.IsUint64() {
		rating.Sum = sum.Uint64()
	}
	if count.IsUint64() {
		rating.Count = count.Uint64()
	}
	return rating, nil
}

// Package history rebuilds an account's marketplace activity from contract
// logs. Nothing is indexed or persisted: every request scans a bounded block
// window ending at the current head, so activity older than the window is
// deliberately not reported.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bookchain/chain"
	"bookchain/observability"
)

const (
	// DefaultLookbackBlocks bounds how far back a reconstruction scans.
	DefaultLookbackBlocks = 10_000
	// DefaultMaxEntries is the feed length returned when none is configured.
	DefaultMaxEntries = 10

	// StatusConfirmed labels every entry; only mined logs are ever visible.
	StatusConfirmed = "Confirmed"
)

// Type classifies an activity entry.
type Type string

const (
	TypeCreated  Type = "Created"
	TypeBorrowed Type = "Borrowed"
	TypeReturned Type = "Returned"
	TypeBought   Type = "Bought"
)

// Entry is one normalised activity record.
type Entry struct {
	ID           string         `json:"id"`
	Type         Type           `json:"type"`
	BookID       uint64         `json:"bookId"`
	BookTitle    string         `json:"bookTitle"`
	Counterparty common.Address `json:"counterparty"`
	Timestamp    time.Time      `json:"timestamp"`
	Status       string         `json:"status"`
	TxHash       common.Hash    `json:"txHash"`
	BlockNumber  uint64         `json:"blockNumber"`
}

// Config bounds a reconstruction.
type Config struct {
	LookbackBlocks uint64 `yaml:"lookbackBlocks" toml:"LookbackBlocks"`
	MaxEntries     int    `yaml:"maxEntries" toml:"MaxEntries"`
}

func (c Config) normalize() Config {
	if c.LookbackBlocks == 0 {
		c.LookbackBlocks = DefaultLookbackBlocks
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	return c
}

// Window returns the inclusive block range scanned for head.
func (c Config) Window(head uint64) (from, to uint64) {
	c = c.normalize()
	if head > c.LookbackBlocks {
		from = head - c.LookbackBlocks
	}
	return from, head
}

// Source is the ledger access a reconstruction needs. *chain.Client
// satisfies it.
type Source interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	FilterEvents(ctx context.Context, q chain.EventQuery) ([]chain.Event, error)
	TransactionSender(ctx context.Context, hash common.Hash) (common.Address, error)
}

// Books resolves the auxiliary data of an entry. *book.Repository satisfies it.
type Books interface {
	Title(ctx context.Context, id uint64) (string, error)
	Owner(ctx context.Context, id uint64) (common.Address, error)
}

// Reconstructor builds activity feeds.
type Reconstructor struct {
	source  Source
	books   Books
	cfg     Config
	logger  *slog.Logger
	metrics *observability.HistoryMetrics
	tracer  trace.Tracer
}

// Option customises a Reconstructor.
type Option func(*Reconstructor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconstructor) { r.logger = l }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.HistoryMetrics) Option {
	return func(r *Reconstructor) { r.metrics = m }
}

// NewReconstructor constructs a reconstructor reading through source and books.
func NewReconstructor(source Source, books Books, cfg Config, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		source: source,
		books:  books,
		cfg:    cfg.normalize(),
		logger: slog.Default(),
		tracer: otel.Tracer("bookchain/history"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observability.History()
	}
	return r
}

// Config returns the effective bounds.
func (r *Reconstructor) Config() Config {
	return r.cfg
}

type stream struct {
	event string
	kind  Type
	// topics filters the indexed arguments after the signature topic.
	topics  func(account common.Address) [][]common.Hash
	resolve func(ctx context.Context, req *request, ev chain.Event) (Entry, bool, error)
}

var streams = []stream{
	{
		event:   chain.EventBookCreated,
		kind:    TypeCreated,
		topics:  func(common.Address) [][]common.Hash { return nil },
		resolve: resolveCreated,
	},
	{
		event:   chain.EventBookBorrowed,
		kind:    TypeBorrowed,
		topics:  secondTopic,
		resolve: resolveWithOwner,
	},
	{
		event:   chain.EventBookReturned,
		kind:    TypeReturned,
		topics:  secondTopic,
		resolve: resolveWithOwner,
	},
	{
		event:   chain.EventBookPurchased,
		kind:    TypeBought,
		topics:  secondTopic,
		resolve: resolvePurchase,
	},
}

func secondTopic(account common.Address) [][]common.Hash {
	return [][]common.Hash{nil, {chain.AddressTopic(account)}}
}

// request holds the lookups memoised while one feed is built.
type request struct {
	r       *Reconstructor
	account common.Address

	mu     sync.Mutex
	times  map[uint64]time.Time
	titles map[uint64]string
	owners map[uint64]common.Address
}

// Account returns the newest activity of account inside the lookback window,
// newest first and capped at the configured maximum. A failing event query
// fails the whole feed; an entry whose title, counterparty or timestamp
// cannot be resolved is skipped.
func (r *Reconstructor) Account(ctx context.Context, account common.Address) (entries []Entry, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "history.account", trace.WithAttributes(attribute.String("account", account.Hex())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, chain.KindOf(err))
		}
		span.End()
	}()

	head, err := r.source.BlockNumber(ctx)
	if err != nil {
		r.metrics.ObserveRun(0, time.Since(start), err)
		return nil, err
	}
	from, to := r.cfg.Window(head)
	span.SetAttributes(attribute.Int64("from_block", int64(from)), attribute.Int64("to_block", int64(to)))

	req := &request{
		r:       r,
		account: account,
		times:   make(map[uint64]time.Time),
		titles:  make(map[uint64]string),
		owners:  make(map[uint64]common.Address),
	}
	results := make([][]Entry, len(streams))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range streams {
		g.Go(func() error {
			found, err := req.scan(gctx, s, from, to)
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.metrics.ObserveRun(0, time.Since(start), err)
		return nil, err
	}

	merged := make([]Entry, 0)
	for _, found := range results {
		merged = append(merged, found...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	r.metrics.ObserveRun(len(merged), time.Since(start), nil)
	if len(merged) > r.cfg.MaxEntries {
		merged = merged[:r.cfg.MaxEntries]
	}
	return merged, nil
}

func (req *request) scan(ctx context.Context, s stream, from, to uint64) ([]Entry, error) {
	events, err := req.r.source.FilterEvents(ctx, chain.EventQuery{
		Event:     s.event,
		FromBlock: from,
		ToBlock:   to,
		Topics:    s.topics(req.account),
	})
	if err != nil {
		return nil, streamError(s.event, err)
	}
	seen := make(map[common.Hash]struct{}, len(events))
	out := make([]Entry, 0, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.Log.TxHash]; dup {
			continue
		}
		entry, ok, err := s.resolve(ctx, req, ev)
		if err == nil && ok {
			entry, err = req.finish(ctx, s.kind, ev, entry)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, streamError(s.event, ctxErr)
			}
			req.r.metrics.RecordSkipped(s.event)
			req.r.logger.Warn("skipping history entry",
				slog.String("event", s.event),
				slog.String("tx", ev.Log.TxHash.Hex()),
				slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		seen[ev.Log.TxHash] = struct{}{}
		out = append(out, entry)
	}
	return out, nil
}

// streamError reports a failed event query. The result is always an
// OperationFailed error.
func streamError(event string, err error) error {
	if errors.Is(err, chain.ErrOperationFailed) {
		return err
	}
	return chain.OperationFailed(fmt.Sprintf("load %s history: %v", event, err), nil)
}

func (req *request) finish(ctx context.Context, kind Type, ev chain.Event, entry Entry) (Entry, error) {
	when, err := req.blockTime(ctx, ev.Log.BlockNumber)
	if err != nil {
		return Entry{}, err
	}
	title, err := req.title(ctx, entry.BookID)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = fmt.Sprintf("%s-%d", kind, ev.Log.BlockNumber)
	entry.Type = kind
	entry.BookTitle = title
	entry.Timestamp = when
	entry.Status = StatusConfirmed
	entry.TxHash = ev.Log.TxHash
	entry.BlockNumber = ev.Log.BlockNumber
	return entry, nil
}

func resolveCreated(ctx context.Context, req *request, ev chain.Event) (Entry, bool, error) {
	id, err := bookID(ev)
	if err != nil {
		return Entry{}, false, err
	}
	creator, err := req.r.source.TransactionSender(ctx, ev.Log.TxHash)
	if err != nil {
		return Entry{}, false, err
	}
	if creator != req.account {
		return Entry{}, false, nil
	}
	return Entry{BookID: id, Counterparty: creator}, true, nil
}

func resolveWithOwner(ctx context.Context, req *request, ev chain.Event) (Entry, bool, error) {
	id, err := bookID(ev)
	if err != nil {
		return Entry{}, false, err
	}
	owner, err := req.owner(ctx, id)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{BookID: id, Counterparty: owner}, true, nil
}

func resolvePurchase(ctx context.Context, req *request, ev chain.Event) (Entry, bool, error) {
	id, err := bookID(ev)
	if err != nil {
		return Entry{}, false, err
	}
	raw, _ := ev.Arg("seller")
	seller, ok := raw.(common.Address)
	if !ok {
		return Entry{}, false, chain.DataConversionError("purchase log without seller", nil)
	}
	return Entry{BookID: id, Counterparty: seller}, true, nil
}

func bookID(ev chain.Event) (uint64, error) {
	raw, _ := ev.Arg("bookId")
	id, ok := raw.(*big.Int)
	if !ok || !id.IsUint64() {
		return 0, chain.DataConversionError(fmt.Sprintf("%s log without a valid book id", ev.Name), nil)
	}
	return id.Uint64(), nil
}

func (req *request) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	req.mu.Lock()
	when, ok := req.times[number]
	req.mu.Unlock()
	if ok {
		return when, nil
	}
	when, err := req.r.source.BlockTime(ctx, number)
	if err != nil {
		return time.Time{}, err
	}
	req.mu.Lock()
	req.times[number] = when
	req.mu.Unlock()
	return when, nil
}

func (req *request) title(ctx context.Context, id uint64) (string, error) {
	req.mu.Lock()
	title, ok := req.titles[id]
	req.mu.Unlock()
	if ok {
		return title, nil
	}
	title, err := req.r.books.Title(ctx, id)
	if err != nil {
		return "", err
	}
	req.mu.Lock()
	req.titles[id] = title
	req.mu.Unlock()
	return title, nil
}

func (req *request) owner(ctx context.Context, id uint64) (common.Address, error) {
	req.mu.Lock()
	owner, ok := req.owners[id]
	req.mu.Unlock()
	if ok {
		return owner, nil
	}
	owner, err := req.r.books.Owner(ctx, id)
	if err != nil {
		return common.Address{}, err
	}
	req.mu.Lock()
	req.owners[id] = owner
	req.mu.Unlock()
	return owner, nil
}

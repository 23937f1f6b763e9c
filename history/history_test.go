package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"bookchain/chain"
	"bookchain/observability"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol  = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	epoch  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	noLogs = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	events  map[string][]chain.Event
	errs    map[string]error
	senders map[common.Hash]common.Address
	queries []chain.EventQuery
}

func newFakeSource(head uint64) *fakeSource {
	return &fakeSource{
		head:    head,
		events:  make(map[string][]chain.Event),
		errs:    make(map[string]error),
		senders: make(map[common.Hash]common.Address),
	}
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeSource) BlockTime(_ context.Context, number uint64) (time.Time, error) {
	return epoch.Add(time.Duration(number) * time.Minute), nil
}

func (f *fakeSource) FilterEvents(_ context.Context, q chain.EventQuery) ([]chain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.errs[q.Event]; err != nil {
		return nil, err
	}
	return f.events[q.Event], nil
}

func (f *fakeSource) TransactionSender(_ context.Context, hash common.Hash) (common.Address, error) {
	sender, ok := f.senders[hash]
	if !ok {
		return common.Address{}, errors.New("unknown transaction")
	}
	return sender, nil
}

func (f *fakeSource) add(event string, block uint64, tx common.Hash, fields map[string]any) {
	f.events[event] = append(f.events[event], chain.Event{
		Name:   event,
		Fields: fields,
		Log:    types.Log{BlockNumber: block, TxHash: tx},
	})
}

type fakeBooks struct {
	owners map[uint64]common.Address
	broken map[uint64]bool
}

func (b fakeBooks) Title(_ context.Context, id uint64) (string, error) {
	if b.broken[id] {
		return "", chain.DataConversionError("bad payload", nil)
	}
	return fmt.Sprintf("Book %d", id), nil
}

func (b fakeBooks) Owner(_ context.Context, id uint64) (common.Address, error) {
	return b.owners[id], nil
}

func txHash(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

func newTestReconstructor(source Source, books Books, cfg Config) *Reconstructor {
	return NewReconstructor(source, books, cfg, WithLogger(noLogs))
}

func TestAccountDeduplicatesByTransaction(t *testing.T) {
	source := newFakeSource(100)
	fields := map[string]any{"bookId": big.NewInt(1), "borrower": alice, "deposit": big.NewInt(5)}
	source.add(chain.EventBookBorrowed, 10, txHash(1), fields)
	source.add(chain.EventBookBorrowed, 10, txHash(1), fields)

	books := fakeBooks{owners: map[uint64]common.Address{1: bob}}
	entries, err := newTestReconstructor(source, books, Config{}).Account(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, Entry{
		ID:           "Borrowed-10",
		Type:         TypeBorrowed,
		BookID:       1,
		BookTitle:    "Book 1",
		Counterparty: bob,
		Timestamp:    epoch.Add(10 * time.Minute),
		Status:       StatusConfirmed,
		TxHash:       txHash(1),
		BlockNumber:  10,
	}, entries[0])
}

func TestAccountSortsDescendingAndCaps(t *testing.T) {
	source := newFakeSource(100)
	for block := uint64(1); block <= 15; block++ {
		source.add(chain.EventBookReturned, block, txHash(block), map[string]any{"bookId": big.NewInt(2), "borrower": alice})
	}
	source.add(chain.EventBookPurchased, 8, txHash(99), map[string]any{
		"bookId": big.NewInt(3), "buyer": alice, "seller": carol, "price": big.NewInt(1),
	})

	books := fakeBooks{owners: map[uint64]common.Address{2: bob}}
	entries, err := newTestReconstructor(source, books, Config{MaxEntries: 10}).Account(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	require.Equal(t, "Returned-15", entries[0].ID)
	for i := 1; i < len(entries); i++ {
		require.False(t, entries[i].Timestamp.After(entries[i-1].Timestamp))
	}

	var bought *Entry
	for i := range entries {
		if entries[i].Type == TypeBought {
			bought = &entries[i]
		}
	}
	require.NotNil(t, bought)
	require.Equal(t, carol, bought.Counterparty)

	entries, err = newTestReconstructor(source, books, Config{MaxEntries: 3}).Account(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestAccountAttributesCreationsBySender(t *testing.T) {
	source := newFakeSource(50)
	source.add(chain.EventBookCreated, 3, txHash(1), map[string]any{"bookId": big.NewInt(1), "bookType": uint8(0), "metadataURI": "a"})
	source.add(chain.EventBookCreated, 4, txHash(2), map[string]any{"bookId": big.NewInt(2), "bookType": uint8(1), "metadataURI": "b"})
	source.senders[txHash(1)] = alice
	source.senders[txHash(2)] = bob

	entries, err := newTestReconstructor(source, fakeBooks{}, Config{}).Account(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, TypeCreated, entries[0].Type)
	require.Equal(t, uint64(1), entries[0].BookID)
	require.Equal(t, alice, entries[0].Counterparty)
}

func TestAccountSkipsUnresolvableEntries(t *testing.T) {
	source := newFakeSource(50)
	source.add(chain.EventBookBorrowed, 5, txHash(1), map[string]any{"bookId": big.NewInt(1), "borrower": alice})
	source.add(chain.EventBookBorrowed, 6, txHash(2), map[string]any{"bookId": big.NewInt(2), "borrower": alice})
	source.add(chain.EventBookBorrowed, 7, txHash(3), map[string]any{"borrower": alice})

	books := fakeBooks{broken: map[uint64]bool{2: true}}
	metrics := observability.NewHistoryMetrics(prometheus.NewRegistry())
	feed := NewReconstructor(source, books, Config{}, WithLogger(noLogs), WithMetrics(metrics))
	entries, err := feed.Account(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(1), entries[0].BookID)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.SkippedCounter(chain.EventBookBorrowed)))
	require.Zero(t, testutil.ToFloat64(metrics.SkippedCounter(chain.EventBookReturned)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsCounter("success")))
}

func TestAccountFailsWhenAStreamFails(t *testing.T) {
	source := newFakeSource(50)
	source.add(chain.EventBookBorrowed, 5, txHash(1), map[string]any{"bookId": big.NewInt(1), "borrower": alice})
	source.errs[chain.EventBookPurchased] = chain.ConnectionError("node went away", nil)

	_, err := newTestReconstructor(source, fakeBooks{}, Config{}).Account(context.Background(), alice)
	require.ErrorIs(t, err, chain.ErrOperationFailed)
	require.NotErrorIs(t, err, chain.ErrConnection)
}

func TestAccountScansLookbackWindow(t *testing.T) {
	source := newFakeSource(25_000)
	_, err := newTestReconstructor(source, fakeBooks{}, Config{}).Account(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, source.queries, len(streams))
	for _, q := range source.queries {
		require.Equal(t, uint64(15_000), q.FromBlock)
		require.Equal(t, uint64(25_000), q.ToBlock)
		if q.Event != chain.EventBookCreated {
			require.Equal(t, [][]common.Hash{nil, {chain.AddressTopic(alice)}}, q.Topics)
		}
	}
}

func TestConfigWindow(t *testing.T) {
	from, to := Config{}.Window(42)
	require.Equal(t, uint64(0), from)
	require.Equal(t, uint64(42), to)

	from, _ = Config{LookbackBlocks: 10}.Window(42)
	require.Equal(t, uint64(32), from)

	require.Equal(t, Config{LookbackBlocks: DefaultLookbackBlocks, MaxEntries: DefaultMaxEntries}, Config{}.normalize())
}

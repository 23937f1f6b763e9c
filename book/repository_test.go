package book

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bookchain/chain"
	"bookchain/metadata"
)

type stubCaller struct {
	payloads map[uint64][]byte
	kinds    map[uint64]Kind
	owners   map[uint64]common.Address
	calls    map[string]int
	fail     error
}

func newStubCaller() *stubCaller {
	return &stubCaller{
		payloads: make(map[uint64][]byte),
		kinds:    make(map[uint64]Kind),
		owners:   make(map[uint64]common.Address),
		calls:    make(map[string]int),
	}
}

func (s *stubCaller) add(id uint64, kind Kind, data []byte) {
	s.payloads[id] = data
	s.kinds[id] = kind
	s.owners[id] = owner
}

func (s *stubCaller) Call(_ context.Context, method string, args ...any) ([]any, error) {
	s.calls[method]++
	if s.fail != nil {
		return nil, s.fail
	}
	switch method {
	case chain.MethodGetAllBookIDs:
		ids := make([]*big.Int, 0, len(s.payloads))
		for id := uint64(1); id <= uint64(len(s.payloads)); id++ {
			ids = append(ids, new(big.Int).SetUint64(id))
		}
		return []any{ids}, nil
	case chain.MethodGetBookDetails:
		id := args[0].(*big.Int).Uint64()
		return []any{common.Address{}, uint8(s.kinds[id]), s.payloads[id]}, nil
	case chain.MethodOwnerOf:
		return []any{s.owners[args[0].(*big.Int).Uint64()]}, nil
	case chain.MethodGetRating:
		return []any{big.NewInt(1000), big.NewInt(3)}, nil
	}
	return nil, errors.New("unexpected method " + method)
}

func TestRepositoryListSkipsUndecodable(t *testing.T) {
	caller := newStubCaller()
	good, err := EncodePayload(Payload{Base: BaseTuple{MetadataURI: "a"}, Terms: &SaleTerms{Price: big.NewInt(5), ForSale: true}})
	require.NoError(t, err)
	caller.add(1, KindSellable, good)
	caller.add(2, KindRentable, good)
	caller.add(3, Kind(7), good)

	repo := NewRepository(caller, newTestDecoder(t, metadata.NewMemoryStore()), quietLogger())
	records, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint64(1), records[0].Base().ID)
}

func TestRepositoryListPropagatesCallFailure(t *testing.T) {
	caller := newStubCaller()
	caller.fail = chain.ConnectionError("node down", nil)
	repo := NewRepository(caller, newTestDecoder(t, nil), quietLogger())
	_, err := repo.List(context.Background())
	require.ErrorIs(t, err, chain.ErrConnection)
}

func TestRepositoryCacheMemoisesLookups(t *testing.T) {
	caller := newStubCaller()
	data, err := EncodePayload(Payload{Base: BaseTuple{MetadataURI: "a"}, Terms: &RentalTerms{Deposit: big.NewInt(1), LendingPeriodDays: big.NewInt(3)}})
	require.NoError(t, err)
	caller.add(1, KindRentable, data)

	repo := NewRepository(caller, newTestDecoder(t, nil), quietLogger()).WithCache()
	for i := 0; i < 3; i++ {
		title, err := repo.Title(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, FallbackTitle, title)
	}
	require.Equal(t, 1, caller.calls[chain.MethodGetBookDetails])
	require.Equal(t, 1, caller.calls[chain.MethodOwnerOf])
}

func TestRepositoryRatingAndPayload(t *testing.T) {
	caller := newStubCaller()
	data, err := EncodePayload(Payload{Base: BaseTuple{MetadataURI: "a"}, Terms: &SaleTerms{Price: big.NewInt(42)}})
	require.NoError(t, err)
	caller.add(1, KindSellable, data)
	repo := NewRepository(caller, newTestDecoder(t, nil), quietLogger())

	rating, err := repo.Rating(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, Rating{Average: 3.3, Sum: 1000, Count: 3}, rating)

	payload, err := repo.Payload(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, KindSellable, payload.Kind())
	require.Equal(t, int64(42), payload.Terms.(*SaleTerms).Price.Int64())
}

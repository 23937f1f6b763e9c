package book

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bookchain/chain"
)

func wei(t *testing.T, amount string) *big.Int {
	t.Helper()
	v, err := chain.ParseNative(amount)
	require.NoError(t, err)
	return v
}

func TestPayloadRoundTrip(t *testing.T) {
	borrower := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	cases := []Payload{
		{
			Base: BaseTuple{MetadataURI: "ipfs://QmRent", RatingSum: big.NewInt(900), RatingCount: big.NewInt(2)},
			Terms: &RentalTerms{
				Deposit:           wei(t, "0.05"),
				LendingPeriodDays: big.NewInt(14),
				Borrower:          borrower,
				BorrowStart:       big.NewInt(1_700_000_000),
			},
		},
		{
			Base:  BaseTuple{MetadataURI: "QmSale", RatingSum: big.NewInt(0), RatingCount: big.NewInt(0)},
			Terms: &SaleTerms{Price: wei(t, "1.25"), ForSale: true},
		},
	}
	for _, want := range cases {
		data, err := EncodePayload(want)
		require.NoError(t, err)

		got, err := DecodePayload(want.Kind(), data)
		require.NoError(t, err)
		require.Equal(t, want.Kind(), got.Kind())
		require.Equal(t, want.Base.MetadataURI, got.Base.MetadataURI)
		require.Zero(t, want.Base.RatingSum.Cmp(got.Base.RatingSum))
		require.Zero(t, want.Base.RatingCount.Cmp(got.Base.RatingCount))

		switch terms := want.Terms.(type) {
		case *RentalTerms:
			decoded := got.Terms.(*RentalTerms)
			require.Zero(t, terms.Deposit.Cmp(decoded.Deposit))
			require.Zero(t, terms.LendingPeriodDays.Cmp(decoded.LendingPeriodDays))
			require.Equal(t, terms.Borrower, decoded.Borrower)
			require.Zero(t, terms.BorrowStart.Cmp(decoded.BorrowStart))
		case *SaleTerms:
			decoded := got.Terms.(*SaleTerms)
			require.Zero(t, terms.Price.Cmp(decoded.Price))
			require.Equal(t, terms.ForSale, decoded.ForSale)
		}
	}
}

func TestDecodePayloadRejectsWrongShape(t *testing.T) {
	sale, err := EncodePayload(Payload{
		Base:  BaseTuple{MetadataURI: "QmSale"},
		Terms: &SaleTerms{Price: big.NewInt(10), ForSale: true},
	})
	require.NoError(t, err)
	_, err = DecodePayload(KindRentable, sale)
	require.ErrorIs(t, err, chain.ErrDataConversion)

	rental, err := EncodePayload(Payload{
		Base:  BaseTuple{MetadataURI: "QmRent"},
		Terms: &RentalTerms{Deposit: big.NewInt(1), LendingPeriodDays: big.NewInt(7)},
	})
	require.NoError(t, err)
	_, err = DecodePayload(KindSellable, rental)
	require.ErrorIs(t, err, chain.ErrDataConversion)

	_, err = DecodePayload(KindSellable, []byte{0x01, 0x02})
	require.ErrorIs(t, err, chain.ErrDataConversion)
}

func TestDecodePayloadUnknownDiscriminant(t *testing.T) {
	_, err := DecodePayload(Kind(9), nil)
	require.ErrorIs(t, err, chain.ErrDataConversion)

	_, err = EncodePayload(Payload{Base: BaseTuple{MetadataURI: "x"}})
	require.ErrorIs(t, err, chain.ErrDataConversion)
}

func TestAverageRating(t *testing.T) {
	cases := []struct {
		sum, count int64
		want       float64
	}{
		{0, 0, 0},
		{500, 0, 0},
		{450, 1, 4.5},
		{900, 2, 4.5},
		{1000, 3, 3.3},
		{1100, 2, 5},
		{-10, 1, 0},
	}
	for _, tc := range cases {
		got := AverageRating(big.NewInt(tc.sum), big.NewInt(tc.count))
		require.Equal(t, tc.want, got, "sum=%d count=%d", tc.sum, tc.count)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, float64(MaxRating))
	}
	require.Zero(t, AverageRating(nil, big.NewInt(1)))
}

func TestScaleRating(t *testing.T) {
	scaled, ok := ScaleRating(4.5)
	require.True(t, ok)
	require.Equal(t, int64(450), scaled.Int64())

	_, ok = ScaleRating(5.5)
	require.False(t, ok)
	_, ok = ScaleRating(-1)
	require.False(t, ok)
}

func TestParseGenre(t *testing.T) {
	require.Equal(t, GenreScienceFiction, ParseGenre("science fiction"))
	require.Equal(t, GenreNonFiction, ParseGenre("Non-Fiction"))
	require.Equal(t, GenreOther, ParseGenre("cookbooks"))
	require.Equal(t, GenreFiction, ParseGenre("\uff26\uff49\uff43\uff54\uff49\uff4f\uff4e"))
	require.Equal(t, GenreScienceFiction, ParseGenre("Science\u3000Fiction"))
	require.Len(t, Genres(), 12)
}

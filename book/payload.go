package book

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"bookchain/chain"
)

// BaseTuple is the prefix shared by both payload shapes.
type BaseTuple struct {
	MetadataURI string
	RatingSum   *big.Int
	RatingCount *big.Int
}

// Terms is the variant-specific tail of a payload: *RentalTerms or *SaleTerms.
type Terms interface {
	Kind() Kind
	values() []any
}

// RentalTerms are the lending conditions of a rentable book, in base units.
type RentalTerms struct {
	Deposit           *big.Int
	LendingPeriodDays *big.Int
	Borrower          common.Address
	BorrowStart       *big.Int
}

// SaleTerms are the listing conditions of a sellable book, in base units.
type SaleTerms struct {
	Price   *big.Int
	ForSale bool
}

func (*RentalTerms) Kind() Kind { return KindRentable }
func (*SaleTerms) Kind() Kind   { return KindSellable }

func (t *RentalTerms) values() []any {
	return []any{orZero(t.Deposit), orZero(t.LendingPeriodDays), t.Borrower, orZero(t.BorrowStart)}
}

func (t *SaleTerms) values() []any {
	return []any{orZero(t.Price), t.ForSale}
}

// Payload is a decoded book payload.
type Payload struct {
	Base  BaseTuple
	Terms Terms
}

// Kind returns the discriminant of the payload's terms.
func (p Payload) Kind() Kind {
	return p.Terms.Kind()
}

var (
	baseArguments   = mustArguments("string", "uint256", "uint256")
	rentalArguments = append(append(abi.Arguments{}, baseArguments...), mustArguments("uint256", "uint256", "address", "uint256")...)
	saleArguments   = append(append(abi.Arguments{}, baseArguments...), mustArguments("uint256", "bool")...)
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(fmt.Sprintf("book: abi type %s: %v", name, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

func shapeFor(kind Kind) (abi.Arguments, error) {
	switch kind {
	case KindRentable:
		return rentalArguments, nil
	case KindSellable:
		return saleArguments, nil
	default:
		return nil, chain.DataConversionError(fmt.Sprintf("unknown book type %d", kind), nil)
	}
}

// EncodePayload produces the binary payload the contract stores for p.
func EncodePayload(p Payload) ([]byte, error) {
	if p.Terms == nil {
		return nil, chain.DataConversionError("payload terms missing", nil)
	}
	args, err := shapeFor(p.Terms.Kind())
	if err != nil {
		return nil, err
	}
	values := append([]any{p.Base.MetadataURI, orZero(p.Base.RatingSum), orZero(p.Base.RatingCount)}, p.Terms.values()...)
	data, err := args.Pack(values...)
	if err != nil {
		return nil, chain.DataConversionError("encode payload", err)
	}
	return data, nil
}

// DecodePayload decodes data with exactly the shape kind selects. Data that
// does not re-encode to the same bytes is rejected rather than coerced.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	args, err := shapeFor(kind)
	if err != nil {
		return Payload{}, err
	}
	values, err := args.Unpack(data)
	if err != nil {
		return Payload{}, chain.DataConversionError(fmt.Sprintf("decode %s payload", kind), err)
	}
	repacked, err := args.Pack(values...)
	if err != nil || !bytes.Equal(repacked, data) {
		return Payload{}, chain.DataConversionError(fmt.Sprintf("payload does not match the %s shape", kind), err)
	}

	base := BaseTuple{
		MetadataURI: values[0].(string),
		RatingSum:   values[1].(*big.Int),
		RatingCount: values[2].(*big.Int),
	}
	switch kind {
	case KindRentable:
		return Payload{Base: base, Terms: &RentalTerms{
			Deposit:           values[3].(*big.Int),
			LendingPeriodDays: values[4].(*big.Int),
			Borrower:          values[5].(common.Address),
			BorrowStart:       values[6].(*big.Int),
		}}, nil
	default:
		return Payload{Base: base, Terms: &SaleTerms{
			Price:   values[3].(*big.Int),
			ForSale: values[4].(bool),
		}}, nil
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

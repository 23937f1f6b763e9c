package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func output[T any](out []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(out) {
		return zero, DataConversionError(fmt.Sprintf("missing output %d of %d", i, len(out)), nil)
	}
	v, ok := out[i].(T)
	if !ok {
		return zero, DataConversionError(fmt.Sprintf("output %d is %T, want %T", i, out[i], zero), nil)
	}
	return v, nil
}

// OutBig reads a uint256 output.
func OutBig(out []any, i int) (*big.Int, error) { return output[*big.Int](out, i) }

// OutUint64 reads a uint256 output that must fit in 64 bits.
func OutUint64(out []any, i int) (uint64, error) {
	v, err := OutBig(out, i)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, DataConversionError(fmt.Sprintf("output %d value %s exceeds uint64", i, v), nil)
	}
	return v.Uint64(), nil
}

// OutUint8 reads a uint8 output.
func OutUint8(out []any, i int) (uint8, error) { return output[uint8](out, i) }

// OutBool reads a bool output.
func OutBool(out []any, i int) (bool, error) { return output[bool](out, i) }

// OutAddress reads an address output.
func OutAddress(out []any, i int) (common.Address, error) { return output[common.Address](out, i) }

// OutBytes reads a dynamic bytes output.
func OutBytes(out []any, i int) ([]byte, error) { return output[[]byte](out, i) }

// OutUint64Slice reads a uint256[] output whose values fit in 64 bits.
func OutUint64Slice(out []any, i int) ([]uint64, error) {
	values, err := output[[]*big.Int](out, i)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(values))
	for _, v := range values {
		if v == nil || !v.IsUint64() {
			return nil, DataConversionError(fmt.Sprintf("output %d holds an out of range id", i), nil)
		}
		ids = append(ids, v.Uint64())
	}
	return ids, nil
}

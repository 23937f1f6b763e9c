package book

import (
	"math"
	"math/big"
)

// RatingScale is the factor ratings are multiplied by on-chain.
const RatingScale = 100

// MaxRating is the highest rating a reader can give.
const MaxRating = 5

// AverageRating converts an on-chain (sum, count) pair into the average shown
// to readers, rounded to one decimal and clamped to [0, MaxRating].
func AverageRating(sum, count *big.Int) float64 {
	if sum == nil || count == nil || count.Sign() <= 0 || sum.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Rat).SetFrac(sum, new(big.Int).Mul(count, big.NewInt(RatingScale)))
	avg, _ := ratio.Float64()
	avg = math.Round(avg*10) / 10
	return math.Min(math.Max(avg, 0), MaxRating)
}

// ScaleRating converts a reader rating into the integer the contract stores.
func ScaleRating(rating float64) (*big.Int, bool) {
	if math.IsNaN(rating) || rating < 0 || rating > MaxRating {
		return nil, false
	}
	return big.NewInt(int64(math.Round(rating * RatingScale))), true
}

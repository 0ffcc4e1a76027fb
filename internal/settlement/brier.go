package settlement

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/Crime1000x/moltnba/internal/domain"
)

var one = decimal.NewFromInt(1)

// Brier returns (p - actual)^2 where actual is 1 when the chosen outcome won
// and 0 otherwise. The arithmetic is decimal so 0.7 scores exactly 0.09.
func Brier(p float64, correct bool) (float64, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("settlement: brier p=%v: %w", p, domain.ErrInvalidProbability)
	}
	actual := decimal.Zero
	if correct {
		actual = one
	}
	d := decimal.NewFromFloat(p).Sub(actual)
	b, _ := d.Mul(d).Float64()
	return b, nil
}

// Package fifo computes cost of goods sold by consuming the oldest stock
// batches first. It is a pure computation over batch snapshots: callers read
// batches from the store, allocate here, then persist the reported
// deductions.
package fifo

import (
	"errors"

	"github.com/shopspring/decimal"

	"stokkita/backend/internal/domain"
)

// ErrInvalidQuantity is returned when the requested quantity is not positive.
var ErrInvalidQuantity = errors.New("fifo: requested quantity must be positive")

// Deduction reports how one batch was consumed by an allocation.
type Deduction struct {
	BatchID      string
	UnitsTaken   int
	NewRemaining int
}

// Allocation is the result of a successful FIFO allocation for one sale line.
type Allocation struct {
	// LineCOGS is the total cost of goods sold for the requested quantity,
	// accumulated without intermediate rounding.
	LineCOGS decimal.Decimal
	// Deductions lists every batch that was drawn from, oldest first.
	// Untouched batches are not reported.
	Deductions []Deduction
}

// Allocate draws requested units from batches in the order given, which the
// caller must have sorted oldest received_at first. Batches with no remaining
// quantity are skipped. The input slice and its elements are never mutated.
//
// If the batches cannot cover the request, a *domain.InsufficientStockError
// is returned (with the shortfall visible via Requested/Available) and no
// partial allocation is reported.
func Allocate(batches []domain.StockBatch, requested int) (Allocation, error) {
	if requested <= 0 {
		return Allocation{}, ErrInvalidQuantity
	}

	needed := requested
	cost := decimal.Zero
	deductions := make([]Deduction, 0, 2)

	for _, batch := range batches {
		if needed == 0 {
			break
		}
		if batch.Remaining <= 0 {
			continue
		}

		take := batch.Remaining
		if take > needed {
			take = needed
		}

		cost = cost.Add(batch.UnitCost.Mul(decimal.NewFromInt(int64(take))))
		deductions = append(deductions, Deduction{
			BatchID:      batch.ID,
			UnitsTaken:   take,
			NewRemaining: batch.Remaining - take,
		})
		needed -= take
	}

	if needed > 0 {
		return Allocation{}, &domain.InsufficientStockError{
			Requested: requested,
			Available: requested - needed,
		}
	}

	return Allocation{LineCOGS: cost, Deductions: deductions}, nil
}

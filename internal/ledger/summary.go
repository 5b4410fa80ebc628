package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Summary is derived from a session's full movement set and never stored.
type Summary struct {
	In         decimal.Decimal `json:"in"`
	Out        decimal.Decimal `json:"out"`
	Sale       decimal.Decimal `json:"sale"`
	Return     decimal.Decimal `json:"return"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Balance    decimal.Decimal `json:"balance"`
	Count      int             `json:"count"`
}

// CalculateMovementSummary folds movements into per-type totals and a net balance.
// The fold only sums, so input order does not matter.
// Invariant: Balance == In - Out + Sale - Return + Adjustment.
func CalculateMovementSummary(movements []Movement) Summary {
	s := Summary{
		In:         decimal.Zero,
		Out:        decimal.Zero,
		Sale:       decimal.Zero,
		Return:     decimal.Zero,
		Adjustment: decimal.Zero,
		Balance:    decimal.Zero,
	}
	for _, m := range movements {
		switch m.Type {
		case MovementIn:
			s.In = s.In.Add(m.Amount.Abs())
		case MovementOut:
			s.Out = s.Out.Add(m.Amount.Abs())
		case MovementSale:
			s.Sale = s.Sale.Add(m.Amount.Abs())
		case MovementReturn:
			s.Return = s.Return.Add(m.Amount.Abs())
		case MovementAdjustment:
			s.Adjustment = s.Adjustment.Add(m.Amount)
		default:
			continue
		}
		s.Balance = s.Balance.Add(m.Type.Contribution(m.Amount))
		s.Count++
	}
	return s
}

// CurrentBalance is the cash that should be in the drawer right now.
func CurrentBalance(openingAmount decimal.Decimal, s Summary) decimal.Decimal {
	return openingAmount.Add(s.Balance)
}

// DayBucket groups one calendar day of movements.
type DayBucket struct {
	Day     time.Time `json:"day"`
	Summary Summary   `json:"summary"`
}

// DailyTotals buckets movements by the calendar day of CreatedAt in loc,
// oldest day first.
func DailyTotals(movements []Movement, loc *time.Location) []DayBucket {
	if loc == nil {
		loc = time.UTC
	}
	byDay := make(map[time.Time][]Movement)
	for _, m := range movements {
		t := m.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		byDay[day] = append(byDay[day], m)
	}
	buckets := make([]DayBucket, 0, len(byDay))
	for day, ms := range byDay {
		buckets = append(buckets, DayBucket{Day: day, Summary: CalculateMovementSummary(ms)})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Day.Before(buckets[j].Day) })
	return buckets
}

package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func fixture() []Movement {
	base := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	return []Movement{
		{ID: uuid.New(), Type: MovementIn, Amount: d("100"), Reason: strp("Fondo de cambio"), CreatedAt: base, CreatedBy: strp("ana")},
		{ID: uuid.New(), Type: MovementSale, Amount: d("250"), Reason: strp("Venta #12"), CreatedAt: base.Add(2 * time.Hour), CreatedBy: strp("luis")},
		{ID: uuid.New(), Type: MovementOut, Amount: d("40"), Reason: strp("Pago de TAXI"), CreatedAt: base.Add(26 * time.Hour), CreatedBy: strp("ana")},
		{ID: uuid.New(), Type: MovementAdjustment, Amount: d("-15"), CreatedAt: base.Add(27 * time.Hour)},
		{ID: uuid.New(), Type: MovementReturn, Amount: d("30"), Reason: strp("Devolución venta #12"), CreatedAt: base.Add(50 * time.Hour), CreatedBy: strp("luis")},
	}
}

func TestApplyFilter_ZeroValueMatchesAll(t *testing.T) {
	ms := fixture()
	assert.Equal(t, ms, ApplyFilter(ms, Filter{}))
}

func TestApplyFilter_Type(t *testing.T) {
	out := ApplyFilter(fixture(), Filter{Type: MovementOut})
	require.Len(t, out, 1)
	assert.Equal(t, "40", out[0].Amount.String())
}

func TestApplyFilter_SearchIsCaseInsensitive(t *testing.T) {
	out := ApplyFilter(fixture(), Filter{Search: "taxi"})
	require.Len(t, out, 1)
	assert.Equal(t, MovementOut, out[0].Type)

	// the adjustment has no reason and never matches a non-empty search
	out = ApplyFilter(fixture(), Filter{Search: "venta"})
	assert.Len(t, out, 2)
	for _, m := range out {
		assert.NotNil(t, m.Reason)
	}
}

func TestApplyFilter_DateOnlyUpperBoundCoversWholeDay(t *testing.T) {
	day := time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC)

	inclusive := ApplyFilter(fixture(), Filter{To: &day, ToDateOnly: true})
	assert.Len(t, inclusive, 4, "movements at 10:00 and 11:00 on the 11th are inside")

	exact := ApplyFilter(fixture(), Filter{To: &day})
	assert.Len(t, exact, 2)

	from := time.Date(2026, 5, 11, 10, 0, 0, 0, time.UTC)
	bounded := ApplyFilter(fixture(), Filter{From: &from, To: &day, ToDateOnly: true})
	assert.Len(t, bounded, 2)
}

func TestApplyFilter_AmountRangeUsesRawAmount(t *testing.T) {
	lo := decimal.NewFromInt(-20)
	hi := decimal.NewFromInt(0)
	out := ApplyFilter(fixture(), Filter{AmountMin: &lo, AmountMax: &hi})
	require.Len(t, out, 1)
	assert.Equal(t, MovementAdjustment, out[0].Type)

	lo = decimal.NewFromInt(30)
	hi = decimal.NewFromInt(100)
	out = ApplyFilter(fixture(), Filter{AmountMin: &lo, AmountMax: &hi})
	assert.Len(t, out, 3)
}

func TestApplyFilter_CreatedByMe(t *testing.T) {
	out := ApplyFilter(fixture(), Filter{CreatedByMe: true, CurrentUser: "ana"})
	assert.Len(t, out, 2)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	p := Paginate(items, 1, 3)
	assert.Equal(t, []int{1, 2, 3}, p.Items)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNext)
	assert.False(t, p.HasPrev)

	p = Paginate(items, 3, 3)
	assert.Equal(t, []int{7}, p.Items)
	assert.False(t, p.HasNext)

	p = Paginate(items, 9, 3)
	assert.Empty(t, p.Items)

	p = Paginate(items, 0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
}

func TestPaginate_PagesReconstructFilteredSet(t *testing.T) {
	ms := fixture()
	filtered := ApplyFilter(ms, Filter{Search: "a"})

	for size := 1; size <= len(filtered)+1; size++ {
		var rebuilt []Movement
		for page := 1; ; page++ {
			p := Paginate(filtered, page, size)
			assert.LessOrEqual(t, len(p.Items), len(filtered))
			if len(p.Items) == 0 {
				break
			}
			rebuilt = append(rebuilt, p.Items...)
		}
		assert.Equal(t, filtered, rebuilt, "page size %d", size)
	}
}

func TestFilterState_ChangesResetPage(t *testing.T) {
	s := NewFilterState(2).WithPage(3)
	assert.Equal(t, 3, s.Page)

	assert.Equal(t, 1, s.WithType(MovementSale).Page)
	assert.Equal(t, 1, s.WithSearch("x").Page)
	assert.Equal(t, 1, s.WithDateRange(nil, nil, false).Page)
	assert.Equal(t, 1, s.WithAmountRange(nil, nil).Page)
	assert.Equal(t, 1, s.WithCreatedByMe(true, "ana").Page)

	page := NewFilterState(2).WithType(MovementSale).Apply(fixture())
	assert.Equal(t, 1, page.Total)
}

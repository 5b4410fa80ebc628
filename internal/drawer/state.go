package drawer

import (
	"cashdrawer/internal/ledger"

	"github.com/shopspring/decimal"
)

// Kind identifies one of the three mutations.
type Kind int

const (
	KindOpen Kind = iota
	KindClose
	KindMovement
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindMovement:
		return "movement"
	}
	return "unknown"
}

// Loading holds one advisory in-flight flag per mutation kind.
type Loading struct {
	Open     bool
	Close    bool
	Movement bool
}

func (l Loading) Busy(k Kind) bool {
	switch k {
	case KindOpen:
		return l.Open
	case KindClose:
		return l.Close
	case KindMovement:
		return l.Movement
	}
	return false
}

func (l Loading) with(k Kind, on bool) Loading {
	switch k {
	case KindOpen:
		l.Open = on
	case KindClose:
		l.Close = on
	case KindMovement:
		l.Movement = on
	}
	return l
}

// State is an immutable snapshot. Summary always derives from Movements.
type State struct {
	// Session is nil when no session is open.
	Session   *ledger.Session
	Movements []ledger.Movement
	Summary   ledger.Summary
	Loading   Loading
	Filter    ledger.FilterState
	// Loaded is false until the first successful pull.
	Loaded bool
	// Stale is set when the re-pull after a write failed. Session and
	// Movements then predate that write until the next successful pull.
	Stale bool

	// loadSeq is the newest load applied; older results are dropped.
	loadSeq uint64
}

// Balance is opening + ledger. It is unavailable, not zero, without a
// session or while the snapshot is stale.
func (s State) Balance() (decimal.Decimal, bool) {
	if s.Session == nil || s.Stale {
		return decimal.Zero, false
	}
	return ledger.CurrentBalance(s.Session.OpeningAmount, s.Summary), true
}

// Visible is the current page of the filtered ledger.
func (s State) Visible() ledger.Page[ledger.Movement] {
	return s.Filter.Apply(s.Movements)
}

type actionType int

const (
	actBegin actionType = iota
	actEnd
	actLoaded
	actLoadFailed
	actFilter
)

type action struct {
	typ       actionType
	kind      Kind
	seq       uint64
	session   *ledger.Session
	movements []ledger.Movement
	filter    ledger.FilterState
}

func begin(k Kind) action { return action{typ: actBegin, kind: k} }
func end(k Kind) action   { return action{typ: actEnd, kind: k} }

func loaded(seq uint64, s *ledger.Session, ms []ledger.Movement) action {
	return action{typ: actLoaded, seq: seq, session: s, movements: ms}
}

// loadFailed marks the snapshot stale.
func loadFailed(seq uint64) action { return action{typ: actLoadFailed, seq: seq} }

func filtered(f ledger.FilterState) action { return action{typ: actFilter, filter: f} }

// reduce is the only way State changes.
func reduce(s State, a action) State {
	switch a.typ {
	case actBegin:
		s.Loading = s.Loading.with(a.kind, true)
	case actEnd:
		s.Loading = s.Loading.with(a.kind, false)
	case actLoaded:
		if a.seq < s.loadSeq {
			return s
		}
		s.loadSeq = a.seq
		s.Stale = false
		if a.session == nil {
			s.Movements = nil
		} else {
			s.Movements = a.movements
		}
		if !sameSession(s.Session, a.session) {
			s.Filter = s.Filter.WithPage(1)
		}
		s.Session = a.session
		s.Summary = ledger.CalculateMovementSummary(s.Movements)
		s.Loaded = true
	case actLoadFailed:
		if a.seq < s.loadSeq {
			return s
		}
		s.loadSeq = a.seq
		s.Stale = true
	case actFilter:
		s.Filter = a.filter
	}
	return s
}

func sameSession(a, b *ledger.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

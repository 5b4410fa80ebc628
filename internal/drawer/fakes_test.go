package drawer

import (
	"context"
	"sync"
	"time"

	"cashdrawer/internal/events"
	"cashdrawer/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Store ────────────────────────────────────────────────────────────────────

type fakeStore struct {
	mu        sync.Mutex
	session   *ledger.Session
	movements []ledger.Movement

	fetchSessionCalls   int
	fetchMovementsCalls int
	writes              int
	created             []NewMovement

	// writeErr fails the next write.
	writeErr error
	// gate, when set, blocks writes until closed.
	gate chan struct{}
	// fetchErr fails every movement pull while set.
	fetchErr error
	// fetchGate parks the next movement pull after it has read the store;
	// fetchParked is closed once it is parked.
	fetchGate   chan struct{}
	fetchParked chan struct{}
}

var _ Store = (*fakeStore)(nil)

func (s *fakeStore) FetchOpenSession(context.Context) (*ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchSessionCalls++
	if s.session == nil {
		return nil, nil
	}
	cp := *s.session
	return &cp, nil
}

func (s *fakeStore) FetchMovements(_ context.Context, id uuid.UUID, _ MovementQuery) ([]ledger.Movement, error) {
	s.mu.Lock()
	s.fetchMovementsCalls++
	if s.fetchErr != nil {
		err := s.fetchErr
		s.mu.Unlock()
		return nil, err
	}
	var out []ledger.Movement
	for _, m := range s.movements {
		if m.SessionID == id {
			out = append(out, m)
		}
	}
	gate, parked := s.fetchGate, s.fetchParked
	s.fetchGate, s.fetchParked = nil, nil
	s.mu.Unlock()

	if gate != nil {
		close(parked)
		<-gate
	}
	return out, nil
}

// parkNextFetch arranges for the next movement pull to block until release
// is called. The returned channel closes once the pull is parked.
func (s *fakeStore) parkNextFetch() (parked <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate, p := make(chan struct{}), make(chan struct{})
	s.fetchGate, s.fetchParked = gate, p
	return p, func() { close(gate) }
}

func (s *fakeStore) failFetches(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

func (s *fakeStore) beginWrite() error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.writes++
	err := s.writeErr
	s.writeErr = nil
	s.mu.Unlock()
	return err
}

func (s *fakeStore) CreateSession(_ context.Context, amount decimal.Decimal) (*ledger.Session, error) {
	if err := s.beginWrite(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &ledger.Session{ID: uuid.New(), Status: ledger.SessionOpen, OpeningAmount: amount, OpenedAt: time.Now()}
	cp := *s.session
	return &cp, nil
}

func (s *fakeStore) CloseSession(_ context.Context, id uuid.UUID, closing decimal.Decimal, notes *string) (*ledger.Session, error) {
	if err := s.beginWrite(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.ID != id {
		return nil, ledger.ErrSessionNotOpen
	}
	closed := *s.session
	closed.Status = ledger.SessionClosed
	closed.ClosingAmount = &closing
	closed.Notes = notes
	s.session = nil
	return &closed, nil
}

func (s *fakeStore) CreateMovement(_ context.Context, m NewMovement) (*ledger.Movement, error) {
	if err := s.beginWrite(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, m)
	mov := ledger.Movement{
		ID:        uuid.New(),
		SessionID: m.SessionID,
		Type:      m.Type,
		Amount:    m.Amount,
		Reason:    m.Reason,
		CreatedAt: time.Now(),
	}
	s.movements = append(s.movements, mov)
	return &mov, nil
}

// seed puts an open session with the given movements straight into the store.
func (s *fakeStore) seed(opening string, ms ...ledger.Movement) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.session = &ledger.Session{ID: id, Status: ledger.SessionOpen, OpeningAmount: decimal.RequireFromString(opening)}
	for _, m := range ms {
		m.ID = uuid.New()
		m.SessionID = id
		s.movements = append(s.movements, m)
	}
	return id
}

func (s *fakeStore) counts() (sessions, movements, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchSessionCalls, s.fetchMovementsCalls, s.writes
}

// ── Confirmer / Notifier ─────────────────────────────────────────────────────

type fakeConfirmer struct {
	mu      sync.Mutex
	answer  bool
	err     error
	prompts []Prompt
}

func (c *fakeConfirmer) Confirm(_ context.Context, p Prompt) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, p)
	return c.answer, c.err
}

type note struct {
	msg string
	sev Severity
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *fakeNotifier) Notify(msg string, sev Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{msg, sev})
}

func (n *fakeNotifier) last() note {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notes) == 0 {
		return note{}
	}
	return n.notes[len(n.notes)-1]
}

// ── ChangeFeed ───────────────────────────────────────────────────────────────

type fakeSub struct {
	feed   *fakeFeed
	id     uuid.UUID
	closed bool
}

func (s *fakeSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
	fns  []func(events.Event)
}

func (f *fakeFeed) Subscribe(_ context.Context, id uuid.UUID, fn func(events.Event)) (events.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub{feed: f, id: id}
	f.subs = append(f.subs, sub)
	f.fns = append(f.fns, fn)
	return sub, nil
}

// emit delivers an event to every subscription for id, open or not: a closed
// feed may still deliver one in-flight message.
func (f *fakeFeed) emit(id uuid.UUID) {
	f.mu.Lock()
	var fns []func(events.Event)
	for i, s := range f.subs {
		if s.id == id {
			fns = append(fns, f.fns[i])
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(events.Event{Kind: events.KindMovementInserted, SessionID: id, At: time.Now()})
	}
}

func (f *fakeFeed) open() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, s := range f.subs {
		if !s.closed {
			ids = append(ids, s.id)
		}
	}
	return ids
}

type countingRefresher struct {
	mu sync.Mutex
	n  int
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

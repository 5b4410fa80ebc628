package drawer

import (
	"context"
	"fmt"
	"sync"

	"cashdrawer/internal/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const keySession = "session"

func movementsKey(id uuid.UUID) string { return "movements:" + id.String() }

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeRejected: a local validation or precondition failed; nothing was sent.
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeCancelled: the operator declined the confirmation.
	OutcomeCancelled OutcomeStatus = "cancelled"
	// OutcomeBusy: the same kind of mutation is already in flight.
	OutcomeBusy   OutcomeStatus = "busy"
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is what every mutation entry point returns. No error escapes one.
type Outcome struct {
	Status  OutcomeStatus
	Message string
	Err     error
	// Assessment is set by CloseSession once the close was assessed.
	Assessment *ledger.CloseAssessment
}

func (o Outcome) OK() bool { return o.Status == OutcomeSuccess }

type OpenInput struct {
	OpeningAmount decimal.Decimal
}

type CloseInput struct {
	ClosingAmount decimal.Decimal
	Notes         *string
}

type MovementInput struct {
	Type          ledger.MovementType
	Amount        decimal.Decimal
	Direction     ledger.Direction
	Reason        *string
	ReferenceType *string
	ReferenceID   *string
}

type Options struct {
	Limits ledger.Limits
	// CurrentUser backs the "created by me" filter.
	CurrentUser string
	PageSize    int
}

// Drawer owns the client snapshot and the three mutation entry points.
type Drawer struct {
	store   Store
	confirm Confirmer
	notify  Notifier
	opts    Options

	sessions  *Cache[*ledger.Session]
	movements *Cache[[]ledger.Movement]

	mu        sync.Mutex
	state     State
	listeners []func(State)
	// loads numbers every pull in start order.
	loads uint64
}

func New(store Store, confirm Confirmer, notify Notifier, opts Options) *Drawer {
	if opts.Limits == (ledger.Limits{}) {
		opts.Limits = ledger.DefaultLimits()
	}
	return &Drawer{
		store:     store,
		confirm:   confirm,
		notify:    notify,
		opts:      opts,
		sessions:  NewCache[*ledger.Session](),
		movements: NewCache[[]ledger.Movement](),
		state:     State{Filter: ledger.NewFilterState(opts.PageSize)},
	}
}

// State returns the current snapshot.
func (d *Drawer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// OnChange registers fn to receive every new snapshot, in order.
func (d *Drawer) OnChange(fn func(State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Drawer) dispatch(a action) State {
	d.mu.Lock()
	d.state = reduce(d.state, a)
	s := d.state
	listeners := append([]func(State){}, d.listeners...)
	d.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
	return s
}

// tryBegin sets the flag for k unless it is already held. Check and set
// happen under one lock.
func (d *Drawer) tryBegin(k Kind) bool {
	d.mu.Lock()
	if d.state.Loading.Busy(k) {
		d.mu.Unlock()
		return false
	}
	d.state = reduce(d.state, begin(k))
	s := d.state
	listeners := append([]func(State){}, d.listeners...)
	d.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
	return true
}

// ── Filter ────────────────────────────────────────────────────────────────────

// SetFilter replaces the filter state. Use the ledger.FilterState With*
// helpers so any criterion change resets the page.
func (d *Drawer) SetFilter(f ledger.FilterState) {
	if f.Filter.CreatedByMe && f.Filter.CurrentUser == "" {
		f.Filter.CurrentUser = d.opts.CurrentUser
	}
	d.dispatch(filtered(f))
}

// ── Refresh ───────────────────────────────────────────────────────────────────

// Refresh invalidates both collections and re-pulls them. The published
// snapshot is computed from a single movement pull.
func (d *Drawer) Refresh(ctx context.Context) error {
	d.sessions.InvalidateAll()
	d.movements.InvalidateAll()
	return d.load(ctx)
}

// Load pulls through the cache without invalidating it.
func (d *Drawer) Load(ctx context.Context) error {
	return d.load(ctx)
}

// load pulls and publishes one snapshot. A pull that finishes after a newer
// one has been applied is discarded by the reducer.
func (d *Drawer) load(ctx context.Context) error {
	_, err := d.pull(ctx)
	return err
}

func (d *Drawer) pull(ctx context.Context) (uint64, error) {
	d.mu.Lock()
	d.loads++
	seq := d.loads
	known := d.state.Session
	d.mu.Unlock()

	var (
		session *ledger.Session
		movs    []ledger.Movement
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := d.sessions.Get(gctx, keySession, d.store.FetchOpenSession)
		session = s
		return err
	})
	if known != nil {
		id := known.ID
		g.Go(func() error {
			m, err := d.fetchMovements(gctx, id)
			movs = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return seq, err
	}

	switch {
	case session == nil:
		movs = nil
	case known == nil || known.ID != session.ID:
		m, err := d.fetchMovements(ctx, session.ID)
		if err != nil {
			return seq, err
		}
		movs = m
	}
	// A cancelled caller, such as a torn-down reconciler, publishes nothing.
	if err := ctx.Err(); err != nil {
		return seq, err
	}
	d.dispatch(loaded(seq, session, movs))
	return seq, nil
}

func (d *Drawer) fetchMovements(ctx context.Context, id uuid.UUID) ([]ledger.Movement, error) {
	return d.movements.Get(ctx, movementsKey(id), func(ctx context.Context) ([]ledger.Movement, error) {
		return d.store.FetchMovements(ctx, id, MovementQuery{})
	})
}

// afterWrite invalidates the written session's entries and re-pulls before
// the caller reports success. When the re-pull fails the snapshot is marked
// stale so no pre-check runs against the pre-write balance.
func (d *Drawer) afterWrite(ctx context.Context, sessionIDs ...uuid.UUID) {
	d.sessions.Invalidate(keySession)
	for _, id := range sessionIDs {
		d.movements.Invalidate(movementsKey(id))
	}
	if seq, err := d.pull(ctx); err != nil {
		log.Warn().Err(err).Msg("drawer: refresh after write failed")
		d.dispatch(loadFailed(seq))
	}
}

// current returns a snapshot that is safe to pre-check against, re-pulling
// first when the last post-write refresh failed.
func (d *Drawer) current(ctx context.Context) (State, error) {
	st := d.State()
	if !st.Stale {
		return st, nil
	}
	if err := d.Refresh(ctx); err != nil {
		return st, fmt.Errorf("%w: %v", ErrStaleSnapshot, err)
	}
	return d.State(), nil
}

// ── Outcomes ──────────────────────────────────────────────────────────────────

func (d *Drawer) rejected(k Kind, err error) Outcome {
	msg := UserMessage(err)
	log.Debug().Err(err).Str("kind", k.String()).Msg("drawer: rejected locally")
	d.notify.Notify(msg, SeverityError)
	return Outcome{Status: OutcomeRejected, Message: msg, Err: err}
}

func (d *Drawer) failed(k Kind, err error) Outcome {
	msg := UserMessage(err)
	log.Warn().Err(err).Str("kind", k.String()).Msg("drawer: store write failed")
	d.notify.Notify(msg, SeverityError)
	return Outcome{Status: OutcomeFailed, Message: msg, Err: err}
}

func busy(k Kind) Outcome {
	return Outcome{Status: OutcomeBusy, Message: fmt.Sprintf("Ya hay una operación de %s en curso.", kindLabel(k))}
}

func kindLabel(k Kind) string {
	switch k {
	case KindOpen:
		return "apertura"
	case KindClose:
		return "cierre"
	}
	return "movimiento"
}

// ask returns a non-nil Outcome when the operator did not confirm.
func (d *Drawer) ask(ctx context.Context, p Prompt) *Outcome {
	if p.ConfirmText == "" {
		p.ConfirmText = "Confirmar"
	}
	if p.CancelText == "" {
		p.CancelText = "Cancelar"
	}
	ok, err := d.confirm.Confirm(ctx, p)
	if err != nil || !ok {
		return &Outcome{Status: OutcomeCancelled, Message: msgCancelled, Err: err}
	}
	return nil
}

func money(v decimal.Decimal) string { return "$" + v.StringFixed(2) }

// ── Open ──────────────────────────────────────────────────────────────────────

func (d *Drawer) OpenSession(ctx context.Context, in OpenInput) Outcome {
	if err := ledger.ValidateOpeningAmount(in.OpeningAmount, d.opts.Limits); err != nil {
		return d.rejected(KindOpen, err)
	}
	st, err := d.current(ctx)
	if err != nil {
		return d.rejected(KindOpen, err)
	}
	if st.Session.IsOpen() {
		return d.rejected(KindOpen, ledger.ErrSessionAlreadyOpen)
	}
	if !d.tryBegin(KindOpen) {
		return busy(KindOpen)
	}
	defer d.dispatch(end(KindOpen))

	if !in.OpeningAmount.IsZero() {
		if o := d.ask(ctx, Prompt{
			Title:       "Abrir caja",
			Description: fmt.Sprintf("Se abrirá la caja con un monto inicial de %s.", money(in.OpeningAmount)),
			ConfirmText: "Abrir",
			Risk:        RiskLow,
		}); o != nil {
			return *o
		}
	}

	s, err := d.store.CreateSession(ctx, in.OpeningAmount)
	if err != nil {
		return d.failed(KindOpen, err)
	}
	d.afterWrite(ctx, s.ID)

	msg := fmt.Sprintf("Caja abierta con %s.", money(in.OpeningAmount))
	d.notify.Notify(msg, SeveritySuccess)
	return Outcome{Status: OutcomeSuccess, Message: msg}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func (d *Drawer) CloseSession(ctx context.Context, in CloseInput) Outcome {
	if err := ledger.ValidateClosingAmount(in.ClosingAmount); err != nil {
		return d.rejected(KindClose, err)
	}
	st, err := d.current(ctx)
	if err != nil {
		return d.rejected(KindClose, err)
	}
	if !st.Session.IsOpen() {
		return d.rejected(KindClose, ledger.ErrNoOpenSession)
	}
	if !d.tryBegin(KindClose) {
		return busy(KindClose)
	}
	defer d.dispatch(end(KindClose))

	a := ledger.AssessClose(st.Session.OpeningAmount, st.Summary, in.ClosingAmount, d.opts.Limits)
	if a.Level == ledger.DiscrepancyHigh {
		if o := d.ask(ctx, Prompt{
			Title: "Diferencia de caja alta",
			Description: fmt.Sprintf("Esperado %s, declarado %s: diferencia de %s (umbral %s). ¿Cerrar la caja de todos modos?",
				money(a.Expected), money(a.Closing), money(a.Discrepancy), money(a.Threshold)),
			ConfirmText: "Cerrar igualmente",
			CancelText:  "Revisar",
			Risk:        RiskHigh,
		}); o != nil {
			o.Assessment = &a
			return *o
		}
	}

	if _, err := d.store.CloseSession(ctx, st.Session.ID, in.ClosingAmount, in.Notes); err != nil {
		out := d.failed(KindClose, err)
		out.Assessment = &a
		return out
	}
	d.afterWrite(ctx, st.Session.ID)

	msg, sev := "Caja cerrada sin diferencias.", SeveritySuccess
	if a.Level != ledger.DiscrepancyNone {
		msg = fmt.Sprintf("Caja cerrada con una diferencia de %s (esperado %s).", money(a.Discrepancy), money(a.Expected))
		sev = SeverityWarning
	}
	d.notify.Notify(msg, sev)
	return Outcome{Status: OutcomeSuccess, Message: msg, Assessment: &a}
}

// ── RegisterMovement ──────────────────────────────────────────────────────────

func (d *Drawer) RegisterMovement(ctx context.Context, in MovementInput) Outcome {
	if err := ledger.ValidateMovementAmount(in.Amount, in.Type, d.opts.Limits); err != nil {
		return d.rejected(KindMovement, err)
	}
	st, err := d.current(ctx)
	if err != nil {
		return d.rejected(KindMovement, err)
	}
	balance, _ := st.Balance()
	req := ledger.MovementRequest{Type: in.Type, Amount: in.Amount, Direction: in.Direction}
	if err := ledger.CheckMovementPreconditions(st.Session, balance, req); err != nil {
		return d.rejected(KindMovement, err)
	}
	if !d.tryBegin(KindMovement) {
		return busy(KindMovement)
	}
	defer d.dispatch(end(KindMovement))

	amount := ledger.NormalizeMovementAmount(in.Amount, in.Type, in.Direction)
	after := balance.Add(in.Type.Contribution(amount))
	switch in.Type {
	case ledger.MovementOut:
		if o := d.ask(ctx, Prompt{
			Title:       "Retiro de caja",
			Description: fmt.Sprintf("Se retirarán %s. Saldo actual %s, quedará %s.", money(amount.Abs()), money(balance), money(after)),
			ConfirmText: "Retirar",
			Risk:        RiskMedium,
		}); o != nil {
			return *o
		}
	case ledger.MovementAdjustment:
		verb := "aumentará"
		if amount.IsNegative() {
			verb = "disminuirá"
		}
		if o := d.ask(ctx, Prompt{
			Title:       "Ajuste de caja",
			Description: fmt.Sprintf("El saldo %s en %s: de %s a %s.", verb, money(amount.Abs()), money(balance), money(after)),
			ConfirmText: "Ajustar",
			Risk:        RiskHigh,
		}); o != nil {
			return *o
		}
	}

	m, err := d.store.CreateMovement(ctx, NewMovement{
		SessionID:      st.Session.ID,
		Type:           in.Type,
		Amount:         amount,
		Direction:      in.Direction,
		Reason:         in.Reason,
		ReferenceType:  in.ReferenceType,
		ReferenceID:    in.ReferenceID,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return d.failed(KindMovement, err)
	}
	d.afterWrite(ctx, m.SessionID)

	msg := fmt.Sprintf("Movimiento %s por %s registrado.", in.Type, money(amount.Abs()))
	d.notify.Notify(msg, SeveritySuccess)
	return Outcome{Status: OutcomeSuccess, Message: msg}
}

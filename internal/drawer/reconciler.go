package drawer

import (
	"context"
	"sync"
	"time"

	"cashdrawer/internal/events"
	"cashdrawer/internal/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce collapses bursts of change notifications into one refresh.
const DefaultDebounce = 300 * time.Millisecond

// Refresher re-pulls state. *Drawer implements it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Reconciler keeps a Drawer in sync with changes made elsewhere. It watches
// at most one session; every notification restarts a single-shot timer and
// the refresh runs when the timer fires. Payloads are never applied.
type Reconciler struct {
	feed     ChangeFeed
	target   Refresher
	debounce time.Duration

	mu        sync.Mutex
	gen       uint64
	sub       events.Subscription
	timer     *time.Timer
	sessionID uuid.UUID
	// ctx is cancelled by Stop, so a refresh already running for a
	// torn-down subscription publishes nothing.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewReconciler(feed ChangeFeed, target Refresher, debounce time.Duration) *Reconciler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Reconciler{feed: feed, target: target, debounce: debounce}
}

// Watch tears down the current subscription, and its pending timer, then
// subscribes to sessionID.
func (r *Reconciler) Watch(ctx context.Context, sessionID uuid.UUID) error {
	r.Stop()

	wctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	gen := r.gen
	r.sessionID, r.ctx, r.cancel = sessionID, wctx, cancel
	r.mu.Unlock()

	sub, err := r.feed.Subscribe(wctx, sessionID, func(events.Event) { r.notify(gen) })
	if err != nil {
		r.mu.Lock()
		if r.gen == gen {
			r.sessionID, r.ctx, r.cancel = uuid.Nil, nil, nil
		}
		r.mu.Unlock()
		cancel()
		return err
	}

	r.mu.Lock()
	if r.gen != gen {
		// Stopped or re-watched while subscribing.
		r.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()
	log.Debug().Str("session_id", sessionID.String()).Msg("reconciler: watching")
	return nil
}

// Track follows the drawer's open session: it watches s when it differs from
// the current one and stops when s is nil or no longer open.
func (r *Reconciler) Track(ctx context.Context, s *ledger.Session) error {
	if !s.IsOpen() {
		r.Stop()
		return nil
	}
	r.mu.Lock()
	same := r.sub != nil && r.sessionID == s.ID
	r.mu.Unlock()
	if same {
		return nil
	}
	return r.Watch(ctx, s.ID)
}

// Stop cancels any pending refresh and closes the subscription. Safe to call
// more than once.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	sub, cancel := r.sub, r.cancel
	r.sub, r.sessionID, r.ctx, r.cancel = nil, uuid.Nil, nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Msg("reconciler: closing subscription")
		}
	}
}

// Watching returns the watched session, or uuid.Nil.
func (r *Reconciler) Watching() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Reconciler) notify(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() { r.fire(gen) })
}

// fire is a no-op for a timer that outlived its subscription.
func (r *Reconciler) fire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.ctx == nil {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	ctx := r.ctx
	r.mu.Unlock()

	if err := r.target.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("reconciler: refresh failed")
	}
}

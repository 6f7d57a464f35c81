package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"crashx/internal/fair"
	"crashx/internal/logger"
	"crashx/internal/metrics"
	"crashx/internal/store"
)

// Multiplier is the public growth function: the multiplier after
// elapsed seconds of an active round, truncated to two decimals. Every
// observer, and the offline verifier of a recorded round, can reproduce
// the curve from started_at alone. Settlement always recomputes it
// server-side; client-reported values are advisory.
func Multiplier(elapsedSeconds float64) float64 {
	m := 1.0 + elapsedSeconds/1.5 + elapsedSeconds*elapsedSeconds*0.005
	return float64(int(m*100)) / 100.0
}

// MultiplierAt evaluates the authoritative multiplier of a round at a
// given instant: 1.00 while pending, the growth curve capped at the
// crash point while active, and frozen at the crash point afterward.
func MultiplierAt(r store.Round, now time.Time) float64 {
	switch r.State {
	case store.RoundActive:
		if r.StartedAt == nil {
			return 1.00
		}
		m := Multiplier(now.Sub(*r.StartedAt).Seconds())
		if m > r.CrashPoint {
			return r.CrashPoint
		}
		return m
	case store.RoundCrashed:
		return r.CrashPoint
	default:
		return 1.00
	}
}

// Settler finalizes still-open bets when a round crashes.
type Settler interface {
	SettleCrash(ctx context.Context, roundID string) (int64, error)
}

// EventSink receives round events and state snapshots for observers
// outside this process (Redis pub/sub plus a current-round cache).
type EventSink interface {
	Publish(ctx context.Context, e Event)
	SetCurrentRound(ctx context.Context, r store.Round)
}

type Config struct {
	BettingWindow time.Duration
	Cooldown      time.Duration
	TickInterval  time.Duration
}

func (c *Config) applyDefaults() {
	if c.BettingWindow <= 0 {
		c.BettingWindow = 5 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 3 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
}

// Snapshot is a point-in-time view of the authoritative round state.
type Snapshot struct {
	Round      store.Round
	Multiplier float64
}

var (
	ErrTransitionTooEarly = errors.New("game: transition not due yet")
	ErrBadTransition      = errors.New("game: unsupported transition")
	ErrClockBusy          = errors.New("game: clock did not respond")
)

type transitionRequest struct {
	roundID string
	target  store.RoundState
	resp    chan error
}

type newRoundRequest struct {
	resp chan store.Round
}

// Clock is the single authority over the round lifecycle. One goroutine
// runs rounds pending -> active -> crashed -> cooldown -> next; request
// handlers only ever observe it through Snapshot or funnel transition
// requests into the loop, which re-validates them against its own
// elapsed-time computation.
type Clock struct {
	store   store.Store
	settler Settler
	hub     *Hub
	sink    EventSink
	metrics *metrics.Metrics
	cfg     Config

	mu      sync.RWMutex
	current *store.Round
	waiters []chan store.Round

	transitionCh chan transitionRequest
	newRoundCh   chan newRoundRequest
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewClock(st store.Store, settler Settler, hub *Hub, sink EventSink, m *metrics.Metrics, cfg Config) *Clock {
	cfg.applyDefaults()
	return &Clock{
		store:        st,
		settler:      settler,
		hub:          hub,
		sink:         sink,
		metrics:      m,
		cfg:          cfg,
		transitionCh: make(chan transitionRequest),
		newRoundCh:   make(chan newRoundRequest, 16),
		stopCh:       make(chan struct{}),
	}
}

func (c *Clock) Run(ctx context.Context) {
	logger.Log.Infow("round clock started",
		"betting_window", c.cfg.BettingWindow, "cooldown", c.cfg.Cooldown)
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if !c.runRound(ctx) {
			return
		}
		if !c.coolDown(ctx) {
			return
		}
	}
}

func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Snapshot returns the current round and its authoritative multiplier
// at this instant. The multiplier is recomputed from started_at on every
// call, not cached from the last tick.
func (c *Clock) Snapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Snapshot{}, false
	}
	r := *c.current
	return Snapshot{Round: r, Multiplier: MultiplierAt(r, time.Now())}, true
}

// RequestTransition asks the clock to apply a client-submitted round
// transition. The clock re-validates it against its own timing; clients
// can never force a round forward early.
func (c *Clock) RequestTransition(roundID string, target store.RoundState) error {
	req := transitionRequest{roundID: roundID, target: target, resp: make(chan error, 1)}
	select {
	case c.transitionCh <- req:
	case <-time.After(2 * time.Second):
		return ErrClockBusy
	}
	select {
	case err := <-req.resp:
		return err
	case <-time.After(2 * time.Second):
		return ErrClockBusy
	}
}

// RequestNewRound returns the open round, or, during the cooldown after
// a crash, cuts the cooldown short and returns the freshly created one.
func (c *Clock) RequestNewRound() (*store.Round, error) {
	if snap, ok := c.Snapshot(); ok && snap.Round.State != store.RoundCrashed {
		r := snap.Round
		return &r, nil
	}
	req := newRoundRequest{resp: make(chan store.Round, 1)}
	select {
	case c.newRoundCh <- req:
	case <-time.After(2 * time.Second):
		return nil, ErrClockBusy
	}
	select {
	case r := <-req.resp:
		return &r, nil
	case <-time.After(10 * time.Second):
		return nil, ErrClockBusy
	}
}

func (c *Clock) runRound(ctx context.Context) bool {
	round, err := c.createRound(ctx)
	if err != nil {
		logger.Log.Errorw("round creation failed", "error", err)
		time.Sleep(time.Second)
		return true
	}

	c.emit(ctx, Event{Type: EventRoundCreated, Data: RoundCreatedData{
		RoundID:        round.ID,
		SequenceNumber: round.SequenceNumber,
		ServerSeedHash: round.ServerSeedHash,
		ClientSeed:     round.ClientSeed,
		BetsCloseAt:    round.CreatedAt.Add(c.cfg.BettingWindow),
	}})
	logger.Log.Infow("round created",
		"round_id", round.ID, "sequence", round.SequenceNumber,
		"commitment", round.ServerSeedHash[:16]+"...")

	timer := time.NewTimer(time.Until(round.CreatedAt.Add(c.cfg.BettingWindow)))
	defer timer.Stop()
	for waiting := true; waiting; {
		select {
		case <-timer.C:
			waiting = false
		case req := <-c.transitionCh:
			c.handleTransition(ctx, req)
			if c.currentState() != store.RoundPending {
				waiting = false
			}
		case req := <-c.newRoundCh:
			req.resp <- *round
		case <-c.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}

	if c.currentState() == store.RoundPending {
		if err := c.activate(ctx, round.ID); err != nil {
			logger.Log.Errorw("round activation failed", "round_id", round.ID, "error", err)
			return true
		}
	}

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap, ok := c.Snapshot()
			if !ok || snap.Round.State != store.RoundActive {
				return true
			}
			if snap.Multiplier >= snap.Round.CrashPoint {
				if err := c.crash(ctx, round.ID); err != nil {
					logger.Log.Errorw("crash transition failed", "round_id", round.ID, "error", err)
				}
				return true
			}
			c.hub.Broadcast(Event{Type: EventTick, Data: TickData{
				RoundID:    round.ID,
				Multiplier: snap.Multiplier,
			}})
		case req := <-c.transitionCh:
			c.handleTransition(ctx, req)
			if c.currentState() == store.RoundCrashed {
				return true
			}
		case req := <-c.newRoundCh:
			// The running round is the open one.
			c.mu.RLock()
			req.resp <- *c.current
			c.mu.RUnlock()
		case <-c.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Clock) createRound(ctx context.Context) (*store.Round, error) {
	seq, err := c.store.NextSequence(ctx)
	if err != nil {
		return nil, err
	}

	serverSeed := fair.GenerateSeed()
	round := &store.Round{
		ID:             uuid.NewString(),
		SequenceNumber: seq,
		ServerSeed:     serverSeed,
		ServerSeedHash: fair.HashCommitment(serverSeed),
		// A fresh random client seed per round; aggregating seeds
		// submitted by players would slot in here.
		ClientSeed: fair.GenerateSeed(),
		State:      store.RoundPending,
		CreatedAt:  time.Now().UTC(),
	}
	round.CrashPoint = fair.CrashPoint(round.ServerSeed, round.ClientSeed, seq)

	if err := c.store.CreateRound(ctx, round); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.current = round
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

drain:
	for {
		select {
		case req := <-c.newRoundCh:
			waiters = append(waiters, req.resp)
		default:
			break drain
		}
	}
	for _, w := range waiters {
		w <- *round
	}

	c.publishState(ctx)
	return round, nil
}

func (c *Clock) activate(ctx context.Context, roundID string) error {
	now := time.Now().UTC()
	if err := c.store.MarkRoundActive(ctx, roundID, now); err != nil {
		return err
	}

	c.mu.Lock()
	c.current.State = store.RoundActive
	c.current.StartedAt = &now
	c.mu.Unlock()

	c.publishState(ctx)
	c.emit(ctx, Event{Type: EventRoundStarted, Data: RoundStartedData{
		RoundID:   roundID,
		StartedAt: now,
	}})
	logger.Log.Infow("round active", "round_id", roundID, "started_at", now)
	return nil
}

func (c *Clock) crash(ctx context.Context, roundID string) error {
	now := time.Now().UTC()
	if err := c.store.MarkRoundCrashed(ctx, roundID, now); err != nil {
		return err
	}

	c.mu.Lock()
	c.current.State = store.RoundCrashed
	c.current.EndedAt = &now
	r := *c.current
	c.mu.Unlock()

	lost, err := c.settler.SettleCrash(ctx, roundID)
	if err != nil {
		// The conditional settlement update is idempotent per bet, so a
		// retry cannot double-settle.
		logger.Log.Errorw("crash settlement failed", "round_id", roundID, "error", err)
	}

	c.publishState(ctx)
	c.emit(ctx, Event{Type: EventRoundCrashed, Data: RoundCrashedData{
		RoundID:    roundID,
		CrashPoint: r.CrashPoint,
		ServerSeed: r.ServerSeed,
		EndedAt:    now,
		BetsLost:   lost,
	}})

	if c.metrics != nil {
		c.metrics.RoundsCrashed.Inc()
		c.metrics.CrashPoints.Observe(r.CrashPoint)
		if r.StartedAt != nil {
			c.metrics.RoundDuration.Observe(now.Sub(*r.StartedAt).Seconds())
		}
	}
	logger.Log.Infow("round crashed",
		"round_id", roundID, "crash_point", r.CrashPoint, "bets_lost", lost)
	return nil
}

func (c *Clock) coolDown(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.Cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case req := <-c.newRoundCh:
		// A create request cuts the cooldown short; the requester gets
		// the round once it exists.
		c.mu.Lock()
		c.waiters = append(c.waiters, req.resp)
		c.mu.Unlock()
		return true
	case <-c.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Clock) handleTransition(ctx context.Context, req transitionRequest) {
	var err error
	snap, ok := c.Snapshot()
	switch {
	case !ok || snap.Round.ID != req.roundID:
		err = store.ErrNotFound
	case req.target == store.RoundActive:
		switch {
		case snap.Round.State != store.RoundPending:
			err = store.ErrRoundStateConflict
		case time.Since(snap.Round.CreatedAt) < c.cfg.BettingWindow:
			err = ErrTransitionTooEarly
		default:
			err = c.activate(ctx, req.roundID)
		}
	case req.target == store.RoundCrashed:
		switch {
		case snap.Round.State != store.RoundActive:
			err = store.ErrRoundStateConflict
		case snap.Multiplier < snap.Round.CrashPoint:
			err = ErrTransitionTooEarly
		default:
			err = c.crash(ctx, req.roundID)
		}
	default:
		err = ErrBadTransition
	}
	req.resp <- err
}

func (c *Clock) currentState() store.RoundState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return ""
	}
	return c.current.State
}

func (c *Clock) emit(ctx context.Context, e Event) {
	c.hub.Broadcast(e)
	if c.sink != nil {
		c.sink.Publish(ctx, e)
	}
}

func (c *Clock) publishState(ctx context.Context) {
	if c.sink == nil {
		return
	}
	c.mu.RLock()
	r := *c.current
	c.mu.RUnlock()
	c.sink.SetCurrentRound(ctx, r.Public())
}

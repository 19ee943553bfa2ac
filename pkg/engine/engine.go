// Package engine drives the start sequences of a session from a clock.
// On every tick it recomputes the state of each race and of every flag and
// notifies the registered observers.
package engine

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/clock"
	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/pkg/session"
	"github.com/mpapenbr/racestart-manager-go/pkg/signals"
)

type (
	Option func(*Engine)

	raceEntry struct {
		race    model.Race
		signals []model.Signal
		// stage-carrying subset of signals
		stages []model.Signal
		state  model.StartSequenceState
		// set by Reschedule, allows the next evaluation to move the state backwards
		reinit bool
	}

	Engine struct {
		id             string
		clock          *clock.Clock
		origin         *time.Time
		updater        StateUpdater
		persistTimeout time.Duration
		onPersistError func(StateChange, error)
		l              *log.Logger

		// serializes evaluation and notification of a tick
		tickMu sync.Mutex

		mu       sync.Mutex
		races    []*raceEntry
		session  *session.Consolidator
		lastEval *time.Time
		snapshot *Snapshot

		// held while observers are notified
		obsMu     sync.Mutex
		observers []Observer

		persistWG sync.WaitGroup
		persistMu sync.Mutex
		pending   map[int]*pendingState
		metrics   engineMetrics
	}

	// pendingState orders the updates of a single race.
	// seq is guarded by Engine.persistMu, write serializes the calls to the updater.
	pendingState struct {
		seq   uint64
		write sync.Mutex
	}

	engineMetrics struct {
		ticks           metric.Int64Counter
		stateChanges    metric.Int64Counter
		persistFailures metric.Int64Counter
	}
)

func WithClock(c *clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTimeOrigin maps the elapsed time of the clock onto an absolute instant.
// The current instant becomes origin + elapsed. Used for simulations and replays.
func WithTimeOrigin(origin time.Time) Option {
	return func(e *Engine) {
		e.origin = &origin
	}
}

func WithStateUpdater(u StateUpdater) Option {
	return func(e *Engine) {
		e.updater = u
	}
}

func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.persistTimeout = d
	}
}

// WithPersistErrorHandler registers a callback for failed state updates.
// It is called from the persisting goroutine.
func WithPersistErrorHandler(fn func(StateChange, error)) Option {
	return func(e *Engine) {
		e.onPersistError = fn
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.l = l
	}
}

// New creates an engine for the given races. The races are copied, the initial
// state of each race is the state stored with the race.
func New(races []*model.Race, opts ...Option) (*Engine, error) {
	ret := &Engine{
		id:             uuid.New().String()[:8],
		persistTimeout: 5 * time.Second,
		l:              log.Default().Named("engine"),
		races:          make([]*raceEntry, 0, len(races)),
		observers:      make([]Observer, 0),
		pending:        make(map[int]*pendingState),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.clock == nil {
		ret.clock = clock.New()
	}
	for _, r := range races {
		entry := &raceEntry{race: *r, state: r.StartSequenceState}
		entry.race.EnteredClasses = slices.Clone(r.EnteredClasses)
		entry.race.Fleet.DinghyClasses = slices.Clone(r.Fleet.DinghyClasses)
		if err := entry.generate(); err != nil {
			return nil, fmt.Errorf("race %d (%s): %w", r.ID, r.Name, err)
		}
		ret.races = append(ret.races, entry)
	}
	slices.SortStableFunc(ret.races, func(a, b *raceEntry) int {
		return a.race.PlannedStartTime.Compare(b.race.PlannedStartTime)
	})
	ret.rebuildSession()
	ret.setupMetrics()
	ret.clock.SetTickHandler(func(time.Duration) { ret.Tick() })
	return ret, nil
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Clock() *clock.Clock {
	return e.clock
}

// Now returns the instant the engine evaluates against.
func (e *Engine) Now() time.Time {
	if e.origin != nil {
		return e.origin.Add(e.clock.ElapsedTime())
	}
	return e.clock.Now()
}

func (e *Engine) Start() {
	e.l.Info("starting engine", log.String("id", e.id))
	e.clock.Start()
	e.Tick()
}

func (e *Engine) Stop() {
	e.l.Info("stopping engine", log.String("id", e.id))
	e.clock.Stop()
	e.Tick()
}

// Reset zeroes the clock and re-evaluates every race from the resulting instant.
// Race states may move backwards.
func (e *Engine) Reset() {
	e.l.Info("resetting engine", log.String("id", e.id))
	e.clock.Reset()
	e.mu.Lock()
	for _, r := range e.races {
		r.reinit = true
	}
	e.lastEval = nil
	e.mu.Unlock()
	e.Tick()
}

// Shutdown detaches the engine from its clock and waits for pending state updates.
func (e *Engine) Shutdown() {
	e.clock.SetTickHandler(nil)
	e.clock.Stop()
	e.persistWG.Wait()
}

// Reschedule changes the planned start time of a race (postponement).
// The signals of that race are regenerated and its state is re-evaluated.
func (e *Engine) Reschedule(raceID int, start time.Time) error {
	e.mu.Lock()
	idx := slices.IndexFunc(e.races, func(r *raceEntry) bool { return r.race.ID == raceID })
	if idx == -1 {
		e.mu.Unlock()
		return fmt.Errorf("race %d: %w", raceID, ErrUnknownRace)
	}
	entry := e.races[idx]
	changed := &raceEntry{race: entry.race, state: entry.state, reinit: true}
	changed.race.PlannedStartTime = start
	if err := changed.generate(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("race %d (%s): %w", raceID, changed.race.Name, err)
	}
	e.l.Info("race rescheduled",
		log.Int("race", raceID),
		log.Time("from", entry.race.PlannedStartTime),
		log.Time("to", start))
	e.races[idx] = changed
	slices.SortStableFunc(e.races, func(a, b *raceEntry) int {
		return a.race.PlannedStartTime.Compare(b.race.PlannedStartTime)
	})
	e.rebuildSession()
	e.mu.Unlock()

	e.Tick()
	return nil
}

// AddObserver registers o. Registering the same observer twice has no effect.
// Observers are identified by ==, so o must be of a comparable type.
func (e *Engine) AddObserver(o Observer) error {
	if o == nil {
		return ErrNilObserver
	}
	if !isComparable(o) {
		return fmt.Errorf("%w: %T", ErrObserverNotComparable, o)
	}
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	if slices.Contains(e.observers, o) {
		return nil
	}
	e.observers = append(e.observers, o)
	return nil
}

// RemoveObserver unregisters o. Once it returns, o will not be notified again.
// Must not be called from within an observer.
func (e *Engine) RemoveObserver(o Observer) {
	if o == nil || !isComparable(o) {
		return
	}
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = slices.DeleteFunc(e.observers, func(item Observer) bool {
		return item == o
	})
}

// isComparable reports whether o can be compared with == without panicking.
// This also covers interface fields holding uncomparable values.
func isComparable(o Observer) bool {
	return reflect.ValueOf(o).Comparable()
}

// Snapshot returns the result of the latest evaluation, nil before the first one.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Signals returns the consolidated signals of all races ordered by time.
func (e *Engine) Signals() []model.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Signals()
}

// FlagStatesAt returns the consolidated flag states of the session at instant t.
func (e *Engine) FlagStatesAt(t time.Time) []model.FlagStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.FlagStatesWithNextActionAt(t)
}

// Races returns copies of the races with their current start sequence state.
func (e *Engine) Races() []model.Race {
	e.mu.Lock()
	defer e.mu.Unlock()
	ret := make([]model.Race, 0, len(e.races))
	for _, r := range e.races {
		race := r.race
		race.StartSequenceState = r.state
		ret = append(ret, race)
	}
	return ret
}

// Tick evaluates the session at the current instant. It is called on every clock
// tick while running and may be called manually. Concurrent calls are serialized,
// observers see the snapshots in evaluation order.
func (e *Engine) Tick() {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	snap := e.evaluate(e.Now())
	e.metrics.ticks.Add(context.Background(), 1)
	for i := range snap.Changes {
		e.persist(snap.Changes[i])
	}
	e.notify(snap)
}

func (e *Engine) evaluate(now time.Time) *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := now.Add(-time.Second)
	if e.lastEval != nil && e.lastEval.Before(now) {
		prev = *e.lastEval
	}
	snap := &Snapshot{
		Now:     now,
		Elapsed: e.clock.ElapsedTime(),
		Running: e.clock.Running(),
		Races:   make([]RaceStatus, 0, len(e.races)),
		Changes: make([]StateChange, 0),
	}
	for _, r := range e.races {
		computed := StateAt(r.stages, now)
		if computed > r.state || (r.reinit && computed != r.state) {
			change := StateChange{
				RaceID:   r.race.ID,
				RaceName: r.race.Name,
				From:     r.state,
				To:       computed,
				At:       now,
			}
			e.l.Info("start sequence state changed",
				log.Int("race", r.race.ID),
				log.String("name", r.race.Name),
				log.Stringer("from", change.From),
				log.Stringer("to", change.To))
			snap.Changes = append(snap.Changes, change)
			r.state = computed
		}
		r.reinit = false
		snap.Races = append(snap.Races, raceStatus(r, now))
	}
	snap.Flags = e.session.FlagStatesWithNextActionAt(now)
	if !prev.Equal(now) {
		snap.Due = e.session.DueBetween(prev, now)
	}
	if next, ok := e.session.NextAfter(now); ok {
		snap.Next = next
		snap.TimeToNext = next[0].Time.Sub(now)
	}
	e.lastEval = &now
	e.snapshot = snap
	return snap
}

func (e *Engine) notify(snap *Snapshot) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	for _, o := range e.observers {
		o.OnSnapshot(snap)
	}
}

// persist stores the state change without blocking the caller.
// Updates of a race are written one at a time. An update is dropped if a newer
// one for the same race was handed in meanwhile, so a slow write never overwrites
// a later state. Failures are reported but never revert the local state.
func (e *Engine) persist(change StateChange) {
	attrs := metric.WithAttributes(attribute.Int("race", change.RaceID))
	e.metrics.stateChanges.Add(context.Background(), 1, attrs)
	if e.updater == nil {
		return
	}
	e.persistMu.Lock()
	p, ok := e.pending[change.RaceID]
	if !ok {
		p = &pendingState{}
		e.pending[change.RaceID] = p
	}
	p.seq++
	seq := p.seq
	e.persistMu.Unlock()

	e.persistWG.Add(1)
	go func() {
		defer e.persistWG.Done()
		p.write.Lock()
		defer p.write.Unlock()
		if e.superseded(p, seq) {
			e.l.Debug("skipping outdated state",
				log.Int("race", change.RaceID), log.Stringer("state", change.To))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
		defer cancel()
		err := e.updater.UpdateStartSequenceState(ctx, change.RaceID, change.To)
		if err == nil {
			e.l.Debug("state persisted",
				log.Int("race", change.RaceID), log.Stringer("state", change.To))
			return
		}
		e.metrics.persistFailures.Add(context.Background(), 1, attrs)
		e.l.Error("could not persist start sequence state",
			log.Int("race", change.RaceID),
			log.Stringer("state", change.To),
			log.ErrorField(err))
		if e.onPersistError != nil {
			e.onPersistError(change, err)
		}
	}()
}

func (e *Engine) superseded(p *pendingState, seq uint64) bool {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	return p.seq != seq
}

func (e *Engine) rebuildSession() {
	perRace := make([][]model.Signal, 0, len(e.races))
	for _, r := range e.races {
		perRace = append(perRace, r.signals)
	}
	e.session = session.New(perRace...)
}

func (e *Engine) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("rsm.engine")
	register := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name,
			metric.WithDescription(desc), metric.WithUnit("{count}"))
		if err != nil {
			e.l.Warn("failed to register metric",
				log.String("metric", name), log.ErrorField(err))
			return noop.Int64Counter{}
		}
		return c
	}
	e.metrics = engineMetrics{
		ticks:           register("rsm.engine.ticks", "Number of evaluations"),
		stateChanges:    register("rsm.engine.state_changes", "Number of race state changes"),
		persistFailures: register("rsm.engine.persist_failures", "Number of failed state updates"),
	}
}

func (r *raceEntry) generate() error {
	sigs, err := signals.Generate(&r.race)
	if err != nil {
		return err
	}
	stages, err := signals.Stages(&r.race)
	if err != nil {
		return err
	}
	r.signals = sigs
	r.stages = stages
	return nil
}

// StateAt returns the start sequence state of a race at instant t.
// sigs are the stage signals of the race as returned by signals.Stages,
// any other signal is ignored.
func StateAt(sigs []model.Signal, t time.Time) model.StartSequenceState {
	ret := model.StateNone
	for i := range sigs {
		if !sigs[i].Time.After(t) && sigs[i].Stage > ret {
			ret = sigs[i].Stage
		}
	}
	return ret
}

func raceStatus(r *raceEntry, now time.Time) RaceStatus {
	ret := RaceStatus{
		RaceID:           r.race.ID,
		Name:             r.race.Name,
		PlannedStartTime: r.race.PlannedStartTime,
		State:            r.state,
		TimeToStart:      r.race.PlannedStartTime.Sub(now),
	}
	for i := range r.signals {
		if r.signals[i].Time.After(now) {
			s := r.signals[i]
			ret.NextSignal = &s
			ret.TimeToNext = s.Time.Sub(now)
			break
		}
	}
	return ret
}

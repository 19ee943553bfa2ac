//nolint:funlen,lll // ok for tests
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestart-manager-go/pkg/clock"
	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/pkg/signals"
)

func at(hh, mm, ss int) time.Time {
	return time.Date(2024, 6, 1, hh, mm, ss, 0, time.UTC)
}

var (
	laser    = model.DinghyClass{ID: 1, Name: "Laser", Handicap: 1102}
	topper   = model.DinghyClass{ID: 2, Name: "Topper", Handicap: 1369}
	optimist = model.DinghyClass{ID: 3, Name: "Optimist", Handicap: 1831}
	scorpion = model.DinghyClass{ID: 4, Name: "Scorpion", Handicap: 1044}
)

func sampleRaces() []*model.Race {
	return []*model.Race{
		{
			ID: 2, Name: "Handicap", PlannedStartTime: at(10, 45, 0),
			StartType: model.StartTypeClubStart, RaceType: model.RaceTypePursuit,
			Duration: 2700000 * time.Millisecond,
			Fleet: model.Fleet{
				ID: 2, Name: "Handicap",
				DinghyClasses: []model.DinghyClass{laser, topper, optimist},
			},
			EnteredClasses: []model.DinghyClass{laser, topper},
		},
		{
			ID: 1, Name: "Scorpion A", PlannedStartTime: at(10, 30, 0),
			StartType: model.StartTypeClubStart, RaceType: model.RaceTypeFleet,
			Duration: 45 * time.Minute,
			Fleet:    model.Fleet{ID: 1, Name: "Scorpion", DinghyClasses: []model.DinghyClass{scorpion}},
		},
	}
}

type recordingUpdater struct {
	mu      sync.Mutex
	updates []StateChange
	err     error
}

func (r *recordingUpdater) UpdateStartSequenceState(
	ctx context.Context, raceID int, state model.StartSequenceState,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, StateChange{RaceID: raceID, To: state})
	return r.err
}

func (r *recordingUpdater) recorded() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange{}, r.updates...)
}

// slowUpdater delays the update of one state
type slowUpdater struct {
	recordingUpdater
	slowState model.StartSequenceState
	delay     time.Duration
	// closed when the slow update begins, optional
	started chan struct{}
}

func (s *slowUpdater) UpdateStartSequenceState(
	ctx context.Context, raceID int, state model.StartSequenceState,
) error {
	if state == s.slowState {
		if s.started != nil {
			close(s.started)
		}
		time.Sleep(s.delay)
	}
	return s.recordingUpdater.UpdateStartSequenceState(ctx, raceID, state)
}

// valueObserver is an uncomparable observer type
type valueObserver struct {
	seen func(*Snapshot)
}

func (v valueObserver) OnSnapshot(s *Snapshot) {
	v.seen(s)
}

func newTestEngine(t *testing.T, fc *clockwork.FakeClock, opts ...Option) *Engine {
	t.Helper()
	all := append([]Option{WithClock(clock.New(clock.WithClock(fc)))}, opts...)
	e, err := New(sampleRaces(), all...)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

func statesOf(s *Snapshot) map[int]model.StartSequenceState {
	ret := map[int]model.StartSequenceState{}
	for _, r := range s.Races {
		ret[r.RaceID] = r.State
	}
	return ret
}

func TestEngine_StateProgression(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 19, 59))
	updater := &recordingUpdater{}
	e := newTestEngine(t, fc, WithStateUpdater(updater))

	e.Tick()
	snap := e.Snapshot()
	assert.Equal(t, map[int]model.StartSequenceState{1: model.StateNone, 2: model.StateNone}, statesOf(snap))
	assert.Empty(t, snap.Changes)
	require.Len(t, snap.Next, 1)
	assert.Equal(t, signals.MeaningWarning, snap.Next[0].Meaning)
	assert.Equal(t, time.Second, snap.TimeToNext)

	steps := []struct {
		now  time.Time
		want map[int]model.StartSequenceState
	}{
		{at(10, 20, 0), map[int]model.StartSequenceState{1: model.StateWarningSignal, 2: model.StateNone}},
		{at(10, 25, 0), map[int]model.StartSequenceState{1: model.StatePreparatorySignal, 2: model.StateNone}},
		{at(10, 30, 0), map[int]model.StartSequenceState{1: model.StateStartingSignal, 2: model.StateNone}},
		{at(10, 35, 0), map[int]model.StartSequenceState{1: model.StateStartingSignal, 2: model.StateWarningSignal}},
		{at(10, 45, 0), map[int]model.StartSequenceState{1: model.StateStartingSignal, 2: model.StateStartingSignal}},
	}
	for _, step := range steps {
		fc.Advance(step.now.Sub(fc.Now()))
		e.Tick()
		e.persistWG.Wait()
		assert.Equal(t, step.want, statesOf(e.Snapshot()), "at %v", step.now.Format(time.TimeOnly))
	}

	// the preparatory signal of race 2 was skipped between 10:35 and 10:45
	got := updater.recorded()
	require.Len(t, got, 5)
	assert.Equal(t, StateChange{RaceID: 1, To: model.StateWarningSignal}, got[0])
	assert.Equal(t, StateChange{RaceID: 2, To: model.StateWarningSignal}, got[3])
	assert.Equal(t, StateChange{RaceID: 2, To: model.StateStartingSignal}, got[4])
}

func TestEngine_SnapshotContents(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 29, 59))
	e := newTestEngine(t, fc)
	e.Tick()
	fc.Advance(time.Second)
	e.Tick()
	snap := e.Snapshot()

	assert.Equal(t, at(10, 30, 0), snap.Now)
	require.Len(t, snap.Due, 2)
	assert.Equal(t, signals.MeaningSequenceFinish, snap.Due[0].Meaning)
	assert.Equal(t, signals.MeaningStarting, snap.Due[1].Meaning)
	require.Len(t, snap.Changes, 1)
	assert.Equal(t, model.StatePreparatorySignal, snap.Changes[0].From)
	assert.Equal(t, model.StateStartingSignal, snap.Changes[0].To)

	flags := map[string]model.FlagStatus{}
	for _, f := range snap.Flags {
		flags[f.Flag.Name] = f
	}
	assert.Equal(t, model.FlagRaised, flags["Blue Peter"].State)
	assert.Equal(t, 15*time.Minute, flags["Blue Peter"].TimeToChange)
	assert.Equal(t, model.FlagLowered, flags["Scorpion Class Flag"].State)

	assert.Len(t, e.Signals(), 10)
	races := e.Races()
	require.Len(t, races, 2)
	assert.Equal(t, 1, races[0].ID, "races are ordered by start time")
	assert.Equal(t, model.StateStartingSignal, races[0].StartSequenceState)
}

func TestEngine_PersistFailureKeepsLocalState(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 20, 0))
	updater := &recordingUpdater{err: errors.New("service unavailable")}
	var mu sync.Mutex
	var failed []StateChange
	e := newTestEngine(t, fc,
		WithStateUpdater(updater),
		WithPersistErrorHandler(func(c StateChange, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, c)
		}))

	e.Tick()
	e.persistWG.Wait()
	assert.Equal(t, model.StateWarningSignal, statesOf(e.Snapshot())[1])
	mu.Lock()
	assert.Len(t, failed, 1)
	mu.Unlock()

	// no rollback, no repeated change
	fc.Advance(time.Second)
	e.Tick()
	e.persistWG.Wait()
	assert.Empty(t, e.Snapshot().Changes)
	assert.Equal(t, model.StateWarningSignal, statesOf(e.Snapshot())[1])
	assert.Len(t, updater.recorded(), 1)
}

func TestEngine_InitialStateFromRace(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 26, 0))
	races := sampleRaces()
	races[1].StartSequenceState = model.StatePreparatorySignal
	e, err := New(races, WithClock(clock.New(clock.WithClock(fc))))
	require.NoError(t, err)
	defer e.Shutdown()
	e.Tick()
	assert.Empty(t, e.Snapshot().Changes)
	assert.Equal(t, model.StatePreparatorySignal, races[1].StartSequenceState, "input not modified")
}

func TestEngine_StatesDoNotRegress(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 20, 0))
	races := sampleRaces()
	races[1].StartSequenceState = model.StateStartingSignal
	e, err := New(races, WithClock(clock.New(clock.WithClock(fc))))
	require.NoError(t, err)
	defer e.Shutdown()
	e.Tick()
	assert.Equal(t, model.StateStartingSignal, statesOf(e.Snapshot())[1])
}

func TestEngine_Reschedule(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 21, 0))
	updater := &recordingUpdater{}
	e := newTestEngine(t, fc, WithStateUpdater(updater))
	e.Tick()
	require.Equal(t, model.StateWarningSignal, statesOf(e.Snapshot())[1])

	// postponed by 15 minutes
	require.NoError(t, e.Reschedule(1, at(10, 45, 0)))
	snap := e.Snapshot()
	assert.Equal(t, model.StateNone, statesOf(snap)[1])
	require.Len(t, snap.Changes, 1)
	assert.Equal(t, StateChange{
		RaceID: 1, RaceName: "Scorpion A",
		From: model.StateWarningSignal, To: model.StateNone, At: at(10, 21, 0),
	}, snap.Changes[0])
	assert.Equal(t, at(10, 35, 0), snap.Next[0].Time)

	assert.ErrorIs(t, e.Reschedule(99, at(11, 0, 0)), ErrUnknownRace)
	e.persistWG.Wait()
	assert.Len(t, updater.recorded(), 2)
}

func TestEngine_TimeOrigin(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(18, 0, 0))
	e := newTestEngine(t, fc, WithTimeOrigin(at(10, 19, 0)))
	assert.Equal(t, at(10, 19, 0), e.Now())

	e.Clock().Start()
	fc.Advance(90 * time.Second)
	assert.Equal(t, at(10, 20, 30), e.Now())
	e.Tick()
	assert.Equal(t, model.StateWarningSignal, statesOf(e.Snapshot())[1])

	// paused clock, simulated time stands still
	e.Clock().Stop()
	fc.Advance(time.Hour)
	assert.Equal(t, at(10, 20, 30), e.Now())

	e.Reset()
	assert.Equal(t, at(10, 19, 0), e.Now())
	assert.Equal(t, model.StateNone, statesOf(e.Snapshot())[1])
}

func TestEngine_Observers(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 0, 0))
	e := newTestEngine(t, fc)

	var mu sync.Mutex
	calls := map[string]int{}
	count := func(key string) func(*Snapshot) {
		return func(*Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			calls[key]++
		}
	}
	first := ObserverFunc(count("first"))
	twin := ObserverFunc(count("first"))
	other := ObserverFunc(count("other"))

	for _, o := range []Observer{first, first, twin, other} {
		require.NoError(t, e.AddObserver(o))
	}
	e.Tick()
	assert.Equal(t, map[string]int{"first": 2, "other": 1}, calls)

	e.RemoveObserver(first)
	e.RemoveObserver(other)
	e.Tick()
	assert.Equal(t, map[string]int{"first": 3, "other": 1}, calls)
}

func TestEngine_ClockDrivesTicks(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 19, 59))
	e := newTestEngine(t, fc)
	snaps := make(chan *Snapshot, 10)
	require.NoError(t, e.AddObserver(ObserverFunc(func(s *Snapshot) { snaps <- s })))

	e.Start()
	<-snaps // initial evaluation
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(time.Second)

	select {
	case s := <-snaps:
		assert.Equal(t, model.StateWarningSignal, statesOf(s)[1])
		assert.True(t, s.Running)
	case <-time.After(time.Second):
		t.Fatal("no snapshot from clock tick")
	}
}

func TestEngine_InvalidRace(t *testing.T) {
	races := sampleRaces()
	races[0].Fleet.DinghyClasses = nil
	_, err := New(races)
	assert.ErrorIs(t, err, signals.ErrNoFleetClasses)
}

func TestStateAt(t *testing.T) {
	race := sampleRaces()[1]
	race.StartType = model.StartTypeRRS26
	sigs, err := signals.Stages(race)
	require.NoError(t, err)
	tests := []struct {
		t    time.Time
		want model.StartSequenceState
	}{
		{at(10, 24, 59), model.StateNone},
		{at(10, 25, 0), model.StateWarningSignal},
		{at(10, 26, 0), model.StatePreparatorySignal},
		{at(10, 29, 0), model.StateOneMinute},
		{at(10, 30, 0), model.StateStartingSignal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StateAt(sigs, tt.t), tt.t.Format(time.TimeOnly))
	}
}

func TestEngine_SlowPersistDoesNotOverwriteNewerState(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 20, 0))
	updater := &slowUpdater{slowState: model.StateWarningSignal, delay: 200 * time.Millisecond}
	e := newTestEngine(t, fc, WithStateUpdater(updater))

	e.Tick()
	fc.Advance(5 * time.Minute)
	e.Tick()
	e.persistWG.Wait()

	got := updater.recorded()
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, 1, last.RaceID)
	assert.Equal(t, model.StatePreparatorySignal, last.To)
	assert.Equal(t, model.StatePreparatorySignal, statesOf(e.Snapshot())[1])
}

func TestEngine_PersistKeepsOrderPerRace(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 20, 0))
	updater := &slowUpdater{
		slowState: model.StateWarningSignal,
		delay:     50 * time.Millisecond,
		started:   make(chan struct{}),
	}
	e := newTestEngine(t, fc, WithStateUpdater(updater))

	e.Tick()
	<-updater.started
	fc.Advance(5 * time.Minute)
	e.Tick()
	e.persistWG.Wait()

	assert.Equal(t, []StateChange{
		{RaceID: 1, To: model.StateWarningSignal},
		{RaceID: 1, To: model.StatePreparatorySignal},
	}, updater.recorded())
}

func TestEngine_ObserverValidation(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 0, 0))
	e := newTestEngine(t, fc)

	assert.ErrorIs(t, e.AddObserver(nil), ErrNilObserver)

	calls := 0
	v := valueObserver{seen: func(*Snapshot) { calls++ }}
	assert.NotPanics(t, func() {
		assert.ErrorIs(t, e.AddObserver(v), ErrObserverNotComparable)
	})
	assert.NotPanics(t, func() { e.RemoveObserver(v) })

	// a pointer to the same type is fine
	require.NoError(t, e.AddObserver(&v))
	e.Tick()
	assert.Equal(t, 1, calls)
	e.RemoveObserver(&v)
	e.Tick()
	assert.Equal(t, 1, calls)
}

func TestEngine_TickNotifiesInEvaluationOrder(t *testing.T) {
	fc := clockwork.NewFakeClockAt(at(10, 19, 0))
	e := newTestEngine(t, fc)

	var mu sync.Mutex
	var mismatches int
	var seen []time.Time
	require.NoError(t, e.AddObserver(ObserverFunc(func(s *Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		// no other evaluation may run while a snapshot is being delivered
		if e.Snapshot() != s {
			mismatches++
		}
		seen = append(seen, s.Now)
	})))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				fc.Advance(time.Second)
				e.Tick()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, mismatches)
	require.Len(t, seen, 200)
	for i := 1; i < len(seen); i++ {
		assert.False(t, seen[i].Before(seen[i-1]), "snapshot %d went back in time", i)
	}
	assert.Equal(t, model.StateWarningSignal, statesOf(e.Snapshot())[1])
}

package engine

import (
	"context"
	"time"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
)

type (
	// StateUpdater persists the start sequence state of a race.
	StateUpdater interface {
		UpdateStartSequenceState(
			ctx context.Context,
			raceID int,
			state model.StartSequenceState,
		) error
	}

	StateChange struct {
		RaceID   int                      `json:"raceId"`
		RaceName string                   `json:"raceName"`
		From     model.StartSequenceState `json:"from"`
		To       model.StartSequenceState `json:"to"`
		At       time.Time                `json:"at"`
	}

	RaceStatus struct {
		RaceID           int                      `json:"raceId"`
		Name             string                   `json:"name"`
		PlannedStartTime time.Time                `json:"plannedStartTime"`
		State            model.StartSequenceState `json:"state"`
		TimeToStart      time.Duration            `json:"timeToStart"`
		NextSignal       *model.Signal            `json:"nextSignal,omitempty"`
		TimeToNext       time.Duration            `json:"timeToNext"`
	}

	// Snapshot is the result of one evaluation. It is never modified once published.
	Snapshot struct {
		Now     time.Time          `json:"now"`
		Elapsed time.Duration      `json:"elapsed"`
		Running bool               `json:"running"`
		Races   []RaceStatus       `json:"races"`
		Flags   []model.FlagStatus `json:"flags"`
		// signals that became due since the previous evaluation
		Due []model.Signal `json:"due"`
		// signals at the next upcoming instant
		Next       []model.Signal `json:"next"`
		TimeToNext time.Duration  `json:"timeToNext"`
		Changes    []StateChange  `json:"changes"`
	}

	// Observer is notified after every evaluation.
	// Implementations are compared by identity, so they must be comparable
	// (usually a pointer). OnSnapshot must not call Start, Stop, Reset, Tick or
	// the observer registration methods of the engine.
	Observer interface {
		OnSnapshot(s *Snapshot)
	}

	FuncObserver struct {
		fn func(s *Snapshot)
	}
)

// ObserverFunc wraps fn into an Observer. Every call creates a distinct observer.
func ObserverFunc(fn func(s *Snapshot)) *FuncObserver {
	return &FuncObserver{fn: fn}
}

func (f *FuncObserver) OnSnapshot(s *Snapshot) {
	f.fn(s)
}

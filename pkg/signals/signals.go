// Package signals derives the flag and sound signals needed to start a single race.
package signals

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
)

const (
	PreparatoryFlagName = "Blue Peter"

	MeaningWarning        = "Warning signal"
	MeaningPreparatory    = "Preparatory signal"
	MeaningOneMinute      = "One minute"
	MeaningStarting       = "Starting signal"
	MeaningSequenceFinish = "Start sequence finished"

	SoundOne     = "One sound"
	SoundOneLong = "One long sound"
)

var (
	ErrUnknownStartType = errors.New("unknown start type")
	ErrUnknownRaceType  = errors.New("unknown race type")
	ErrNoFleetClasses   = errors.New("pursuit race fleet has no dinghy classes")
	ErrInvalidHandicap  = errors.New("handicap must be greater than zero")
	ErrInvalidDuration  = errors.New("pursuit race duration must be greater than zero")
	ErrSlowerThanBase   = errors.New("dinghy class is slower than the pursuit base class")
)

// offsets relative to the planned start time
type sequence struct {
	warningRaise     time.Duration
	preparatoryRaise time.Duration
	preparatoryLower time.Duration
	preparatorySound *model.SoundSignal
	preparatoryMean  string
	preparatoryStage model.StartSequenceState
}

var (
	clubStart = sequence{
		warningRaise:     -10 * time.Minute,
		preparatoryRaise: -5 * time.Minute,
		preparatoryLower: 0,
		preparatoryMean:  MeaningSequenceFinish,
		preparatoryStage: model.StateNone,
	}
	rrs26 = sequence{
		warningRaise:     -5 * time.Minute,
		preparatoryRaise: -4 * time.Minute,
		preparatoryLower: -1 * time.Minute,
		preparatorySound: &model.SoundSignal{Description: SoundOneLong},
		preparatoryMean:  MeaningOneMinute,
		preparatoryStage: model.StateOneMinute,
	}
)

// WarningFlag returns the class flag used for the warning signal of the fleet.
func WarningFlag(fleet *model.Fleet) model.Flag {
	return model.Flag{Name: fmt.Sprintf("%s Class Flag", fleet.Name)}
}

func PreparatoryFlag() model.Flag {
	return model.Flag{Name: PreparatoryFlagName}
}

// Generate returns the signals required to start the race, ordered by time.
// The race is not modified. Invalid race configurations yield an error.
func Generate(race *model.Race) ([]model.Signal, error) {
	seq, err := sequenceFor(race.StartType)
	if err != nil {
		return nil, err
	}

	ret := baseSignals(race, &seq)

	switch race.RaceType {
	case model.RaceTypeFleet:
		return ret, nil
	case model.RaceTypePursuit:
		extra, err := pursuitSignals(race)
		if err != nil {
			return nil, err
		}
		return append(ret, extra...), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownRaceType, race.RaceType)
	}
}

// Stages returns the base signals of the race which advance its start sequence
// state, ordered by time. Pursuit class starts never change the state.
func Stages(race *model.Race) ([]model.Signal, error) {
	seq, err := sequenceFor(race.StartType)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(baseSignals(race, &seq), func(s model.Signal) bool {
		return s.Stage == model.StateNone
	}), nil
}

func sequenceFor(st model.StartType) (sequence, error) {
	switch st {
	case model.StartTypeClubStart:
		return clubStart, nil
	case model.StartTypeRRS26:
		return rrs26, nil
	default:
		return sequence{}, fmt.Errorf("%w: %v", ErrUnknownStartType, st)
	}
}

func baseSignals(race *model.Race, seq *sequence) []model.Signal {
	start := race.PlannedStartTime
	warning := WarningFlag(&race.Fleet)
	prep := PreparatoryFlag()
	one := func() *model.SoundSignal { return &model.SoundSignal{Description: SoundOne} }
	visual := func(f model.Flag, s model.FlagState) *model.VisualSignal {
		return &model.VisualSignal{Flags: []model.Flag{f}, State: s}
	}
	var prepSound *model.SoundSignal
	if seq.preparatorySound != nil {
		s := *seq.preparatorySound
		prepSound = &s
	}
	return []model.Signal{
		{
			RaceID:  race.ID,
			Meaning: MeaningWarning,
			Time:    start.Add(seq.warningRaise),
			Sound:   one(),
			Visual:  visual(warning, model.FlagRaised),
			Stage:   model.StateWarningSignal,
		},
		{
			RaceID:  race.ID,
			Meaning: MeaningPreparatory,
			Time:    start.Add(seq.preparatoryRaise),
			Sound:   one(),
			Visual:  visual(prep, model.FlagRaised),
			Stage:   model.StatePreparatorySignal,
		},
		{
			RaceID:  race.ID,
			Meaning: seq.preparatoryMean,
			Time:    start.Add(seq.preparatoryLower),
			Sound:   prepSound,
			Visual:  visual(prep, model.FlagLowered),
			Stage:   seq.preparatoryStage,
		},
		{
			RaceID:  race.ID,
			Meaning: MeaningStarting,
			Time:    start,
			Sound:   one(),
			Visual:  visual(warning, model.FlagLowered),
			Stage:   model.StateStartingSignal,
		},
	}
}

//nolint:funlen,lll // ok for tests
package signals

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
)

var (
	start      = time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	scorpion   = model.DinghyClass{ID: 1, Name: "Scorpion", Handicap: 1044}
	optimist   = model.DinghyClass{ID: 2, Name: "Optimist", Handicap: 1831}
	topper     = model.DinghyClass{ID: 3, Name: "Topper", Handicap: 1369}
	laser      = model.DinghyClass{ID: 4, Name: "Laser", Handicap: 1102}
	raceLength = 2700000 * time.Millisecond
)

func fleetRace(st model.StartType) *model.Race {
	return &model.Race{
		ID:               1,
		Name:             "Scorpion A",
		PlannedStartTime: start,
		StartType:        st,
		RaceType:         model.RaceTypeFleet,
		Duration:         time.Hour,
		Fleet:            model.Fleet{ID: 1, Name: "Scorpion", DinghyClasses: []model.DinghyClass{scorpion}},
	}
}

func pursuitRace(entered ...model.DinghyClass) *model.Race {
	return &model.Race{
		ID:               2,
		Name:             "Handicap",
		PlannedStartTime: start,
		StartType:        model.StartTypeClubStart,
		RaceType:         model.RaceTypePursuit,
		Duration:         raceLength,
		Fleet: model.Fleet{
			ID: 2, Name: "Handicap",
			DinghyClasses: []model.DinghyClass{laser, topper, optimist},
		},
		EnteredClasses: entered,
	}
}

func offsets(sigs []model.Signal) []time.Duration {
	ret := make([]time.Duration, len(sigs))
	for i := range sigs {
		ret[i] = sigs[i].Time.Sub(start)
	}
	return ret
}

func TestGenerate_ClubStart(t *testing.T) {
	got, err := Generate(fleetRace(model.StartTypeClubStart))
	require.NoError(t, err)

	classFlag := model.Flag{Name: "Scorpion Class Flag"}
	bluePeter := model.Flag{Name: "Blue Peter"}
	want := []model.Signal{
		{
			RaceID: 1, Meaning: "Warning signal", Time: start.Add(-600000 * time.Millisecond),
			Sound:  &model.SoundSignal{Description: SoundOne},
			Visual: &model.VisualSignal{Flags: []model.Flag{classFlag}, State: model.FlagRaised},
			Stage:  model.StateWarningSignal,
		},
		{
			RaceID: 1, Meaning: "Preparatory signal", Time: start.Add(-300000 * time.Millisecond),
			Sound:  &model.SoundSignal{Description: SoundOne},
			Visual: &model.VisualSignal{Flags: []model.Flag{bluePeter}, State: model.FlagRaised},
			Stage:  model.StatePreparatorySignal,
		},
		{
			RaceID: 1, Meaning: "Start sequence finished", Time: start,
			Visual: &model.VisualSignal{Flags: []model.Flag{bluePeter}, State: model.FlagLowered},
			Stage:  model.StateNone,
		},
		{
			RaceID: 1, Meaning: "Starting signal", Time: start,
			Sound:  &model.SoundSignal{Description: SoundOne},
			Visual: &model.VisualSignal{Flags: []model.Flag{classFlag}, State: model.FlagLowered},
			Stage:  model.StateStartingSignal,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Generate() mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_RRS26(t *testing.T) {
	got, err := Generate(fleetRace(model.StartTypeRRS26))
	require.NoError(t, err)
	assert.Equal(t,
		[]time.Duration{-300000 * time.Millisecond, -240000 * time.Millisecond, -60000 * time.Millisecond, 0},
		offsets(got))
	assert.Equal(t, "One minute", got[2].Meaning)
	assert.Equal(t, SoundOneLong, got[2].Sound.Description)
	assert.Equal(t, model.FlagLowered, got[2].Visual.State)
	assert.Equal(t, PreparatoryFlagName, got[2].Visual.Flags[0].Name)
	assert.Equal(t, model.StateOneMinute, got[2].Stage)
	assert.Equal(t, "Starting signal", got[3].Meaning)
}

func TestGenerate_Idempotent(t *testing.T) {
	race := pursuitRace(topper, laser)
	before := *race
	before.EnteredClasses = append([]model.DinghyClass{}, race.EnteredClasses...)

	first, err := Generate(race)
	require.NoError(t, err)
	second, err := Generate(race)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second call differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(&before, race); diff != "" {
		t.Errorf("race was modified (-before +after):\n%s", diff)
	}
}

func TestStages(t *testing.T) {
	tests := []struct {
		name  string
		race  *model.Race
		want  []model.StartSequenceState
		times []time.Duration
	}{
		{
			name: "club start",
			race: fleetRace(model.StartTypeClubStart),
			want: []model.StartSequenceState{
				model.StateWarningSignal, model.StatePreparatorySignal, model.StateStartingSignal,
			},
			times: []time.Duration{-10 * time.Minute, -5 * time.Minute, 0},
		},
		{
			name: "rrs26",
			race: fleetRace(model.StartTypeRRS26),
			want: []model.StartSequenceState{
				model.StateWarningSignal, model.StatePreparatorySignal,
				model.StateOneMinute, model.StateStartingSignal,
			},
			times: []time.Duration{-5 * time.Minute, -4 * time.Minute, -time.Minute, 0},
		},
		{
			name: "pursuit class starts carry no stage",
			race: pursuitRace(laser, topper),
			want: []model.StartSequenceState{
				model.StateWarningSignal, model.StatePreparatorySignal, model.StateStartingSignal,
			},
			times: []time.Duration{-10 * time.Minute, -5 * time.Minute, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Stages(tt.race)
			require.NoError(t, err)
			stages := make([]model.StartSequenceState, len(got))
			for i := range got {
				stages[i] = got[i].Stage
			}
			assert.Equal(t, tt.want, stages)
			assert.Equal(t, tt.times, offsets(got))
		})
	}

	race := fleetRace(model.StartTypeClubStart)
	race.StartType = model.StartType(99)
	_, err := Stages(race)
	assert.ErrorIs(t, err, ErrUnknownStartType)
}

func TestGenerate_Pursuit(t *testing.T) {
	t.Run("regression fixture", func(t *testing.T) {
		got, err := Generate(pursuitRace(laser, topper))
		require.NoError(t, err)
		require.Len(t, got, 6)
		assert.Equal(t, "Topper start", got[4].Meaning)
		assert.Equal(t, 682000*time.Millisecond, got[4].Time.Sub(start))
		assert.Equal(t, "Laser start", got[5].Meaning)
		assert.Equal(t, 1075000*time.Millisecond, got[5].Time.Sub(start))
		for _, s := range got[4:] {
			assert.Nil(t, s.Visual, "pursuit class starts are sound only")
			assert.Equal(t, SoundOne, s.Sound.Description)
			assert.Equal(t, model.StateNone, s.Stage)
		}
	})
	t.Run("base class entered", func(t *testing.T) {
		got, err := Generate(pursuitRace(optimist, topper))
		require.NoError(t, err)
		require.Len(t, got, 5)
		assert.Equal(t, "Topper start", got[4].Meaning)
	})
	t.Run("single class degrades", func(t *testing.T) {
		got, err := Generate(pursuitRace(optimist))
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
	t.Run("nothing entered", func(t *testing.T) {
		got, err := Generate(pursuitRace())
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
	t.Run("duplicate entries", func(t *testing.T) {
		got, err := Generate(pursuitRace(laser, laser, topper, laser))
		require.NoError(t, err)
		assert.Len(t, got, 6)
	})
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *model.Race)
		want   error
	}{
		{"unknown start type", func(r *model.Race) { r.StartType = model.StartType(42) }, ErrUnknownStartType},
		{"unknown race type", func(r *model.Race) { r.RaceType = model.RaceType(42) }, ErrUnknownRaceType},
		{"pursuit without fleet classes", func(r *model.Race) { r.Fleet.DinghyClasses = nil }, ErrNoFleetClasses},
		{"invalid base handicap", func(r *model.Race) {
			r.Fleet.DinghyClasses = []model.DinghyClass{{Name: "Broken", Handicap: 0}}
		}, ErrInvalidHandicap},
		{"invalid entered handicap", func(r *model.Race) {
			r.EnteredClasses = []model.DinghyClass{{Name: "Broken", Handicap: -1}}
		}, ErrInvalidHandicap},
		{"missing duration", func(r *model.Race) { r.Duration = 0 }, ErrInvalidDuration},
		{"slower than base", func(r *model.Race) {
			r.EnteredClasses = []model.DinghyClass{{Name: "Barge", Handicap: 2000}}
		}, ErrSlowerThanBase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			race := pursuitRace(topper)
			tt.modify(race)
			got, err := Generate(race)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestPursuitOffset(t *testing.T) {
	tests := []struct {
		name     string
		base     int
		handicap int
		want     time.Duration
	}{
		{"topper vs optimist", 1831, 1369, 682 * time.Second},
		{"laser vs optimist", 1831, 1102, 1075 * time.Second},
		{"laser vs topper", 1369, 1102, 527 * time.Second},
		{"same class", 1831, 1831, 0},
		{"exact second is not rounded up", 1000, 500, 1350 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PursuitOffset(raceLength, tt.base, tt.handicap))
		})
	}
}

func TestPursuitClasses(t *testing.T) {
	t.Run("base synthesized first", func(t *testing.T) {
		got := PursuitClasses(&optimist, []model.DinghyClass{laser, topper})
		assert.Equal(t, []model.DinghyClass{optimist, topper, laser}, got)
	})
	t.Run("entered base not duplicated", func(t *testing.T) {
		got := PursuitClasses(&optimist, []model.DinghyClass{laser, optimist})
		assert.Equal(t, []model.DinghyClass{optimist, laser}, got)
	})
}

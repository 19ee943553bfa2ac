package signals

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
)

// pursuitSignals returns one sound signal per entered class that starts after the
// base class. The base class is the slowest class of the fleet and starts with the
// starting signal.
func pursuitSignals(race *model.Race) ([]model.Signal, error) {
	base, ok := race.Fleet.SlowestClass()
	if !ok {
		return nil, fmt.Errorf("race %d (%s): %w", race.ID, race.Name, ErrNoFleetClasses)
	}
	if base.Handicap <= 0 {
		return nil, fmt.Errorf("race %d (%s): class %s: %w",
			race.ID, race.Name, base.Name, ErrInvalidHandicap)
	}
	classes := PursuitClasses(&base, race.EnteredClasses)
	if len(classes) <= 1 {
		return nil, nil
	}
	if race.Duration <= 0 {
		return nil, fmt.Errorf("race %d (%s): %w", race.ID, race.Name, ErrInvalidDuration)
	}

	ret := make([]model.Signal, 0, len(classes)-1)
	for i := 1; i < len(classes); i++ {
		c := classes[i]
		if c.Handicap <= 0 {
			return nil, fmt.Errorf("race %d (%s): class %s: %w",
				race.ID, race.Name, c.Name, ErrInvalidHandicap)
		}
		if c.Handicap > base.Handicap {
			return nil, fmt.Errorf("race %d (%s): class %s (%d) vs %s (%d): %w",
				race.ID, race.Name, c.Name, c.Handicap, base.Name, base.Handicap,
				ErrSlowerThanBase)
		}
		ret = append(ret, model.Signal{
			RaceID:  race.ID,
			Meaning: fmt.Sprintf("%s start", c.Name),
			Time: race.PlannedStartTime.Add(
				PursuitOffset(race.Duration, base.Handicap, c.Handicap)),
			Sound: &model.SoundSignal{Description: SoundOne},
			Stage: model.StateNone,
		})
	}
	return ret, nil
}

// PursuitClasses returns the distinct entered classes with the base class first,
// followed by the others in start order (slowest first, fastest last).
// The base class is added if no entered class has the same name.
func PursuitClasses(base *model.DinghyClass, entered []model.DinghyClass) []model.DinghyClass {
	seen := map[string]bool{base.Name: true}
	others := make([]model.DinghyClass, 0, len(entered))
	for _, c := range entered {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		others = append(others, c)
	}
	slices.SortStableFunc(others, func(a, b model.DinghyClass) int {
		if r := cmp.Compare(b.Handicap, a.Handicap); r != 0 {
			return r
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return append([]model.DinghyClass{*base}, others...)
}

// PursuitOffset computes the delay of a class relative to the base class start
//
//	offset = ceil((d - d*handicap/baseHandicap) / 1s) * 1s
//
// Signals are defined with a precision of one second, so the result is rounded up.
func PursuitOffset(d time.Duration, baseHandicap, handicap int) time.Duration {
	ms := decimal.NewFromInt(d.Milliseconds())
	raw := ms.Sub(ms.Mul(decimal.NewFromInt(int64(handicap))).
		Div(decimal.NewFromInt(int64(baseHandicap))))
	secs := raw.Div(decimal.NewFromInt(1000)).Ceil()
	return time.Duration(secs.IntPart()) * time.Second
}

package model

import (
	"fmt"
	"strings"
	"time"
)

type (
	StartType int
	RaceType  int
)

const (
	StartTypeClubStart StartType = iota
	StartTypeRRS26
)

const (
	RaceTypeFleet RaceType = iota
	RaceTypePursuit
)

func (s StartType) String() string {
	switch s {
	case StartTypeClubStart:
		return "CLUB_START"
	case StartTypeRRS26:
		return "RRS26"
	default:
		return fmt.Sprintf("StartType(%d)", int(s))
	}
}

func ParseStartType(s string) (StartType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLUB_START", "CLUB":
		return StartTypeClubStart, nil
	case "RRS26":
		return StartTypeRRS26, nil
	default:
		return 0, fmt.Errorf("unknown start type %q", s)
	}
}

func (s StartType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StartType) UnmarshalText(text []byte) error {
	v, err := ParseStartType(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (r RaceType) String() string {
	switch r {
	case RaceTypeFleet:
		return "FLEET"
	case RaceTypePursuit:
		return "PURSUIT"
	default:
		return fmt.Sprintf("RaceType(%d)", int(r))
	}
}

func ParseRaceType(s string) (RaceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FLEET":
		return RaceTypeFleet, nil
	case "PURSUIT":
		return RaceTypePursuit, nil
	default:
		return 0, fmt.Errorf("unknown race type %q", s)
	}
}

func (r RaceType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RaceType) UnmarshalText(text []byte) error {
	v, err := ParseRaceType(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// DinghyClass is a boat class with its Portsmouth number.
// A lower handicap means a faster boat.
type DinghyClass struct {
	ID       int    `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Handicap int    `json:"handicap" yaml:"handicap"`
}

type Fleet struct {
	ID            int           `json:"id" yaml:"id"`
	Name          string        `json:"name" yaml:"name"`
	DinghyClasses []DinghyClass `json:"dinghyClasses" yaml:"dinghyClasses"`
}

// SlowestClass returns the class with the highest handicap.
// ok is false if the fleet has no classes.
func (f *Fleet) SlowestClass() (ret DinghyClass, ok bool) {
	for i, c := range f.DinghyClasses {
		if i == 0 || c.Handicap > ret.Handicap {
			ret = c
		}
	}
	return ret, len(f.DinghyClasses) > 0
}

type Race struct {
	ID               int           `json:"id"`
	Name             string        `json:"name"`
	PlannedStartTime time.Time     `json:"plannedStartTime"`
	StartType        StartType     `json:"startType"`
	RaceType         RaceType      `json:"raceType"`
	Duration         time.Duration `json:"duration"`
	Fleet            Fleet         `json:"fleet"`
	// only used for pursuit races
	EnteredClasses     []DinghyClass      `json:"enteredClasses,omitempty"`
	StartSequenceState StartSequenceState `json:"startSequenceState"`
}

// Entry is a competitor entered into a race.
type Entry struct {
	ID          int         `json:"id"`
	RaceID      int         `json:"raceId"`
	HelmName    string      `json:"helmName"`
	SailNumber  string      `json:"sailNumber"`
	DinghyClass DinghyClass `json:"dinghyClass"`
}

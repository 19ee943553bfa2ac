package model

import (
	"fmt"
	"strings"
	"time"
)

type (
	FlagState          int
	StartSequenceState int
)

const (
	FlagLowered FlagState = iota
	FlagRaised
)

const (
	StateNone StartSequenceState = iota
	StateWarningSignal
	StatePreparatorySignal
	StateOneMinute
	StateStartingSignal
)

func (f FlagState) String() string {
	switch f {
	case FlagLowered:
		return "LOWERED"
	case FlagRaised:
		return "RAISED"
	default:
		return fmt.Sprintf("FlagState(%d)", int(f))
	}
}

func (f FlagState) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *FlagState) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "LOWERED":
		*f = FlagLowered
	case "RAISED":
		*f = FlagRaised
	default:
		return fmt.Errorf("unknown flag state %q", string(text))
	}
	return nil
}

func (s StartSequenceState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateWarningSignal:
		return "WARNING_SIGNAL"
	case StatePreparatorySignal:
		return "PREPARATORY_SIGNAL"
	case StateOneMinute:
		return "ONE_MINUTE"
	case StateStartingSignal:
		return "STARTING_SIGNAL"
	default:
		return fmt.Sprintf("StartSequenceState(%d)", int(s))
	}
}

func ParseStartSequenceState(s string) (StartSequenceState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return StateNone, nil
	case "WARNING_SIGNAL":
		return StateWarningSignal, nil
	case "PREPARATORY_SIGNAL":
		return StatePreparatorySignal, nil
	case "ONE_MINUTE":
		return StateOneMinute, nil
	case "STARTING_SIGNAL":
		return StateStartingSignal, nil
	default:
		return StateNone, fmt.Errorf("unknown start sequence state %q", s)
	}
}

func (s StartSequenceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StartSequenceState) UnmarshalText(text []byte) error {
	v, err := ParseStartSequenceState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Flag is identified by its name. Races referencing the same name share the flag.
type Flag struct {
	Name string `json:"name"`
}

type SoundSignal struct {
	Description string `json:"description"`
}

type VisualSignal struct {
	Flags []Flag    `json:"flags"`
	State FlagState `json:"state"`
}

// Signal is a single flag and/or sound action at an absolute time.
// A signal without Visual is sound-only.
type Signal struct {
	RaceID  int           `json:"raceId"`
	Meaning string        `json:"meaning"`
	Time    time.Time     `json:"time"`
	Sound   *SoundSignal  `json:"sound,omitempty"`
	Visual  *VisualSignal `json:"visual,omitempty"`
	// the state a race enters when this signal is made, StateNone if the signal
	// does not change the race state
	Stage StartSequenceState `json:"stage"`
}

// FlagStatus is the consolidated state of a flag at an instant.
type FlagStatus struct {
	Flag  Flag      `json:"flag"`
	State FlagState `json:"state"`
	// signed; negative values refer to the past
	TimeToChange time.Duration `json:"timeToChange"`
	HasChange    bool          `json:"hasChange"`
}

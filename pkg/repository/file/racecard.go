package file

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
)

var ErrInvalidRaceCard = errors.New("invalid race card")

type (
	// RaceCard is the YAML representation of the races of a day.
	RaceCard struct {
		Classes []CardClass `yaml:"classes"`
		Fleets  []CardFleet `yaml:"fleets"`
		Races   []CardRace  `yaml:"races"`
	}
	CardClass struct {
		Name     string `yaml:"name"`
		Handicap int    `yaml:"handicap"`
	}
	CardFleet struct {
		Name    string   `yaml:"name"`
		Classes []string `yaml:"classes"`
	}
	CardRace struct {
		ID        int                      `yaml:"id,omitempty"`
		Name      string                   `yaml:"name"`
		Start     time.Time                `yaml:"start"`
		StartType model.StartType          `yaml:"startType"`
		RaceType  model.RaceType           `yaml:"raceType"`
		Duration  time.Duration            `yaml:"duration,omitempty"`
		Fleet     string                   `yaml:"fleet"`
		State     model.StartSequenceState `yaml:"state,omitempty"`
		Entries   []CardEntry              `yaml:"entries,omitempty"`
	}
	CardEntry struct {
		Helm       string `yaml:"helm"`
		SailNumber string `yaml:"sailNumber,omitempty"`
		Class      string `yaml:"class"`
	}
)

// ParseRaceCard decodes a YAML race card and resolves fleets and classes.
// Races without id are numbered after the highest given id.
func ParseRaceCard(data []byte) ([]*model.Race, []*model.Entry, error) {
	var card RaceCard
	if err := yaml.Unmarshal(data, &card); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRaceCard, err)
	}
	return card.resolve()
}

// NewRaceCard builds a race card from races and entries.
func NewRaceCard(races []*model.Race, entries []*model.Entry) *RaceCard {
	ret := &RaceCard{}
	knownClass := map[string]bool{}
	addClass := func(c model.DinghyClass) {
		if !knownClass[c.Name] {
			knownClass[c.Name] = true
			ret.Classes = append(ret.Classes, CardClass{Name: c.Name, Handicap: c.Handicap})
		}
	}
	knownFleet := map[string]bool{}
	for _, r := range races {
		if !knownFleet[r.Fleet.Name] {
			knownFleet[r.Fleet.Name] = true
			f := CardFleet{Name: r.Fleet.Name}
			for _, c := range r.Fleet.DinghyClasses {
				addClass(c)
				f.Classes = append(f.Classes, c.Name)
			}
			ret.Fleets = append(ret.Fleets, f)
		}
		cr := CardRace{
			ID:        r.ID,
			Name:      r.Name,
			Start:     r.PlannedStartTime,
			StartType: r.StartType,
			RaceType:  r.RaceType,
			Duration:  r.Duration,
			Fleet:     r.Fleet.Name,
			State:     r.StartSequenceState,
		}
		for _, e := range entries {
			if e.RaceID != r.ID {
				continue
			}
			addClass(e.DinghyClass)
			cr.Entries = append(cr.Entries, CardEntry{
				Helm: e.HelmName, SailNumber: e.SailNumber, Class: e.DinghyClass.Name,
			})
		}
		ret.Races = append(ret.Races, cr)
	}
	return ret
}

// Marshal encodes the race card as YAML, readable by ParseRaceCard.
func (card *RaceCard) Marshal() ([]byte, error) {
	return yaml.Marshal(card)
}

//nolint:funlen,cyclop // validation
func (card *RaceCard) resolve() ([]*model.Race, []*model.Entry, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidRaceCard, fmt.Sprintf(format, args...))
	}
	classes := make(map[string]model.DinghyClass, len(card.Classes))
	for i, c := range card.Classes {
		if _, ok := classes[c.Name]; ok {
			return nil, nil, invalid("duplicate class %q", c.Name)
		}
		classes[c.Name] = model.DinghyClass{ID: i + 1, Name: c.Name, Handicap: c.Handicap}
	}
	fleets := make(map[string]model.Fleet, len(card.Fleets))
	for i, f := range card.Fleets {
		if _, ok := fleets[f.Name]; ok {
			return nil, nil, invalid("duplicate fleet %q", f.Name)
		}
		fleet := model.Fleet{ID: i + 1, Name: f.Name, DinghyClasses: []model.DinghyClass{}}
		for _, name := range f.Classes {
			c, ok := classes[name]
			if !ok {
				return nil, nil, invalid("fleet %q: unknown class %q", f.Name, name)
			}
			fleet.DinghyClasses = append(fleet.DinghyClasses, c)
		}
		fleets[f.Name] = fleet
	}

	nextID := 0
	for _, r := range card.Races {
		nextID = max(nextID, r.ID)
	}
	races := make([]*model.Race, 0, len(card.Races))
	entries := make([]*model.Entry, 0)
	usedIDs := map[int]bool{}
	for _, r := range card.Races {
		fleet, ok := fleets[r.Fleet]
		if !ok {
			return nil, nil, invalid("race %q: unknown fleet %q", r.Name, r.Fleet)
		}
		id := r.ID
		if id == 0 {
			nextID++
			id = nextID
		}
		if usedIDs[id] {
			return nil, nil, invalid("race %q: duplicate id %d", r.Name, id)
		}
		usedIDs[id] = true
		fleet.DinghyClasses = append([]model.DinghyClass{}, fleet.DinghyClasses...)
		races = append(races, &model.Race{
			ID:                 id,
			Name:               r.Name,
			PlannedStartTime:   r.Start,
			StartType:          r.StartType,
			RaceType:           r.RaceType,
			Duration:           r.Duration,
			Fleet:              fleet,
			StartSequenceState: r.State,
		})
		for _, e := range r.Entries {
			c, ok := classes[e.Class]
			if !ok {
				return nil, nil, invalid("race %q: entry %q: unknown class %q",
					r.Name, e.Helm, e.Class)
			}
			entries = append(entries, &model.Entry{
				ID:          len(entries) + 1,
				RaceID:      id,
				HelmName:    e.Helm,
				SailNumber:  e.SailNumber,
				DinghyClass: c,
			})
		}
	}
	return races, entries, nil
}

// Package session merges the signals of all races of a session and derives the
// shared state of every flag.
package session

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
)

type (
	transition struct {
		at     time.Time
		state  model.FlagState
		raceID int
	}
	flagTimeline struct {
		flag        model.Flag
		transitions []transition // ordered by time
	}
	// Consolidator is an immutable view on the signals of a session.
	Consolidator struct {
		signals   []model.Signal
		timelines map[string]*flagTimeline
	}
)

// New pools the signals of all races. perRace is expected in race order, the
// order of signals with identical times is kept.
func New(perRace ...[]model.Signal) *Consolidator {
	ret := &Consolidator{
		signals:   make([]model.Signal, 0),
		timelines: make(map[string]*flagTimeline),
	}
	for _, sigs := range perRace {
		ret.signals = append(ret.signals, sigs...)
	}
	slices.SortStableFunc(ret.signals, func(a, b model.Signal) int {
		return a.Time.Compare(b.Time)
	})
	for i := range ret.signals {
		s := &ret.signals[i]
		if s.Visual == nil {
			continue
		}
		for _, f := range s.Visual.Flags {
			tl, ok := ret.timelines[f.Name]
			if !ok {
				tl = &flagTimeline{flag: f}
				ret.timelines[f.Name] = tl
			}
			tl.transitions = append(tl.transitions,
				transition{at: s.Time, state: s.Visual.State, raceID: s.RaceID})
		}
	}
	return ret
}

// Signals returns all signals of the session ordered by time.
func (c *Consolidator) Signals() []model.Signal {
	return slices.Clone(c.signals)
}

// Flags returns the names of all flags referenced by the session
func (c *Consolidator) Flags() []string {
	ret := lo.Keys(c.timelines)
	slices.Sort(ret)
	return ret
}

// DueBetween returns the signals with from < time <= to.
func (c *Consolidator) DueBetween(from, to time.Time) []model.Signal {
	return lo.Filter(c.signals, func(s model.Signal, _ int) bool {
		return s.Time.After(from) && !s.Time.After(to)
	})
}

// NextAfter returns the signals at the earliest instant after t.
func (c *Consolidator) NextAfter(t time.Time) ([]model.Signal, bool) {
	idx := slices.IndexFunc(c.signals, func(s model.Signal) bool {
		return s.Time.After(t)
	})
	if idx == -1 {
		return nil, false
	}
	at := c.signals[idx].Time
	ret := lo.Filter(c.signals[idx:], func(s model.Signal, _ int) bool {
		return s.Time.Equal(at)
	})
	return ret, true
}

// FlagStatesAt returns the consolidated state of every flag at instant t.
//
// A flag used by several races, like the preparatory flag, is only lowered once
// no race raises it again later in the session. It therefore stays raised between
// two races even when they are hours apart: with starts at 10:30 and 14:00 the
// preparatory flag is still reported raised at 12:00.
func (c *Consolidator) FlagStatesAt(t time.Time) map[string]model.FlagState {
	ret := make(map[string]model.FlagState, len(c.timelines))
	for name, tl := range c.timelines {
		ret[name] = tl.stateAt(t)
	}
	return ret
}

// FlagStatesWithNextActionAt returns the state of every flag together with the
// time until its next effective change, ordered by flag name.
// Shared flags follow the rules of FlagStatesAt.
func (c *Consolidator) FlagStatesWithNextActionAt(t time.Time) []model.FlagStatus {
	ret := make([]model.FlagStatus, 0, len(c.timelines))
	for _, tl := range c.timelines {
		ret = append(ret, tl.statusAt(t))
	}
	slices.SortFunc(ret, func(a, b model.FlagStatus) int {
		return cmp.Compare(a.Flag.Name, b.Flag.Name)
	})
	return ret
}

// A flag is raised once any race raised it. A lowering only takes effect if no race
// raises the flag at the same time or later, so a shared flag stays up until the
// last race releases it.
func (tl *flagTimeline) stateAt(t time.Time) model.FlagState {
	raised := false
	for _, tr := range tl.transitions {
		if tr.at.After(t) {
			break
		}
		switch tr.state {
		case model.FlagRaised:
			raised = true
		case model.FlagLowered:
			if raised && tl.isEffectiveLower(tr.at) {
				raised = false
			}
		}
	}
	if raised {
		return model.FlagRaised
	}
	return model.FlagLowered
}

func (tl *flagTimeline) isEffectiveLower(at time.Time) bool {
	return !slices.ContainsFunc(tl.transitions, func(tr transition) bool {
		return tr.state == model.FlagRaised && !tr.at.Before(at)
	})
}

// contradictory reports whether races disagree about the flag at instant at.
func (tl *flagTimeline) contradictory(at time.Time) bool {
	var up, down bool
	for _, tr := range tl.transitions {
		if !tr.at.Equal(at) {
			continue
		}
		switch tr.state {
		case model.FlagRaised:
			up = true
		case model.FlagLowered:
			down = true
		}
	}
	return up && down
}

func (tl *flagTimeline) statusAt(t time.Time) model.FlagStatus {
	state := tl.stateAt(t)
	ret := model.FlagStatus{Flag: tl.flag, State: state}

	// raised: the flag changes when the last race releases it
	// lowered: the flag changes when the next race raises it
	want := model.FlagLowered
	pick := func(cand, cur time.Time) bool { return cand.After(cur) }
	if state == model.FlagLowered {
		want = model.FlagRaised
		pick = func(cand, cur time.Time) bool { return cand.Before(cur) }
	}
	var next *time.Time
	for i := range tl.transitions {
		tr := &tl.transitions[i]
		if tr.state != want || !tr.at.After(t) || tl.contradictory(tr.at) {
			continue
		}
		if next == nil || pick(tr.at, *next) {
			next = &tr.at
		}
	}
	if next != nil {
		ret.HasChange = true
		ret.TimeToChange = next.Sub(t)
		return ret
	}
	// nothing ahead: report the most recent transition (negative)
	for i := len(tl.transitions) - 1; i >= 0; i-- {
		if !tl.transitions[i].at.After(t) {
			ret.TimeToChange = tl.transitions[i].at.Sub(t)
			break
		}
	}
	return ret
}

// Package repository defines the access to races, fleets and entries.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
)

var ErrRaceNotFound = errors.New("race not found")

// RaceRepository provides races with their fleet and dinghy classes resolved.
type RaceRepository interface {
	// RacesOnOrAfter returns the races starting at or after t ordered by start time.
	RacesOnOrAfter(ctx context.Context, t time.Time) ([]*model.Race, error)
	// RacesBetween returns the races with start <= planned start < end.
	RacesBetween(ctx context.Context, start, end time.Time) ([]*model.Race, error)
	EntriesByRace(ctx context.Context, raceID int) ([]*model.Entry, error)
	// UpdateStartSequenceState returns ErrRaceNotFound for unknown races.
	UpdateStartSequenceState(
		ctx context.Context,
		raceID int,
		state model.StartSequenceState,
	) error
}

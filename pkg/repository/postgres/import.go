//nolint:whitespace // can't make both editor and linter happy
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
)

// Import stores races and entries in a single transaction. Fleets are matched by
// name. The given races and entries are not modified, the stored copies carrying
// the database ids are returned.
func Import(
	ctx context.Context,
	pool *pgxpool.Pool,
	races []*model.Race,
	entries []*model.Entry,
) ([]*model.Race, []*model.Entry, error) {
	var storedRaces []*model.Race
	var storedEntries []*model.Entry
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		storedRaces = make([]*model.Race, 0, len(races))
		storedEntries = make([]*model.Entry, 0, len(entries))
		fleets := make(map[string]model.Fleet)
		raceIDs := make(map[int]int)
		for _, orig := range races {
			r := cloneRace(orig)
			fleet, ok := fleets[r.Fleet.Name]
			if !ok {
				if err := ensureFleet(ctx, tx, &r.Fleet); err != nil {
					return fmt.Errorf("fleet %s: %w", r.Fleet.Name, err)
				}
				fleet = r.Fleet
				fleets[fleet.Name] = fleet
			}
			r.Fleet.ID = fleet.ID
			r.Fleet.DinghyClasses = slices.Clone(fleet.DinghyClasses)
			if err := CreateRace(ctx, tx, r); err != nil {
				return fmt.Errorf("race %s: %w", r.Name, err)
			}
			raceIDs[orig.ID] = r.ID
			storedRaces = append(storedRaces, r)
		}
		for _, orig := range entries {
			e := *orig
			raceID, ok := raceIDs[e.RaceID]
			if !ok {
				return fmt.Errorf("entry %s: unknown race %d", e.HelmName, e.RaceID)
			}
			e.RaceID = raceID
			if err := EnsureDinghyClass(ctx, tx, &e.DinghyClass); err != nil {
				return fmt.Errorf("entry %s: %w", e.HelmName, err)
			}
			if err := CreateEntry(ctx, tx, &e); err != nil {
				return fmt.Errorf("entry %s: %w", e.HelmName, err)
			}
			storedEntries = append(storedEntries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return storedRaces, storedEntries, nil
}

func cloneRace(r *model.Race) *model.Race {
	ret := *r
	ret.Fleet.DinghyClasses = slices.Clone(r.Fleet.DinghyClasses)
	ret.EnteredClasses = slices.Clone(r.EnteredClasses)
	return &ret
}

func ensureFleet(ctx context.Context, tx pgx.Tx, fleet *model.Fleet) error {
	err := tx.QueryRow(ctx, "select id from fleet where name=$1", fleet.Name).
		Scan(&fleet.ID)
	switch {
	case err == nil:
		for i := range fleet.DinghyClasses {
			if err := EnsureDinghyClass(ctx, tx, &fleet.DinghyClasses[i]); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
			insert into fleet_dinghy_class (fleet_id, dinghy_class_id) values ($1,$2)
			on conflict do nothing
			`, fleet.ID, fleet.DinghyClasses[i].ID); err != nil {
				return err
			}
		}
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return CreateFleet(ctx, tx, fleet)
	default:
		return err
	}
}

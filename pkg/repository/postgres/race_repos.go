//nolint:whitespace // can't make both editor and linter happy
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository"
)

// Repository implements repository.RaceRepository on a postgres database.
type Repository struct {
	conn repository.Querier
}

var _ repository.RaceRepository = (*Repository)(nil)

func New(conn repository.Querier) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) RacesOnOrAfter(ctx context.Context, t time.Time) (
	[]*model.Race, error,
) {
	return LoadRaces(ctx, r.conn, "where r.planned_start_time >= $1", t)
}

func (r *Repository) RacesBetween(ctx context.Context, start, end time.Time) (
	[]*model.Race, error,
) {
	return LoadRaces(ctx, r.conn,
		"where r.planned_start_time >= $1 and r.planned_start_time < $2", start, end)
}

func (r *Repository) EntriesByRace(ctx context.Context, raceID int) (
	[]*model.Entry, error,
) {
	return LoadEntriesByRace(ctx, r.conn, raceID)
}

func (r *Repository) UpdateStartSequenceState(
	ctx context.Context,
	raceID int,
	state model.StartSequenceState,
) error {
	n, err := UpdateStartSequenceState(ctx, r.conn, raceID, state)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("race %d: %w", raceID, repository.ErrRaceNotFound)
	}
	return nil
}

const raceSelector = `
select r.id, r.name, r.planned_start_time, r.start_type, r.race_type,
	r.duration_ms, r.start_sequence_state, f.id, f.name
from race r join fleet f on f.id = r.fleet_id
`

// LoadRaces loads the races matching the where clause together with the
// dinghy classes of their fleets.
func LoadRaces(
	ctx context.Context,
	conn repository.Querier,
	where string,
	args ...any,
) ([]*model.Race, error) {
	rows, err := conn.Query(ctx,
		fmt.Sprintf("%s %s order by r.planned_start_time, r.id", raceSelector, where),
		args...)
	if err != nil {
		return nil, err
	}
	ret, err := pgx.CollectRows(rows, scanRace)
	if err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return ret, nil
	}

	fleetIDs := lo.Uniq(lo.Map(ret, func(r *model.Race, _ int) int { return r.Fleet.ID }))
	classes, err := LoadFleetClasses(ctx, conn, fleetIDs)
	if err != nil {
		return nil, err
	}
	for _, r := range ret {
		r.Fleet.DinghyClasses = classes[r.Fleet.ID]
	}
	return ret, nil
}

// LoadFleetClasses returns the dinghy classes per fleet id, ordered by name.
func LoadFleetClasses(
	ctx context.Context,
	conn repository.Querier,
	fleetIDs []int,
) (map[int][]model.DinghyClass, error) {
	rows, err := conn.Query(ctx, `
	select fdc.fleet_id, c.id, c.name, c.handicap
	from fleet_dinghy_class fdc join dinghy_class c on c.id = fdc.dinghy_class_id
	where fdc.fleet_id = any($1)
	order by fdc.fleet_id, c.name
	`, fleetIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make(map[int][]model.DinghyClass)
	for rows.Next() {
		var fleetID int
		var c model.DinghyClass
		if err := rows.Scan(&fleetID, &c.ID, &c.Name, &c.Handicap); err != nil {
			return nil, err
		}
		ret[fleetID] = append(ret[fleetID], c)
	}
	return ret, rows.Err()
}

func LoadEntriesByRace(
	ctx context.Context,
	conn repository.Querier,
	raceID int,
) ([]*model.Entry, error) {
	rows, err := conn.Query(ctx, `
	select e.id, e.race_id, e.helm_name, e.sail_number, c.id, c.name, c.handicap
	from entry e join dinghy_class c on c.id = e.dinghy_class_id
	where e.race_id = $1
	order by e.id
	`, raceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Entry, error) {
		var e model.Entry
		err := row.Scan(&e.ID, &e.RaceID, &e.HelmName, &e.SailNumber,
			&e.DinghyClass.ID, &e.DinghyClass.Name, &e.DinghyClass.Handicap)
		return &e, err
	})
}

// UpdateStartSequenceState returns the number of updated rows.
func UpdateStartSequenceState(
	ctx context.Context,
	conn repository.Querier,
	raceID int,
	state model.StartSequenceState,
) (int, error) {
	cmdTag, err := conn.Exec(ctx,
		"update race set start_sequence_state=$1 where id=$2",
		state.String(), raceID)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

func scanRace(row pgx.CollectableRow) (*model.Race, error) {
	var item model.Race
	var startType, raceType, state string
	var durationMs int64
	if err := row.Scan(
		&item.ID, &item.Name, &item.PlannedStartTime, &startType, &raceType,
		&durationMs, &state, &item.Fleet.ID, &item.Fleet.Name,
	); err != nil {
		return nil, err
	}
	var err error
	if item.StartType, err = model.ParseStartType(startType); err != nil {
		return nil, fmt.Errorf("race %d: %w", item.ID, err)
	}
	if item.RaceType, err = model.ParseRaceType(raceType); err != nil {
		return nil, fmt.Errorf("race %d: %w", item.ID, err)
	}
	if item.StartSequenceState, err = model.ParseStartSequenceState(state); err != nil {
		return nil, fmt.Errorf("race %d: %w", item.ID, err)
	}
	item.Duration = time.Duration(durationMs) * time.Millisecond
	return &item, nil
}

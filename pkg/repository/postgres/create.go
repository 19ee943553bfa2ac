//nolint:whitespace // can't make both editor and linter happy
package postgres

import (
	"context"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository"
)

// EnsureDinghyClass creates the class or updates the handicap of an existing class
// with the same name. The id of the stored class is written back to c.
func EnsureDinghyClass(
	ctx context.Context,
	conn repository.Querier,
	c *model.DinghyClass,
) error {
	row := conn.QueryRow(ctx, `
	insert into dinghy_class (name, handicap) values ($1,$2)
	on conflict (name) do update set handicap=excluded.handicap
	returning id
	`, c.Name, c.Handicap)
	return row.Scan(&c.ID)
}

// CreateFleet stores the fleet and links its classes. Classes are created as needed.
func CreateFleet(ctx context.Context, conn repository.Querier, fleet *model.Fleet) error {
	row := conn.QueryRow(ctx,
		"insert into fleet (name) values ($1) returning id", fleet.Name)
	if err := row.Scan(&fleet.ID); err != nil {
		return err
	}
	for i := range fleet.DinghyClasses {
		if err := EnsureDinghyClass(ctx, conn, &fleet.DinghyClasses[i]); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, `
		insert into fleet_dinghy_class (fleet_id, dinghy_class_id) values ($1,$2)
		`, fleet.ID, fleet.DinghyClasses[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// CreateRace stores the race. The fleet must already exist.
func CreateRace(ctx context.Context, conn repository.Querier, race *model.Race) error {
	row := conn.QueryRow(ctx, `
	insert into race (
		name, planned_start_time, start_type, race_type, duration_ms, fleet_id,
		start_sequence_state
	) values ($1,$2,$3,$4,$5,$6,$7)
	returning id
	`,
		race.Name, race.PlannedStartTime, race.StartType.String(),
		race.RaceType.String(), race.Duration.Milliseconds(), race.Fleet.ID,
		race.StartSequenceState.String(),
	)
	return row.Scan(&race.ID)
}

// CreateEntry stores the entry. Race and dinghy class must already exist.
func CreateEntry(ctx context.Context, conn repository.Querier, entry *model.Entry) error {
	row := conn.QueryRow(ctx, `
	insert into entry (race_id, helm_name, sail_number, dinghy_class_id)
	values ($1,$2,$3,$4)
	returning id
	`, entry.RaceID, entry.HelmName, entry.SailNumber, entry.DinghyClass.ID)
	return row.Scan(&entry.ID)
}

// DeleteRaceByID returns the number of deleted rows. Entries are removed as well.
func DeleteRaceByID(ctx context.Context, conn repository.Querier, id int) (int, error) {
	cmdTag, err := conn.Exec(ctx, "delete from race where id=$1", id)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

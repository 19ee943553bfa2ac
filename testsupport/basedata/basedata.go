package basedata

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	pgrepos "github.com/mpapenbr/racestart-manager-go/pkg/repository/postgres"
)

// SessionDay is the day all sample races take place.
func SessionDay() time.Time {
	return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
}

func At(hh, mm, ss int) time.Time {
	return SessionDay().Add(
		time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute +
			time.Duration(ss)*time.Second)
}

func Laser() model.DinghyClass {
	return model.DinghyClass{ID: 1, Name: "Laser", Handicap: 1102}
}

func Topper() model.DinghyClass {
	return model.DinghyClass{ID: 2, Name: "Topper", Handicap: 1369}
}

func Optimist() model.DinghyClass {
	return model.DinghyClass{ID: 3, Name: "Optimist", Handicap: 1831}
}

func Scorpion() model.DinghyClass {
	return model.DinghyClass{ID: 4, Name: "Scorpion", Handicap: 1044}
}

func ScorpionFleet() model.Fleet {
	return model.Fleet{ID: 1, Name: "Scorpion", DinghyClasses: []model.DinghyClass{Scorpion()}}
}

func HandicapFleet() model.Fleet {
	return model.Fleet{
		ID:            2,
		Name:          "Handicap",
		DinghyClasses: []model.DinghyClass{Laser(), Optimist(), Topper()},
	}
}

// SampleRaces returns a Scorpion club start at 10:30 and a Handicap pursuit at 10:45.
// The pursuit race has no entered classes, they are derived from SampleEntries.
func SampleRaces() []*model.Race {
	return []*model.Race{
		{
			ID:               1,
			Name:             "Scorpion A",
			PlannedStartTime: At(10, 30, 0),
			StartType:        model.StartTypeClubStart,
			RaceType:         model.RaceTypeFleet,
			Duration:         45 * time.Minute,
			Fleet:            ScorpionFleet(),
		},
		{
			ID:               2,
			Name:             "Handicap",
			PlannedStartTime: At(10, 45, 0),
			StartType:        model.StartTypeClubStart,
			RaceType:         model.RaceTypePursuit,
			Duration:         2700000 * time.Millisecond,
			Fleet:            HandicapFleet(),
		},
	}
}

func SampleEntries() []*model.Entry {
	return []*model.Entry{
		{ID: 1, RaceID: 1, HelmName: "Alice", SailNumber: "1234", DinghyClass: Scorpion()},
		{ID: 2, RaceID: 2, HelmName: "Bob", SailNumber: "200", DinghyClass: Laser()},
		{ID: 3, RaceID: 2, HelmName: "Carol", SailNumber: "301", DinghyClass: Topper()},
		{ID: 4, RaceID: 2, HelmName: "Dave", SailNumber: "302", DinghyClass: Topper()},
	}
}

// CreateSampleData stores SampleRaces and SampleEntries and returns the stored races.
func CreateSampleData(ctx context.Context, pool *pgxpool.Pool) ([]*model.Race, error) {
	races, _, err := pgrepos.Import(ctx, pool, SampleRaces(), SampleEntries())
	return races, err
}

//nolint:whitespace //can't make both the linter and editor happy :(
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/engine"
	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository"
)

type (
	Option func(*StartSequenceService)

	// StartSequenceService prepares the races of a session and creates the engine
	// running their start sequences.
	StartSequenceService struct {
		repo       repository.RaceRepository
		l          *log.Logger
		engineOpts []engine.Option
	}
)

func WithLogger(l *log.Logger) Option {
	return func(s *StartSequenceService) {
		s.l = l
	}
}

// WithEngineOptions are applied to every engine created by NewEngine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *StartSequenceService) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

func NewStartSequenceService(
	repo repository.RaceRepository,
	opts ...Option,
) *StartSequenceService {
	ret := &StartSequenceService{
		repo: repo,
		l:    log.Default().Named("service"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// LoadRaces returns the races starting in [from, from+window). A window <= 0 loads
// every race starting at or after from. Pursuit races get their entered classes
// from the entries of the race.
func (s *StartSequenceService) LoadRaces(
	ctx context.Context,
	from time.Time,
	window time.Duration,
) ([]*model.Race, error) {
	var races []*model.Race
	var err error
	if window > 0 {
		races, err = s.repo.RacesBetween(ctx, from, from.Add(window))
	} else {
		races, err = s.repo.RacesOnOrAfter(ctx, from)
	}
	if err != nil {
		return nil, fmt.Errorf("loading races: %w", err)
	}
	for _, r := range races {
		if r.RaceType != model.RaceTypePursuit {
			continue
		}
		if r.EnteredClasses, err = s.EnteredClasses(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	s.l.Debug("races loaded",
		log.Time("from", from),
		log.Duration("window", window),
		log.Int("races", len(races)))
	return races, nil
}

// EnteredClasses returns the distinct dinghy classes of the entries of a race.
func (s *StartSequenceService) EnteredClasses(
	ctx context.Context,
	raceID int,
) ([]model.DinghyClass, error) {
	entries, err := s.repo.EntriesByRace(ctx, raceID)
	if err != nil {
		return nil, fmt.Errorf("loading entries of race %d: %w", raceID, err)
	}
	classes := lo.Map(entries, func(e *model.Entry, _ int) model.DinghyClass {
		return e.DinghyClass
	})
	return lo.UniqBy(classes, func(c model.DinghyClass) string { return c.Name }), nil
}

// NewEngine loads the races of the window and creates an engine for them. State
// changes are written back to the repository.
func (s *StartSequenceService) NewEngine(
	ctx context.Context,
	from time.Time,
	window time.Duration,
) (*engine.Engine, error) {
	races, err := s.LoadRaces(ctx, from, window)
	if err != nil {
		return nil, err
	}
	opts := append([]engine.Option{engine.WithStateUpdater(s.repo)}, s.engineOpts...)
	e, err := engine.New(races, opts...)
	if err != nil {
		return nil, err
	}
	s.l.Info("engine created",
		log.String("engine", e.ID()),
		log.Int("races", len(races)),
		log.Int("signals", len(e.Signals())))
	return e, nil
}

// StartOfDay returns midnight of the day of t in its location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Package file provides a race repository backed by a YAML race card.
// Start sequence states are kept in memory only.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository"
)

type (
	Option func(*Repository)

	Repository struct {
		path     string
		l        *log.Logger
		onReload func()

		mu      sync.RWMutex
		races   []*model.Race
		entries []*model.Entry
		// states set by UpdateStartSequenceState, survive reloads
		states map[int]model.StartSequenceState
	}
)

var _ repository.RaceRepository = (*Repository)(nil)

func WithLogger(l *log.Logger) Option {
	return func(r *Repository) {
		r.l = l
	}
}

// WithReloadHandler registers fn to be called after the race card was reloaded
// by Watch.
func WithReloadHandler(fn func()) Option {
	return func(r *Repository) {
		r.onReload = fn
	}
}

// OnReload replaces the handler called after Watch reloaded the race card.
func (r *Repository) OnReload(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = fn
}

// New reads the race card at path.
func New(path string, opts ...Option) (*Repository, error) {
	ret := &Repository{
		path:   path,
		l:      log.Default().Named("racecard"),
		states: make(map[int]model.StartSequenceState),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if err := ret.Reload(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Reload reads the race card again. On error the previous content is kept.
func (r *Repository) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	races, entries, err := ParseRaceCard(data)
	if err != nil {
		return fmt.Errorf("%s: %w", r.path, err)
	}
	slices.SortStableFunc(races, func(a, b *model.Race) int {
		return a.PlannedStartTime.Compare(b.PlannedStartTime)
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	r.races = races
	r.entries = entries
	r.l.Info("race card loaded",
		log.String("file", r.path),
		log.Int("races", len(races)),
		log.Int("entries", len(entries)))
	return nil
}

// Watch reloads the race card whenever the file changes until ctx is done.
//
//nolint:gocognit // event loop
func (r *Repository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// editors often replace the file, so the directory is watched
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(r.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				r.l.Debug("context done, stopping race card watcher")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target ||
					!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				r.l.Info("race card changed, reloading", log.String("file", event.Name))
				if err := r.Reload(); err != nil {
					r.l.Error("could not reload race card", log.ErrorField(err))
					continue
				}
				r.mu.RLock()
				onReload := r.onReload
				r.mu.RUnlock()
				if onReload != nil {
					onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.l.Error("watcher error", log.ErrorField(err))
			}
		}
	}()
	return nil
}

// Races returns copies of all races of the race card.
func (r *Repository) Races() []*model.Race {
	return r.filter(func(*model.Race) bool { return true })
}

// Entries returns copies of all entries of the race card.
func (r *Repository) Entries() []*model.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]*model.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		item := *e
		ret = append(ret, &item)
	}
	return ret
}

func (r *Repository) RacesOnOrAfter(_ context.Context, t time.Time) (
	[]*model.Race, error,
) {
	return r.filter(func(race *model.Race) bool {
		return !race.PlannedStartTime.Before(t)
	}), nil
}

func (r *Repository) RacesBetween(_ context.Context, start, end time.Time) (
	[]*model.Race, error,
) {
	return r.filter(func(race *model.Race) bool {
		return !race.PlannedStartTime.Before(start) && race.PlannedStartTime.Before(end)
	}), nil
}

func (r *Repository) EntriesByRace(_ context.Context, raceID int) (
	[]*model.Entry, error,
) {
	ret := make([]*model.Entry, 0)
	for _, e := range r.Entries() {
		if e.RaceID == raceID {
			ret = append(ret, e)
		}
	}
	return ret, nil
}

//nolint:whitespace // can't make both editor and linter happy
func (r *Repository) UpdateStartSequenceState(
	_ context.Context,
	raceID int,
	state model.StartSequenceState,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.ContainsFunc(r.races, func(race *model.Race) bool {
		return race.ID == raceID
	}) {
		return fmt.Errorf("race %d: %w", raceID, repository.ErrRaceNotFound)
	}
	r.states[raceID] = state
	return nil
}

func (r *Repository) filter(keep func(*model.Race) bool) []*model.Race {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]*model.Race, 0)
	for _, race := range r.races {
		if !keep(race) {
			continue
		}
		item := *race
		item.Fleet.DinghyClasses = slices.Clone(race.Fleet.DinghyClasses)
		if state, ok := r.states[race.ID]; ok {
			item.StartSequenceState = state
		}
		ret = append(ret, &item)
	}
	return ret
}

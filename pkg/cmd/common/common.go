// Package common holds the setup shared by the commands.
package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxtrace"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/config"
	"github.com/mpapenbr/racestart-manager-go/pkg/db/postgres"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository/file"
	pgrepos "github.com/mpapenbr/racestart-manager-go/pkg/repository/postgres"
	"github.com/mpapenbr/racestart-manager-go/pkg/service"
	"github.com/mpapenbr/racestart-manager-go/pkg/utils"
)

// Repository holds the configured race repository. Exactly one of Pool and File
// is set.
type Repository struct {
	repository.RaceRepository
	Pool *pgxpool.Pool
	File *file.Repository
}

func (r *Repository) Close() {
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// OpenRepository uses the race card if configured, the database otherwise.
func OpenRepository(ctx context.Context, withTelemetry bool) (*Repository, error) {
	if config.RacesFile != "" {
		repo, err := file.New(config.RacesFile,
			file.WithLogger(log.Default().Named("racecard")))
		if err != nil {
			return nil, err
		}
		return &Repository{RaceRepository: repo, File: repo}, nil
	}
	pool, err := OpenPool(ctx, withTelemetry)
	if err != nil {
		return nil, err
	}
	return &Repository{RaceRepository: pgrepos.New(pool), Pool: pool}, nil
}

// OpenPool waits for the database and connects to it. SQL statements are logged
// with the sql log level, with telemetry they are traced as well.
func OpenPool(ctx context.Context, withTelemetry bool) (*pgxpool.Pool, error) {
	if err := WaitForRequiredServices(ctx); err != nil {
		return nil, err
	}
	tracer := pgxtrace.CompositeQueryTracer{
		postgres.NewMyTracer(config.NewLogger(config.SQLLogLevel).Named("sql"),
			log.DebugLevel),
	}
	if withTelemetry {
		tracer = append(tracer, postgres.NewOtlpTracer())
	}
	return postgres.InitWithURL(ctx, config.DB, postgres.WithTracer(tracer))
}

// WaitForRequiredServices waits for the database and NATS if they are configured.
func WaitForRequiredServices(ctx context.Context) error {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}
	addrs := []string{}
	if config.RacesFile == "" {
		if addr := utils.ExtractFromDBURL(config.DB); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	if addr := utils.ExtractFromNatsURL(config.NatsURL); addr != "" {
		addrs = append(addrs, addr)
	}

	wg := sync.WaitGroup{}
	errs := make(chan error, len(addrs))
	for _, addr := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- utils.WaitForTCP(ctx, addr, timeout)
		}()
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return fmt.Errorf("required services not ready: %w", err)
		}
	}
	log.Debug("Required services are available")
	return nil
}

// SessionWindow resolves the configured day and window. The day defaults to the
// day of now.
func SessionWindow(now time.Time) (from time.Time, window time.Duration, err error) {
	from = service.StartOfDay(now)
	if config.Day != "" {
		if from, err = time.ParseInLocation(time.DateOnly, config.Day, now.Location()); err != nil {
			return from, 0, fmt.Errorf("invalid day %q: %w", config.Day, err)
		}
	}
	window = 24 * time.Hour
	if config.Window != "" {
		if window, err = time.ParseDuration(config.Window); err != nil {
			return from, 0, fmt.Errorf("invalid window %q: %w", config.Window, err)
		}
	}
	return from, window, nil
}

// TickInterval parses the configured interval of the engine clock.
func TickInterval() (time.Duration, error) {
	d, err := time.ParseDuration(config.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid tick-interval %q: %w", config.TickInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid tick-interval %q: must be positive", config.TickInterval)
	}
	return d, nil
}

// SimulationStart parses SimulateFrom. ok is false if no simulation is configured.
func SimulationStart() (t time.Time, ok bool, err error) {
	if config.SimulateFrom == "" {
		return t, false, nil
	}
	t, err = time.Parse(time.RFC3339, config.SimulateFrom)
	if err != nil {
		return t, false, fmt.Errorf("invalid simulate-from %q: %w", config.SimulateFrom, err)
	}
	return t, true, nil
}

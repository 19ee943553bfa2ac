package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/clock"
	"github.com/mpapenbr/racestart-manager-go/pkg/cmd/common"
	"github.com/mpapenbr/racestart-manager-go/pkg/config"
	"github.com/mpapenbr/racestart-manager-go/pkg/endpoints/public"
	"github.com/mpapenbr/racestart-manager-go/pkg/engine"
	natspub "github.com/mpapenbr/racestart-manager-go/pkg/publish/nats"
	"github.com/mpapenbr/racestart-manager-go/pkg/service"
)

var autoStart bool

func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "runs the start sequences of the day and serves their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.Addr,
		"addr",
		"a",
		"localhost:8080",
		"listen addr for the HTTP server")
	cmd.Flags().StringVar(&config.TLSCertFile,
		"tls-cert",
		"",
		"file containing the TLS certificate, enables TLS together with --tls-key")
	cmd.Flags().StringVar(&config.TLSKeyFile,
		"tls-key",
		"",
		"file containing the TLS key")
	cmd.Flags().StringVar(&config.TraefikCerts,
		"traefik-certs",
		"",
		"traefik acme.json the TLS certificate is read from")
	cmd.Flags().StringVar(&config.TraefikCertDomain,
		"traefik-domain",
		"",
		"main domain of the certificate in --traefik-certs")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"NATS server url, state changes are published if set")
	cmd.Flags().StringVar(&config.NatsPrefix,
		"nats-prefix",
		natspub.DefaultPrefix,
		"subject prefix for published messages")
	cmd.Flags().BoolVar(&config.NatsSnapshots,
		"nats-snapshots",
		false,
		"publish every snapshot, not only state changes")
	cmd.Flags().StringVar(&config.PersistTimeout,
		"persist-timeout",
		"5s",
		"timeout for storing a start sequence state")
	cmd.Flags().StringVar(&config.TickInterval,
		"tick-interval",
		"1s",
		"interval the start sequences are evaluated at while the clock runs")
	cmd.Flags().StringVar(&config.SimulateFrom,
		"simulate-from",
		"",
		"run a simulation with the clock starting at this instant (RFC3339)")
	cmd.Flags().BoolVar(&config.WatchRacesFile,
		"watch-races-file",
		false,
		"reload the race card on change and apply changed start times")
	cmd.Flags().BoolVar(&autoStart,
		"autostart",
		true,
		"start the clock on startup")
	cmd.Flags().StringVar(&config.SQLLogLevel,
		"sql-log-level",
		"info",
		"controls the log level for sql methods")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data")
	return cmd
}

//nolint:funlen,cyclop // startup sequence
func startServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := config.SetupLogger()
	defer logger.Sync() //nolint:errcheck // best effort

	var telemetry *config.Telemetry
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		var err error
		if telemetry, err = config.SetupTelemetry(ctx); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		} else {
			defer telemetry.Shutdown()
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	repo, err := common.OpenRepository(ctx, telemetry != nil)
	if err != nil {
		log.Error("could not open repository", log.ErrorField(err))
		return err
	}
	defer repo.Close()

	e, err := createEngine(ctx, repo)
	if err != nil {
		log.Error("could not create engine", log.ErrorField(err))
		return err
	}
	defer e.Shutdown()

	if repo.File != nil && config.WatchRacesFile {
		if err := watchRaceCard(ctx, repo, e); err != nil {
			log.Warn("could not watch race card", log.ErrorField(err))
		}
	}

	if config.NatsURL != "" {
		nc, err := natspub.Connect(config.NatsURL, logger.Named("nats"))
		if err != nil {
			log.Error("could not connect to NATS", log.ErrorField(err))
			return err
		}
		defer drain(nc)
		if err := e.AddObserver(natspub.NewPublisher(nc,
			natspub.WithPrefix(config.NatsPrefix),
			natspub.WithSnapshots(config.NatsSnapshots))); err != nil {
			return err
		}
	}

	pub, err := public.NewPublicManager(public.WithEngine(e))
	if err != nil {
		return err
	}
	defer pub.Shutdown()

	//nolint:gosec // long lived websocket connections
	server := &http.Server{
		Addr:    config.Addr,
		Handler: h2c.NewHandler(pub.Handler(), &http2.Server{}),
	}
	if src := certSourceFromConfig(); src.enabled() {
		certs, err := newCertProvider(src, logger.Named("certs"))
		if err != nil {
			log.Error("could not load TLS certificate", log.ErrorField(err))
			return err
		}
		if err := certs.watch(ctx); err != nil {
			log.Warn("could not watch TLS certificate", log.ErrorField(err))
		}
		server.TLSConfig = certs.tlsConfig()
	}
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server",
			log.String("addr", config.Addr),
			log.Bool("tls", server.TLSConfig != nil))
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()
	if autoStart {
		e.Start()
	} else {
		e.Tick()
	}
	log.Info("Server started", log.String("engine", e.ID()))
	setupGoRoutinesDump()

	select {
	case <-ctx.Done():
		log.Debug("Got signal")
	case err := <-errChan:
		if err != nil {
			log.Error("server could not be started", log.ErrorField(err))
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", log.ErrorField(err))
	}
	log.Info("Server terminated")
	return nil
}

func createEngine(ctx context.Context, repo *common.Repository) (*engine.Engine, error) {
	from, window, err := common.SessionWindow(time.Now())
	if err != nil {
		return nil, err
	}
	persistTimeout, err := time.ParseDuration(config.PersistTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid persist-timeout: %w", err)
	}
	tick, err := common.TickInterval()
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithClock(clock.New(clock.WithTickInterval(tick))),
		engine.WithPersistTimeout(persistTimeout),
		engine.WithLogger(log.Default().Named("engine")),
	}
	if simStart, ok, err := common.SimulationStart(); err != nil {
		return nil, err
	} else if ok {
		log.Info("Simulation mode", log.Time("from", simStart))
		opts = append(opts, engine.WithTimeOrigin(simStart))
		from, window, err = common.SessionWindow(simStart)
		if err != nil {
			return nil, err
		}
	}
	svc := service.NewStartSequenceService(repo,
		service.WithEngineOptions(opts...),
		service.WithLogger(log.Default().Named("service")))
	return svc.NewEngine(ctx, from, window)
}

// watchRaceCard applies changed start times of the race card to the engine.
func watchRaceCard(ctx context.Context, repo *common.Repository, e *engine.Engine) error {
	apply := func() {
		current := map[int]time.Time{}
		for _, r := range e.Races() {
			current[r.ID] = r.PlannedStartTime
		}
		for _, r := range repo.File.Races() {
			start, ok := current[r.ID]
			if !ok || start.Equal(r.PlannedStartTime) {
				continue
			}
			if err := e.Reschedule(r.ID, r.PlannedStartTime); err != nil {
				log.Warn("could not reschedule race",
					log.Int("race", r.ID), log.ErrorField(err))
			}
		}
	}
	repo.File.OnReload(apply)
	return repo.File.Watch(ctx)
}

func drain(nc *nats.Conn) {
	if err := nc.Drain(); err != nil {
		log.Warn("could not drain NATS connection", log.ErrorField(err))
	}
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

// Package public provides the HTTP and websocket surface of a running engine.
package public

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/engine"
	"github.com/mpapenbr/racestart-manager-go/pkg/utils/broadcast"
	"github.com/mpapenbr/racestart-manager-go/version"
)

var ErrMissingEngine = errors.New("public manager requires an engine")

type (
	PublicManager struct {
		engine       *engine.Engine
		l            *log.Logger
		snapshots    chan *engine.Snapshot
		bcst         broadcast.BroadcastServer[*engine.Snapshot]
		observer     *engine.FuncObserver
		upgrader     websocket.Upgrader
		writeTimeout time.Duration
		mux          *http.ServeMux
	}
	Option func(*PublicManager)

	errorResponse struct {
		Error string `json:"error"`
	}
	postponeRequest struct {
		StartTime time.Time `json:"startTime"`
	}
	versionResponse struct {
		Version string `json:"version"`
	}
)

func WithEngine(e *engine.Engine) Option {
	return func(p *PublicManager) {
		p.engine = e
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *PublicManager) {
		p.l = l
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(p *PublicManager) {
		p.writeTimeout = d
	}
}

func NewPublicManager(opts ...Option) (*PublicManager, error) {
	ret := &PublicManager{
		l:            log.Default().Named("public"),
		snapshots:    make(chan *engine.Snapshot, 1),
		writeTimeout: 5 * time.Second,
		mux:          http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.engine == nil {
		return nil, ErrMissingEngine
	}
	ret.bcst = broadcast.NewBroadcastServer("snapshots", ret.snapshots,
		broadcast.WithTopic[*engine.Snapshot]("ws"),
		broadcast.WithBufferSize[*engine.Snapshot](4),
		broadcast.WithLogger[*engine.Snapshot](ret.l.Named("broadcast")))
	ret.observer = engine.ObserverFunc(ret.offer)
	if err := ret.engine.AddObserver(ret.observer); err != nil {
		ret.bcst.Close()
		return nil, err
	}
	ret.registerRoutes()
	return ret, nil
}

// Handler returns the routes wrapped with a permissive CORS handler.
func (p *PublicManager) Handler() http.Handler {
	return NewCORS().Handler(p.mux)
}

func (p *PublicManager) Shutdown() {
	p.engine.RemoveObserver(p.observer)
	p.bcst.Close()
}

// offer hands the snapshot to the broadcast server without blocking the tick.
// An unconsumed older snapshot is replaced.
func (p *PublicManager) offer(s *engine.Snapshot) {
	for {
		select {
		case p.snapshots <- s:
			return
		default:
		}
		select {
		case <-p.snapshots:
		default:
		}
	}
}

func (p *PublicManager) registerRoutes() {
	p.mux.HandleFunc("GET /api/version", p.getVersion)
	p.mux.HandleFunc("GET /api/signals", p.getSignals)
	p.mux.HandleFunc("GET /api/flags", p.getFlags)
	p.mux.HandleFunc("GET /api/races", p.getRaces)
	p.mux.HandleFunc("GET /api/snapshot", p.getSnapshot)
	p.mux.HandleFunc("POST /api/clock/start", p.clockAction(p.engine.Start))
	p.mux.HandleFunc("POST /api/clock/stop", p.clockAction(p.engine.Stop))
	p.mux.HandleFunc("POST /api/clock/reset", p.clockAction(p.engine.Reset))
	p.mux.HandleFunc("POST /api/races/{id}/postpone", p.postpone)
	p.mux.HandleFunc("GET /ws", p.serveWs)
}

func (p *PublicManager) getVersion(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, versionResponse{Version: version.FullVersion})
}

func (p *PublicManager) getSignals(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, p.engine.Signals())
}

// getFlags accepts an optional query parameter at (RFC3339), default is now.
func (p *PublicManager) getFlags(w http.ResponseWriter, r *http.Request) {
	at := p.engine.Now()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid at: %w", err))
			return
		}
		at = t
	}
	p.writeJSON(w, http.StatusOK, p.engine.FlagStatesAt(at))
}

func (p *PublicManager) getRaces(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, p.engine.Races())
}

func (p *PublicManager) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	s := p.engine.Snapshot()
	if s == nil {
		p.engine.Tick()
		s = p.engine.Snapshot()
	}
	p.writeJSON(w, http.StatusOK, s)
}

func (p *PublicManager) clockAction(action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		action()
		p.writeJSON(w, http.StatusOK, p.engine.Snapshot())
	}
}

func (p *PublicManager) postpone(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		p.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid race id: %w", err))
		return
	}
	var req postponeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		p.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if req.StartTime.IsZero() {
		p.writeError(w, http.StatusBadRequest, errors.New("startTime is required"))
		return
	}
	err = p.engine.Reschedule(id, req.StartTime)
	switch {
	case errors.Is(err, engine.ErrUnknownRace):
		p.writeError(w, http.StatusNotFound, err)
	case err != nil:
		p.writeError(w, http.StatusUnprocessableEntity, err)
	default:
		p.writeJSON(w, http.StatusOK, p.engine.Races())
	}
}

func (p *PublicManager) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		p.l.Warn("could not write response", log.ErrorField(err))
	}
}

func (p *PublicManager) writeError(w http.ResponseWriter, status int, err error) {
	p.l.Debug("request failed", log.Int("status", status), log.ErrorField(err))
	p.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// NewCORS allows all origins.
func NewCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Type"},
		MaxAge:         int(2 * time.Hour / time.Second),
	})
}

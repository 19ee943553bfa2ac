//nolint:funlen // ok for tests
package public

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/racestart-manager-go/pkg/clock"
	"github.com/mpapenbr/racestart-manager-go/pkg/engine"
	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/testsupport/basedata"
)

func setup(t *testing.T, now time.Time) (*engine.Engine, *httptest.Server) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(now)
	races := basedata.SampleRaces()
	races[1].EnteredClasses = []model.DinghyClass{basedata.Laser(), basedata.Topper()}
	e, err := engine.New(races, engine.WithClock(clock.New(clock.WithClock(fc))))
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	pm, err := NewPublicManager(WithEngine(e))
	require.NoError(t, err)
	srv := httptest.NewServer(pm.Handler())
	t.Cleanup(func() {
		srv.Close()
		pm.Shutdown()
	})
	return e, srv
}

func doRequest(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	return resp.StatusCode, raw
}

func TestNewPublicManagerRequiresEngine(t *testing.T) {
	_, err := NewPublicManager()
	assert.ErrorIs(t, err, ErrMissingEngine)
}

func TestGetSignals(t *testing.T) {
	_, srv := setup(t, basedata.At(10, 0, 0))
	status, body := doRequest(t, http.MethodGet, srv.URL+"/api/signals", "")
	require.Equal(t, http.StatusOK, status)

	var got []model.Signal
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 10)
	assert.Equal(t, basedata.At(10, 20, 0), got[0].Time)
	assert.Equal(t, "Scorpion Class Flag", got[0].Visual.Flags[0].Name)
}

func TestGetFlags(t *testing.T) {
	_, srv := setup(t, basedata.At(10, 0, 0))

	status, body := doRequest(t, http.MethodGet,
		srv.URL+"/api/flags?at=2024-06-01T10:30:00Z", "")
	require.Equal(t, http.StatusOK, status)
	var got []model.FlagStatus
	require.NoError(t, json.Unmarshal(body, &got))
	flags := map[string]model.FlagState{}
	for _, f := range got {
		flags[f.Flag.Name] = f.State
	}
	assert.Equal(t, model.FlagRaised, flags["Blue Peter"])
	assert.Equal(t, model.FlagLowered, flags["Scorpion Class Flag"])

	status, _ = doRequest(t, http.MethodGet, srv.URL+"/api/flags?at=noon", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestClockAndSnapshot(t *testing.T) {
	e, srv := setup(t, basedata.At(10, 20, 0))

	status, body := doRequest(t, http.MethodGet, srv.URL+"/api/snapshot", "")
	require.Equal(t, http.StatusOK, status)
	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.False(t, snap.Running)
	require.Len(t, snap.Races, 2)
	assert.Equal(t, model.StateWarningSignal, snap.Races[0].State)

	status, body = doRequest(t, http.MethodPost, srv.URL+"/api/clock/start", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.True(t, snap.Running)
	assert.True(t, e.Clock().Running())

	status, _ = doRequest(t, http.MethodPost, srv.URL+"/api/clock/stop", "")
	require.Equal(t, http.StatusOK, status)
	assert.False(t, e.Clock().Running())

	status, _ = doRequest(t, http.MethodPost, srv.URL+"/api/clock/reset", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, time.Duration(0), e.Clock().ElapsedTime())
}

func TestPostpone(t *testing.T) {
	e, srv := setup(t, basedata.At(10, 21, 0))
	e.Tick()

	status, body := doRequest(t, http.MethodPost, srv.URL+"/api/races/1/postpone",
		`{"startTime": "2024-06-01T11:00:00Z"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	var races []model.Race
	require.NoError(t, json.Unmarshal(body, &races))
	require.Len(t, races, 2)
	assert.Equal(t, "Handicap", races[0].Name, "ordered by new start time")
	assert.Equal(t, basedata.At(11, 0, 0), races[1].PlannedStartTime)
	assert.Equal(t, model.StateNone, races[1].StartSequenceState)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown race", "/api/races/99/postpone", `{"startTime": "2024-06-01T11:00:00Z"}`, http.StatusNotFound},
		{"invalid id", "/api/races/x/postpone", `{"startTime": "2024-06-01T11:00:00Z"}`, http.StatusBadRequest},
		{"invalid body", "/api/races/1/postpone", `{"startTime": 12}`, http.StatusBadRequest},
		{"missing start", "/api/races/1/postpone", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doRequest(t, http.MethodPost, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestGetRaces(t *testing.T) {
	_, srv := setup(t, basedata.At(10, 0, 0))
	status, body := doRequest(t, http.MethodGet, srv.URL+"/api/races", "")
	require.Equal(t, http.StatusOK, status)
	var races []model.Race
	require.NoError(t, json.Unmarshal(body, &races))
	require.Len(t, races, 2)
	assert.Equal(t, model.RaceTypePursuit, races[1].RaceType)
}

func TestWebsocket(t *testing.T) {
	e, srv := setup(t, basedata.At(10, 19, 59))
	e.Tick()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snap engine.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, basedata.At(10, 19, 59), snap.Now.UTC())

	// subscribed before the first message, so every tick is streamed
	e.Tick()
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, basedata.At(10, 19, 59), snap.Now.UTC())
	require.Len(t, snap.Races, 2)
	assert.Equal(t, model.StateNone, snap.Races[0].State)
	assert.Equal(t, time.Second, snap.TimeToNext)
}

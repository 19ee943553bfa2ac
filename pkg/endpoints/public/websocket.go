package public

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mpapenbr/racestart-manager-go/log"
)

// serveWs streams every snapshot as JSON text message until the client goes away.
// The current snapshot is sent right after the upgrade.
func (p *PublicManager) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.l.Warn("websocket upgrade failed", log.ErrorField(err))
		return
	}
	defer conn.Close()
	l := p.l.With(log.String("remote", r.RemoteAddr))
	l.Debug("websocket client connected")

	ch := p.bcst.Subscribe()
	defer p.bcst.CancelSubscription(ch)

	// the client only sends control frames, reading detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return false
		}
		if err := conn.WriteJSON(v); err != nil {
			l.Debug("websocket write failed", log.ErrorField(err))
			return false
		}
		return true
	}
	if s := p.engine.Snapshot(); s != nil && !write(s) {
		return
	}
	for {
		select {
		case <-closed:
			l.Debug("websocket client disconnected")
			return
		case s, ok := <-ch:
			if !ok {
				//nolint:errcheck // best effort
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(time.Second))
				return
			}
			if !write(s) {
				return
			}
		}
	}
}

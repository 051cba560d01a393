package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Same upgrade policy as the teacher's websocket server: any origin is
// accepted, since this is an operator-facing diagnostic feed rather
// than a browser-facing one.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPushPeriod = 2 * time.Second
)

// handleWSStats upgrades the connection and pushes the current
// counters every wsPushPeriod until the client disconnects or the
// write fails.
func (e *Endpoint) handleWSStats(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("ws/stats upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(wsPushPeriod)
	defer ticker.Stop()

	for range ticker.C {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		payload, err := json.Marshal(e.currentCounters())
		if err != nil {
			e.logger.Warn("ws/stats marshal failed", zap.Error(err))
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

package daemon

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"camrelay/internal/device"
	"camrelay/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents streams state changes as JSON text frames. A "camera" query
// parameter limits the feed to one camera. Client messages are ignored; the
// read loop only tracks pongs and disconnects.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	camera := device.NormalizeName(r.URL.Query().Get("camera"))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		return
	}
	defer conn.Close()

	events, release := s.daemon.events.subscribe()
	defer release()
	s.logger.Debug("event subscriber connected", logging.String("remote_addr", r.RemoteAddr))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon stopping"),
					time.Now().Add(wsWriteWait))
				return
			}
			if camera != "" && evt.Camera != camera {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug("event subscriber write failed", logging.Error(err))
				return
			}
		}
	}
}

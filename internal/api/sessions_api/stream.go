package sessions_api

import (
	"net/http"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// streamFrame is one websocket message: the current view first, then every
// update of the session.
type streamFrame struct {
	Type   string         `json:"type"` // snapshot | update
	View   *tracker.View  `json:"view,omitempty"`
	Update *models.Update `json:"update,omitempty"`
}

func (a *SessionsAPI) stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, updates, unsubscribe, err := a.svc.Subscribe(r.Context(), UserID(r.Context()), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer unsubscribe()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug().Err(err).Str("booking_id", id).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	// Клиент ничего не шлёт, читаем только чтобы заметить закрытие.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeFrame(conn, streamFrame{Type: "snapshot", View: &v}); err != nil {
		return
	}
	if v.End != nil {
		closeStream(conn, "session ended")
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				closeStream(conn, "session closed")
				return
			}
			if err := writeFrame(conn, streamFrame{Type: "update", Update: &u}); err != nil {
				a.log.Debug().Err(err).Str("booking_id", id).Msg("websocket write")
				return
			}
			// после Retry клиент открывает поток заново
			if u.Kind == models.UpdateEnded {
				closeStream(conn, "session ended")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func closeStream(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
}

func writeFrame(conn *websocket.Conn, f streamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

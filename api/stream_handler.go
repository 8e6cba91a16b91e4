package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xraph/saga/id"
	"github.com/xraph/saga/monitor"
	"github.com/xraph/saga/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Snapshot is the first message on a progress stream.
type Snapshot struct {
	Type string                `json:"type"`
	Data *monitor.StatusReport `json:"data"`
}

func (a *API) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
}

func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(a.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range a.allowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// stream upgrades to a websocket and pushes live progress of one
// execution. The first message is a status snapshot; the connection is
// closed after the terminal event.
func (a *API) stream(c echo.Context) error {
	e, err := a.execution(c)
	if err != nil {
		return err
	}

	up := a.upgrader()
	conn, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the error response.
		a.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()

	broker := a.eng.Broker()
	subID := "ws-" + id.NewEventID().String()
	sub := broker.SubscribeFiltered(subID, e.Scope.TenantID, stream.ExecutionTopic(e.ID.String()))
	defer broker.RemoveSubscriber(subID)

	log := a.logger.With(
		slog.String("execution_id", e.ID.String()),
		slog.String("subscriber_id", subID),
	)

	// Subscribed before the snapshot so a terminal event in between is
	// still delivered.
	rep, err := a.eng.Monitor().Status(c.Request().Context(), e.ID)
	if err != nil {
		log.Warn("stream snapshot failed", slog.String("error", err.Error()))
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Snapshot{Type: "snapshot", Data: rep}); err != nil {
		return nil
	}
	if rep.Status.IsTerminal() {
		closeNormal(conn)
		return nil
	}

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Debug("stream client went away")
			return nil
		case <-c.Request().Context().Done():
			return nil
		case evt, ok := <-sub.C():
			if !ok {
				closeNormal(conn)
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				log.Debug("stream write failed", slog.String("error", err.Error()))
				return nil
			}
			sub.AddCredits(1)
			if evt.Type.Terminal() {
				closeNormal(conn)
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// readPump consumes control frames until the client disconnects.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
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
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

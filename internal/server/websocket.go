package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleetwatch/internal/codec"
	"fleetwatch/internal/model"
	"fleetwatch/internal/observer"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type streamFrame struct {
	Type       string          `json:"type"`
	Alert      *model.Alert    `json:"alert,omitempty"`
	Text       string          `json:"text,omitempty"`
	Attachment *streamFileView `json:"attachment,omitempty"`
	SentAt     string          `json:"sent_at"`
}

type streamFileView struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// handleAlertStream pushes every alert the observer delivers, optionally
// narrowed by ?project=, ?worker= and ?kind=.
func (r *Runtime) handleAlertStream(w http.ResponseWriter, req *http.Request) {
	if r.observer == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "observer_disabled", "alert observer is not running")
		return
	}
	query := req.URL.Query()
	sub, err := observer.ParseSubscription(query.Get("project"), query.Get("worker"), query["kind"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_kind", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := r.observer.Broker().Subscribe(sub)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := r.streamAlerts(conn, events, closed); err != nil {
		r.logger.Debug("alert stream ended", "error", err)
	}
}

func (r *Runtime) streamAlerts(conn *websocket.Conn, events <-chan observer.Event, closed <-chan struct{}) error {
	ticker := time.NewTicker(r.opts.StreamPing)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return nil
		case event, ok := <-events:
			if !ok {
				return conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
			}
			if err := writeStreamFrame(conn, newAlertFrame(event)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := writeStreamFrame(conn, streamFrame{Type: "heartbeat", SentAt: time.Now().UTC().Format(time.RFC3339Nano)}); err != nil {
				return err
			}
		}
	}
}

func newAlertFrame(event observer.Event) streamFrame {
	alert := event.Alert
	frame := streamFrame{
		Type:   "alert",
		Alert:  &alert,
		Text:   event.Text,
		SentAt: event.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if event.Attachment != nil {
		frame.Attachment = &streamFileView{Name: event.Attachment.Name, Body: event.Attachment.Body}
	}
	return frame
}

func writeStreamFrame(conn *websocket.Conn, frame streamFrame) error {
	body, err := codec.Marshal(frame)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}

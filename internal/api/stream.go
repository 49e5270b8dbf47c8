package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/sensor"
)

const (
	streamBuffer   = 256
	pingInterval   = 20 * time.Second
	writeTimeout   = 5 * time.Second
	streamTypeSamp = "sample"
	streamTypeEvts = "events"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// streamMessage is one websocket message on /api/stream.
type streamMessage struct {
	Type   string         `json:"type"`
	Sample *sensor.Sample `json:"sample,omitempty"`
	Events []sensor.Event `json:"events,omitempty"`
}

// hub fans messages out to websocket clients. Slow clients lose messages.
type hub struct {
	clients link.Registry[chan streamMessage]
	drops   *link.Stats
}

func (h *hub) subscribe() (chan streamMessage, func()) {
	ch := make(chan streamMessage, streamBuffer)
	id := h.clients.Add(ch)
	return ch, func() { h.clients.Remove(id) }
}

func (h *hub) publish(m streamMessage) {
	h.clients.Dispatch(func(ch chan streamMessage) {
		select {
		case ch <- m:
		default:
			h.drops.AddDropped()
		}
	})
}

// HandleSample streams one sample to websocket clients. Register it as a
// DataPublisher listener.
func (s *Server) HandleSample(sample sensor.Sample) {
	if s.hub.clients.Len() == 0 {
		return
	}
	s.hub.publish(streamMessage{Type: streamTypeSamp, Sample: &sample})
}

// stream upgrades to a websocket and pushes samples and events as JSON
// until the client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Debugf("api: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.hub.subscribe()
	defer unsub()

	// The client never sends data; reading only surfaces its close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case m := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(m); err != nil {
				monitoring.Debugf("api: websocket write: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// Package api serves the host state over HTTP: latest samples, the neighbor
// list, recent events, link counters, and a command endpoint that accepts the
// same lines as the console.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/estutasa/JackTheGripper/internal/command"
	"github.com/estutasa/JackTheGripper/internal/db"
	"github.com/estutasa/JackTheGripper/internal/httputil"
	"github.com/estutasa/JackTheGripper/internal/link"
	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/neighbors"
	"github.com/estutasa/JackTheGripper/internal/packet"
	"github.com/estutasa/JackTheGripper/internal/sensor"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 10000
	recentEvents      = 256
)

// CommandHandler executes one console line.
type CommandHandler interface {
	Handle(line string) (string, error)
}

// NeighborSource provides the last complete neighbor list and can ask the
// interface box for a fresh one.
type NeighborSource interface {
	Last() []neighbors.Record
	State() neighbors.State
	Request() error
}

// StatsSource is anything that keeps link counters.
type StatsSource interface {
	Name() string
	Stats() *link.Stats
}

// Options wires a Server. Every field is optional; endpoints whose source is
// missing answer 404.
type Options struct {
	Samples   *sensor.DataPublisher
	Neighbors NeighborSource
	Commands  CommandHandler
	DB        *db.DB
	Links     []StatsSource
}

type Server struct {
	opts Options
	now  func() time.Time
	hub  hub

	mu     sync.Mutex
	events []db.StoredEvent // ring of the latest events when no DB is attached
	head   int
}

func NewServer(opts Options) *Server {
	return &Server{opts: opts, now: time.Now, hub: hub{drops: link.NewStats()}}
}

// HandleEvents keeps events for /api/events and streams them to websocket
// clients. Register it as an EventsPublisher listener.
func (s *Server) HandleEvents(events []sensor.Event) {
	if s.hub.clients.Len() > 0 {
		s.hub.publish(streamMessage{Type: streamTypeEvts, Events: events})
	}
	at := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		se := db.StoredEvent{Event: e, At: at}
		if len(s.events) < recentEvents {
			s.events = append(s.events, se)
			continue
		}
		s.events[s.head] = se
		s.head = (s.head + 1) % recentEvents
	}
}

// recent returns up to limit kept events, newest first.
func (s *Server) recent(limit int) []db.StoredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(limit, len(s.events))
	out := make([]db.StoredEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.head - 1 - i + 2*len(s.events)) % len(s.events)
		out = append(out, s.events[idx])
	}
	return out
}

// ServeMux returns the API routes plus the tsweb debug pages. When a
// database is attached its SQL console and backup download are mounted under
// /debug/ as well.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/nodes", s.listNodes)
	mux.HandleFunc("/api/neighbors", s.handleNeighbors)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/stream", s.stream)

	debug := tsweb.Debugger(mux)
	for _, l := range s.opts.Links {
		stats := l.Stats()
		debug.KVFunc(l.Name()+" link", func() any { return stats.Snapshot() })
	}
	debug.KVFunc("stream clients", func() any { return s.hub.clients.Len() })
	if s.opts.Samples != nil {
		debug.KVFunc("nodes", func() any { return len(s.opts.Samples.NodeIDs()) })
	}
	if s.opts.DB != nil {
		if err := s.opts.DB.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// listNodes returns the latest sample of every node, or of one node when
// sc_id is given. With a database attached, history=N returns the last N
// recorded samples of that node instead.
func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.opts.Samples == nil {
		httputil.NotFound(w, "no sample source")
		return
	}

	q := r.URL.Query()
	idStr := q.Get("sc_id")
	if idStr == "" {
		httputil.WriteJSONOK(w, s.opts.Samples.Snapshot())
		return
	}
	id, err := parseNodeID(idStr)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if h := q.Get("history"); h != "" {
		if s.opts.DB == nil {
			httputil.NotFound(w, "no database attached")
			return
		}
		limit, err := strconv.Atoi(h)
		if err != nil || limit < 1 {
			httputil.BadRequest(w, "invalid 'history' parameter")
			return
		}
		samples, err := s.opts.DB.Samples(id, min(limit, maxEventLimit))
		if err != nil {
			httputil.InternalServerError(w, "failed to retrieve samples: "+err.Error())
			return
		}
		httputil.WriteJSONOK(w, samples)
		return
	}

	sample, ok := s.opts.Samples.Latest(id)
	if !ok {
		httputil.NotFound(w, "no sample from node "+idStr)
		return
	}
	httputil.WriteJSONOK(w, sample)
}

func parseNodeID(v string) (packet.NodeID, error) {
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil || n == 0 || n >= uint64(packet.NodeIDAll) {
		return 0, errors.New("invalid 'sc_id' parameter")
	}
	return packet.NodeID(n), nil
}

type neighborsResponse struct {
	State     string             `json:"state"`
	Neighbors []neighbors.Record `json:"neighbors"`
}

// handleNeighbors returns the last complete list on GET and requests a new
// one on POST.
func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	if s.opts.Neighbors == nil {
		httputil.NotFound(w, "no neighbor source")
		return
	}
	switch r.Method {
	case http.MethodGet:
		list := s.opts.Neighbors.Last()
		if list == nil {
			list = []neighbors.Record{}
		}
		httputil.WriteJSONOK(w, neighborsResponse{
			State:     s.opts.Neighbors.State().String(),
			Neighbors: list,
		})
	case http.MethodPost:
		if err := s.opts.Neighbors.Request(); err != nil {
			httputil.InternalServerError(w, "failed to request neighbor list: "+err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	limit := defaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = min(n, maxEventLimit)
	}

	if s.opts.DB == nil {
		httputil.WriteJSONOK(w, s.recent(limit))
		return
	}
	events, err := s.opts.DB.Events(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve events: "+err.Error())
		return
	}
	if events == nil {
		events = []db.StoredEvent{}
	}
	httputil.WriteJSONOK(w, events)
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Output string `json:"output"`
}

// sendCommand runs one console line. The line comes either as a JSON body
// {"command": "..."} or as the form value "command".
func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.opts.Commands == nil {
		httputil.NotFound(w, "no command handler")
		return
	}

	var req commandRequest
	if r.Header.Get("Content-Type") == "application/json" {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	} else {
		req.Command = r.FormValue("command")
	}
	if req.Command == "" {
		httputil.BadRequest(w, "missing command")
		return
	}

	out, err := s.opts.Commands.Handle(req.Command)
	if s.opts.DB != nil {
		if dbErr := s.opts.DB.RecordCommand(req.Command, "api", err, s.now()); dbErr != nil {
			monitoring.Logf("Failed to record command %q: %v", req.Command, dbErr)
		}
	}
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, "command failed: "+err.Error())
	default:
		httputil.WriteJSONOK(w, commandResponse{Output: out})
	}
}

type statsResponse struct {
	Links map[string]link.StatsSnapshot `json:"links"`
	Nodes int                           `json:"nodes"`
	// StreamDropped counts websocket messages lost to slow clients.
	StreamDropped int64           `json:"stream_dropped"`
	DB            *db.TableCounts `json:"db,omitempty"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	resp := statsResponse{
		Links:         make(map[string]link.StatsSnapshot, len(s.opts.Links)),
		StreamDropped: s.hub.drops.Snapshot().Dropped,
	}
	for _, l := range s.opts.Links {
		resp.Links[l.Name()] = l.Stats().Snapshot()
	}
	if s.opts.Samples != nil {
		resp.Nodes = len(s.opts.Samples.NodeIDs())
	}
	if s.opts.DB != nil {
		c, err := s.opts.DB.Counts()
		if err != nil {
			httputil.InternalServerError(w, "failed to count rows: "+err.Error())
			return
		}
		resp.DB = &c
	}
	httputil.WriteJSONOK(w, resp)
}
